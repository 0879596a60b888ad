package embedding

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
)

const (
	// DefaultContextLength is CLIP's fixed text context.
	DefaultContextLength = 77

	// clipMaxMerges is the number of merges CLIP reads from its BPE file,
	// giving a 49408 entry vocabulary.
	clipMaxMerges = 49152 - 256 - 2

	clipStartText = "<|startoftext|>"
	clipEndText   = "<|endoftext|>"
	endOfWord     = "</w>"

	tokenCacheLimit = 10000
)

// Tokenizer produces fixed-length token IDs and an attention mask.
type Tokenizer interface {
	Tokenize(text string, contextLength int) (inputIDs, attentionMask []int64)
}

var clipPattern = regexp.MustCompile(`(?i)<\|startoftext\|>|<\|endoftext\|>|'s|'t|'re|'ve|'m|'ll|'d|\p{L}+|\p{N}|[^\s\p{L}\p{N}]+`)

// CLIPTokenizer is CLIP's byte-level BPE tokenizer, built from the merges
// file shipped with the model (bpe_simple_vocab_16e6.txt, optionally gzipped).
type CLIPTokenizer struct {
	byteEncoder [256]string
	encoder     map[string]int64
	ranks       map[[2]string]int
	startToken  int64
	endToken    int64

	mu    sync.Mutex
	cache map[string][]int64
}

// LoadCLIPTokenizer reads a merges file from path. Files ending in .gz are
// decompressed.
func LoadCLIPTokenizer(path string) (*CLIPTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tokenizer merges: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open tokenizer merges: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	tok, err := NewCLIPTokenizer(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tok, nil
}

// NewCLIPTokenizer builds the vocabulary from merges text. The first line is a
// version header and is skipped.
func NewCLIPTokenizer(r io.Reader) (*CLIPTokenizer, error) {
	var merges [][2]string
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() && len(merges) < clipMaxMerges {
		if first {
			first = false
			continue
		}
		parts := strings.Fields(sc.Text())
		if len(parts) == 0 {
			continue
		}
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed merge on line %d: %q", len(merges)+2, sc.Text())
		}
		merges = append(merges, [2]string{parts[0], parts[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read merges: %w", err)
	}
	if len(merges) == 0 {
		return nil, fmt.Errorf("no merges found")
	}

	t := &CLIPTokenizer{
		encoder: make(map[string]int64, 512+len(merges)+2),
		ranks:   make(map[[2]string]int, len(merges)),
		cache:   make(map[string][]int64),
	}
	order := byteOrder()
	for i, b := range order {
		t.byteEncoder[b] = byteRune(i, b)
	}
	var next int64
	for i, b := range order {
		t.encoder[byteRune(i, b)] = next
		next++
	}
	for i, b := range order {
		t.encoder[byteRune(i, b)+endOfWord] = next
		next++
	}
	for rank, m := range merges {
		t.ranks[m] = rank
		t.encoder[m[0]+m[1]] = next
		next++
	}
	t.startToken = next
	t.encoder[clipStartText] = next
	t.endToken = next + 1
	t.encoder[clipEndText] = next + 1
	return t, nil
}

// byteOrder lists bytes with the printable ones first, the order in which
// CLIP assigns their vocabulary slots.
func byteOrder() []int {
	order := make([]int, 0, 256)
	printable := make([]bool, 256)
	for _, r := range [][2]int{{'!', '~'}, {0xA1, 0xAC}, {0xAE, 0xFF}} {
		for b := r[0]; b <= r[1]; b++ {
			order = append(order, b)
			printable[b] = true
		}
	}
	for b := 0; b < 256; b++ {
		if !printable[b] {
			order = append(order, b)
		}
	}
	return order
}

// byteRune maps byte b, at position i of byteOrder, to the visible rune that
// stands for it in the vocabulary.
func byteRune(i, b int) string {
	if i < 188 {
		return string(rune(b))
	}
	return string(rune(256 + i - 188))
}

// Encode returns the BPE token IDs of text without start and end tokens.
func (t *CLIPTokenizer) Encode(text string) []int64 {
	var ids []int64
	for _, piece := range clipPattern.FindAllString(CleanText(text), -1) {
		if piece == clipStartText || piece == clipEndText {
			ids = append(ids, t.encoder[piece])
			continue
		}
		ids = append(ids, t.encodePiece(piece)...)
	}
	return ids
}

func (t *CLIPTokenizer) encodePiece(piece string) []int64 {
	t.mu.Lock()
	cached, ok := t.cache[piece]
	t.mu.Unlock()
	if ok {
		return cached
	}

	var sb strings.Builder
	for _, b := range []byte(piece) {
		sb.WriteString(t.byteEncoder[b])
	}
	var ids []int64
	for _, sym := range t.bpe(sb.String()) {
		if id, ok := t.encoder[sym]; ok {
			ids = append(ids, id)
		}
	}

	t.mu.Lock()
	if len(t.cache) >= tokenCacheLimit {
		t.cache = make(map[string][]int64)
	}
	t.cache[piece] = ids
	t.mu.Unlock()
	return ids
}

// bpe merges the symbols of one word, lowest rank first, until no ranked
// pair remains. The last symbol carries the end-of-word marker.
func (t *CLIPTokenizer) bpe(word string) []string {
	runes := []rune(word)
	if len(runes) == 0 {
		return nil
	}
	syms := make([]string, len(runes))
	for i, r := range runes {
		syms[i] = string(r)
	}
	syms[len(syms)-1] += endOfWord

	for len(syms) > 1 {
		best, bestRank := [2]string{}, -1
		for i := 0; i+1 < len(syms); i++ {
			pair := [2]string{syms[i], syms[i+1]}
			if rank, ok := t.ranks[pair]; ok && (bestRank < 0 || rank < bestRank) {
				best, bestRank = pair, rank
			}
		}
		if bestRank < 0 {
			break
		}
		merged := make([]string, 0, len(syms))
		for i := 0; i < len(syms); i++ {
			if i+1 < len(syms) && syms[i] == best[0] && syms[i+1] == best[1] {
				merged = append(merged, best[0]+best[1])
				i++
				continue
			}
			merged = append(merged, syms[i])
		}
		syms = merged
	}
	return syms
}

// Tokenize wraps the encoded text in start and end tokens and pads it with
// zeros to contextLength. Longer sequences are truncated with the end token
// kept in the last slot.
func (t *CLIPTokenizer) Tokenize(text string, contextLength int) (inputIDs, attentionMask []int64) {
	if contextLength < 2 {
		contextLength = DefaultContextLength
	}
	inputIDs = make([]int64, contextLength)
	attentionMask = make([]int64, contextLength)

	tokens := append([]int64{t.startToken}, t.Encode(text)...)
	tokens = append(tokens, t.endToken)
	if len(tokens) > contextLength {
		tokens = tokens[:contextLength]
		tokens[contextLength-1] = t.endToken
	}
	copy(inputIDs, tokens)
	for i := range tokens {
		attentionMask[i] = 1
	}
	return inputIDs, attentionMask
}

// StartToken returns the ID of <|startoftext|>.
func (t *CLIPTokenizer) StartToken() int64 { return t.startToken }

// EndToken returns the ID of <|endoftext|>.
func (t *CLIPTokenizer) EndToken() int64 { return t.endToken }

// CleanText unescapes HTML entities, collapses whitespace and lowercases.
func CleanText(text string) string {
	text = html.UnescapeString(html.UnescapeString(text))
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
