// Package e2e provides end-to-end tests over a synthetic artwork catalog whose
// images are served by a local HTTP server.
package e2e

import (
	"fmt"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/hyperjump/dispict/internal/models"
)

// Outcome describes how the image host answers for one artwork.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeForbidden
	OutcomeNotFound
	OutcomeGarbage
	// OutcomeFlaky answers 503 once, then serves the image.
	OutcomeFlaky
)

// Corpus is a catalog plus the behavior of the host serving its images.
type Corpus struct {
	Artworks []*models.Artwork
	Swatches map[int64]color.RGBA
	Outcomes map[int64]Outcome
}

// BuildCorpus returns n artworks, each with a distinct solid color image.
// Outcomes cycle so that every failure mode appears at least once for n >= 12.
func BuildCorpus(n int) *Corpus {
	c := &Corpus{
		Artworks: make([]*models.Artwork, 0, n),
		Swatches: make(map[int64]color.RGBA, n),
		Outcomes: make(map[int64]Outcome, n),
	}
	for i := 0; i < n; i++ {
		id := int64(100 + i)
		c.Artworks = append(c.Artworks, &models.Artwork{
			ID:             id,
			ObjectNumber:   fmt.Sprintf("E2E.%d", i),
			Title:          SwatchName(i),
			Classification: "Swatches",
			People:         []string{},
		})
		c.Swatches[id] = SwatchColor(i)
		c.Outcomes[id] = outcomeFor(i)
	}
	return c
}

func outcomeFor(i int) Outcome {
	switch {
	case i%12 == 5:
		return OutcomeForbidden
	case i%12 == 7:
		return OutcomeNotFound
	case i%12 == 9:
		return OutcomeGarbage
	case i%12 == 3:
		return OutcomeFlaky
	default:
		return OutcomeOK
	}
}

// SwatchName is the title and query text for swatch i.
func SwatchName(i int) string {
	return "swatch " + strconv.Itoa(i)
}

// SwatchColor returns a color distinct for every i below 4096.
func SwatchColor(i int) color.RGBA {
	return color.RGBA{R: uint8(16 * (i % 16)), G: uint8(16 * ((i / 16) % 16)), B: uint8(16 * ((i / 256) % 16)), A: 255}
}

// Embedded returns the ids expected to end up in the store, ascending.
func (c *Corpus) Embedded() []int64 {
	var ids []int64
	for _, a := range c.Artworks {
		switch c.Outcomes[a.ID] {
		case OutcomeOK, OutcomeFlaky:
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// Serve starts an image host for the corpus and points every ImageURL at it.
func (c *Corpus) Serve() *httptest.Server {
	var mu sync.Mutex
	flaked := make(map[int64]bool)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/img/"), ".png"), 10, 64)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		switch c.Outcomes[id] {
		case OutcomeForbidden:
			w.WriteHeader(http.StatusForbidden)
			return
		case OutcomeNotFound:
			http.NotFound(w, r)
			return
		case OutcomeGarbage:
			_, _ = w.Write([]byte("<html>not an image</html>"))
			return
		case OutcomeFlaky:
			mu.Lock()
			first := !flaked[id]
			flaked[id] = true
			mu.Unlock()
			if first {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(EncodeSwatch(c.Swatches[id]))
	}))
	for _, a := range c.Artworks {
		a.ImageURL = fmt.Sprintf("%s/img/%d.png", ts.URL, a.ID)
	}
	return ts
}
