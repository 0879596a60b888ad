package vector

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"github.com/viant/vec/search"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultNumTrees = 12
	DefaultLeafSize = 32
	splitAttempts   = 5
)

// ForestOptions configures a ForestIndex. SearchK is the number of candidate
// rows gathered per query; zero means NumTrees * k.
type ForestOptions struct {
	NumTrees int
	LeafSize int
	SearchK  int
	Seed     int64
}

func (o *ForestOptions) applyDefaults() {
	if o.NumTrees <= 0 {
		o.NumTrees = DefaultNumTrees
	}
	if o.LeafSize <= 0 {
		o.LeafSize = DefaultLeafSize
	}
}

// ForestIndex is an approximate nearest neighbor index made of random
// hyperplane trees over unit vectors. Each split plane passes through the
// origin with a normal pointing from one sampled row to another.
type ForestIndex struct {
	store *Store
	opts  ForestOptions
	mags  []float32
	trees []forestTree
}

type forestTree struct {
	nodes []forestNode
	root  int32
}

// forestNode is a leaf when normal is nil.
type forestNode struct {
	normal      []float32
	left, right int32
	items       []int32
}

// NewForestIndex builds the forest over store. Trees are built concurrently
// and deterministically from opts.Seed.
func NewForestIndex(ctx context.Context, store *Store, opts ForestOptions) (*ForestIndex, error) {
	opts.applyDefaults()
	f := &ForestIndex{
		store: store,
		opts:  opts,
		mags:  make([]float32, store.Len()),
		trees: make([]forestTree, opts.NumTrees),
	}
	for i, row := range store.Vectors {
		f.mags[i] = search.Float32s(row).Magnitude()
	}
	if store.Len() == 0 {
		return f, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := range f.trees {
		t := t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows := make([]int32, store.Len())
			for i := range rows {
				rows[i] = int32(i)
			}
			b := &treeBuilder{
				store: store,
				leaf:  opts.LeafSize,
				rng:   rand.New(rand.NewSource(opts.Seed + int64(t))),
			}
			b.tree.root = b.build(rows)
			f.trees[t] = b.tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build forest: %w", err)
	}
	return f, nil
}

type treeBuilder struct {
	store *Store
	leaf  int
	rng   *rand.Rand
	tree  forestTree
}

func (b *treeBuilder) build(rows []int32) int32 {
	idx := int32(len(b.tree.nodes))
	b.tree.nodes = append(b.tree.nodes, forestNode{})
	if len(rows) <= b.leaf {
		b.tree.nodes[idx].items = append([]int32(nil), rows...)
		return idx
	}

	normal, left, right := b.split(rows)
	l := b.build(left)
	r := b.build(right)
	b.tree.nodes[idx] = forestNode{normal: normal, left: l, right: r}
	return idx
}

// split partitions rows by a random hyperplane. When no sampled plane
// separates them (for example, duplicate rows) the rows are halved and the
// zero normal sends queries down both sides.
func (b *treeBuilder) split(rows []int32) ([]float32, []int32, []int32) {
	dim := b.store.Dim
	for attempt := 0; attempt < splitAttempts; attempt++ {
		i := rows[b.rng.Intn(len(rows))]
		j := rows[b.rng.Intn(len(rows))]
		if i == j {
			continue
		}
		normal := make([]float32, dim)
		vi, vj := b.store.Vectors[i], b.store.Vectors[j]
		for d := range normal {
			normal[d] = vi[d] - vj[d]
		}
		if NormalizeL2(normal) == 0 {
			continue
		}
		var left, right []int32
		for _, row := range rows {
			if InnerProduct(normal, b.store.Vectors[row]) > 0 {
				right = append(right, row)
			} else {
				left = append(left, row)
			}
		}
		if len(left) > 0 && len(right) > 0 {
			return normal, left, right
		}
	}

	shuffled := append([]int32(nil), rows...)
	b.rng.Shuffle(len(shuffled), func(a, c int) { shuffled[a], shuffled[c] = shuffled[c], shuffled[a] })
	half := len(shuffled) / 2
	return make([]float32, dim), shuffled[:half], shuffled[half:]
}

// Type returns the index type identifier.
func (f *ForestIndex) Type() string {
	return string(IndexTypeForest)
}

// ScoreScale reports that scores are 100 * (2 - angular distance).
func (f *ForestIndex) ScoreScale() string {
	return ScoreScaleAngular
}

// Size returns the number of indexed rows.
func (f *ForestIndex) Size() int {
	return f.store.Len()
}

// Search gathers candidates from all trees best-first by split margin until
// SearchK rows are collected, then ranks the candidates by exact angular
// distance. Score is 100 * (2 - d); ties are broken by ascending id.
func (f *ForestIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != f.store.Dim {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.store.Dim)
	}
	if k <= 0 || f.store.Len() == 0 {
		return []*VectorResult{}, nil
	}
	searchK := f.opts.SearchK
	if searchK <= 0 {
		searchK = f.opts.NumTrees * k
	}

	candidates := f.gather(query, searchK)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := search.Float32s(query)
	qm := q.Magnitude()
	type scored struct {
		row  int32
		dist float64
	}
	hits := make([]scored, len(candidates))
	for i, row := range candidates {
		hits[i] = scored{row: row, dist: angularDistance(q, f.store.Vectors[row], qm, f.mags[row])}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].dist != hits[b].dist {
			return hits[a].dist < hits[b].dist
		}
		return f.store.IDs[hits[a].row] < f.store.IDs[hits[b].row]
	})

	k = min(k, len(hits))
	results := make([]*VectorResult, k)
	for i := 0; i < k; i++ {
		row := int(hits[i].row)
		results[i] = &VectorResult{ID: f.store.IDs[row], Row: row, Score: 100 * (2 - hits[i].dist)}
	}
	return results, nil
}

func (f *ForestIndex) gather(query []float32, searchK int) []int32 {
	pq := &nodeQueue{}
	for t := range f.trees {
		heap.Push(pq, nodeItem{priority: math.Inf(1), tree: t, node: f.trees[t].root})
	}

	seen := make(map[int32]struct{}, searchK)
	candidates := make([]int32, 0, searchK)
	for pq.Len() > 0 && len(candidates) < searchK {
		top := heap.Pop(pq).(nodeItem)
		n := &f.trees[top.tree].nodes[top.node]
		if n.normal == nil {
			for _, row := range n.items {
				if _, dup := seen[row]; !dup {
					seen[row] = struct{}{}
					candidates = append(candidates, row)
				}
			}
			continue
		}
		margin := InnerProduct(n.normal, query)
		heap.Push(pq, nodeItem{priority: min(top.priority, margin), tree: top.tree, node: n.right})
		heap.Push(pq, nodeItem{priority: min(top.priority, -margin), tree: top.tree, node: n.left})
	}
	return candidates
}

// Close is a no-op; the store is owned by the caller.
func (f *ForestIndex) Close() error {
	return nil
}

type nodeItem struct {
	priority float64
	tree     int
	node     int32
}

// nodeQueue is a max-heap on priority.
type nodeQueue []nodeItem

func (h nodeQueue) Len() int           { return len(h) }
func (h nodeQueue) Less(i, j int) bool { return h[i].priority > h[j].priority }
func (h nodeQueue) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *nodeQueue) Push(x interface{}) {
	*h = append(*h, x.(nodeItem))
}

func (h *nodeQueue) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
