package gallery

import (
	"math/rand"
	"sort"

	"github.com/coder/hnsw"

	"github.com/andresmejia3/facewatch/internal/types"
)

// hnswSeed fixes the level assignment so the index is the same on every build.
const hnswSeed = 1

// Entry is one reference identity.
type Entry struct {
	Name      string
	File      string
	Digest    string
	Embedding types.Embedding
	Cached    bool
}

// Neighbor is a gallery identity and its distance to a probe.
type Neighbor struct {
	Name     string
	Distance float64
}

// Gallery maps identity names to reference embeddings. It is never mutated
// after Build returns and may be read from any goroutine.
type Gallery struct {
	entries map[string]Entry
	names   []string
	index   *hnsw.Graph[string]
	dim     int
}

// New assembles a gallery from prepared entries. Later entries win on name collision.
func New(entries ...Entry) *Gallery {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.Name] = e
	}
	return newGallery(m)
}

func newGallery(entries map[string]Entry) *Gallery {
	g := &Gallery{entries: entries, names: make([]string, 0, len(entries))}
	for name := range entries {
		g.names = append(g.names, name)
	}
	sort.Strings(g.names)

	g.index = hnsw.NewGraph[string]()
	g.index.Distance = hnsw.EuclideanDistance
	g.index.Rng = rand.New(rand.NewSource(hnswSeed))
	for _, name := range g.names {
		vec := entries[name].Embedding.Vec
		if g.dim == 0 {
			g.dim = len(vec)
		}
		if len(vec) != g.dim {
			continue
		}
		g.index.Add(hnsw.MakeNode(name, vec))
	}
	return g
}

// Len is the number of identities.
func (g *Gallery) Len() int {
	return len(g.entries)
}

// Names returns identity names in sorted order.
func (g *Gallery) Names() []string {
	return append([]string(nil), g.names...)
}

func (g *Gallery) Get(name string) (Entry, bool) {
	e, ok := g.entries[name]
	return e, ok
}

// Entries returns every entry sorted by name.
func (g *Gallery) Entries() []Entry {
	out := make([]Entry, len(g.names))
	for i, name := range g.names {
		out[i] = g.entries[name]
	}
	return out
}

// Distances scores emb against every identity. No entry is skipped.
func (g *Gallery) Distances(emb types.Embedding) map[string]float64 {
	out := make(map[string]float64, len(g.entries))
	for name, e := range g.entries {
		out[name] = e.Embedding.Distance(emb)
	}
	return out
}

// Nearest returns up to k identities closest to emb, closest first, using
// the HNSW index. Distances are exact.
func (g *Gallery) Nearest(emb types.Embedding, k int) []Neighbor {
	if k <= 0 || g.index.Len() == 0 || emb.Dim() != g.dim {
		return nil
	}
	nodes := g.index.Search(emb.Vec, k)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Neighbor{Name: n.Key, Distance: g.entries[n.Key].Embedding.Distance(emb)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].Name < out[j].Name
		}
		return out[i].Distance < out[j].Distance
	})
	return out
}
