package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/petal-labs/petalstat/tool"
)

// Field boosts applied to catalogue search.
const (
	nameBoost     = 3
	categoryBoost = 2
)

const defaultSearchLimit = 10

// Hit is one ranked search result.
type Hit struct {
	Name        string  `json:"name"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

// Index is an in-memory full-text index over a registry. It is safe for
// concurrent searches.
type Index struct {
	idx      bleve.Index
	registry *tool.Registry
}

// NewIndex indexes every tool in reg by name, category and description.
func NewIndex(reg *tool.Registry) (*Index, error) {
	if reg == nil {
		return nil, errors.New("catalog: registry is nil")
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating search index: %w", err)
	}

	batch := idx.NewBatch()
	for _, def := range reg.List() {
		doc := map[string]any{
			"name":        def.Name,
			"keywords":    strings.ReplaceAll(def.Name, "_", " "),
			"category":    def.Category,
			"description": def.Description,
		}
		if err := batch.Index(def.Name, doc); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("indexing tool %q: %w", def.Name, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("indexing catalogue: %w", err)
	}
	return &Index{idx: idx, registry: reg}, nil
}

// Search ranks tools against text. Ties break by tool name. An empty query
// returns the first limit tools in catalogue order.
func (i *Index) Search(text string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	text = strings.TrimSpace(text)
	if text == "" {
		defs := i.registry.List()
		if len(defs) > limit {
			defs = defs[:limit]
		}
		hits := make([]Hit, 0, len(defs))
		for _, def := range defs {
			hits = append(hits, hitFor(def, 0))
		}
		return hits, nil
	}

	req := bleve.NewSearchRequestOptions(searchQuery(text), limit, 0, false)
	req.SortBy([]string{"-_score", "_id"})
	res, err := i.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching catalogue: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, match := range res.Hits {
		def, err := i.registry.Lookup(match.ID)
		if err != nil {
			continue
		}
		hits = append(hits, hitFor(def, match.Score))
	}
	return hits, nil
}

// Close releases the index.
func (i *Index) Close() error {
	return i.idx.Close()
}

func searchQuery(text string) query.Query {
	name := bleve.NewMatchQuery(text)
	name.SetField("name")
	name.SetBoost(nameBoost)

	keywords := bleve.NewMatchQuery(text)
	keywords.SetField("keywords")
	keywords.SetBoost(nameBoost)

	category := bleve.NewMatchQuery(text)
	category.SetField("category")
	category.SetBoost(categoryBoost)

	description := bleve.NewMatchQuery(text)
	description.SetField("description")

	return bleve.NewDisjunctionQuery(name, keywords, category, description)
}

func hitFor(def tool.Definition, score float64) Hit {
	return Hit{
		Name:        def.Name,
		Category:    def.Category,
		Description: def.Description,
		Score:       score,
	}
}
