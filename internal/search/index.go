// Package search builds a full-text index over the committed feed.
package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/ObiAU/mentionfeed/internal/models"
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Index wraps an in-memory Bleve index of feed items.
type Index struct {
	index bleve.Index
}

// indexedItem is the document shape stored in the index.
type indexedItem struct {
	Source    string     `json:"source"`
	Author    string     `json:"author"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	URL       string     `json:"url"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Result is a single search hit.
type Result struct {
	ID        string
	Source    models.Source
	Author    string
	Title     string
	URL       string
	Score     float64
	Fragments map[string][]string
}

// Build creates an index holding every item in feed.
func Build(feed models.Feed) (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}

	batch := idx.NewBatch()
	for _, item := range feed {
		doc := indexedItem{
			Source:  string(item.Source),
			Author:  item.Author,
			Title:   item.Title,
			Content: item.Content,
			URL:     item.URL,
		}
		if !item.Timestamp.IsZero() {
			ts := item.Timestamp.Time
			doc.Timestamp = &ts
		}
		if err := batch.Index(item.ID, doc); err != nil {
			idx.Close()
			return nil, fmt.Errorf("batch index %s: %w", item.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		idx.Close()
		return nil, fmt.Errorf("commit batch: %w", err)
	}

	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	englishField := bleve.NewTextFieldMapping()
	englishField.Analyzer = "en"

	urlField := bleve.NewTextFieldMapping()
	urlField.Index = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("source", keywordField)
	docMapping.AddFieldMappingsAt("author", keywordField)
	docMapping.AddFieldMappingsAt("title", englishField)
	docMapping.AddFieldMappingsAt("content", englishField)
	docMapping.AddFieldMappingsAt("url", urlField)
	docMapping.AddFieldMappingsAt("timestamp", bleve.NewDateTimeFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = "en"
	return indexMapping
}

func (i *Index) Close() error {
	return i.index.Close()
}

// Count returns the number of indexed items.
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

// Search runs a query-string query (field scoping such as source:reddit,
// quoted phrases and +/- operators are supported). An empty query lists
// items newest first.
func (i *Index) Search(queryStr string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}

	var req *bleve.SearchRequest
	if strings.TrimSpace(queryStr) == "" {
		req = bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), limit, 0, false)
		req.SortBy([]string{"-timestamp"})
	} else {
		req = bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(queryStr), limit, 0, false)
		req.Highlight = bleve.NewHighlight()
		req.Highlight.Fields = []string{"content"}
	}
	req.Fields = []string{"source", "author", "title", "url"}

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := Result{
			ID:        hit.ID,
			Score:     hit.Score,
			Fragments: hit.Fragments,
		}
		if v, ok := hit.Fields["source"].(string); ok {
			r.Source = models.Source(v)
		}
		if v, ok := hit.Fields["author"].(string); ok {
			r.Author = v
		}
		if v, ok := hit.Fields["title"].(string); ok {
			r.Title = v
		}
		if v, ok := hit.Fields["url"].(string); ok {
			r.URL = v
		}
		results = append(results, r)
	}
	return results, nil
}
