package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"ecocropshare/api/internal/log"
	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxPosts    = "ecs_posts"
	idxRequests = "ecs_requests"
	idxArticles = "ecs_articles"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An unreachable
// server is not fatal; the health loop picks it up once it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Log.WithError(err).WithField("url", url).Warn("search: meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

type indexSpec struct {
	uid        string
	kind       ResultType
	filterable []string
	searchable []string
}

var indexSpecs = []indexSpec{
	{
		uid:        idxPosts,
		kind:       ResultPost,
		filterable: []string{"status", "type", "location"},
		searchable: []string{"title", "description", "location"},
	},
	{
		uid:        idxRequests,
		kind:       ResultRequest,
		filterable: []string{"status", "category", "location"},
		searchable: []string{"plantName", "reason", "category", "location"},
	},
	{
		uid:        idxArticles,
		kind:       ResultArticle,
		filterable: []string{"category", "tags"},
		searchable: []string{"title", "content", "tags"},
	},
}

func (m *Meili) configureIndexes() {
	for _, idx := range indexSpecs {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Log.WithError(err).WithField("index", idx.uid).Debug("search: create index (may already exist)")
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Log.WithError(err).WithField("index", idx.uid).Warn("search: update filterable attributes")
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			log.Log.WithError(err).WithField("index", idx.uid).Warn("search: update searchable attributes")
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Log.Info("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the selected indexes in one multi-search and merges hits.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	for _, idx := range indexSpecs {
		if q.FilterType != "" && q.FilterType != idx.kind {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              idx.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if filter := openFilter(idx.kind, q.OpenOnly); filter != "" {
			sr.Filter = filter
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		kind := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, kind))
		}
	}

	return results, total, nil
}

func openFilter(kind ResultType, openOnly bool) string {
	if !openOnly {
		return ""
	}
	switch kind {
	case ResultPost:
		return `status = "available"`
	case ResultRequest:
		return `status = "open"`
	default:
		return ""
	}
}

func indexToResultType(uid string) ResultType {
	for _, idx := range indexSpecs {
		if idx.uid == uid {
			return idx.kind
		}
	}
	return ""
}

func hitToResult(hit meili.Hit, kind ResultType) Result {
	r := Result{Type: kind}
	r.ID = decodeString(hit, "id")
	r.Location = decodeString(hit, "location")
	r.Status = decodeString(hit, "status")

	switch kind {
	case ResultPost:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	case ResultRequest:
		r.Title = firstNonBlank(decodeFormattedString(hit, "plantName"), decodeString(hit, "plantName"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "reason"), decodeString(hit, "reason"))
	case ResultArticle:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = excerpt(firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content")), 240)
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func excerpt(value string, max int) string {
	runes := []rune(strings.TrimSpace(value))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}

func (m *Meili) IndexPost(p PostRecord) error {
	_, err := m.client.Index(idxPosts).AddDocuments([]PostRecord{p}, nil)
	return err
}

func (m *Meili) IndexRequest(r RequestRecord) error {
	_, err := m.client.Index(idxRequests).AddDocuments([]RequestRecord{r}, nil)
	return err
}

func (m *Meili) IndexArticle(a ArticleRecord) error {
	_, err := m.client.Index(idxArticles).AddDocuments([]ArticleRecord{a}, nil)
	return err
}

// Delete removes one listing from its index.
func (m *Meili) Delete(kind ResultType, id string) error {
	for _, idx := range indexSpecs {
		if idx.kind == kind {
			_, err := m.client.Index(idx.uid).DeleteDocument(id, nil)
			return err
		}
	}
	return fmt.Errorf("unknown result type %q", kind)
}

// IndexAll bulk-indexes every record set that is non-empty.
func (m *Meili) IndexAll(posts []PostRecord, requests []RequestRecord, articles []ArticleRecord) error {
	if len(posts) > 0 {
		if _, err := m.client.Index(idxPosts).AddDocuments(posts, nil); err != nil {
			return fmt.Errorf("index posts: %w", err)
		}
	}
	if len(requests) > 0 {
		if _, err := m.client.Index(idxRequests).AddDocuments(requests, nil); err != nil {
			return fmt.Errorf("index requests: %w", err)
		}
	}
	if len(articles) > 0 {
		if _, err := m.client.Index(idxArticles).AddDocuments(articles, nil); err != nil {
			return fmt.Errorf("index articles: %w", err)
		}
	}
	return nil
}
