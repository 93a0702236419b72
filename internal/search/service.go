package search

import (
	"context"
	"encoding/json"

	"ecocropshare/api/internal/log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Log.WithError(err).Warn("search: meilisearch error, falling back to pgfts")
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Log.WithError(err).Error("search: pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Healthy reports whether either backend can serve queries.
func (s *Service) Healthy() bool {
	return (s.meili != nil && s.meili.Healthy()) || s.pgfts != nil
}

func (s *Service) IndexPost(p PostRecord) {
	s.async("post", p.ID, func(m *Meili) error { return m.IndexPost(p) })
}

func (s *Service) IndexRequest(r RequestRecord) {
	s.async("request", r.ID, func(m *Meili) error { return m.IndexRequest(r) })
}

func (s *Service) IndexArticle(a ArticleRecord) {
	s.async("article", a.ID, func(m *Meili) error { return m.IndexArticle(a) })
}

// Remove drops a deleted listing from the index.
func (s *Service) Remove(kind ResultType, id string) {
	s.async(string(kind), id, func(m *Meili) error { return m.Delete(kind, id) })
}

// async pushes to Meilisearch without blocking the request. Postgres stays the
// source of truth, so a lost update only delays search freshness.
func (s *Service) async(kind, id string, push func(*Meili) error) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := push(s.meili); err != nil {
			log.Log.WithError(err).WithFields(map[string]any{"kind": kind, "id": id}).Warn("search: index update failed")
		}
	}()
}

// ReindexAllFromPG pushes every listing from Postgres into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	posts, requests, articles, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Log.WithError(err).Error("search: reindex load failed")
		return
	}
	if err := s.meili.IndexAll(posts, requests, articles); err != nil {
		log.Log.WithError(err).Error("search: reindex failed")
		return
	}
	log.Log.WithFields(map[string]any{
		"posts":    len(posts),
		"requests": len(requests),
		"articles": len(articles),
	}).Info("search: reindexed from postgres")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

func decodeTags(raw string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}
