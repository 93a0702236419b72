package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the generated fts columns in Postgres.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL across posts, requests and articles ranked by
// ts_rank, with ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsQuery = "plainto_tsquery('simple', $1)"
	subQueries := buildSubQueries(q.FilterType, q.OpenOnly, tsQuery)
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, location, status
		FROM (%s) sub
		ORDER BY rank DESC, created_at DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Location, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

func buildSubQueries(filter ResultType, openOnly bool, tsQuery string) []string {
	var out []string
	if filter == "" || filter == ResultPost {
		where := "p.fts @@ " + tsQuery
		if openOnly {
			where += " AND p.status = 'available'"
		}
		out = append(out, fmt.Sprintf(`
			SELECT 'post'::text AS type, p.id, p.title,
				ts_headline('simple', coalesce(p.description, ''), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.location, p.status, p.created_at,
				ts_rank(p.fts, %[1]s) AS rank
			FROM posts p
			WHERE %[2]s`, tsQuery, where))
	}
	if filter == "" || filter == ResultRequest {
		where := "r.fts @@ " + tsQuery
		if openOnly {
			where += " AND r.status = 'open'"
		}
		out = append(out, fmt.Sprintf(`
			SELECT 'request'::text AS type, r.id, r.plant_name AS title,
				ts_headline('simple', coalesce(r.reason, ''), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				r.location, r.status, r.created_at,
				ts_rank(r.fts, %[1]s) AS rank
			FROM requests r
			WHERE %[2]s`, tsQuery, where))
	}
	if filter == "" || filter == ResultArticle {
		out = append(out, fmt.Sprintf(`
			SELECT 'article'::text AS type, a.id, a.title,
				ts_headline('simple', coalesce(a.content, ''), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS location, ''::text AS status, a.created_at,
				ts_rank(a.fts, %[1]s) AS rank
			FROM articles a
			WHERE a.fts @@ %[1]s`, tsQuery))
	}
	return out
}

// LoadAllRecords returns every searchable listing for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PostRecord, []RequestRecord, []ArticleRecord, error) {
	postRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, location, type, status
		FROM posts
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load posts: %w", err)
	}
	defer postRows.Close()

	posts := make([]PostRecord, 0)
	for postRows.Next() {
		var r PostRecord
		if err := postRows.Scan(&r.ID, &r.Title, &r.Description, &r.Location, &r.Type, &r.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, r)
	}
	if err := postRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate posts: %w", err)
	}

	requestRows, err := p.db.QueryContext(ctx, `
		SELECT id, plant_name, reason, category, location, status
		FROM requests
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load requests: %w", err)
	}
	defer requestRows.Close()

	requests := make([]RequestRecord, 0)
	for requestRows.Next() {
		var r RequestRecord
		if err := requestRows.Scan(&r.ID, &r.PlantName, &r.Reason, &r.Category, &r.Location, &r.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, r)
	}
	if err := requestRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate requests: %w", err)
	}

	articleRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, category, tags::text
		FROM articles
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load articles: %w", err)
	}
	defer articleRows.Close()

	articles := make([]ArticleRecord, 0)
	for articleRows.Next() {
		var r ArticleRecord
		var tagsRaw string
		if err := articleRows.Scan(&r.ID, &r.Title, &r.Content, &r.Category, &tagsRaw); err != nil {
			return nil, nil, nil, fmt.Errorf("scan article: %w", err)
		}
		r.Tags = decodeTags(tagsRaw)
		articles = append(articles, r)
	}
	if err := articleRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate articles: %w", err)
	}

	return posts, requests, articles, nil
}
