package store

import (
	"context"
	"database/sql"
	"fmt"

	"ecocropshare/api/internal/ref"
)

// Owner columns are joined so every row carries a populated user reference.
const postSelect = `
	SELECT p.id, p.user_id, u.name, u.profile_image, u.location,
		p.title, p.type, p.exchange_type, p.quantity, p.location, p.images, p.description, p.status,
		p.created_at, p.updated_at
	FROM posts p
	JOIN users u ON u.id = p.user_id`

func scanPost(row rowScanner) (Post, error) {
	var item Post
	var ownerID string
	var owner ref.Summary
	var imagesRaw []byte
	if err := row.Scan(
		&item.ID,
		&ownerID,
		&owner.Name,
		&owner.ProfileImage,
		&owner.Location,
		&item.Title,
		&item.Type,
		&item.ExchangeType,
		&item.Quantity,
		&item.Location,
		&imagesRaw,
		&item.Description,
		&item.Status,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Post{}, err
	}
	item.UserID = ref.Populated(ownerID, owner)
	item.Images = decodeStrings(imagesRaw)
	return item, nil
}

func (s *PostgresStore) InsertPost(ctx context.Context, item Post) (Post, error) {
	images, err := encodeStrings(item.Images)
	if err != nil {
		return Post{}, fmt.Errorf("marshal post images: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO posts (id, user_id, title, type, exchange_type, quantity, location, images, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)
	`, item.ID, item.UserID.ID(), item.Title, item.Type, item.ExchangeType, item.Quantity, item.Location, images, item.Description, PostAvailable)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	return s.GetPost(ctx, item.ID)
}

func (s *PostgresStore) GetPost(ctx context.Context, id string) (Post, error) {
	return scanPost(s.db.QueryRowContext(ctx, postSelect+` WHERE p.id=$1`, id))
}

func (s *PostgresStore) ListPosts(ctx context.Context, filter PostFilter) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, postSelect+`
		WHERE ($1='' OR p.type=$1)
		  AND ($2='' OR p.exchange_type=$2)
		  AND ($3='' OR p.status=$3)
		  AND ($4='' OR p.user_id=$4)
		ORDER BY p.created_at DESC, p.id ASC
	`, filter.Type, filter.ExchangeType, filter.Status, filter.UserID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		item, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

// UpdatePost rewrites the editable fields. Status only changes through
// fulfillment.
func (s *PostgresStore) UpdatePost(ctx context.Context, item Post) (Post, error) {
	images, err := encodeStrings(item.Images)
	if err != nil {
		return Post{}, fmt.Errorf("marshal post images: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET title=$2, type=$3, exchange_type=$4, quantity=$5, location=$6, images=$7::jsonb, description=$8, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Type, item.ExchangeType, item.Quantity, item.Location, images, item.Description)
	if err != nil {
		return Post{}, fmt.Errorf("update post: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return Post{}, sql.ErrNoRows
	}
	return s.GetPost(ctx, item.ID)
}

// DeletePost removes the post and its comments together.
func (s *PostgresStore) DeletePost(ctx context.Context, id string) error {
	return s.deleteWithComments(ctx, "posts", ParentPost, id)
}

const requestSelect = `
	SELECT r.id, r.user_id, u.name, u.profile_image, u.location,
		r.plant_name, r.location, r.reason, r.category, r.quantity, r.status,
		r.created_at, r.updated_at
	FROM requests r
	JOIN users u ON u.id = r.user_id`

func scanRequest(row rowScanner) (Request, error) {
	var item Request
	var ownerID string
	var owner ref.Summary
	if err := row.Scan(
		&item.ID,
		&ownerID,
		&owner.Name,
		&owner.ProfileImage,
		&owner.Location,
		&item.PlantName,
		&item.Location,
		&item.Reason,
		&item.Category,
		&item.Quantity,
		&item.Status,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Request{}, err
	}
	item.UserID = ref.Populated(ownerID, owner)
	return item, nil
}

func (s *PostgresStore) InsertRequest(ctx context.Context, item Request) (Request, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (id, user_id, plant_name, location, reason, category, quantity, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.UserID.ID(), item.PlantName, item.Location, item.Reason, item.Category, item.Quantity, RequestOpen)
	if err != nil {
		return Request{}, fmt.Errorf("insert request: %w", err)
	}
	return s.GetRequest(ctx, item.ID)
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (Request, error) {
	return scanRequest(s.db.QueryRowContext(ctx, requestSelect+` WHERE r.id=$1`, id))
}

func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, requestSelect+`
		WHERE ($1='' OR r.status=$1)
		  AND ($2='' OR r.category=$2)
		  AND ($3='' OR r.user_id=$3)
		ORDER BY r.created_at DESC, r.id ASC
	`, filter.Status, filter.Category, filter.UserID)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	items := make([]Request, 0)
	for rows.Next() {
		item, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateRequest(ctx context.Context, item Request) (Request, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET plant_name=$2, location=$3, reason=$4, category=$5, quantity=$6, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.PlantName, item.Location, item.Reason, item.Category, item.Quantity)
	if err != nil {
		return Request{}, fmt.Errorf("update request: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return Request{}, sql.ErrNoRows
	}
	return s.GetRequest(ctx, item.ID)
}

func (s *PostgresStore) DeleteRequest(ctx context.Context, id string) error {
	return s.deleteWithComments(ctx, "requests", ParentRequest, id)
}

// deleteWithComments removes the parent row before its comments. Deleting the
// row first waits on any comment insert holding the parent's share lock, so
// the comment sweep that follows sees every committed comment.
func (s *PostgresStore) deleteWithComments(ctx context.Context, table, parentType, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// table is one of two package constants, never caller input.
		result, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete %s: %w", parentType, err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return sql.ErrNoRows
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE parent_type=$1 AND parent_id=$2`, parentType, id); err != nil {
			return fmt.Errorf("delete %s comments: %w", parentType, err)
		}
		return nil
	})
}

var parentTables = map[string]string{
	ParentPost:    "posts",
	ParentRequest: "requests",
}

const commentSelect = `
	SELECT c.id, c.user_id, u.name, u.profile_image, u.location, c.parent_id, c.parent_type, c.content, c.created_at
	FROM comments c
	JOIN users u ON u.id = c.user_id`

func scanComment(row rowScanner) (Comment, error) {
	var item Comment
	var authorID string
	var author ref.Summary
	if err := row.Scan(
		&item.ID,
		&authorID,
		&author.Name,
		&author.ProfileImage,
		&author.Location,
		&item.ParentID,
		&item.ParentType,
		&item.Content,
		&item.CreatedAt,
	); err != nil {
		return Comment{}, err
	}
	item.UserID = ref.Populated(authorID, author)
	return item, nil
}

// InsertComment stores a comment while holding a share lock on its parent.
// It returns sql.ErrNoRows when the parent is gone.
func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) (Comment, error) {
	table, ok := parentTables[item.ParentType]
	if !ok {
		return Comment{}, fmt.Errorf("insert comment: unknown parent type %q", item.ParentType)
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var parentID string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE id=$1 FOR SHARE`, item.ParentID).Scan(&parentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO comments (id, user_id, parent_id, parent_type, content)
			VALUES ($1, $2, $3, $4, $5)
		`, item.ID, item.UserID.ID(), item.ParentID, item.ParentType, item.Content); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		return nil
	})
	if err != nil {
		return Comment{}, err
	}
	return s.GetComment(ctx, item.ID)
}

func (s *PostgresStore) GetComment(ctx context.Context, id string) (Comment, error) {
	return scanComment(s.db.QueryRowContext(ctx, commentSelect+` WHERE c.id=$1`, id))
}

func (s *PostgresStore) ListComments(ctx context.Context, parentType, parentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, commentSelect+`
		WHERE c.parent_type=$1 AND c.parent_id=$2
		ORDER BY c.created_at ASC, c.id ASC
	`, parentType, parentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const articleSelect = `
	SELECT a.id, a.user_id, u.name, u.profile_image, u.location,
		a.title, a.content, a.image, a.category, a.tags, a.created_at, a.updated_at
	FROM articles a
	JOIN users u ON u.id = a.user_id`

func scanArticle(row rowScanner) (Article, error) {
	var item Article
	var authorID string
	var author ref.Summary
	var tagsRaw []byte
	if err := row.Scan(
		&item.ID,
		&authorID,
		&author.Name,
		&author.ProfileImage,
		&author.Location,
		&item.Title,
		&item.Content,
		&item.Image,
		&item.Category,
		&tagsRaw,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Article{}, err
	}
	item.UserID = ref.Populated(authorID, author)
	item.Tags = decodeStrings(tagsRaw)
	return item, nil
}

func (s *PostgresStore) InsertArticle(ctx context.Context, item Article) (Article, error) {
	tags, err := encodeStrings(item.Tags)
	if err != nil {
		return Article{}, fmt.Errorf("marshal article tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO articles (id, user_id, title, content, image, category, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, item.ID, item.UserID.ID(), item.Title, item.Content, item.Image, item.Category, tags)
	if err != nil {
		return Article{}, fmt.Errorf("insert article: %w", err)
	}
	return s.GetArticle(ctx, item.ID)
}

func (s *PostgresStore) GetArticle(ctx context.Context, id string) (Article, error) {
	return scanArticle(s.db.QueryRowContext(ctx, articleSelect+` WHERE a.id=$1`, id))
}

func (s *PostgresStore) ListArticles(ctx context.Context, filter ArticleFilter) ([]Article, error) {
	return s.queryArticles(ctx, articleSelect+`
		WHERE ($1='' OR a.category=$1)
		  AND ($2='' OR a.tags ? $2)
		ORDER BY a.created_at DESC, a.id ASC
	`, filter.Category, filter.Tag)
}

// RelatedArticles returns up to limit articles sharing the category or at least
// one tag with article, newest first, never including article itself.
func (s *PostgresStore) RelatedArticles(ctx context.Context, article Article, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 3
	}
	tags, err := encodeStrings(article.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal article tags: %w", err)
	}
	return s.queryArticles(ctx, articleSelect+`
		WHERE a.id <> $1
		  AND (
			($2 <> '' AND a.category = $2)
			OR a.tags ?| ARRAY(SELECT jsonb_array_elements_text($3::jsonb))
		  )
		ORDER BY a.created_at DESC, a.id ASC
		LIMIT $4
	`, article.ID, article.Category, tags, limit)
}

func (s *PostgresStore) queryArticles(ctx context.Context, query string, args ...any) ([]Article, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		item, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateArticle(ctx context.Context, item Article) (Article, error) {
	tags, err := encodeStrings(item.Tags)
	if err != nil {
		return Article{}, fmt.Errorf("marshal article tags: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE articles
		SET title=$2, content=$3, image=$4, category=$5, tags=$6::jsonb, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Content, item.Image, item.Category, tags)
	if err != nil {
		return Article{}, fmt.Errorf("update article: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return Article{}, sql.ErrNoRows
	}
	return s.GetArticle(ctx, item.ID)
}

func (s *PostgresStore) DeleteArticle(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
