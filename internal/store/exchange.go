package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ecocropshare/api/internal/ref"
)

// FulfillPost flips the post from available to completed and records the
// exchange in one transaction. entry.PlantName falls back to the post title.
// A post that is not available yields ErrConflict and nothing is written.
func (s *PostgresStore) FulfillPost(ctx context.Context, postID string, entry History) (Post, History, error) {
	var created History
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var title string
		err := tx.QueryRowContext(ctx, `
			UPDATE posts SET status=$2, updated_at=NOW()
			WHERE id=$1 AND status=$3
			RETURNING title
		`, postID, PostCompleted, PostAvailable).Scan(&title)
		if errors.Is(err, sql.ErrNoRows) {
			return missingOrConflict(ctx, tx, "posts", postID)
		}
		if err != nil {
			return fmt.Errorf("complete post: %w", err)
		}

		entry.Type = HistoryPost
		entry.PostID = postID
		entry.RequestID = ""
		if entry.PlantName == "" {
			entry.PlantName = title
		}
		created, err = insertHistoryTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		return Post{}, History{}, err
	}
	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return Post{}, History{}, fmt.Errorf("reload post: %w", err)
	}
	return post, created, nil
}

// FulfillRequest is the open -> fulfilled analogue of FulfillPost.
func (s *PostgresStore) FulfillRequest(ctx context.Context, requestID string, entry History) (Request, History, error) {
	var created History
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var plantName string
		err := tx.QueryRowContext(ctx, `
			UPDATE requests SET status=$2, updated_at=NOW()
			WHERE id=$1 AND status=$3
			RETURNING plant_name
		`, requestID, RequestFulfilled, RequestOpen).Scan(&plantName)
		if errors.Is(err, sql.ErrNoRows) {
			return missingOrConflict(ctx, tx, "requests", requestID)
		}
		if err != nil {
			return fmt.Errorf("fulfill request: %w", err)
		}

		entry.Type = HistoryRequest
		entry.RequestID = requestID
		entry.PostID = ""
		if entry.PlantName == "" {
			entry.PlantName = plantName
		}
		created, err = insertHistoryTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		return Request{}, History{}, err
	}
	request, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, History{}, fmt.Errorf("reload request: %w", err)
	}
	return request, created, nil
}

func missingOrConflict(ctx context.Context, tx *sql.Tx, table, id string) error {
	var exists bool
	// table is a package constant.
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	if !exists {
		return sql.ErrNoRows
	}
	return fmt.Errorf("%s %s already fulfilled: %w", table, id, ErrConflict)
}

func insertHistoryTx(ctx context.Context, tx *sql.Tx, entry History) (History, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO history (id, type, post_id, request_id, user_id, partner_id, plant_name, notes)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8)
	`, entry.ID, entry.Type, entry.PostID, entry.RequestID, entry.UserID.ID(), entry.PartnerID.ID(), entry.PlantName, entry.Notes)
	if err != nil {
		if isUniqueViolation(err) {
			return History{}, fmt.Errorf("insert history: %w", ErrConflict)
		}
		return History{}, fmt.Errorf("insert history: %w", err)
	}
	created, err := scanHistory(tx.QueryRowContext(ctx, historySelect+` WHERE h.id=$1`, entry.ID))
	if err != nil {
		return History{}, fmt.Errorf("reload history: %w", err)
	}
	return created, nil
}

const historySelect = `
	SELECT h.id, h.type, COALESCE(h.post_id, ''), COALESCE(h.request_id, ''),
		h.user_id, g.name, g.profile_image, g.location,
		h.partner_id, p.name, p.profile_image, p.location,
		h.plant_name, h.notes, h.date
	FROM history h
	JOIN users g ON g.id = h.user_id
	JOIN users p ON p.id = h.partner_id`

func scanHistory(row rowScanner) (History, error) {
	var item History
	var giverID, partnerID string
	var giver, partner ref.Summary
	if err := row.Scan(
		&item.ID,
		&item.Type,
		&item.PostID,
		&item.RequestID,
		&giverID,
		&giver.Name,
		&giver.ProfileImage,
		&giver.Location,
		&partnerID,
		&partner.Name,
		&partner.ProfileImage,
		&partner.Location,
		&item.PlantName,
		&item.Notes,
		&item.Date,
	); err != nil {
		return History{}, err
	}
	item.UserID = ref.Populated(giverID, giver)
	item.PartnerID = ref.Populated(partnerID, partner)
	return item, nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, id string) (History, error) {
	return scanHistory(s.db.QueryRowContext(ctx, historySelect+` WHERE h.id=$1`, id))
}

// ListHistory returns the caller's exchanges, newest first.
func (s *PostgresStore) ListHistory(ctx context.Context, filter HistoryFilter) ([]History, error) {
	rows, err := s.db.QueryContext(ctx, historySelect+`
		WHERE ($2='' OR h.type=$2)
		  AND (
			($3='giver' AND h.user_id=$1)
			OR ($3='receiver' AND h.partner_id=$1)
			OR ($3='' AND (h.user_id=$1 OR h.partner_id=$1))
		  )
		ORDER BY h.date DESC, h.id ASC
	`, filter.CallerID, filter.Type, filter.Role)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]History, 0)
	for rows.Next() {
		item, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}
