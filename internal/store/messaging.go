package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ecocropshare/api/internal/ref"
)

const conversationColumns = `id, participants, last_message, last_message_date, unread_count, created_at, updated_at`

func scanConversation(row rowScanner) (Conversation, error) {
	var item Conversation
	var participantsRaw, unreadRaw []byte
	if err := row.Scan(
		&item.ID,
		&participantsRaw,
		&item.LastMessage,
		&item.LastMessageDate,
		&unreadRaw,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Conversation{}, err
	}
	for _, id := range decodeStrings(participantsRaw) {
		item.Participants = append(item.Participants, ref.New(id))
	}
	item.UnreadCount = map[string]int{}
	if len(unreadRaw) > 0 {
		if err := json.Unmarshal(unreadRaw, &item.UnreadCount); err != nil {
			return Conversation{}, fmt.Errorf("decode unread counts: %w", err)
		}
	}
	return item, nil
}

func scanMessage(row rowScanner) (Message, error) {
	var item Message
	err := row.Scan(&item.ID, &item.SenderID, &item.ReceiverID, &item.Content, &item.Read, &item.CreatedAt)
	return item, err
}

// SendMessage inserts msg and upserts the pair's conversation in one
// transaction. The receiver's unread counter is incremented inside the upsert
// so concurrent senders never lose an increment.
func (s *PostgresStore) SendMessage(ctx context.Context, msg Message, conversationID string) (Message, Conversation, error) {
	low, high := PairKey(msg.SenderID, msg.ReceiverID)
	var created Message
	var conversation Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = scanMessage(tx.QueryRowContext(ctx, `
			INSERT INTO messages (id, sender_id, receiver_id, content)
			VALUES ($1, $2, $3, $4)
			RETURNING id, sender_id, receiver_id, content, read, created_at
		`, msg.ID, msg.SenderID, msg.ReceiverID, msg.Content))
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		conversation, err = scanConversation(tx.QueryRowContext(ctx, `
			INSERT INTO conversations (id, participant_low, participant_high, participants, last_message, last_message_date, unread_count)
			VALUES ($1, $2, $3, jsonb_build_array($4::text, $5::text), $6, $7, jsonb_build_object($5::text, 1))
			ON CONFLICT (participant_low, participant_high) DO UPDATE SET
				last_message = CASE
					WHEN EXCLUDED.last_message_date >= conversations.last_message_date THEN EXCLUDED.last_message
					ELSE conversations.last_message
				END,
				last_message_date = GREATEST(conversations.last_message_date, EXCLUDED.last_message_date),
				unread_count = conversations.unread_count || jsonb_build_object(
					$5::text,
					COALESCE((conversations.unread_count->>$5::text)::int, 0) + 1
				),
				updated_at = NOW()
			RETURNING `+conversationColumns,
			conversationID, low, high, msg.SenderID, msg.ReceiverID, created.Content, created.CreatedAt))
		if err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return Message{}, Conversation{}, err
	}
	return created, conversation, nil
}

// FindConversation returns the conversation for the unordered pair {a, b}.
func (s *PostgresStore) FindConversation(ctx context.Context, a, b string) (Conversation, error) {
	low, high := PairKey(a, b)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_low=$1 AND participant_high=$2
	`, low, high)
	return scanConversation(row)
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_low=$1 OR participant_high=$1
		ORDER BY last_message_date DESC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Conversation, 0)
	for rows.Next() {
		item, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

// OpenThread marks every unread message from other to current as read, resets
// current's unread counter and returns the whole thread oldest first. When the
// pair has no conversation it returns an empty thread and a nil conversation.
func (s *PostgresStore) OpenThread(ctx context.Context, current, other string) ([]Message, *Conversation, error) {
	messages := make([]Message, 0)
	var conversation *Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		found, _, err := markReadTx(ctx, tx, current, other)
		if err != nil {
			return err
		}
		if found == nil {
			return nil
		}
		conversation = found

		rows, err := tx.QueryContext(ctx, `
			SELECT id, sender_id, receiver_id, content, read, created_at
			FROM messages
			WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)
			ORDER BY created_at ASC, seq ASC
		`, current, other)
		if err != nil {
			return fmt.Errorf("list thread: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanMessage(rows)
			if err != nil {
				return fmt.Errorf("scan message: %w", err)
			}
			messages = append(messages, item)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate thread: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return messages, conversation, nil
}

// MarkRead flags messages from counterpart to current as read and resets
// current's counter. It returns 0 without writing when no conversation exists.
func (s *PostgresStore) MarkRead(ctx context.Context, current, counterpart string) (int64, error) {
	var updated int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		_, updated, err = markReadTx(ctx, tx, current, counterpart)
		return err
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func markReadTx(ctx context.Context, tx *sql.Tx, current, counterpart string) (*Conversation, int64, error) {
	low, high := PairKey(current, counterpart)
	var conversationID string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM conversations
		WHERE participant_low=$1 AND participant_high=$2
		FOR UPDATE
	`, low, high).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("lock conversation: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE messages SET read=TRUE
		WHERE sender_id=$1 AND receiver_id=$2 AND read=FALSE
	`, counterpart, current)
	if err != nil {
		return nil, 0, fmt.Errorf("mark messages read: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return nil, 0, fmt.Errorf("count read messages: %w", err)
	}

	conversation, err := scanConversation(tx.QueryRowContext(ctx, `
		UPDATE conversations
		SET unread_count = unread_count || jsonb_build_object($2::text, 0)
		WHERE id=$1
		RETURNING `+conversationColumns,
		conversationID, current))
	if err != nil {
		return nil, 0, fmt.Errorf("reset unread count: %w", err)
	}
	return &conversation, updated, nil
}

// UnreadCount counts unread messages addressed to userID across all
// conversations, independent of the per-conversation counters.
func (s *PostgresStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE receiver_id=$1 AND read=FALSE
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return count, nil
}
