package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrConversationNotFound = errors.New("conversation not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ActiveConversation returns the caller's most recently modified conversation.
func (r *Repository) ActiveConversation(ctx context.Context, userID int) (*Conversation, error) {
	query := `
		SELECT id, user_id, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`
	return r.scanConversation(r.db.QueryRowContext(ctx, query, userID))
}

func (r *Repository) GetConversation(ctx context.Context, userID int, conversationID int64) (*Conversation, error) {
	query := `
		SELECT id, user_id, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND user_id = $2
	`
	return r.scanConversation(r.db.QueryRowContext(ctx, query, conversationID, userID))
}

func (r *Repository) scanConversation(row *sql.Row) (*Conversation, error) {
	c := &Conversation{}
	if err := row.Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *Repository) CreateConversation(ctx context.Context, userID int) (*Conversation, error) {
	c := &Conversation{UserID: userID}
	query := "INSERT INTO conversations (user_id) VALUES ($1) RETURNING id, created_at, updated_at"
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Repository) DeleteConversation(ctx context.Context, userID int, conversationID int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = $1 AND user_id = $2", conversationID, userID)
	return err
}

// AppendMessage stores msg and bumps the conversation's updated_at in one
// transaction so the fingerprint never sees one change without the other.
func (r *Repository) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	insert := `
		INSERT INTO messages (conversation_id, role, content, nonce)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	if err := tx.QueryRowContext(ctx, insert, msg.ConversationID, string(msg.Role), msg.Content, msg.Nonce).
		Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	res, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = now() WHERE id = $1", msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConversationNotFound
	}

	return tx.Commit()
}

func (r *Repository) ListMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, role, content, nonce, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Nonce, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ActiveState returns fingerprint inputs for the caller's active
// conversation, or nil when the caller has none.
func (r *Repository) ActiveState(ctx context.Context, userID int) (*ConversationState, error) {
	query := `
		SELECT c.id, c.updated_at, COUNT(m.id)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		WHERE c.user_id = $1
		GROUP BY c.id, c.updated_at
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT 1
	`
	st := &ConversationState{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&st.ConversationID, &st.UpdatedAt, &st.MessageCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return st, nil
}

// DeleteAll removes every conversation the user owns; messages cascade.
func (r *Repository) DeleteAll(ctx context.Context, userID int) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM conversations WHERE user_id = $1", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
