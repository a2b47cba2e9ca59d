package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/convogate/internal/store"
)

// ConversationStore persists conversations as one row per customer, with the
// message history as JSONB. The pause columns are flattened so operators can
// query paused conversations directly.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) Load(ctx context.Context, customerID string) (*store.Conversation, error) {
	var (
		conv     store.Conversation
		msgsJSON []byte
		reason   sql.NullString
		owner    sql.NullString
		since    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT customer_id, messages, paused, pause_reason, pause_owner, paused_since,
		        last_activity, created_at
		 FROM conversations WHERE customer_id = $1`, customerID,
	).Scan(&conv.CustomerID, &msgsJSON, &conv.Pause.Paused, &reason, &owner, &since,
		&conv.LastActivity, &conv.Created)
	if err != nil {
		return nil, mapErr("load conversation", err)
	}

	if err := json.Unmarshal(msgsJSON, &conv.Messages); err != nil {
		return nil, fmt.Errorf("decode conversation %s messages: %w", customerID, err)
	}
	if reason.Valid {
		conv.Pause.Reason = store.PauseReason(reason.String)
	}
	if owner.Valid {
		conv.Pause.Owner = owner.String
	}
	if since.Valid {
		conv.Pause.Since = since.Time
	}
	return &conv, nil
}

func (s *ConversationStore) Save(ctx context.Context, conv *store.Conversation) error {
	msgsJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("encode conversation %s messages: %w", conv.CustomerID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations
		   (customer_id, messages, paused, pause_reason, pause_owner, paused_since,
		    last_activity, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
		 ON CONFLICT (customer_id) DO UPDATE SET
		   messages      = EXCLUDED.messages,
		   paused        = EXCLUDED.paused,
		   pause_reason  = EXCLUDED.pause_reason,
		   pause_owner   = EXCLUDED.pause_owner,
		   paused_since  = EXCLUDED.paused_since,
		   last_activity = EXCLUDED.last_activity`,
		conv.CustomerID, msgsJSON, conv.Pause.Paused, string(conv.Pause.Reason),
		conv.Pause.Owner, nullTime(conv.Pause.Since), conv.LastActivity, conv.Created,
	)
	return mapErr("save conversation", err)
}
