package db

import (
	"context"
	"fmt"
	"time"
)

type Conversation struct {
	UserID      string    `json:"user_id"`
	OtherUserID string    `json:"other_user_id"`
	LastUpdated time.Time `json:"last_updated"`
	UnreadCount int64     `json:"unread_count"`
}

// TouchConversation records a direct message between sender and recipient
// for both sides and bumps the recipient's unread counter.
func (s *Session) TouchConversation(ctx context.Context, sender, recipient string, at time.Time) error {
	q := `INSERT INTO user_conversations (user_id, other_user_id, last_updated) VALUES (?, ?, ?)`
	if err := s.Query(q, sender, recipient, at).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("update conversation for %s: %w", sender, err)
	}
	if err := s.Query(q, recipient, sender, at).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("update conversation for %s: %w", recipient, err)
	}

	qCounter := `UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND other_user_id = ?`
	if err := s.Query(qCounter, recipient, sender).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("increment unread count for %s: %w", recipient, err)
	}
	return nil
}

func (s *Session) Conversations(ctx context.Context, uid string) ([]Conversation, error) {
	iter := s.Query(`SELECT user_id, other_user_id, last_updated FROM user_conversations WHERE user_id = ?`, uid).WithContext(ctx).Iter()

	conversations := []Conversation{}
	var c Conversation
	for iter.Scan(&c.UserID, &c.OtherUserID, &c.LastUpdated) {
		c.UnreadCount = 0
		var count int64
		err := s.Query(`SELECT unread_count FROM conversation_counters WHERE user_id = ? AND other_user_id = ?`, c.UserID, c.OtherUserID).
			WithContext(ctx).
			Scan(&count)
		if err == nil {
			c.UnreadCount = count
		}
		conversations = append(conversations, c)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read conversations %s: %w", uid, err)
	}
	return conversations, nil
}

// ResetUnread zeroes the counter; counters can only be reset by deleting
// the row.
func (s *Session) ResetUnread(ctx context.Context, uid, other string) error {
	query := `DELETE FROM conversation_counters WHERE user_id = ? AND other_user_id = ?`
	if err := s.Query(query, uid, other).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("reset unread count: %w", err)
	}
	return nil
}
