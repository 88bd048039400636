package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mahaj/devchat/pkg/model"
)

const (
	scopePublic  = "public"
	scopePrivate = "private"
)

func scope(private bool) string {
	if private {
		return scopePrivate
	}
	return scopePublic
}

// Row is a stored JSON document and the key it lives under.
type Row struct {
	Key  string
	Body json.RawMessage
}

func (s *Session) SaveMessage(ctx context.Context, private bool, channelID, key string, body json.RawMessage) error {
	query := `INSERT INTO messages (scope, channel_id, id, body) VALUES (?, ?, ?, ?)`
	if err := s.Query(query, scope(private), channelID, key, string(body)).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("save message %s/%s: %w", channelID, key, err)
	}
	return nil
}

func (s *Session) DeleteMessage(ctx context.Context, private bool, channelID, key string) error {
	query := `DELETE FROM messages WHERE scope = ? AND channel_id = ? AND id = ?`
	return s.Query(query, scope(private), channelID, key).WithContext(ctx).Exec()
}

// DeleteChannelMessages drops the whole message list of a channel.
func (s *Session) DeleteChannelMessages(ctx context.Context, private bool, channelID string) error {
	query := `DELETE FROM messages WHERE scope = ? AND channel_id = ?`
	return s.Query(query, scope(private), channelID).WithContext(ctx).Exec()
}

// MessageRows returns the stored messages of a channel in key order. A
// positive limit keeps only the newest ones.
func (s *Session) MessageRows(ctx context.Context, private bool, channelID string, limit int) ([]Row, error) {
	query := `SELECT id, body FROM messages WHERE scope = ? AND channel_id = ?`
	args := []any{scope(private), channelID}
	if limit > 0 {
		query += ` ORDER BY id DESC LIMIT ?`
		args = append(args, limit)
	}
	iter := s.Query(query, args...).WithContext(ctx).Iter()

	var rows []Row
	var id, body string
	for iter.Scan(&id, &body) {
		rows = append(rows, Row{Key: id, Body: json.RawMessage(body)})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read messages %s: %w", channelID, err)
	}
	if limit > 0 {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	return rows, nil
}

// Messages decodes MessageRows, skipping bodies that are not messages.
func (s *Session) Messages(ctx context.Context, private bool, channelID string, limit int) ([]model.Message, error) {
	rows, err := s.MessageRows(ctx, private, channelID, limit)
	if err != nil {
		return nil, err
	}
	return DecodeMessages(rows), nil
}

func DecodeMessages(rows []Row) []model.Message {
	out := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		var m model.Message
		if err := json.Unmarshal(r.Body, &m); err != nil {
			continue
		}
		m.Key = r.Key
		out = append(out, m)
	}
	return out
}

func (s *Session) SaveChannel(ctx context.Context, id string, body json.RawMessage) error {
	if err := s.Query(`INSERT INTO channels (id, body) VALUES (?, ?)`, id, string(body)).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("save channel %s: %w", id, err)
	}
	return nil
}

func (s *Session) DeleteChannel(ctx context.Context, id string) error {
	return s.Query(`DELETE FROM channels WHERE id = ?`, id).WithContext(ctx).Exec()
}

func (s *Session) ChannelRows(ctx context.Context) ([]Row, error) {
	iter := s.Query(`SELECT id, body FROM channels`).WithContext(ctx).Iter()
	var rows []Row
	var id, body string
	for iter.Scan(&id, &body) {
		rows = append(rows, Row{Key: id, Body: json.RawMessage(body)})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read channels: %w", err)
	}
	return rows, nil
}
