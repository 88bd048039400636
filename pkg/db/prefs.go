package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mahaj/devchat/pkg/model"
)

func (s *Session) SaveColor(ctx context.Context, uid, id string, c model.ColorPair) error {
	query := `INSERT INTO user_colors (uid, id, primary_color, secondary_color) VALUES (?, ?, ?, ?)`
	if err := s.Query(query, uid, id, c.Primary, c.Secondary).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("save color %s/%s: %w", uid, id, err)
	}
	return nil
}

// DeleteColor removes one saved pair; an empty id removes them all.
func (s *Session) DeleteColor(ctx context.Context, uid, id string) error {
	if id == "" {
		return s.Query(`DELETE FROM user_colors WHERE uid = ?`, uid).WithContext(ctx).Exec()
	}
	return s.Query(`DELETE FROM user_colors WHERE uid = ? AND id = ?`, uid, id).WithContext(ctx).Exec()
}

func (s *Session) Colors(ctx context.Context, uid string) (map[string]model.ColorPair, error) {
	iter := s.Query(`SELECT id, primary_color, secondary_color FROM user_colors WHERE uid = ?`, uid).WithContext(ctx).Iter()
	out := make(map[string]model.ColorPair)
	var id string
	var c model.ColorPair
	for iter.Scan(&id, &c.Primary, &c.Secondary) {
		out[id] = c
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read colors %s: %w", uid, err)
	}
	return out, nil
}

func (s *Session) SaveStarred(ctx context.Context, uid, channelID string, body json.RawMessage) error {
	query := `INSERT INTO user_starred (uid, channel_id, body) VALUES (?, ?, ?)`
	if err := s.Query(query, uid, channelID, string(body)).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("save starred %s/%s: %w", uid, channelID, err)
	}
	return nil
}

// DeleteStarred unstars one channel; an empty channelID unstars all.
func (s *Session) DeleteStarred(ctx context.Context, uid, channelID string) error {
	if channelID == "" {
		return s.Query(`DELETE FROM user_starred WHERE uid = ?`, uid).WithContext(ctx).Exec()
	}
	return s.Query(`DELETE FROM user_starred WHERE uid = ? AND channel_id = ?`, uid, channelID).WithContext(ctx).Exec()
}

func (s *Session) StarredRows(ctx context.Context, uid string) ([]Row, error) {
	iter := s.Query(`SELECT channel_id, body FROM user_starred WHERE uid = ?`, uid).WithContext(ctx).Iter()
	var rows []Row
	var id, body string
	for iter.Scan(&id, &body) {
		rows = append(rows, Row{Key: id, Body: json.RawMessage(body)})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read starred %s: %w", uid, err)
	}
	return rows, nil
}
