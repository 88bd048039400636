// Package db persists DevChat data in ScyllaDB.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("db: not found")

type Session struct {
	*gocql.Session
}

func newCluster(hosts []string, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	// Retry policy
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}
	return cluster
}

func NewSession(hosts []string, keyspace string) (*Session, error) {
	session, err := newCluster(hosts, keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}

	log.Info().Strs("hosts", hosts).Str("keyspace", keyspace).Msg("connected to ScyllaDB cluster")
	return &Session{Session: session}, nil
}

// CreateKeyspace connects through the system keyspace and creates keyspace
// with a replication factor of one.
func CreateKeyspace(hosts []string, keyspace string) error {
	sys, err := NewSession(hosts, "system")
	if err != nil {
		return err
	}
	defer sys.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, keyspace)
	if err := sys.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}

// Tables lists every table owned by DevChat, in creation order.
var Tables = []string{
	"messages",
	"channels",
	"users",
	"users_by_email",
	"user_colors",
	"user_starred",
	"user_conversations",
	"conversation_counters",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		scope text,
		channel_id text,
		id text,
		body text,
		PRIMARY KEY ((scope, channel_id), id)
	) WITH CLUSTERING ORDER BY (id ASC)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id text PRIMARY KEY,
		body text
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		uid text PRIMARY KEY,
		email text,
		name text,
		avatar text,
		password_hash text,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_email (
		email text PRIMARY KEY,
		uid text
	)`,
	`CREATE TABLE IF NOT EXISTS user_colors (
		uid text,
		id text,
		primary_color text,
		secondary_color text,
		PRIMARY KEY (uid, id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_starred (
		uid text,
		channel_id text,
		body text,
		PRIMARY KEY (uid, channel_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		other_user_id text,
		last_updated timestamp,
		PRIMARY KEY (user_id, other_user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_counters (
		user_id text,
		other_user_id text,
		unread_count counter,
		PRIMARY KEY (user_id, other_user_id)
	)`,
}

// Migrate creates the tables that do not exist yet.
func (s *Session) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if err := s.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", Tables[i], err)
		}
	}
	return nil
}

// Drop removes every DevChat table.
func (s *Session) Drop(ctx context.Context) error {
	for _, t := range Tables {
		if err := s.Query("DROP TABLE IF EXISTS " + t).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
		log.Info().Str("table", t).Msg("dropped table")
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
