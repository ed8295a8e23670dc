package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocql/gocql"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

type Options struct {
	Hosts             []string
	Keyspace          string
	Username          string
	Password          string
	Consistency       string
	Timeout           time.Duration
	ReplicationFactor int
}

// NewSession creates the keyspace and tables when missing and returns a session bound to the keyspace.
func NewSession(ctx context.Context, opts Options, logger *slog.Logger) (*gocql.Session, error) {
	if len(opts.Hosts) == 0 {
		return nil, errors.New("scylla: hosts are required")
	}
	if !keyspacePattern.MatchString(opts.Keyspace) {
		return nil, fmt.Errorf("scylla: invalid keyspace name %q", opts.Keyspace)
	}
	consistency, err := parseConsistency(opts.Consistency)
	if err != nil {
		return nil, err
	}
	if opts.ReplicationFactor <= 0 {
		opts.ReplicationFactor = 1
	}

	var base *gocql.Session
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 60 * time.Second
	err = backoff.Retry(func() error {
		s, err := newCluster(opts, "", consistency).CreateSession()
		if err != nil {
			if logger != nil {
				logger.Warn("scylla connect failed", "error", err)
			}
			return err
		}
		base = s
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, fmt.Errorf("scylla: connect: %w", err)
	}
	err = base.Query(fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		opts.Keyspace, opts.ReplicationFactor,
	)).WithContext(ctx).Exec()
	base.Close()
	if err != nil {
		return nil, fmt.Errorf("scylla: create keyspace: %w", err)
	}

	session, err := newCluster(opts, opts.Keyspace, consistency).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: connect to keyspace %s: %w", opts.Keyspace, err)
	}
	if err := ensureTables(ctx, session); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", opts.Hosts, "keyspace", opts.Keyspace)
	}
	return session, nil
}

func newCluster(opts Options, keyspace string, consistency gocql.Consistency) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(opts.Hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = consistency
	cluster.SerialConsistency = gocql.LocalSerial
	if opts.Timeout > 0 {
		cluster.Timeout = opts.Timeout
		cluster.ConnectTimeout = opts.Timeout
	}
	if opts.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: opts.Username, Password: opts.Password}
	}
	return cluster
}

func parseConsistency(raw string) (gocql.Consistency, error) {
	if strings.TrimSpace(raw) == "" {
		return gocql.Quorum, nil
	}
	var c gocql.Consistency
	if err := c.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(raw)))); err != nil {
		return 0, fmt.Errorf("scylla: consistency: %w", err)
	}
	return c, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
	id text PRIMARY KEY,
	anchor_kind text,
	anchor_id text,
	participants list<text>,
	created_at timestamp,
	updated_at timestamp,
	last_message_id text,
	last_message_sender text,
	last_message_content text,
	last_message_at timestamp
)`,
	`CREATE TABLE IF NOT EXISTS conversation_keys (
	anchor text,
	pair_key text,
	conversation_id text,
	PRIMARY KEY ((anchor, pair_key))
)`,
	`CREATE TABLE IF NOT EXISTS conversations_by_user (
	user_id text,
	conversation_id text,
	PRIMARY KEY (user_id, conversation_id)
)`,
	`CREATE TABLE IF NOT EXISTS messages (
	conversation_id text,
	created_at timestamp,
	message_id text,
	sender_id text,
	content text,
	read boolean,
	read_at timestamp,
	PRIMARY KEY (conversation_id, created_at, message_id)
) WITH CLUSTERING ORDER BY (created_at DESC, message_id DESC)`,
}

func ensureTables(ctx context.Context, session *gocql.Session) error {
	for _, stmt := range schema {
		if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("scylla: create table: %w", err)
		}
	}
	return nil
}
