// Package kv stores the attendance ledger in Redis: one list per day plus a
// set of known days.
package kv

import (
	"context"
	"encoding/json"
	"fmt"

	"absenbot/internal/ledger"

	"github.com/redis/go-redis/v9"
)

// Store is a ledger.Store backed by Redis. RPUSH and SADD run in one
// MULTI/EXEC so a day is never listed without its records.
type Store struct {
	client *redis.Client
	prefix string
}

var _ ledger.Store = (*Store)(nil)

// Dial parses url, connects and pings.
func Dial(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(client, prefix), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) daysKey() string {
	return s.prefix + "days"
}

func (s *Store) dayKey(date string) string {
	return s.prefix + "day:" + date
}

// Load returns all days. A record that fails to decode makes the result
// empty and the error wraps ledger.ErrCorruptState.
func (s *Store) Load(ctx context.Context) (ledger.Snapshot, error) {
	return s.QueryAll(ctx)
}

func (s *Store) Append(ctx context.Context, date string, rec ledger.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error encoding record: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.dayKey(date), data)
		pipe.SAdd(ctx, s.daysKey(), date)
		return nil
	})
	if err != nil {
		return fmt.Errorf("error appending record: %w", err)
	}
	return nil
}

func (s *Store) QueryDay(ctx context.Context, date string) ([]ledger.Record, error) {
	raw, err := s.client.LRange(ctx, s.dayKey(date), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("error reading day %s: %w", date, err)
	}
	return decodeDay(date, raw)
}

func (s *Store) QueryAll(ctx context.Context) (ledger.Snapshot, error) {
	dates, err := s.client.SMembers(ctx, s.daysKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("error listing days: %w", err)
	}

	cmds := make(map[string]*redis.StringSliceCmd, len(dates))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, d := range dates {
			cmds[d] = pipe.LRange(ctx, s.dayKey(d), 0, -1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error reading days: %w", err)
	}

	snap := make(ledger.Snapshot, len(dates))
	for d, cmd := range cmds {
		recs, err := decodeDay(d, cmd.Val())
		if err != nil {
			return ledger.Snapshot{}, err
		}
		snap[d] = recs
	}
	return snap, nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func decodeDay(date string, raw []string) ([]ledger.Record, error) {
	recs := make([]ledger.Record, 0, len(raw))
	for i, item := range raw {
		var rec ledger.Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", ledger.ErrCorruptState, date, i, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
