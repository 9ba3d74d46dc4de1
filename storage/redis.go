// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores values as plain redis strings. Values never expire.
type RedisBackend struct {
	client  redis.Cmdable
	timeout time.Duration
}

// ensure that RedisBackend implements the Backend interface
var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend wraps an existing redis client.
// Supported options: WithTimeout
func NewRedisBackend(client redis.Cmdable, opt ...Option) (*RedisBackend, error) {
	const op = "storage.NewRedisBackend"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &RedisBackend{client: client, timeout: opts.withTimeout}, nil
}

func (r *RedisBackend) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *RedisBackend) Get(k string) (string, bool, error) {
	const op = "storage.(RedisBackend).Get"
	ctx, cancel := r.ctx()
	defer cancel()
	v, err := r.client.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%s: %w: %s", op, ErrBackend, err)
	}
	return v, true, nil
}

func (r *RedisBackend) Set(k, v string) error {
	const op = "storage.(RedisBackend).Set"
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.client.Set(ctx, k, v, 0).Err(); err != nil {
		return fmt.Errorf("%s: %w: %s", op, ErrBackend, err)
	}
	return nil
}

func (r *RedisBackend) Delete(k string) error {
	const op = "storage.(RedisBackend).Delete"
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("%s: %w: %s", op, ErrBackend, err)
	}
	return nil
}

func (r *RedisBackend) Keys(prefix string) ([]string, error) {
	const op = "storage.(RedisBackend).Keys"
	ctx, cancel := r.ctx()
	defer cancel()
	var keys []string
	iter := r.client.Scan(ctx, 0, globEscape(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrBackend, err)
	}
	return keys, nil
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func globEscape(s string) string { return globReplacer.Replace(s) }
