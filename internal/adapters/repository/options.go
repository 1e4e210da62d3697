package repository

import "time"

const (
	defaultMaxConns       = 10
	defaultMinConns       = 2
	defaultConnectTimeout = 5 * time.Second
)

// Option applies a configuration option to the PostgresStore.
type Option func(*PostgresStore)

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) Option {
	return func(s *PostgresStore) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

// WithMinConns sets how many idle connections the pool keeps open.
func WithMinConns(n int32) Option {
	return func(s *PostgresStore) {
		if n >= 0 {
			s.minConns = n
		}
	}
}

// WithConnectTimeout bounds the initial ping.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *PostgresStore) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}
