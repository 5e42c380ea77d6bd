// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit throttles accepted connections with token buckets.
package ratelimit

import (
	"errors"
	"net/netip"
	"sync"
	"time"
)

var (
	// ErrRateLimitExceeded is returned when a connection is over its budget.
	ErrRateLimitExceeded = errors.New("connection rate limit exceeded")
)

// TokenBucket implements the token bucket algorithm.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate int64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket holding capacity tokens and gaining
// refillRate tokens per second.
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow takes one token if available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// refill adds tokens based on elapsed time.
func (tb *TokenBucket) refill() {
	now := tb.now()
	add := int64(now.Sub(tb.lastRefill).Seconds() * float64(tb.refillRate))
	if add <= 0 {
		return
	}
	tb.tokens = min(tb.tokens+add, tb.capacity)
	tb.lastRefill = now
}

// Available returns the number of available tokens.
func (tb *TokenBucket) Available() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// full reports whether the bucket has refilled completely.
func (tb *TokenBucket) full() bool {
	return tb.Available() >= tb.capacity
}

// Limiter keeps one bucket per remote address.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[netip.Addr]*TokenBucket
	capacity   int64
	refillRate int64
	maxPeers   int
	now        func() time.Time
}

// NewLimiter creates a per-peer limiter. At most maxPeers buckets are kept;
// peers beyond that are refused until idle buckets are swept.
func NewLimiter(capacity, refillRate int64, maxPeers int) *Limiter {
	if maxPeers == 0 {
		maxPeers = 10000
	}
	return &Limiter{
		buckets:    make(map[netip.Addr]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		maxPeers:   maxPeers,
		now:        time.Now,
	}
}

// Allow takes one token from peer's bucket.
func (l *Limiter) Allow(peer netip.Addr) bool {
	peer = peer.Unmap()

	l.mu.Lock()
	tb, ok := l.buckets[peer]
	if !ok {
		if len(l.buckets) >= l.maxPeers {
			l.sweep()
		}
		if len(l.buckets) >= l.maxPeers {
			l.mu.Unlock()
			return false
		}
		tb = newTokenBucket(l.capacity, l.refillRate, l.now)
		l.buckets[peer] = tb
	}
	l.mu.Unlock()

	return tb.Allow()
}

// sweep drops buckets that refilled completely; they carry no state.
func (l *Limiter) sweep() {
	for peer, tb := range l.buckets {
		if tb.full() {
			delete(l.buckets, peer)
		}
	}
}

// Peers returns the number of tracked peers.
func (l *Limiter) Peers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
