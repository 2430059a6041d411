// Package dispatch serializes classify-and-send cycles coming from
// concurrent host callbacks.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is delivered to callers still queued when the serializer closes
	ErrClosed = errors.New("dispatch: serializer closed")

	// ErrNotHolder is returned by Release for a token that does not hold the serializer
	ErrNotHolder = errors.New("dispatch: token does not hold the serializer")
)

// Token identifies one logical caller. The serializer is reentrant by token,
// not by goroutine.
type Token uint64

var lastToken atomic.Uint64

// NewToken returns a token not handed out before
func NewToken() Token {
	return Token(lastToken.Add(1))
}

type waiter struct {
	token Token
	ch    chan error
}

// Serializer lets one token proceed at a time. Other tokens queue in
// arrival order; the holder's own token is granted again immediately.
type Serializer struct {
	mu      sync.Mutex
	held    bool
	holder  Token
	depth   int
	waiters []*waiter
	closed  bool
}

// NewSerializer creates an idle serializer
func NewSerializer() *Serializer {
	return &Serializer{}
}

// TryAcquire grants the serializer to token if it is free or already held
// by token. Otherwise the caller is queued and wait receives nil once it is
// granted, or ErrClosed if the serializer closes first.
func (s *Serializer) TryAcquire(token Token) (granted bool, wait <-chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		ch := make(chan error, 1)
		ch <- ErrClosed
		return false, ch
	}

	switch {
	case !s.held:
		s.held = true
		s.holder = token
		s.depth = 1
		return true, nil
	case s.holder == token:
		s.depth++
		return true, nil
	}

	w := &waiter{token: token, ch: make(chan error, 1)}
	s.waiters = append(s.waiters, w)
	return false, w.ch
}

// Acquire blocks until token holds the serializer, ctx is done or the
// serializer closes.
func (s *Serializer) Acquire(ctx context.Context, token Token) error {
	granted, wait := s.TryAcquire(token)
	if granted {
		return nil
	}

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
	}

	s.mu.Lock()
	if s.removeWaiterLocked(wait) {
		s.mu.Unlock()
		return ctx.Err()
	}
	s.mu.Unlock()

	// granted or closed while we were giving up
	if err := <-wait; err == nil {
		_ = s.Release(token)
	}
	return ctx.Err()
}

// Release gives up one level of token's hold. When the last level is
// released the first queued caller is granted, together with every other
// queued caller presenting the same token.
func (s *Serializer) Release(token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.held || s.holder != token {
		return ErrNotHolder
	}
	s.depth--
	if s.depth > 0 {
		return nil
	}

	s.held = false
	s.holder = 0
	if len(s.waiters) == 0 {
		return nil
	}

	next := s.waiters[0]
	s.held = true
	s.holder = next.token
	s.depth = 1
	next.ch <- nil

	rest := s.waiters[:0]
	for _, w := range s.waiters[1:] {
		if w.token == next.token {
			s.depth++
			w.ch <- nil
			continue
		}
		rest = append(rest, w)
	}
	clear(s.waiters[len(rest):])
	s.waiters = rest
	return nil
}

// Close fails every queued caller with ErrClosed and refuses new ones. The
// current holder may still Release. Close is idempotent.
func (s *Serializer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, w := range s.waiters {
		w.ch <- ErrClosed
	}
	s.waiters = nil
}

// Waiting returns the number of queued callers
func (s *Serializer) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// Holder returns the current holder and its hold depth
func (s *Serializer) Holder() (Token, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holder, s.depth, s.held
}

func (s *Serializer) removeWaiterLocked(wait <-chan error) bool {
	for i, w := range s.waiters {
		if w.ch == wait {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return true
		}
	}
	return false
}
