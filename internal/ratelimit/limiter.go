// Package ratelimit implements per-client fixed-window admission control.
package ratelimit

import (
	"maps"
	"sync"
	"time"
)

// Class names an operation class with its own ceiling.
type Class string

const (
	General    Class = "general"
	Generation Class = "generation"
)

// Rule is the ceiling for one class.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Store holds admission state. Implementations must make each Admit call one
// atomic sweep-check-increment step.
type Store interface {
	Admit(class Class, key string, rule Rule, now time.Time) bool
}

// Limiter admits or denies requests per (class, client key). It never blocks.
type Limiter struct {
	rules map[Class]Rule
	store Store
	now   func() time.Time
}

// DefaultRules are 30/min general and 5/min generation.
func DefaultRules() map[Class]Rule {
	return map[Class]Rule{
		General:    {Limit: 30, Window: time.Minute},
		Generation: {Limit: 5, Window: time.Minute},
	}
}

// New creates a limiter. A nil store means a fresh MemoryStore. rules is
// copied; a missing General rule comes from DefaultRules.
func New(rules map[Class]Rule, store Store) *Limiter {
	if rules == nil {
		rules = DefaultRules()
	}
	rules = maps.Clone(rules)
	if _, ok := rules[General]; !ok {
		rules[General] = DefaultRules()[General]
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{rules: rules, store: store, now: time.Now}
}

// rule resolves class, falling back to General for unknown classes.
func (l *Limiter) rule(class Class) (Class, Rule) {
	if r, ok := l.rules[class]; ok {
		return class, r
	}
	return General, l.rules[General]
}

// Admit reports whether a request from key may proceed in class.
func (l *Limiter) Admit(class Class, key string) bool {
	class, r := l.rule(class)
	return l.store.Admit(class, key, r, l.now())
}

// RetryAfter is the wait a denied caller should be told to observe.
func (l *Limiter) RetryAfter(class Class) time.Duration {
	_, r := l.rule(class)
	return r.Window
}

type window struct {
	start time.Time
	count int
}

// MemoryStore keeps windows in process memory. Expired windows are evicted
// only during Admit calls on the same class.
type MemoryStore struct {
	mu      sync.Mutex
	classes map[Class]map[string]*window
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{classes: make(map[Class]map[string]*window)}
}

// Admit sweeps expired windows, then checks and increments key's count.
func (s *MemoryStore) Admit(class Class, key string, rule Rule, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.classes[class]
	if clients == nil {
		clients = make(map[string]*window)
		s.classes[class] = clients
	}
	for k, w := range clients {
		if now.Sub(w.start) > rule.Window {
			delete(clients, k)
		}
	}

	w := clients[key]
	if w == nil {
		w = &window{start: now}
	}
	if w.count >= rule.Limit {
		return false
	}
	w.count++
	clients[key] = w
	return true
}

// Len returns how many client windows class currently holds.
func (s *MemoryStore) Len(class Class) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.classes[class])
}
