package form

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/uhyunpark/tradeform/pkg/matching"
)

var ErrNotFound = errors.New("form session not found")

// Registry owns the open sessions of the service.
type Registry struct {
	cfg       Config
	newEngine func() *matching.Engine

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry opens sessions with cfg. newEngine, when set, gives each
// session its own matching engine, so one form's run does not fail
// another's with ErrRunInProgress. Engines from one factory are expected
// to share a Pacer.
func NewRegistry(cfg Config, newEngine func() *matching.Engine) *Registry {
	return &Registry{cfg: cfg, newEngine: newEngine, sessions: make(map[string]*Session)}
}

func (r *Registry) Open(ctx context.Context, p Params) (*Session, error) {
	cfg := r.cfg
	if r.newEngine != nil {
		cfg.Engine = r.newEngine()
	}
	s, err := Open(ctx, uuid.NewString(), p, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return s.Close()
}

// IDs returns the open session ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
