package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"emberhall.gg/internal/protocol"
	"emberhall.gg/internal/sim"
)

// joinCodeAlphabet avoids look-alike characters; codes are read aloud.
const (
	joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	joinCodeLength   = 6
)

// Registry maps session ids and join codes to running actors. It is the
// only structure shared across connections; it holds handles, never state,
// and serializes nothing but lookup and creation.
type Registry struct {
	log      zerolog.Logger
	clock    Clock
	sim      sim.Simulation
	store    Store
	archiver Archiver
	cfg      ActorConfig

	mu     sync.Mutex
	byID   map[string]*Actor
	byCode map[string]*Actor

	runCtx    context.Context
	runCancel context.CancelFunc
	running   sync.WaitGroup
}

// NewRegistry wires the shared collaborators every actor will use.
func NewRegistry(log zerolog.Logger, clock Clock, s sim.Simulation, store Store, archiver Archiver, cfg ActorConfig) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		log:       log.With().Str("comp", "registry").Logger(),
		clock:     clock,
		sim:       s,
		store:     store,
		archiver:  archiver,
		cfg:       cfg,
		byID:      map[string]*Actor{},
		byCode:    map[string]*Actor{},
		runCtx:    ctx,
		runCancel: cancel,
	}
}

// CreateSession spins up a new actor with the caller as director and joins
// them to it.
func (r *Registry) CreateSession(ctx context.Context, directorID, directorName string, cfg Config, out chan []byte) (protocol.SessionCreatedPayload, error) {
	if err := cfg.Validate(); err != nil {
		return protocol.SessionCreatedPayload{}, err
	}
	sess := &Session{
		ID:         uuid.NewString(),
		DirectorID: directorID,
		Status:     StatusLobby,
		Config:     cfg,
		CreatedAt:  r.clock.Now(),
	}
	acfg := r.cfg
	if acfg.Seed == 0 {
		acfg.Seed = sess.CreatedAt.UnixNano()
	}

	r.mu.Lock()
	code, err := r.newJoinCodeLocked()
	if err != nil {
		r.mu.Unlock()
		return protocol.SessionCreatedPayload{}, err
	}
	sess.JoinCode = code
	actor := newActor(sess, acfg, actorDeps{
		log:      r.log,
		clock:    r.clock,
		sim:      r.sim,
		store:    r.store,
		archiver: r.archiver,
		onEnded:  r.remove,
	})
	r.byID[sess.ID] = actor
	r.byCode[code] = actor
	r.mu.Unlock()

	r.running.Add(1)
	go func() {
		defer r.running.Done()
		actor.Run(r.runCtx)
	}()

	if _, err := actor.Join(ctx, directorID, directorName, out); err != nil {
		return protocol.SessionCreatedPayload{}, err
	}
	view, err := actor.View(ctx)
	if err != nil {
		return protocol.SessionCreatedPayload{}, err
	}
	r.log.Info().Str("session", sess.ID).Str("code", code).Str("director", directorID).Msg("session created")
	return protocol.SessionCreatedPayload{SessionID: sess.ID, JoinCode: code, Session: view}, nil
}

// GetByID returns the actor for a session id.
func (r *Registry) GetByID(id string) (*Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, Errf(protocol.ErrNotFound, "unknown session %s", id)
	}
	return a, nil
}

// GetByCode returns the actor for a join code.
func (r *Registry) GetByCode(code string) (*Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byCode[code]
	if !ok {
		return nil, Errf(protocol.ErrNotFound, "unknown join code")
	}
	return a, nil
}

// remove is the actor's onEnded callback.
func (r *Registry) remove(id, code string) {
	r.mu.Lock()
	delete(r.byID, id)
	delete(r.byCode, code)
	r.mu.Unlock()
}

// Stats reports registry size and per-actor queue depth for metrics.
func (r *Registry) Stats() (sessions int, maxQueueDepth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byID {
		if d := a.QueueDepth(); d > maxQueueDepth {
			maxQueueDepth = d
		}
	}
	return len(r.byID), maxQueueDepth
}

// Close stops every actor and waits briefly for them to wind down.
func (r *Registry) Close(timeout time.Duration) {
	r.runCancel()
	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		r.log.Warn().Msg("registry close timed out waiting for actors")
	}
}

func (r *Registry) newJoinCodeLocked() (string, error) {
	for attempt := 0; attempt < 32; attempt++ {
		buf := make([]byte, joinCodeLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("join code: %w", err)
		}
		for i, b := range buf {
			buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
		}
		code := string(buf)
		if _, taken := r.byCode[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("join code space exhausted")
}
