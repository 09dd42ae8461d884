package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"emberhall.gg/internal/protocol"
	"emberhall.gg/internal/sim"
)

// turnWarnFraction is the point in the turn window at which the warning
// event fires, giving the client one chance to act before the forced skip.
const turnWarnFraction = 0.8

// Store persists session snapshots and event-history tails off the critical
// path. Implementations must never block the caller.
type Store interface {
	SaveAsync(rec SaveRecord)
}

// SaveRecord is one durability write. State is nil for event-only writes
// between checkpoints.
type SaveRecord struct {
	SessionID string
	JoinCode  string
	Status    string
	Version   uint64
	State     sim.State
	Events    []HistoryEntry
}

// Archiver receives the full event history of an ended session.
type Archiver interface {
	ArchiveSession(sessionID string, entries []HistoryEntry) error
}

// ActorConfig carries the operational knobs an actor needs.
type ActorConfig struct {
	DisconnectGrace time.Duration
	CheckpointEvery int
	Seed            int64
}

// Actor is the single writer for one session. All mutation flows through
// its inbox and is processed strictly in arrival order; timers re-enter the
// same queue rather than touching state from their own goroutines.
type Actor struct {
	cfg      ActorConfig
	log      zerolog.Logger
	clock    Clock
	sim      sim.Simulation
	store    Store
	archiver Archiver
	onEnded  func(sessionID, joinCode string)

	inbox    chan func()
	stop     chan struct{}
	stopOnce sync.Once

	// Owned exclusively by the Run goroutine.
	sess        *Session
	state       sim.State
	turn        TurnState
	presence    *presenceTable
	controllers map[string]string // entity id -> participant id
	history     []HistoryEntry
	pendingSave []HistoryEntry
	histSeq     uint64

	turnEpoch       uint64
	turnWarnTimer   Timer
	turnSkipTimer   Timer
	sinceCheckpoint int
	// autoPaused marks a pause caused by everyone disconnecting, which a
	// reconnect undoes; a director pause is only undone by the director.
	autoPaused bool
	// ending is set by shutdown; the Run loop closes stop after the
	// current handler returns, so a caller always sees its own reply
	// before the stop signal.
	ending bool
}

func newActor(sess *Session, cfg ActorConfig, deps actorDeps) *Actor {
	return &Actor{
		cfg:         cfg,
		log:         deps.log.With().Str("session", sess.ID).Logger(),
		clock:       deps.clock,
		sim:         deps.sim,
		store:       deps.store,
		archiver:    deps.archiver,
		onEnded:     deps.onEnded,
		inbox:       make(chan func(), 256),
		stop:        make(chan struct{}),
		sess:        sess,
		presence:    newPresenceTable(),
		controllers: map[string]string{},
	}
}

type actorDeps struct {
	log      zerolog.Logger
	clock    Clock
	sim      sim.Simulation
	store    Store
	archiver Archiver
	onEnded  func(sessionID, joinCode string)
}

// Run consumes the inbox until the session ends or ctx is cancelled.
func (a *Actor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.stopOnce.Do(func() { close(a.stop) })
			return
		case <-a.stop:
			return
		case fn := <-a.inbox:
			a.safeExec(fn)
			if a.ending {
				a.stopOnce.Do(func() { close(a.stop) })
				return
			}
		}
	}
}

// safeExec contains an actor-internal invariant violation to this one
// session: best-effort final persist, apologetic session_ended, shutdown.
func (a *Actor) safeExec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("actor invariant violation")
			a.failFatal(fmt.Sprintf("%v", r))
		}
	}()
	fn()
}

// do runs fn on the actor goroutine and waits for it.
func (a *Actor) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case a.inbox <- wrapped:
	case <-a.stop:
		return Errf(protocol.ErrSessionEnded, "session has ended")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-a.stop:
		// The command may have completed in the same handler that ended
		// the session.
		select {
		case <-done:
			return nil
		default:
			return Errf(protocol.ErrSessionEnded, "session has ended")
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueueAsync delivers timer callbacks without ever blocking the timer
// goroutine.
func (a *Actor) enqueueAsync(fn func()) {
	select {
	case a.inbox <- fn:
		return
	default:
	}
	go func() {
		select {
		case a.inbox <- fn:
		case <-a.stop:
		}
	}()
}

// QueueDepth reports inbox backlog, for metrics.
func (a *Actor) QueueDepth() int { return len(a.inbox) }

func (a *Actor) ID() string { return a.sess.ID }

func (a *Actor) nowMillis() int64 { return a.clock.Now().UnixMilli() }

// frame marshals an outbound push envelope once for fan-out.
func (a *Actor) frame(msgType string, payload any) []byte {
	env := protocol.Push(msgType, payload, a.nowMillis())
	b, err := json.Marshal(env)
	if err != nil {
		panic(fmt.Sprintf("marshal %s: %v", msgType, err))
	}
	return b
}

func (a *Actor) broadcast(msgType string, payload any, skip ...string) {
	a.presence.broadcast(a.frame(msgType, payload), skip...)
}

func (a *Actor) sendTo(pid, msgType string, payload any) {
	a.presence.send(pid, a.frame(msgType, payload))
}

func (a *Actor) appendHistory(kind, actorID string, version uint64, detail any) {
	a.histSeq++
	entry := HistoryEntry{
		Seq:     a.histSeq,
		Version: version,
		Kind:    kind,
		Actor:   actorID,
		Detail:  detail,
		TS:      a.clock.Now(),
	}
	a.history = append(a.history, entry)
	a.pendingSave = append(a.pendingSave, entry)
}

// persist hands the pending history tail (and, on checkpoints and lifecycle
// transitions, the full state) to the store. Fire-and-forget: persistence
// is a durability aid, never a correctness dependency.
func (a *Actor) persist(withState bool) {
	if a.store == nil {
		return
	}
	rec := SaveRecord{
		SessionID: a.sess.ID,
		JoinCode:  a.sess.JoinCode,
		Status:    string(a.sess.Status),
		Version:   a.sess.Version,
		Events:    a.pendingSave,
	}
	a.pendingSave = nil
	if withState && a.state != nil {
		rec.State = a.state
	}
	a.store.SaveAsync(rec)
}

// persistAfterAction batches state checkpoints every CheckpointEvery
// accepted actions; event rows always go out.
func (a *Actor) persistAfterAction() {
	a.sinceCheckpoint++
	checkpoint := a.cfg.CheckpointEvery > 0 && a.sinceCheckpoint >= a.cfg.CheckpointEvery
	if checkpoint {
		a.sinceCheckpoint = 0
	}
	a.persist(checkpoint)
}

// --- turn timers ---------------------------------------------------------

// scheduleTurnTimers arms the warning and skip timers for the current turn.
// The epoch guard makes cancellation exact: any accepted action for this
// turn bumps the epoch, so a stale timer that already fired is ignored when
// its message reaches the queue.
func (a *Actor) scheduleTurnTimers() {
	a.cancelTurnTimers()
	timeout := time.Duration(a.sess.Config.TurnTimeoutSeconds) * time.Second
	if timeout <= 0 || a.sess.Status != StatusActive {
		a.turn.Deadline = time.Time{}
		return
	}
	a.turn.Deadline = a.clock.Now().Add(timeout)
	epoch := a.turnEpoch
	warnAfter := time.Duration(float64(timeout) * turnWarnFraction)
	a.turnWarnTimer = a.clock.AfterFunc(warnAfter, func() {
		a.enqueueAsync(func() { a.handleTurnWarn(epoch) })
	})
	a.turnSkipTimer = a.clock.AfterFunc(timeout, func() {
		a.enqueueAsync(func() { a.handleTurnTimeout(epoch) })
	})
}

func (a *Actor) cancelTurnTimers() {
	a.turnEpoch++
	if a.turnWarnTimer != nil {
		a.turnWarnTimer.Stop()
		a.turnWarnTimer = nil
	}
	if a.turnSkipTimer != nil {
		a.turnSkipTimer.Stop()
		a.turnSkipTimer = nil
	}
}

func (a *Actor) handleTurnWarn(epoch uint64) {
	if epoch != a.turnEpoch || a.sess.Status != StatusActive || a.turn.Deadline.IsZero() {
		return
	}
	a.broadcast(protocol.TypeEvents, protocol.EventsPayload{
		SessionID: a.sess.ID,
		Events: []protocol.Event{{
			"type":       "turn_warning",
			"entityId":   a.turn.Current(),
			"deadlineTs": a.turn.Deadline.UnixMilli(),
		}},
	})
}

func (a *Actor) handleTurnTimeout(epoch uint64) {
	if epoch != a.turnEpoch || a.sess.Status != StatusActive {
		return
	}
	entity := a.turn.Current()
	a.log.Debug().Str("entity", entity).Msg("turn timed out, forcing skip")
	a.appendHistory("turn_timeout", a.controllers[entity], a.sess.Version, map[string]any{"entityId": entity})
	a.broadcast(protocol.TypeEvents, protocol.EventsPayload{
		SessionID: a.sess.ID,
		Events:    []protocol.Event{{"type": "turn_skipped", "entityId": entity, "reason": "timeout"}},
	})
	a.advanceTurn()
	a.persist(false)
}

// advanceTurn moves to the next live entity, announces it, and re-arms the
// turn timers.
func (a *Actor) advanceTurn() {
	next, ok := a.turn.Advance(a.entityLive)
	if !ok {
		return
	}
	a.turn = next
	a.announceTurn()
}

func (a *Actor) announceTurn() {
	a.scheduleTurnTimers()
	payload := protocol.TurnChangedPayload{
		SessionID: a.sess.ID,
		EntityID:  a.turn.Current(),
		Round:     a.turn.Round,
	}
	if !a.turn.Deadline.IsZero() {
		payload.DeadlineTS = a.turn.Deadline.UnixMilli()
	}
	a.broadcast(protocol.TypeTurnChanged, payload)
}

// entityLive reports whether an entity can take a turn: it must be alive in
// the shared state and still have a controlling participant in the session.
func (a *Actor) entityLive(entityID string) bool {
	pid, ok := a.controllers[entityID]
	if !ok || pid == "" {
		return false
	}
	if a.sess.participant(pid) == nil {
		return false
	}
	ents, _ := a.state["entities"].([]any)
	for _, e := range ents {
		m, ok := e.(map[string]any)
		if !ok || m["id"] != entityID {
			continue
		}
		hp, _ := m["hp"].(float64)
		return hp > 0
	}
	// Entity not materialized in state: trust the controller map.
	return true
}

// --- shutdown ------------------------------------------------------------

func (a *Actor) shutdown() {
	if a.ending {
		return
	}
	a.ending = true
	a.cancelTurnTimers()
	if a.onEnded != nil {
		a.onEnded(a.sess.ID, a.sess.JoinCode)
	}
	if a.archiver != nil && len(a.history) > 0 {
		entries := append([]HistoryEntry(nil), a.history...)
		id := a.sess.ID
		arch := a.archiver
		lg := a.log
		go func() {
			if err := arch.ArchiveSession(id, entries); err != nil {
				lg.Warn().Err(err).Msg("archive session history")
			}
		}()
	}
}

func (a *Actor) failFatal(reason string) {
	if a.sess.Status != StatusEnded {
		a.sess.Status = StatusEnded
		a.broadcast(protocol.TypeSessionEnded, protocol.SessionEndedPayload{
			SessionID: a.sess.ID,
			Result:    "aborted",
			Reason:    "internal error, sorry; please start a new session",
		})
		a.appendHistory("session_aborted", "", a.sess.Version, map[string]any{"reason": reason})
		a.persist(true)
	}
	a.shutdown()
}
