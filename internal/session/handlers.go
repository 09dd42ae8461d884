package session

import (
	"context"
	"errors"
	"time"

	"emberhall.gg/internal/delta"
	"emberhall.gg/internal/protocol"
	"emberhall.gg/internal/sim"
)

// Join adds a participant, or reattaches one who is already a member (the
// reconnect path). The out channel is the participant's write queue; nil
// means the caller only wants the membership change.
func (a *Actor) Join(ctx context.Context, pid, name string, out chan []byte) (protocol.SessionJoinedPayload, error) {
	var reply protocol.SessionJoinedPayload
	var opErr error
	err := a.do(ctx, func() {
		if a.sess.Status == StatusEnded {
			opErr = Errf(protocol.ErrSessionEnded, "session has ended")
			return
		}
		if p := a.sess.participant(pid); p != nil {
			a.reconnect(p, out)
			reply = protocol.SessionJoinedPayload{SessionID: a.sess.ID, Session: a.sess.View()}
			return
		}
		if a.sess.Status != StatusLobby {
			opErr = Errf(protocol.ErrAlreadyStarted, "session already started")
			return
		}
		if len(a.sess.Participants) >= a.sess.Config.MaxParticipants {
			opErr = Errf(protocol.ErrFull, "session is full (%d participants)", a.sess.Config.MaxParticipants)
			return
		}
		p := &Participant{
			ID:           pid,
			Name:         name,
			Role:         RoleMember,
			Connected:    out != nil,
			LastActivity: a.clock.Now(),
		}
		if pid == a.sess.DirectorID {
			p.Role = RoleDirector
		}
		a.sess.Participants = append(a.sess.Participants, p)
		a.presence.attach(pid, out)
		a.appendHistory("join", pid, a.sess.Version, map[string]any{"name": name})
		a.broadcast(protocol.TypeParticipantJoined, protocol.ParticipantJoinedPayload{
			SessionID: a.sess.ID,
			Participant: protocol.ParticipantView{
				ID: pid, Name: name, Role: string(p.Role), Connected: p.Connected,
			},
		}, pid)
		reply = protocol.SessionJoinedPayload{SessionID: a.sess.ID, Session: a.sess.View()}
		a.log.Debug().Str("participant", pid).Int("count", len(a.sess.Participants)).Msg("participant joined")
	})
	if err != nil {
		return reply, err
	}
	return reply, opErr
}

// reconnect cancels any pending grace timer, reattaches the write queue,
// pushes a private full sync, and notifies the rest of the session. A
// session paused because everyone dropped resumes here.
func (a *Actor) reconnect(p *Participant, out chan []byte) {
	rec := a.presence.attach(p.ID, out)
	rec.graceEpoch++
	if rec.graceTimer != nil {
		rec.graceTimer.Stop()
		rec.graceTimer = nil
	}
	rec.GraceDeadline = time.Time{}
	rec.PendingAction = ""
	p.Connected = out != nil
	p.LastActivity = a.clock.Now()

	a.broadcast(protocol.TypeEvents, protocol.EventsPayload{
		SessionID: a.sess.ID,
		Events:    []protocol.Event{{"type": "participant_reconnected", "participantId": p.ID}},
	}, p.ID)
	if a.state != nil {
		a.sendTo(p.ID, protocol.TypeFullState, protocol.FullStatePayload{
			SessionID: a.sess.ID,
			State:     a.state,
			Version:   a.sess.Version,
		})
	}
	if a.sess.Status == StatusPaused && a.autoPaused {
		a.resume("participant_reconnected")
	}
	a.appendHistory("reconnect", p.ID, a.sess.Version, nil)
}

// Leave removes a participant for good. The director leaving ends the
// session for everyone.
func (a *Actor) Leave(ctx context.Context, pid string) error {
	var opErr error
	err := a.do(ctx, func() {
		p := a.sess.participant(pid)
		if p == nil {
			opErr = Errf(protocol.ErrNotFound, "not a participant of this session")
			return
		}
		if a.sess.Status == StatusEnded {
			opErr = Errf(protocol.ErrSessionEnded, "session has ended")
			return
		}
		a.dropParticipant(pid, "left")
		if pid == a.sess.DirectorID {
			a.endSession("aborted", nil, "director left the session")
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// dropParticipant is the shared removal path for leave, removal by the
// director, and grace expiry. Entities the participant controlled stay on
// the board but lose their controller, so the turn coordinator skips them.
func (a *Actor) dropParticipant(pid, reason string) {
	wasCurrent := a.sess.Status == StatusActive && a.controllers[a.turn.Current()] == pid
	a.sess.removeParticipant(pid)
	a.presence.remove(pid)
	for eid, owner := range a.controllers {
		if owner == pid {
			delete(a.controllers, eid)
		}
	}
	a.appendHistory("leave", pid, a.sess.Version, map[string]any{"reason": reason})
	a.broadcast(protocol.TypeParticipantLeft, protocol.ParticipantLeftPayload{
		SessionID:     a.sess.ID,
		ParticipantID: pid,
		Reason:        reason,
	})
	if wasCurrent {
		a.advanceTurn()
	}
	a.persist(false)
}

// SetReady flips the lobby ready flag.
func (a *Actor) SetReady(ctx context.Context, pid string, ready bool) error {
	var opErr error
	err := a.do(ctx, func() {
		p := a.sess.participant(pid)
		if p == nil {
			opErr = Errf(protocol.ErrNotFound, "not a participant of this session")
			return
		}
		if a.sess.Status != StatusLobby {
			opErr = Errf(protocol.ErrAlreadyStarted, "ready only applies in the lobby")
			return
		}
		p.Ready = ready
		p.LastActivity = a.clock.Now()
		a.broadcast(protocol.TypeParticipantReadyChanged, protocol.ParticipantReadyChangedPayload{
			SessionID:     a.sess.ID,
			ParticipantID: pid,
			Ready:         ready,
		}, pid)
	})
	if err != nil {
		return err
	}
	return opErr
}

// SubmitAction runs one participant action through the simulation and
// commits the result. The reply is the same state_delta the other
// participants receive (or a full_state when the diff cannot be expressed
// as a single delta).
func (a *Actor) SubmitAction(ctx context.Context, pid string, body protocol.ActionBody) (string, any, error) {
	var replyType string
	var reply any
	var opErr error
	err := a.do(ctx, func() {
		if a.sess.Status == StatusEnded {
			opErr = Errf(protocol.ErrSessionEnded, "session has ended")
			return
		}
		if a.sess.Status != StatusActive {
			opErr = Errf(protocol.ErrSessionNotActive, "session is %s", a.sess.Status)
			return
		}
		entity := a.turn.Current()
		if a.controllers[entity] != pid {
			opErr = Errf(protocol.ErrNotYourTurn, "it is %s's turn", entity)
			return
		}
		if p := a.sess.participant(pid); p != nil {
			p.LastActivity = a.clock.Now()
		}
		action := sim.Action{EntityID: entity, Type: body.Type, Params: body.Params}
		res, err := a.sim.ExecuteAction(a.state, action)
		if err != nil {
			var iae *sim.InvalidActionError
			if errors.As(err, &iae) {
				opErr = Errf(protocol.ErrInvalidAction, "%s", iae.Reason)
			} else {
				a.log.Error().Err(err).Str("action", body.Type).Msg("simulation failure")
				opErr = Errf(protocol.ErrInternal, "simulation failure")
			}
			return
		}
		replyType, reply = a.commitResult(pid, action, res)
	})
	if err != nil {
		return "", nil, err
	}
	return replyType, reply, opErr
}

// commitResult applies an accepted simulation result: version bump, delta
// broadcast (everyone but the issuing participant, who gets it as the
// reply), spawned-entity bookkeeping, event fan-out, turn advance, outcome,
// persistence. Runs on the actor goroutine only.
func (a *Actor) commitResult(pid string, action sim.Action, res sim.Result) (string, any) {
	base := a.sess.Version
	d, diffErr := delta.Diff(a.state, res.State, base)
	a.state = res.State
	a.sess.Version = base + 1
	a.appendHistory("action", pid, a.sess.Version, map[string]any{
		"entityId": action.EntityID,
		"type":     action.Type,
		"params":   action.Params,
	})

	var replyType string
	var reply any
	if diffErr != nil {
		// A delta this action cannot express (conflicting array splices):
		// fall back to a full snapshot at the new version.
		a.log.Warn().Err(diffErr).Uint64("version", a.sess.Version).Msg("delta fallback to full state")
		full := protocol.FullStatePayload{SessionID: a.sess.ID, State: a.state, Version: a.sess.Version}
		a.broadcast(protocol.TypeFullState, full, pid)
		replyType, reply = protocol.TypeFullState, full
	} else {
		dp := protocol.StateDeltaPayload{SessionID: a.sess.ID, Delta: d}
		a.broadcast(protocol.TypeStateDelta, dp, pid)
		replyType, reply = protocol.TypeStateDelta, dp
	}

	if len(res.Spawned) > 0 {
		for _, in := range res.Spawned {
			a.controllers[in.ID] = in.Controller
		}
		a.turn = a.turn.Append(res.Spawned)
	}
	if len(res.Events) > 0 {
		evts := make([]protocol.Event, len(res.Events))
		for i, e := range res.Events {
			evts[i] = protocol.Event(e)
		}
		a.broadcast(protocol.TypeEvents, protocol.EventsPayload{SessionID: a.sess.ID, Events: evts})
	}

	if res.Outcome != "" {
		a.endSession(res.Outcome, a.rewardsFor(res.Outcome), "")
		return replyType, reply
	}
	if res.TurnEnding {
		a.advanceTurn()
	}
	a.persistAfterAction()
	return replyType, reply
}

func (a *Actor) rewardsFor(outcome string) map[string]int {
	if outcome != "victory" {
		return nil
	}
	return map[string]int{
		"xp":   25 * a.turn.Round,
		"gold": 10 * a.turn.Round,
	}
}

// Privileged executes a director command. The gate has already checked the
// capability table; the director identity is re-checked here because the
// actor trusts nothing about ordering of membership changes.
func (a *Actor) Privileged(ctx context.Context, pid, command string, args map[string]any) (string, any, error) {
	var replyType string
	var reply any
	var opErr error
	err := a.do(ctx, func() {
		if a.sess.Status == StatusEnded {
			opErr = Errf(protocol.ErrSessionEnded, "session has ended")
			return
		}
		if pid != a.sess.DirectorID {
			opErr = Errf(protocol.ErrNotDirector, "only the director may issue %s", command)
			return
		}
		switch command {
		case "start":
			replyType, reply, opErr = a.start(args)
		case "pause":
			opErr = a.pause("director")
		case "resume":
			if a.sess.Status != StatusPaused {
				opErr = Errf(protocol.ErrSessionNotActive, "session is %s, not paused", a.sess.Status)
				return
			}
			a.resume("director")
		case "end":
			a.endSession("aborted", nil, "ended by director")
		case "grant_resource", "spawn_entity":
			replyType, reply, opErr = a.directorAction(pid, command, args)
		case "remove_participant":
			opErr = a.removeParticipantCmd(args)
		default:
			opErr = Errf(protocol.ErrMalformedMessage, "unknown privileged command %q", command)
		}
	})
	if err != nil {
		return "", nil, err
	}
	return replyType, reply, opErr
}

// start moves lobby -> active: builds the first state through the
// simulation and the initiative order from its entity roster.
func (a *Actor) start(args map[string]any) (string, any, error) {
	if a.sess.Status != StatusLobby {
		return "", nil, Errf(protocol.ErrAlreadyStarted, "session is %s", a.sess.Status)
	}
	if len(a.sess.Participants) < MinParticipants {
		return "", nil, Errf(protocol.ErrNotReady, "need at least %d participants", MinParticipants)
	}
	var party []sim.PartyMember
	for _, p := range a.sess.Participants {
		if p.Role == RoleDirector {
			continue
		}
		if !p.Ready {
			return "", nil, Errf(protocol.ErrNotReady, "%s is not ready", p.Name)
		}
		party = append(party, sim.PartyMember{ParticipantID: p.ID, Name: p.Name})
	}

	var monsters []string
	if raw, ok := args["monsters"].([]any); ok {
		for _, m := range raw {
			if s, ok := m.(string); ok {
				monsters = append(monsters, s)
			}
		}
	}

	state, inits, err := a.sim.Setup(sim.SetupInput{
		Difficulty: a.sess.Config.Difficulty,
		Seed:       a.cfg.Seed,
		Party:      party,
		Monsters:   monsters,
		DirectorID: a.sess.DirectorID,
	})
	if err != nil {
		return "", nil, Errf(protocol.ErrConfig, "setup: %v", err)
	}

	a.state = state
	for _, in := range inits {
		a.controllers[in.ID] = in.Controller
		if p := a.sess.participant(in.Controller); p != nil && p.Role == RoleMember && p.ControlledEntity == "" {
			p.ControlledEntity = in.ID
		}
	}
	a.turn = BuildTurnState(inits)
	a.sess.Status = StatusActive
	a.appendHistory("start", a.sess.DirectorID, a.sess.Version, map[string]any{"participants": len(a.sess.Participants)})

	full := protocol.FullStatePayload{SessionID: a.sess.ID, State: a.state, Version: a.sess.Version}
	a.broadcast(protocol.TypeFullState, full, a.sess.DirectorID)
	a.announceTurn()
	a.persist(true)
	a.log.Info().Int("entities", len(inits)).Msg("session started")
	return protocol.TypeFullState, full, nil
}

// directorAction routes grant_resource / spawn_entity through the same
// commit path as ordinary actions. These do not consume anyone's turn.
func (a *Actor) directorAction(pid, command string, args map[string]any) (string, any, error) {
	if a.sess.Status != StatusActive {
		return "", nil, Errf(protocol.ErrSessionNotActive, "session is %s", a.sess.Status)
	}
	action := sim.Action{Type: command, Params: args}
	res, err := a.sim.ExecuteAction(a.state, action)
	if err != nil {
		var iae *sim.InvalidActionError
		if errors.As(err, &iae) {
			return "", nil, Errf(protocol.ErrInvalidAction, "%s", iae.Reason)
		}
		a.log.Error().Err(err).Str("command", command).Msg("simulation failure")
		return "", nil, Errf(protocol.ErrInternal, "simulation failure")
	}
	replyType, reply := a.commitResult(pid, action, res)
	return replyType, reply, nil
}

func (a *Actor) removeParticipantCmd(args map[string]any) error {
	target, _ := args["participantId"].(string)
	if target == "" {
		return Errf(protocol.ErrMalformedMessage, "remove_participant requires participantId")
	}
	if target == a.sess.DirectorID {
		return Errf(protocol.ErrConfig, "the director cannot be removed")
	}
	if a.sess.participant(target) == nil {
		return Errf(protocol.ErrNotFound, "no such participant %s", target)
	}
	a.dropParticipant(target, "removed")
	return nil
}

func (a *Actor) pause(cause string) error {
	if a.sess.Status != StatusActive {
		return Errf(protocol.ErrSessionNotActive, "session is %s", a.sess.Status)
	}
	a.sess.Status = StatusPaused
	a.autoPaused = cause != "director"
	a.cancelTurnTimers()
	a.turn.Deadline = time.Time{}
	a.appendHistory("pause", "", a.sess.Version, map[string]any{"cause": cause})
	a.broadcast(protocol.TypeEvents, protocol.EventsPayload{
		SessionID: a.sess.ID,
		Events:    []protocol.Event{{"type": "session_paused", "cause": cause}},
	})
	a.persist(true)
	return nil
}

// resume re-enters active and re-arms the current turn with a fresh full
// timeout window.
func (a *Actor) resume(cause string) {
	a.sess.Status = StatusActive
	a.autoPaused = false
	a.appendHistory("resume", "", a.sess.Version, map[string]any{"cause": cause})
	a.broadcast(protocol.TypeEvents, protocol.EventsPayload{
		SessionID: a.sess.ID,
		Events:    []protocol.Event{{"type": "session_resumed", "cause": cause}},
	})
	a.announceTurn()
	a.persist(false)
}

// Chat fans a message out to the rest of the session.
func (a *Actor) Chat(ctx context.Context, pid, text string) error {
	var opErr error
	err := a.do(ctx, func() {
		p := a.sess.participant(pid)
		if p == nil {
			opErr = Errf(protocol.ErrNotFound, "not a participant of this session")
			return
		}
		if a.sess.Status == StatusEnded {
			opErr = Errf(protocol.ErrSessionEnded, "session has ended")
			return
		}
		p.LastActivity = a.clock.Now()
		a.broadcast(protocol.TypeChatBroadcast, protocol.ChatBroadcastPayload{
			SessionID:     a.sess.ID,
			ParticipantID: pid,
			Name:          p.Name,
			Text:          text,
		}, pid)
	})
	if err != nil {
		return err
	}
	return opErr
}

// FullSync returns the authoritative (state, version) pair. Always succeeds
// for a participant; before start the state is an empty object at version 0.
func (a *Actor) FullSync(ctx context.Context, pid string) (protocol.FullStatePayload, error) {
	var reply protocol.FullStatePayload
	var opErr error
	err := a.do(ctx, func() {
		if a.sess.participant(pid) == nil {
			opErr = Errf(protocol.ErrNotFound, "not a participant of this session")
			return
		}
		state := a.state
		if state == nil {
			state = sim.State{}
		}
		// Copy: the reply is marshaled outside the actor goroutine.
		reply = protocol.FullStatePayload{
			SessionID: a.sess.ID,
			State:     delta.Copy(state),
			Version:   a.sess.Version,
		}
	})
	if err != nil {
		return reply, err
	}
	return reply, opErr
}

// View returns the current session metadata.
func (a *Actor) View(ctx context.Context) (protocol.SessionView, error) {
	var view protocol.SessionView
	err := a.do(ctx, func() { view = a.sess.View() })
	return view, err
}

// Disconnect is called by the transport when a connection drops. Never
// blocks; the work re-enters through the inbox.
func (a *Actor) Disconnect(pid string) {
	a.enqueueAsync(func() {
		p := a.sess.participant(pid)
		if p == nil || a.sess.Status == StatusEnded {
			return
		}
		p.Connected = false
		rec := a.presence.attach(pid, nil)
		a.appendHistory("disconnect", pid, a.sess.Version, nil)
		a.broadcast(protocol.TypeEvents, protocol.EventsPayload{
			SessionID: a.sess.ID,
			Events:    []protocol.Event{{"type": "participant_disconnected", "participantId": pid}},
		}, pid)

		if a.sess.Status == StatusActive && a.presence.allDisconnected() {
			if err := a.pause("all_disconnected"); err == nil {
				return
			}
		}
		if a.sess.Status == StatusActive && a.controllers[a.turn.Current()] == pid {
			a.armGraceTimer(rec)
		}
	})
}

// armGraceTimer starts the disconnect grace window for a current-turn
// participant. The epoch makes a reconnect cancel exact even if the timer
// message is already queued.
func (a *Actor) armGraceTimer(rec *PresenceRecord) {
	rec.graceEpoch++
	if rec.graceTimer != nil {
		rec.graceTimer.Stop()
	}
	rec.GraceDeadline = a.clock.Now().Add(a.cfg.DisconnectGrace)
	rec.PendingAction = "skip-turn"
	epoch := rec.graceEpoch
	pid := rec.ParticipantID
	rec.graceTimer = a.clock.AfterFunc(a.cfg.DisconnectGrace, func() {
		a.enqueueAsync(func() { a.onGraceExpiry(pid, epoch) })
	})
}

// onGraceExpiry treats a participant who never came back as having left:
// they are dropped and their turn skips forward exactly once. If everyone
// is gone the session pauses instead.
func (a *Actor) onGraceExpiry(pid string, epoch uint64) {
	rec := a.presence.get(pid)
	if rec == nil || rec.graceEpoch != epoch || rec.Connected {
		return
	}
	rec.GraceDeadline = time.Time{}
	rec.PendingAction = ""
	rec.graceTimer = nil
	if a.sess.Status != StatusActive {
		return
	}
	if a.presence.allDisconnected() {
		_ = a.pause("all_disconnected")
		return
	}
	a.log.Debug().Str("participant", pid).Msg("disconnect grace expired")
	a.dropParticipant(pid, "disconnected")
}

// endSession is the single exit into the terminal state.
func (a *Actor) endSession(result string, rewards map[string]int, reason string) {
	if a.sess.Status == StatusEnded {
		return
	}
	a.sess.Status = StatusEnded
	a.cancelTurnTimers()
	a.appendHistory("end", "", a.sess.Version, map[string]any{"result": result, "reason": reason})
	a.broadcast(protocol.TypeSessionEnded, protocol.SessionEndedPayload{
		SessionID: a.sess.ID,
		Result:    result,
		Rewards:   rewards,
		Reason:    reason,
	})
	a.persist(true)
	a.log.Info().Str("result", result).Uint64("version", a.sess.Version).Msg("session ended")
	a.shutdown()
}
