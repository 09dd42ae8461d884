// Package gate is the validator/router in front of the session actors:
// identity, per-variant schema validation, a declarative capability table,
// and sliding-window rate limits. Nothing malformed, unauthenticated,
// unauthorized or over-limit reaches an actor.
package gate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"emberhall.gg/internal/protocol"
	"emberhall.gg/internal/session"
)

// Identity is the external authentication collaborator: it turns an opaque
// token into a stable participant identity before any session message is
// accepted.
type Identity interface {
	Authenticate(token, name string) (participantID, displayName string, err error)
}

// Gate routes validated messages from connections to session actors.
type Gate struct {
	log      zerolog.Logger
	registry *session.Registry
	identity Identity
	limiter  *RateLimiter
	now      func() time.Time
}

func New(log zerolog.Logger, registry *session.Registry, identity Identity, limiter *RateLimiter, now func() time.Time) *Gate {
	return &Gate{
		log:      log.With().Str("comp", "gate").Logger(),
		registry: registry,
		identity: identity,
		limiter:  limiter,
		now:      now,
	}
}

// Client is the per-connection state the gate needs. It is only touched by
// the connection's reader goroutine, so it needs no locking.
type Client struct {
	Authed        bool
	ParticipantID string
	Name          string
	// Role mirrors the participant's role in their current session, for
	// the capability check; the actor re-verifies on privileged commands.
	Role string
	// Out is the connection's write queue; the transport owns draining it.
	Out chan []byte

	actor *session.Actor
}

// send queues one envelope on the connection, dropping on backpressure the
// same way session broadcasts do.
func (c *Client) send(env protocol.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.Out <- b:
	default:
	}
}

// HandleMessage validates one raw frame end to end and dispatches it. Every
// request produces exactly one reply envelope (success or error) on the
// client's queue; pushes triggered by the request fan out separately.
func (g *Gate) HandleMessage(ctx context.Context, c *Client, raw []byte) {
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		c.send(protocol.ErrorResponse(protocol.ErrMalformedMessage, "invalid envelope", 0, g.nowMillis()))
		return
	}
	rule, known := capabilityFor(env.Type)
	if !known {
		c.send(protocol.ErrorResponse(protocol.ErrMalformedMessage, "unknown message type "+env.Type, env.Seq, g.nowMillis()))
		return
	}
	if err := protocol.ValidatePayload(env.Type, env.Payload); err != nil {
		c.send(protocol.ErrorResponse(protocol.ErrMalformedMessage, err.Error(), env.Seq, g.nowMillis()))
		return
	}
	if rule.RequiresAuth && !c.Authed {
		c.send(protocol.ErrorResponse(protocol.ErrAuthRequired, "authenticate first", env.Seq, g.nowMillis()))
		return
	}
	if rule.DirectorOnly && c.Role != string(session.RoleDirector) {
		c.send(protocol.ErrorResponse(protocol.ErrNotDirector, "requires the director role", env.Seq, g.nowMillis()))
		return
	}
	if rule.RateCategory != "" && !g.limiter.Allow(c.ParticipantID, rule.RateCategory) {
		c.send(protocol.ErrorResponse(protocol.ErrRateLimited, "slow down", env.Seq, g.nowMillis()))
		return
	}
	g.dispatch(ctx, c, env)
}

func (g *Gate) dispatch(ctx context.Context, c *Client, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAuth:
		g.handleAuth(c, env)
	case protocol.TypePing:
		c.send(protocol.Response(protocol.TypePong, protocol.PongPayload{TS: g.nowMillis()}, env.Seq, g.nowMillis()))
	case protocol.TypeCreateSession:
		g.handleCreate(ctx, c, env)
	case protocol.TypeJoinSession:
		g.handleJoin(ctx, c, env)
	case protocol.TypeLeaveSession:
		var p protocol.LeaveSessionPayload
		decodePayload(env.Payload, &p)
		actor, err := g.resolve(c, p.SessionID)
		if err == nil {
			err = actor.Leave(ctx, c.ParticipantID)
		}
		if err != nil {
			g.replyErr(c, env, err)
			return
		}
		c.actor = nil
		c.Role = ""
		c.send(protocol.Response(protocol.TypeLeaveSession, struct{}{}, env.Seq, g.nowMillis()))
	case protocol.TypeSetReady:
		var p protocol.SetReadyPayload
		decodePayload(env.Payload, &p)
		actor, err := g.resolve(c, p.SessionID)
		if err == nil {
			err = actor.SetReady(ctx, c.ParticipantID, p.Ready)
		}
		if err != nil {
			g.replyErr(c, env, err)
			return
		}
		c.send(protocol.Response(protocol.TypeSetReady, struct{}{}, env.Seq, g.nowMillis()))
	case protocol.TypeAction:
		var p protocol.ActionPayload
		decodePayload(env.Payload, &p)
		actor, err := g.resolve(c, p.SessionID)
		if err != nil {
			g.replyErr(c, env, err)
			return
		}
		replyType, reply, err := actor.SubmitAction(ctx, c.ParticipantID, p.Action)
		if err != nil {
			g.replyErr(c, env, err)
			return
		}
		c.send(protocol.Response(replyType, reply, env.Seq, g.nowMillis()))
	case protocol.TypePrivilegedCmd:
		var p protocol.PrivilegedCommandPayload
		decodePayload(env.Payload, &p)
		actor, err := g.resolve(c, p.SessionID)
		if err != nil {
			g.replyErr(c, env, err)
			return
		}
		replyType, reply, err := actor.Privileged(ctx, c.ParticipantID, p.Command, p.Args)
		if err != nil {
			g.replyErr(c, env, err)
			return
		}
		if replyType == "" {
			replyType, reply = protocol.TypePrivilegedCmd, struct{}{}
		}
		c.send(protocol.Response(replyType, reply, env.Seq, g.nowMillis()))
	case protocol.TypeChat:
		var p protocol.ChatPayload
		decodePayload(env.Payload, &p)
		actor, err := g.resolve(c, p.SessionID)
		if err == nil {
			err = actor.Chat(ctx, c.ParticipantID, p.Text)
		}
		if err != nil {
			g.replyErr(c, env, err)
			return
		}
		c.send(protocol.Response(protocol.TypeChat, struct{}{}, env.Seq, g.nowMillis()))
	case protocol.TypeRequestFullSync:
		var p protocol.RequestFullSyncPayload
		decodePayload(env.Payload, &p)
		actor, err := g.resolve(c, p.SessionID)
		if err != nil {
			g.replyErr(c, env, err)
			return
		}
		full, err := actor.FullSync(ctx, c.ParticipantID)
		if err != nil {
			g.replyErr(c, env, err)
			return
		}
		c.send(protocol.Response(protocol.TypeFullState, full, env.Seq, g.nowMillis()))
	}
}

func (g *Gate) handleAuth(c *Client, env protocol.Envelope) {
	var p protocol.AuthPayload
	decodePayload(env.Payload, &p)
	pid, name, err := g.identity.Authenticate(p.Token, p.Name)
	if err != nil {
		c.send(protocol.ErrorResponse(protocol.ErrAuthInvalid, err.Error(), env.Seq, g.nowMillis()))
		return
	}
	c.Authed = true
	c.ParticipantID = pid
	c.Name = name
	g.log.Debug().Str("participant", pid).Msg("authenticated")
	c.send(protocol.Response(protocol.TypeAuthResult, protocol.AuthResultPayload{
		ParticipantID: pid,
		Name:          name,
	}, env.Seq, g.nowMillis()))
}

func (g *Gate) handleCreate(ctx context.Context, c *Client, env protocol.Envelope) {
	var p protocol.CreateSessionPayload
	decodePayload(env.Payload, &p)
	cfg := session.Config{
		MaxParticipants:    p.Config.MaxParticipants,
		Difficulty:         p.Config.Difficulty,
		TurnTimeoutSeconds: p.Config.TurnTimeoutSeconds,
	}
	created, err := g.registry.CreateSession(ctx, c.ParticipantID, c.Name, cfg, c.Out)
	if err != nil {
		g.replyErr(c, env, err)
		return
	}
	actor, err := g.registry.GetByID(created.SessionID)
	if err != nil {
		g.replyErr(c, env, err)
		return
	}
	c.actor = actor
	c.Role = string(session.RoleDirector)
	c.send(protocol.Response(protocol.TypeSessionCreated, created, env.Seq, g.nowMillis()))
}

func (g *Gate) handleJoin(ctx context.Context, c *Client, env protocol.Envelope) {
	var p protocol.JoinSessionPayload
	decodePayload(env.Payload, &p)
	actor, err := g.registry.GetByCode(p.JoinCode)
	if err != nil {
		g.replyErr(c, env, err)
		return
	}
	joined, err := actor.Join(ctx, c.ParticipantID, c.Name, c.Out)
	if err != nil {
		g.replyErr(c, env, err)
		return
	}
	c.actor = actor
	c.Role = string(session.RoleMember)
	for _, pv := range joined.Session.Participants {
		if pv.ID == c.ParticipantID {
			c.Role = pv.Role
			break
		}
	}
	c.send(protocol.Response(protocol.TypeSessionJoined, joined, env.Seq, g.nowMillis()))
}

// resolve maps a payload sessionId to an actor, preferring the client's
// bound session.
func (g *Gate) resolve(c *Client, sessionID string) (*session.Actor, error) {
	if sessionID == "" {
		return nil, session.Errf(protocol.ErrMalformedMessage, "sessionId required")
	}
	if c.actor != nil && c.actor.ID() == sessionID {
		return c.actor, nil
	}
	return g.registry.GetByID(sessionID)
}

// Disconnected is called by the transport when the connection drops.
func (g *Gate) Disconnected(c *Client) {
	if c.actor != nil {
		c.actor.Disconnect(c.ParticipantID)
	}
	if c.ParticipantID != "" {
		g.limiter.Forget(c.ParticipantID)
	}
}

func (g *Gate) replyErr(c *Client, env protocol.Envelope, err error) {
	c.send(protocol.ErrorResponse(session.CodeOf(err), session.MessageOf(err), env.Seq, g.nowMillis()))
}

func (g *Gate) nowMillis() int64 { return g.now().UnixMilli() }

// decodePayload ignores the error: the schema check already ran, so any
// residual mismatch just leaves zero values.
func decodePayload(raw json.RawMessage, v any) {
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, v)
	}
}
