package signal

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/swifthub/beacon/internal/signal/cfg"
	"github.com/swifthub/beacon/internal/signal/httpx"
	"github.com/swifthub/beacon/internal/signal/registry"
)

// client is the per-connection protocol state: Unbound -> Broadcaster|Viewer.
// Transport-level close moves any state to Closed via handleDisconnect.
type client struct {
	conn sender
	role string
}

// dispatch routes one inbound envelope to its handler. A panic inside a
// handler is converted to a generic error acknowledgement so a single bad
// message never takes down the connection or the process.
func (svc *Service) dispatch(cl *client, env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			svc.logger.Error().
				Str("conn_id", cl.conn.ID()).
				Str("event", env.Event).
				Interface("panic", r).
				Msg("handler panicked")
			svc.ackError(cl, env.Seq, httpx.Errors[httpx.ErrInternal])
		}
	}()

	switch env.Event {
	case EventSetRole:
		svc.handleSetRole(cl, env)
	case EventViewerReady:
		svc.handleViewerReady(cl, env)
	case EventOffer:
		svc.handleOffer(cl, env)
	case EventAnswer:
		svc.handleAnswer(cl, env)
	case EventCandidate:
		svc.handleCandidate(cl, env)
	case EventPauseBroadcast:
		svc.handlePauseResume(cl, EventBroadcasterPaused)
	case EventResumeBroadcast:
		svc.handlePauseResume(cl, EventBroadcasterResumed)
	case EventStopBroadcast, EventRevokeToken:
		svc.handleStopBroadcast(cl, env)
	case EventGetBroadcasters:
		svc.handleGetBroadcasters(cl, env)
	case EventCheckBroadcaster:
		svc.handleCheckBroadcaster(cl, env)
	case EventGetBroadcasterName:
		svc.handleGetBroadcasterName(cl, env)
	case EventGetLatestBroadcaster:
		svc.handleGetLatestBroadcaster(cl, env)
	default:
		svc.ackError(cl, env.Seq, "Unknown event: "+env.Event)
	}
}

func (svc *Service) handleSetRole(cl *client, env *Envelope) {
	var req SetRoleRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		svc.ackError(cl, env.Seq, httpx.Errors[httpx.ErrUnmarshalJSON])
		return
	}
	logger := svc.logger.With().
		Str("conn_id", cl.conn.ID()).
		Str("role", req.Role).
		Str("key", req.Key).
		Logger()

	switch req.Role {
	case RoleBroadcaster:
		key := req.Key
		if key == "" && svc.config.KeyConfigOptions.Mode == cfg.KeyModeToken {
			// Token mode: mint a 128-bit random publish key for the caller.
			key = uuid.NewString()
		}
		ack, err := svc.reg.ClaimBroadcaster(cl.conn.ID(), key, req.Name)
		switch {
		case errors.Is(err, registry.ErrKeyRequired):
			logger.Warn().Msg("broadcaster claim without publish key")
			svc.ackError(cl, env.Seq, svc.keyNoun()+" required")
			return
		case errors.Is(err, registry.ErrKeyInUse):
			logger.Warn().Msg("publish key already in use")
			svc.ackError(cl, env.Seq, svc.keyNoun()+" in use")
			return
		case err != nil:
			svc.ackError(cl, env.Seq, httpx.Errors[httpx.ErrInternal])
			return
		}
		cl.role = RoleBroadcaster
		logger.Info().Str("name", ack.DisplayName).Msg("broadcaster registered")
		svc.ackTo(cl, env.Seq, RoleAck{Status: success(), PublishKey: ack.PublishKey, Name: ack.DisplayName})
		svc.pushTo(cl.conn.ID(), EventViewerCount, ViewerCountPush{ViewerCount: ack.ViewerCount})
		svc.publishStarted(ack.PublishKey, cl.conn.ID(), ack.DisplayName)

	case RoleViewer:
		if req.Key == "" {
			logger.Warn().Msg("viewer claim without publish key")
			svc.ackError(cl, env.Seq, svc.keyNoun()+" required")
			cl.conn.kill("missing publish key")
			return
		}
		bid, count, err := svc.reg.ClaimViewer(cl.conn.ID(), req.Key)
		if err != nil {
			// Unauthorized viewers are not allowed to linger and retry.
			logger.Warn().Msg("viewer claim against unknown publish key")
			svc.ackError(cl, env.Seq, "Unauthorized: Invalid "+svc.keyNounLower())
			cl.conn.kill("unknown publish key")
			return
		}
		cl.role = RoleViewer
		logger.Info().Str("broadcaster_id", bid).Msg("viewer attached")
		svc.ackTo(cl, env.Seq, success())
		svc.pushTo(bid, EventNewViewer, NewViewerPush{ViewerID: cl.conn.ID()})
		svc.pushTo(bid, EventViewerCount, ViewerCountPush{ViewerCount: count})

	default:
		svc.ackError(cl, env.Seq, "Invalid role")
	}
}

// handleViewerReady re-resolves the publish key and tells the broadcaster the
// viewer finished its local setup. The subscription is (re)asserted so a ready
// signal racing a broadcaster restart still leaves consistent state.
func (svc *Service) handleViewerReady(cl *client, env *Envelope) {
	var req KeyedRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		svc.ackError(cl, env.Seq, httpx.Errors[httpx.ErrUnmarshalJSON])
		return
	}

	bid, count, err := svc.reg.ClaimViewer(cl.conn.ID(), req.Key)
	if err != nil {
		svc.logger.Warn().
			Str("conn_id", cl.conn.ID()).
			Str("key", req.Key).
			Msg("viewer ready against unknown publish key")
		svc.ackError(cl, env.Seq, "Invalid "+svc.keyNounLower())
		return
	}
	cl.role = RoleViewer

	svc.pushTo(bid, EventViewerReady, ViewerReadyPush{
		ViewerID:  cl.conn.ID(),
		Timestamp: time.Now().UnixMilli(),
	})
	svc.pushTo(bid, EventViewerCount, ViewerCountPush{ViewerCount: count})
	svc.ackTo(cl, env.Seq, success())
}

func (svc *Service) handleOffer(cl *client, env *Envelope) {
	if cl.role != RoleBroadcaster {
		svc.ackError(cl, env.Seq, "Not a broadcaster")
		return
	}
	var req OfferRelay
	if err := json.Unmarshal(env.Data, &req); err != nil {
		svc.ackError(cl, env.Seq, httpx.Errors[httpx.ErrUnmarshalJSON])
		return
	}

	// A broadcaster may only address viewers it owns.
	if !svc.reg.HasViewer(cl.conn.ID(), req.ViewerID) {
		svc.logger.Warn().
			Str("broadcaster_id", cl.conn.ID()).
			Str("viewer_id", req.ViewerID).
			Msg("offer addressed to unsubscribed viewer")
		svc.ackError(cl, env.Seq, httpx.Errors[httpx.ErrTargetNotFound])
		return
	}
	svc.pushTo(req.ViewerID, EventOffer, req.Offer)
	svc.ackTo(cl, env.Seq, success())
}

func (svc *Service) handleAnswer(cl *client, env *Envelope) {
	var req AnswerRelay
	if err := json.Unmarshal(env.Data, &req); err != nil {
		svc.ackError(cl, env.Seq, httpx.Errors[httpx.ErrUnmarshalJSON])
		return
	}

	bid, ok := svc.reg.BroadcasterOf(cl.conn.ID())
	if !ok {
		svc.ackError(cl, env.Seq, "Not a viewer")
		return
	}
	svc.pushTo(bid, EventAnswer, AnswerPush{Answer: req.Answer, ViewerID: cl.conn.ID()})
	svc.ackTo(cl, env.Seq, success())
}

// handleCandidate relays an ICE candidate. The broadcaster leg requires
// ownership of the target viewer; the viewer leg resolves its own
// subscription, so candidates never leak across sessions.
func (svc *Service) handleCandidate(cl *client, env *Envelope) {
	var req CandidateRelay
	if err := json.Unmarshal(env.Data, &req); err != nil {
		svc.ackError(cl, env.Seq, httpx.Errors[httpx.ErrUnmarshalJSON])
		return
	}

	if cl.role == RoleBroadcaster {
		if !svc.reg.HasViewer(cl.conn.ID(), req.ViewerID) {
			svc.ackError(cl, env.Seq, httpx.Errors[httpx.ErrTargetNotFound])
			return
		}
		svc.pushTo(req.ViewerID, EventCandidate, req.Candidate)
		svc.ackTo(cl, env.Seq, success())
		return
	}

	bid, ok := svc.reg.BroadcasterOf(cl.conn.ID())
	if !ok {
		svc.ackError(cl, env.Seq, "Not a viewer")
		return
	}
	svc.pushTo(bid, EventCandidate, CandidatePush{Candidate: req.Candidate, ViewerID: cl.conn.ID()})
	svc.ackTo(cl, env.Seq, success())
}

// handlePauseResume fans a paused/resumed notification out to every current
// viewer. Best effort, no acknowledgement is sent or tracked.
func (svc *Service) handlePauseResume(cl *client, event string) {
	if cl.role != RoleBroadcaster {
		return
	}
	for _, id := range svc.reg.ViewersOf(cl.conn.ID()) {
		svc.pushTo(id, event, struct{}{})
	}
}

func (svc *Service) handleStopBroadcast(cl *client, env *Envelope) {
	// Only the session owner may stop it; anyone else gets an error without
	// touching registry state (a viewer's subscription must survive).
	if cl.role != RoleBroadcaster {
		svc.ackError(cl, env.Seq, "Not a broadcaster")
		return
	}
	rel := svc.reg.ReleaseConnection(cl.conn.ID())
	if rel.Role != registry.ReleasedBroadcaster {
		svc.ackError(cl, env.Seq, "Not a broadcaster")
		return
	}
	svc.logger.Info().
		Str("conn_id", cl.conn.ID()).
		Str("key", rel.PublishKey).
		Msg("broadcaster stopped")
	for _, id := range rel.ViewerIDs {
		svc.pushTo(id, EventBroadcasterDisconnected, struct{}{})
	}
	cl.role = ""
	svc.ackTo(cl, env.Seq, success())
	svc.publishStopped(rel.PublishKey, cl.conn.ID())
}

func (svc *Service) handleGetBroadcasters(cl *client, env *Envelope) {
	svc.ackTo(cl, env.Seq, ListAck{Status: success(), Broadcasters: svc.reg.ListSessions()})
}

func (svc *Service) handleCheckBroadcaster(cl *client, env *Envelope) {
	var req KeyedRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		svc.ackError(cl, env.Seq, httpx.Errors[httpx.ErrUnmarshalJSON])
		return
	}
	_, _, ok := svc.reg.FindSessionByKey(req.Key)
	svc.ackTo(cl, env.Seq, ExistsAck{Status: success(), Exists: ok})
}

func (svc *Service) handleGetBroadcasterName(cl *client, env *Envelope) {
	var req KeyedRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		svc.ackError(cl, env.Seq, httpx.Errors[httpx.ErrUnmarshalJSON])
		return
	}
	info, _, ok := svc.reg.FindSessionByKey(req.Key)
	if !ok {
		svc.ackError(cl, env.Seq, "Broadcaster not found")
		return
	}
	svc.ackTo(cl, env.Seq, NameAck{Status: success(), Name: info.DisplayName})
}

func (svc *Service) handleGetLatestBroadcaster(cl *client, env *Envelope) {
	info, ok := svc.reg.LatestSession()
	if !ok {
		svc.ackError(cl, env.Seq, "No active broadcaster")
		return
	}
	svc.ackTo(cl, env.Seq, LatestAck{Status: success(), PublishKey: info.PublishKey, Name: info.DisplayName})
}

// handleDisconnect is the reconciliation cascade run when a connection's
// transport reports loss: the id is stripped from every role it held and the
// affected peers are told.
func (svc *Service) handleDisconnect(cl *client) {
	rel := svc.reg.ReleaseConnection(cl.conn.ID())
	switch rel.Role {
	case registry.ReleasedBroadcaster:
		svc.logger.Info().
			Str("conn_id", cl.conn.ID()).
			Str("key", rel.PublishKey).
			Int("viewers", len(rel.ViewerIDs)).
			Msg("broadcaster disconnected")
		for _, id := range rel.ViewerIDs {
			svc.pushTo(id, EventBroadcasterDisconnected, struct{}{})
		}
		svc.publishStopped(rel.PublishKey, cl.conn.ID())
	case registry.ReleasedViewer:
		svc.logger.Info().
			Str("conn_id", cl.conn.ID()).
			Str("broadcaster_id", rel.BroadcasterID).
			Msg("viewer disconnected")
		svc.pushTo(rel.BroadcasterID, EventViewerCount, ViewerCountPush{ViewerCount: rel.Remaining})
	}
}

func (svc *Service) ackTo(cl *client, seq uint64, data interface{}) {
	if err := cl.conn.ack(seq, data); err != nil {
		svc.logger.Debug().Err(err).Str("conn_id", cl.conn.ID()).Msg("could not send ack")
	}
}

func (svc *Service) ackError(cl *client, seq uint64, msg string) {
	svc.ackTo(cl, seq, failure(msg))
}

// pushTo sends a notification to the connection with the given id, if it is
// still live. Lost peers are the sweeper's problem, not the sender's.
func (svc *Service) pushTo(connID, event string, data interface{}) {
	svc.mu.Lock()
	c, ok := svc.conns[connID]
	svc.mu.Unlock()
	if !ok {
		svc.logger.Debug().Str("conn_id", connID).Str("event", event).Msg("push target gone")
		return
	}
	if err := c.push(event, data); err != nil {
		svc.logger.Debug().Err(err).Str("conn_id", connID).Str("event", event).Msg("could not push")
	}
}

func (svc *Service) keyNoun() string {
	if svc.config.KeyConfigOptions.Mode == cfg.KeyModePhone {
		return "Phone number"
	}
	return "Publish key"
}

func (svc *Service) keyNounLower() string {
	if svc.config.KeyConfigOptions.Mode == cfg.KeyModePhone {
		return "phone number"
	}
	return "publish key"
}
