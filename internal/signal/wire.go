package signal

import (
	"encoding/json"

	"github.com/swifthub/beacon/internal/signal/registry"
)

// Client events. Each request carries a caller sequence number, echoed back on
// the acknowledgement so the browser can match its pending callback.
const (
	EventSetRole              = "set_role"
	EventViewerReady          = "viewer_ready"
	EventOffer                = "offer"
	EventAnswer               = "answer"
	EventCandidate            = "candidate"
	EventPauseBroadcast       = "pause_broadcast"
	EventResumeBroadcast      = "resume_broadcast"
	EventStopBroadcast        = "stop_broadcast"
	EventRevokeToken          = "revoke_token"
	EventGetBroadcasters      = "get_broadcasters"
	EventCheckBroadcaster     = "check_broadcaster"
	EventGetBroadcasterName   = "get_broadcaster_name"
	EventGetLatestBroadcaster = "get_latest_broadcaster"
)

// Server events.
const (
	EventAck                     = "ack"
	EventViewerCount             = "viewer_count"
	EventNewViewer               = "new_viewer"
	EventBroadcasterPaused       = "broadcaster_paused"
	EventBroadcasterResumed      = "broadcaster_resumed"
	EventBroadcasterDisconnected = "broadcaster_disconnected"
)

// Roles a connection may claim with set_role.
const (
	RoleBroadcaster = "broadcaster"
	RoleViewer      = "viewer"
)

// Envelope frames every message in both directions.
// SDP and candidate bodies stay opaque json.RawMessage end to end.
type Envelope struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Status is the common acknowledgement shape.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func success() Status {
	return Status{Status: "success"}
}

func failure(msg string) Status {
	return Status{Status: "error", Message: msg}
}

// SetRoleRequest assigns the broadcaster or viewer role to a connection.
type SetRoleRequest struct {
	Role string `json:"role"`
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

// RoleAck acknowledges a successful role claim with the effective publish key.
type RoleAck struct {
	Status
	PublishKey string `json:"publishKey,omitempty"`
	Name       string `json:"name,omitempty"`
}

// KeyedRequest carries only a publish key (viewer_ready, check_broadcaster,
// get_broadcaster_name).
type KeyedRequest struct {
	Key string `json:"key"`
}

// OfferRelay is a broadcaster's offer addressed to one of its viewers.
type OfferRelay struct {
	Offer    json.RawMessage `json:"offer"`
	ViewerID string          `json:"viewerId"`
}

// AnswerRelay is a viewer's answer; the owning broadcaster is resolved from
// the viewer's subscription, so no target is carried.
type AnswerRelay struct {
	Answer json.RawMessage `json:"answer"`
}

// CandidateRelay carries an ICE candidate in either direction. ViewerID is set
// only on the broadcaster→viewer leg.
type CandidateRelay struct {
	Candidate json.RawMessage `json:"candidate"`
	ViewerID  string          `json:"viewerId,omitempty"`
}

// ViewerReadyPush notifies a broadcaster that a viewer finished local setup.
type ViewerReadyPush struct {
	ViewerID  string `json:"viewerId"`
	Timestamp int64  `json:"timestamp"`
}

// ViewerCountPush updates a broadcaster's live subscriber count.
type ViewerCountPush struct {
	ViewerCount int `json:"viewerCount"`
}

// NewViewerPush notifies a broadcaster of a freshly attached viewer.
type NewViewerPush struct {
	ViewerID string `json:"viewerId"`
}

// AnswerPush forwards a viewer's answer to its broadcaster, tagged with the
// viewer id so the broadcaster can disambiguate among viewers.
type AnswerPush struct {
	Answer   json.RawMessage `json:"answer"`
	ViewerID string          `json:"viewerId"`
}

// CandidatePush forwards a viewer's candidate to its broadcaster.
type CandidatePush struct {
	Candidate json.RawMessage `json:"candidate"`
	ViewerID  string          `json:"viewerId"`
}

// ExistsAck answers check_broadcaster.
type ExistsAck struct {
	Status
	Exists bool `json:"exists"`
}

// ListAck answers get_broadcasters.
type ListAck struct {
	Status
	Broadcasters []registry.SessionInfo `json:"broadcasters"`
}

// NameAck answers get_broadcaster_name.
type NameAck struct {
	Status
	Name string `json:"name,omitempty"`
}

// LatestAck answers get_latest_broadcaster.
type LatestAck struct {
	Status
	PublishKey string `json:"publishKey,omitempty"`
	Name       string `json:"name,omitempty"`
}
