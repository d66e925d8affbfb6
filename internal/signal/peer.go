package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const sendTimeout = 5 * time.Second

var errPeerClosed = errors.New("peer connection closed")

// sender is the handler-facing side of one live connection. Concrete peers
// wrap a websocket; tests substitute fakes.
type sender interface {
	ID() string
	push(event string, data interface{}) error
	ack(seq uint64, data interface{}) error
	kill(reason string)
}

// peer is one live websocket connection. The registry references it only by
// id; the peer's lifecycle belongs to the transport layer.
type peer struct {
	id     string
	c      *websocket.Conn
	logger zerolog.Logger

	// writeMu serializes outbound frames, acks and pushes interleave from
	// different goroutines.
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeer(id string, c *websocket.Conn, logger *zerolog.Logger) *peer {
	l := logger.With().Str("conn_id", id).Logger()
	return &peer{
		id:     id,
		c:      c,
		logger: l,
		closed: make(chan struct{}),
	}
}

func (p *peer) ID() string { return p.id }

// push sends a server-initiated notification, no response expected.
func (p *peer) push(event string, data interface{}) error {
	return p.write(Envelope{Event: event}, data)
}

// ack answers a client request, echoing its sequence number.
func (p *peer) ack(seq uint64, data interface{}) error {
	return p.write(Envelope{Event: EventAck, Seq: seq}, data)
}

func (p *peer) write(env Envelope, data interface{}) error {
	select {
	case <-p.closed:
		return errPeerClosed
	default:
	}

	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	env.Data = b

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return wsjson.Write(ctx, p.c, &env)
}

// kill force-closes the connection. Used for unauthorized viewer claims.
func (p *peer) kill(reason string) {
	p.logger.Warn().Str("reason", reason).Msg("force-closing connection")
	_ = p.c.Close(websocket.StatusPolicyViolation, reason)
	p.markClosed()
}

// markClosed fires the peer's closed signal exactly once.
func (p *peer) markClosed() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
}
