// signal is the rendezvous service for live camera broadcasts. A broadcaster
// publishes under a stable key; any number of viewers locate it by that key
// and exchange WebRTC handshake payloads through the relay. The service never
// inspects the payloads it ferries, it only tracks who owns whom.
package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/swifthub/beacon/internal/signal/cfg"
	"github.com/swifthub/beacon/internal/signal/events"
	"github.com/swifthub/beacon/internal/signal/registry"
)

// Service owns the session registry, the live connection set and the HTTP
// surface. All registry mutations funnel through it.
type Service struct {
	logger zerolog.Logger
	config *cfg.ConfigOptions
	reg    *registry.Registry
	events *events.Publisher

	mu    sync.Mutex
	conns map[string]sender
}

func New(ctx context.Context, config *cfg.ConfigOptions) *Service {
	svc := &Service{
		logger: *log.Ctx(ctx),
		config: config,
		reg:    registry.New(),
		conns:  make(map[string]sender),
	}
	if config.EventsConfigOptions.Enable {
		svc.events = events.NewPublisher(ctx, config.EventsConfigOptions)
	}
	return svc
}

// Run serves the signaling surface until ctx is canceled.
func (svc *Service) Run(ctx context.Context) error {
	sw := &sweeper{
		reg:      svc.reg,
		interval: svc.config.SweeperConfigOptions.Interval,
		logger:   svc.logger.With().Str("component", "sweeper").Logger(),
		alive:    svc.connAlive,
		notify: func(bid string, count int) {
			svc.pushTo(bid, EventViewerCount, ViewerCountPush{ViewerCount: count})
		},
	}
	go sw.run(ctx)

	addr := svc.config.ServerConfigOptions.Host + ":" + strconv.Itoa(svc.config.ServerConfigOptions.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: svc.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	svc.logger.Info().
		Str("host", svc.config.ServerConfigOptions.Host).
		Int("port", svc.config.ServerConfigOptions.Port).
		Msg("starting signal server")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler builds the HTTP routes: the websocket signaling endpoint plus a
// small read-only REST discovery surface.
func (svc *Service) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/signal/ws", svc.handleWS)
	r.HandleFunc("/v1/signal/broadcasters", svc.handleListBroadcasters).Methods(http.MethodGet)
	r.HandleFunc("/v1/signal/broadcasters/{key}", svc.handleCheckBroadcasterHTTP).Methods(http.MethodGet)

	if os.Getenv("DEBUG") == "true" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir("e2e/signal/static")))
	}
	svc.logger.Debug().Msg("registered signal HTTP handler")
	return r
}

// handleWS upgrades the connection and runs its read loop. Messages from one
// connection are processed strictly in arrival order; no ordering exists
// across connections.
func (svc *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // the identity proxy has already vetted the caller
	})
	if err != nil {
		svc.logger.Err(err).Msg("could not accept websocket")
		return
	}

	p := newPeer(uuid.NewString(), c, &svc.logger)
	svc.addConn(p)
	p.logger.Info().Msg("client connected")

	cl := &client{conn: p}
	defer func() {
		svc.removeConn(p.id)
		p.markClosed()
		svc.handleDisconnect(cl)
		p.logger.Info().Msg("client disconnected")
		_ = c.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var env Envelope
		if err := wsjson.Read(r.Context(), c, &env); err != nil {
			return
		}
		svc.dispatch(cl, &env)
	}
}

func (svc *Service) handleListBroadcasters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, svc.reg.ListSessions())
}

func (svc *Service) handleCheckBroadcasterHTTP(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	_, _, ok := svc.reg.FindSessionByKey(key)
	writeJSON(w, ExistsAck{Status: success(), Exists: ok})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (svc *Service) addConn(c sender) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.conns[c.ID()] = c
}

func (svc *Service) removeConn(id string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	delete(svc.conns, id)
}

// connAlive is the sweeper's view of the transport layer.
func (svc *Service) connAlive(id string) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	_, ok := svc.conns[id]
	return ok
}

func (svc *Service) publishStarted(key, broadcasterID, name string) {
	if svc.events == nil {
		return
	}
	svc.events.BroadcastStarted(key, broadcasterID, name)
}

func (svc *Service) publishStopped(key, broadcasterID string) {
	if svc.events == nil {
		return
	}
	svc.events.BroadcastStopped(key, broadcasterID)
}
