package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CoreumFoundation/coreum-tools/pkg/parallel"

	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/ledger"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/routing"
	"github.com/interledgermesh/connector/settlement"
	"github.com/interledgermesh/connector/store"
	"github.com/interledgermesh/connector/telemetry"
)

const (
	recentSettlementsLimit = 100
	defaultEventsLimit     = 50
	maxEventsLimit         = 1000
)

// Balances serves account snapshots.
type Balances interface {
	Snapshots() []ledger.PeerAccount
}

// Routes serves the routing table.
type Routes interface {
	Snapshot() []routing.Route
}

// Channels serves the payment channel set.
type Channels interface {
	Channels() []settlement.Channel
}

// EventStore serves archived telemetry events.
type EventStore interface {
	QueryEvents(ctx context.Context, filter store.Filter) ([]store.StoredEvent, error)
	CountEvents(ctx context.Context, filter store.Filter) (int, error)
}

// ServerConfig is the control API server config.
type ServerConfig struct {
	ListenAddress string
	// RequestTimeout bounds one request end to end.
	RequestTimeout time.Duration
}

// DefaultServerConfig returns the default control API config.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddress:  "localhost:8081",
		RequestTimeout: 10 * time.Second,
	}
}

// Server is the read-only HTTP control API of the connector node.
type Server struct {
	cfg      ServerConfig
	log      logger.Logger
	balances Balances
	routes   Routes
	channels Channels
	events   EventStore
}

// NewServer returns a new control API Server. The event store is optional;
// without it the event endpoints respond with 503.
func NewServer(
	cfg ServerConfig,
	log logger.Logger,
	balances Balances,
	routes Routes,
	channels Channels,
	events EventStore,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultServerConfig().RequestTimeout
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		balances: balances,
		routes:   routes,
		channels: channels,
		events:   events,
	}
}

// Start runs the server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return errors.Wrap(err, "control API listener failed")
	}
	defer l.Close()

	server := &http.Server{
		Handler:           http.TimeoutHandler(s.Handler(), s.cfg.RequestTimeout, "request timed out"),
		ReadHeaderTimeout: s.cfg.RequestTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	err = parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("server", parallel.Exit, func(ctx context.Context) error {
			if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "control API server exited")
			}
			return ctx.Err()
		})
		spawn("close", parallel.Exit, func(ctx context.Context) error {
			<-ctx.Done()
			server.Close()
			return ctx.Err()
		})
		return nil
	})

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handler returns the API route handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/balances", s.handleBalances)
	mux.HandleFunc("/api/routes", s.handleRoutes)
	mux.HandleFunc("/api/channels", s.handleChannels)
	mux.HandleFunc("/api/settlements/recent", s.handleRecentSettlements)
	mux.HandleFunc("/api/accounts/events", s.handleAccountEvents)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(r.Context(), w, map[string]string{"status": "healthy"})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accounts := s.balances.Snapshots()
	if accounts == nil {
		accounts = []ledger.PeerAccount{}
	}
	s.writeJSON(r.Context(), w, accounts)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	routes := s.routes.Snapshot()
	if routes == nil {
		routes = []routing.Route{}
	}
	s.writeJSON(r.Context(), w, map[string]any{"routes": routes})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	channels := s.channels.Channels()
	if channels == nil {
		channels = []settlement.Channel{}
	}
	s.writeJSON(r.Context(), w, channels)
}

func (s *Server) handleRecentSettlements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.events == nil {
		http.Error(w, "event store disabled", http.StatusServiceUnavailable)
		return
	}

	rows, err := s.events.QueryEvents(r.Context(), store.Filter{
		EventTypes: []telemetry.EventType{telemetry.EventTypeSettlementCompleted},
		Limit:      recentSettlementsLimit,
	})
	if err != nil {
		s.serverError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, payloads(rows))
}

func (s *Server) handleAccountEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.events == nil {
		http.Error(w, "event store disabled", http.StatusServiceUnavailable)
		return
	}

	filter, err := eventsFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := s.events.QueryEvents(r.Context(), filter)
	if err != nil {
		s.serverError(r.Context(), w, err)
		return
	}
	total, err := s.events.CountEvents(r.Context(), store.Filter{
		EventTypes: filter.EventTypes,
		PeerID:     filter.PeerID,
		Since:      filter.Since,
		Until:      filter.Until,
	})
	if err != nil {
		s.serverError(r.Context(), w, err)
		return
	}

	envelopes := make([]eventEnvelope, 0, len(rows))
	for _, row := range rows {
		envelopes = append(envelopes, eventEnvelope{Payload: row.Payload})
	}
	s.writeJSON(r.Context(), w, map[string]any{
		"events": envelopes,
		"total":  total,
	})
}

// eventEnvelope is the wire shape of one archived event in the events
// endpoint response.
type eventEnvelope struct {
	Payload json.RawMessage `json:"payload"`
}

func eventsFilter(r *http.Request) (store.Filter, error) {
	query := r.URL.Query()
	filter := store.Filter{
		Limit: defaultEventsLimit,
	}

	if raw := query.Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, telemetry.EventType(t))
			}
		}
	}
	if raw := query.Get("peerId"); raw != "" {
		filter.PeerID = ilp.PeerID(raw)
	}
	for name, target := range map[string]*int64{"since": &filter.Since, "until": &filter.Until} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return store.Filter{}, errors.Errorf("invalid %s: %s", name, raw)
		}
		*target = v
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return store.Filter{}, errors.Errorf("invalid limit: %s", raw)
		}
		if limit > maxEventsLimit {
			limit = maxEventsLimit
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return store.Filter{}, errors.Errorf("invalid offset: %s", raw)
		}
		filter.Offset = offset
	}
	return filter, nil
}

func payloads(rows []store.StoredEvent) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Payload)
	}
	return out
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn(ctx, "Failed to write API response", zap.Error(err))
	}
}

func (s *Server) serverError(ctx context.Context, w http.ResponseWriter, err error) {
	s.log.Error(ctx, "API request failed", zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}
