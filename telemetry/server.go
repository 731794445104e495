package telemetry

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CoreumFoundation/coreum-tools/pkg/parallel"

	"github.com/interledgermesh/connector/logger"
)

// Control frame types of the observer protocol.
const (
	clientConnectType = "CLIENT_CONNECT"

	// EventTypeInitialChannelState carries the current channel set to a
	// freshly connected observer.
	EventTypeInitialChannelState EventType = "INITIAL_CHANNEL_STATE"
	// EventTypeInitialBalanceState carries the current balance set to a
	// freshly connected observer.
	EventTypeInitialBalanceState EventType = "INITIAL_BALANCE_STATE"
)

// SnapshotSource produces the INITIAL_*_STATE events sent to an observer on
// CLIENT_CONNECT so it can rehydrate without replaying history.
type SnapshotSource interface {
	InitialStateEvents(ctx context.Context) []Event
}

// ServerConfig is the telemetry WebSocket server config.
type ServerConfig struct {
	ListenAddress string
	// WriteTimeout bounds a single frame write to an observer.
	WriteTimeout time.Duration
}

// DefaultServerConfig returns the default telemetry server config.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddress: "localhost:8089",
		WriteTimeout:  10 * time.Second,
	}
}

// Server exposes the broker's event stream to WebSocket observers. An
// observer subscribes with a CLIENT_CONNECT frame, receives the initial
// state snapshots, then live events in emission order.
type Server struct {
	cfg     ServerConfig
	log     logger.Logger
	broker  *Broker
	sources []SnapshotSource

	upgrader websocket.Upgrader
}

// NewServer returns a new telemetry Server.
func NewServer(cfg ServerConfig, log logger.Logger, broker *Broker, sources ...SnapshotSource) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultServerConfig().WriteTimeout
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		broker:  broker,
		sources: sources,
		upgrader: websocket.Upgrader{
			// observers are dashboards served from other origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start runs the server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return errors.Wrap(err, "telemetry server listener failed")
	}
	defer l.Close()

	server := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	err = parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("server", parallel.Exit, func(ctx context.Context) error {
			if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "telemetry server exited")
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

// Handler returns the WebSocket upgrade handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleObserver)
	return mux
}

func (s *Server) handleObserver(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(ctx, "Failed to upgrade telemetry observer connection", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := s.awaitClientConnect(conn); err != nil {
		s.log.Warn(ctx, "Telemetry observer handshake failed", zap.Error(err))
		return
	}

	for _, source := range s.sources {
		for _, event := range source.InitialStateEvents(ctx) {
			if err := s.writeEvent(conn, event); err != nil {
				s.log.Warn(ctx, "Failed to send initial state to observer", zap.Error(err))
				return
			}
		}
	}

	sub := s.broker.Subscribe()
	defer sub.Close()

	s.log.Info(ctx, "Telemetry observer connected", zap.String("remoteAddr", conn.RemoteAddr().String()))

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				// disconnected by the broker for falling behind
				return
			}
			if err := s.writeEvent(conn, event); err != nil {
				s.log.Debug(ctx, "Telemetry observer write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) awaitClientConnect(conn *websocket.Conn) error {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return errors.Wrap(err, "failed to read subscribe frame")
	}

	var frame struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		return errors.Wrap(err, "failed to decode subscribe frame")
	}
	if frame.Type != clientConnectType {
		return errors.Errorf("expected %s frame, got %q", clientConnectType, frame.Type)
	}
	return nil
}

func (s *Server) writeEvent(conn *websocket.Conn, event Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}
	return errors.Wrap(conn.WriteJSON(event), "failed to write event frame")
}
