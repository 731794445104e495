package btp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CoreumFoundation/coreum-tools/pkg/parallel"

	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/logger"
)

// Registry holds the endpoint of every configured peer.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[ilp.PeerID]*Endpoint
}

// NewRegistry returns a new Registry.
func NewRegistry() *Registry {
	return &Registry{
		endpoints: make(map[ilp.PeerID]*Endpoint),
	}
}

// Register adds the endpoint. The last registration for a peer wins.
func (r *Registry) Register(endpoint *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[endpoint.PeerID()] = endpoint
}

// Get returns the peer's endpoint if registered.
func (r *Registry) Get(peerID ilp.PeerID) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	endpoint, ok := r.endpoints[peerID]
	return endpoint, ok
}

// All returns all registered endpoints.
func (r *Registry) All() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	endpoints := make([]*Endpoint, 0, len(r.endpoints))
	for _, endpoint := range r.endpoints {
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}

// ServerConfig is the inbound BTP server config.
type ServerConfig struct {
	// ListenAddress for inbound peer connections, e.g. ":8085".
	ListenAddress string
	// PeerSecrets maps a peer id to the secret its AUTH frame must carry.
	PeerSecrets map[ilp.PeerID]string
}

// Server accepts inbound BTP connections, verifies the AUTH frame against
// the configured per-peer secret and hands the session to the peer's
// endpoint.
type Server struct {
	cfg      ServerConfig
	log      logger.Logger
	registry *Registry
	upgrader websocket.Upgrader
}

// NewServer returns a new BTP server.
func NewServer(cfg ServerConfig, log logger.Logger, registry *Registry) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start runs the server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return errors.Wrap(err, "btp server listener failed")
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
				return errors.Wrap(err, "btp server exited")
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
	mux.HandleFunc("/", s.handlePeer)
	return mux
}

func (s *Server) handlePeer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(ctx, "Failed to upgrade inbound BTP connection", zap.Error(err))
		return
	}

	endpoint, err := s.authenticate(conn)
	if err != nil {
		s.log.Warn(ctx, "Rejecting inbound BTP connection", zap.Error(err))
		_ = conn.WriteJSON(Frame{
			Type:    FrameTypeReject,
			Code:    ilp.CodeBadRequest,
			Message: "authentication failed",
		})
		conn.Close()
		return
	}

	if err := endpoint.Attach(ctx, conn); err != nil && ctx.Err() == nil {
		s.log.Warn(ctx, "Inbound BTP session ended",
			zap.String("peerID", string(endpoint.PeerID())), zap.Error(err))
	}
}

func (s *Server) authenticate(conn *websocket.Conn) (*Endpoint, error) {
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, errors.Wrap(err, "failed to read auth frame")
	}
	if frame.Type != FrameTypeAuth {
		return nil, errors.Errorf("first frame must be %s, got %s", FrameTypeAuth, frame.Type)
	}

	peerID := ilp.PeerID(frame.PeerID)
	secret, ok := s.cfg.PeerSecrets[peerID]
	if !ok {
		return nil, errors.Errorf("unknown peer %q", frame.PeerID)
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(frame.Secret)) != 1 {
		return nil, errors.Errorf("invalid secret for peer %q", frame.PeerID)
	}

	endpoint, ok := s.registry.Get(peerID)
	if !ok {
		return nil, errors.Errorf("no endpoint registered for peer %q", frame.PeerID)
	}
	return endpoint, nil
}

// PeerSecretEnvName returns the environment variable that overrides the
// peer's shared secret.
func PeerSecretEnvName(peerID ilp.PeerID) string {
	return fmt.Sprintf("BTP_PEER_%s_SECRET", peerID)
}
