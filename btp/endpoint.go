package btp

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CoreumFoundation/coreum-tools/pkg/parallel"

	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/telemetry"
	"github.com/interledgermesh/connector/tracing"
)

// State of an endpoint's connection state machine.
type State string

// Endpoint states.
const (
	StateDisconnected   State = "DISCONNECTED"
	StateConnecting     State = "CONNECTING"
	StateAuthenticating State = "AUTHENTICATING"
	StateReady          State = "READY"
)

// Errors returned by the endpoint.
var (
	ErrSendQueueFull   = errors.New("send queue is full")
	ErrNotConnected    = errors.New("endpoint is not connected")
	ErrReconnectsSpent = errors.New("reconnect attempts exhausted")
)

// Reply is the resolution of an outgoing Prepare: exactly one of Fulfill or
// Reject is set.
type Reply struct {
	Fulfill *ilp.Fulfill
	Reject  *ilp.Reject
}

// PrepareHandler consumes inbound Prepare packets. The pipeline implements
// it; replies travel back through SendFulfill/SendReject.
type PrepareHandler interface {
	HandlePrepare(ctx context.Context, from ilp.PeerID, prepare ilp.Prepare)
}

// EndpointConfig is the per-peer endpoint config.
type EndpointConfig struct {
	PeerID ilp.PeerID
	NodeID string
	// URL to dial for outbound connections; empty for accept-only peers.
	URL string
	// Secret sent in (outbound) or expected from (inbound) the AUTH frame.
	Secret string

	SendQueueSize        int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	// ResponseSlack extends an outgoing Prepare's expiry to form the
	// correlation deadline.
	ResponseSlack time.Duration
}

// DefaultEndpointConfig returns the default endpoint config.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		SendQueueSize:        64,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 0, // unbounded
		PingInterval:         15 * time.Second,
		ResponseSlack:        5 * time.Second,
	}
}

// Pending is an in-flight outgoing Prepare awaiting its resolution.
type Pending interface {
	// Await blocks until the peer resolves the packet or the correlation
	// deadline (expiresAt + slack) passes, in which case a synthetic R00
	// Reject is returned.
	Await(ctx context.Context) (Reply, error)
}

type pendingReply struct {
	endpoint *Endpoint
	packetID string
	deadline time.Time
	ch       chan Reply
}

func (p *pendingReply) Await(ctx context.Context) (Reply, error) {
	timer := time.NewTimer(time.Until(p.deadline))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		p.endpoint.resolve(ctx, p.packetID, Reply{}, false)
		return Reply{}, errors.WithStack(ctx.Err())
	case <-timer.C:
		reject := ilp.NewReject(p.packetID, ilp.CodeTimeout, ilp.Address("peer."+string(p.endpoint.cfg.PeerID)),
			"no reply before deadline")
		p.endpoint.resolve(ctx, p.packetID, Reply{}, false)
		return Reply{Reject: &reject}, nil
	case reply := <-p.ch:
		return reply, nil
	}
}

// Endpoint is one bilateral BTP link. It owns the WebSocket session to the
// peer, the bounded send queue, and the correlation map for outgoing
// Prepare packets. Frames from the peer are read and dispatched in receive
// order.
type Endpoint struct {
	cfg     EndpointConfig
	log     logger.Logger
	broker  *telemetry.Broker
	handler PrepareHandler

	sendCh chan Frame

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	pending map[string]*pendingReply
}

// NewEndpoint returns a new Endpoint.
func NewEndpoint(cfg EndpointConfig, log logger.Logger, broker *telemetry.Broker, handler PrepareHandler) *Endpoint {
	def := DefaultEndpointConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ResponseSlack <= 0 {
		cfg.ResponseSlack = def.ResponseSlack
	}
	return &Endpoint{
		cfg:     cfg,
		log:     log,
		broker:  broker,
		handler: handler,
		sendCh:  make(chan Frame, cfg.SendQueueSize),
		state:   StateDisconnected,
		pending: make(map[string]*pendingReply),
	}
}

// PeerID returns the peer this endpoint is bound to.
func (e *Endpoint) PeerID() ilp.PeerID {
	return e.cfg.PeerID
}

// State returns the current connection state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run dials the peer and keeps the session alive, reconnecting with jittered
// exponential backoff, until ctx is canceled or the attempt budget is spent.
func (e *Endpoint) Run(ctx context.Context) error {
	if e.cfg.URL == "" {
		// accept-only peer: sessions arrive via Attach from the server
		<-ctx.Done()
		return errors.WithStack(ctx.Err())
	}

	ctx = tracing.WithTracingProcess(ctx, "btp-"+string(e.cfg.PeerID))
	attempt := 0
	for {
		if err := e.dialAndServe(ctx); err != nil && ctx.Err() == nil {
			e.log.Warn(ctx, "BTP session ended",
				zap.String("peerID", string(e.cfg.PeerID)), zap.Error(err))
			e.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeBTPConnectionFailed, e.cfg.NodeID, map[string]any{
				"peerId":  string(e.cfg.PeerID),
				"attempt": attempt + 1,
				"error":   err.Error(),
			}))
		}
		e.setState(StateDisconnected)

		if ctx.Err() != nil {
			return errors.WithStack(ctx.Err())
		}
		attempt++
		if e.cfg.MaxReconnectAttempts > 0 && attempt >= e.cfg.MaxReconnectAttempts {
			return errors.Wrapf(ErrReconnectsSpent, "peerID:%s, attempts:%d", e.cfg.PeerID, attempt)
		}

		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-time.After(e.reconnectDelay(attempt)):
		}
	}
}

// Attach serves an already-authenticated inbound connection until it fails
// or ctx is canceled.
func (e *Endpoint) Attach(ctx context.Context, conn *websocket.Conn) error {
	ctx = tracing.WithTracingProcess(ctx, "btp-"+string(e.cfg.PeerID))
	return e.serve(ctx, conn)
}

// SendPrepare sends the Prepare and blocks until the peer resolves it or
// the correlation deadline (expiresAt + slack) passes, in which case a
// synthetic R00 Reject is returned. Blocks while the send queue is full.
func (e *Endpoint) SendPrepare(ctx context.Context, prepare ilp.Prepare) (Reply, error) {
	return e.sendPrepare(ctx, prepare, true)
}

// ForwardPrepare is SendPrepare for forwarded packets: a full send queue
// returns ErrSendQueueFull immediately instead of blocking, so the caller
// can reject the inbound packet as congested.
func (e *Endpoint) ForwardPrepare(ctx context.Context, prepare ilp.Prepare) (Reply, error) {
	return e.sendPrepare(ctx, prepare, false)
}

// StartPrepare enqueues the Prepare without waiting for its resolution, so
// the caller can act on the send before the reply comes back. A full send
// queue fails immediately with ErrSendQueueFull.
func (e *Endpoint) StartPrepare(ctx context.Context, prepare ilp.Prepare) (Pending, error) {
	return e.startPrepare(ctx, prepare, false)
}

// SendFulfill enqueues a Fulfill toward the peer.
func (e *Endpoint) SendFulfill(ctx context.Context, fulfill ilp.Fulfill) error {
	return e.enqueue(ctx, NewFulfillFrame(fulfill), true)
}

// SendReject enqueues a Reject toward the peer.
func (e *Endpoint) SendReject(ctx context.Context, reject ilp.Reject) error {
	return e.enqueue(ctx, NewRejectFrame(reject), true)
}

func (e *Endpoint) sendPrepare(ctx context.Context, prepare ilp.Prepare, block bool) (Reply, error) {
	pending, err := e.startPrepare(ctx, prepare, block)
	if err != nil {
		return Reply{}, err
	}
	return pending.Await(ctx)
}

func (e *Endpoint) startPrepare(ctx context.Context, prepare ilp.Prepare, block bool) (*pendingReply, error) {
	pending := &pendingReply{
		endpoint: e,
		packetID: prepare.PacketID,
		deadline: prepare.ExpiresAt.Add(e.cfg.ResponseSlack),
		ch:       make(chan Reply, 1),
	}

	e.mu.Lock()
	e.pending[prepare.PacketID] = pending
	e.mu.Unlock()

	if err := e.enqueue(ctx, NewPrepareFrame(prepare), block); err != nil {
		e.mu.Lock()
		delete(e.pending, prepare.PacketID)
		e.mu.Unlock()
		return nil, err
	}
	return pending, nil
}

func (e *Endpoint) enqueue(ctx context.Context, frame Frame, block bool) error {
	if !block {
		select {
		case e.sendCh <- frame:
			return nil
		default:
			return errors.Wrapf(ErrSendQueueFull, "peerID:%s", e.cfg.PeerID)
		}
	}
	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case e.sendCh <- frame:
		return nil
	}
}

func (e *Endpoint) dialAndServe(ctx context.Context) error {
	e.setState(StateConnecting)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, e.cfg.URL, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to dial peer %s at %s", e.cfg.PeerID, e.cfg.URL)
	}

	e.setState(StateAuthenticating)
	if err := conn.WriteJSON(NewAuthFrame(e.cfg.NodeID, e.cfg.Secret)); err != nil {
		conn.Close()
		return errors.Wrapf(err, "failed to send auth frame to peer %s", e.cfg.PeerID)
	}

	return e.serve(ctx, conn)
}

func (e *Endpoint) serve(ctx context.Context, conn *websocket.Conn) error {
	e.mu.Lock()
	e.conn = conn
	e.state = StateReady
	e.mu.Unlock()
	defer func() {
		conn.Close()
		e.mu.Lock()
		e.conn = nil
		e.state = StateDisconnected
		e.mu.Unlock()
	}()

	e.log.Info(ctx, "BTP session established", zap.String("peerID", string(e.cfg.PeerID)))

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("reader", parallel.Exit, func(ctx context.Context) error {
			return e.readLoop(ctx, conn)
		})
		spawn("writer", parallel.Exit, func(ctx context.Context) error {
			return e.writeLoop(ctx, conn)
		})
		spawn("pinger", parallel.Exit, func(ctx context.Context) error {
			return e.pingLoop(ctx)
		})
		spawn("expirer", parallel.Continue, func(ctx context.Context) error {
			return e.expireLoop(ctx)
		})
		return nil
	})
}

func (e *Endpoint) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return errors.Wrapf(err, "read from peer %s failed", e.cfg.PeerID)
		}
		e.dispatch(ctx, frame)
	}
}

func (e *Endpoint) dispatch(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameTypePrepare:
		prepare, err := frame.Prepare()
		if err != nil {
			e.log.Warn(ctx, "Dropping malformed PREPARE frame",
				zap.String("peerID", string(e.cfg.PeerID)), zap.Error(err))
			return
		}
		handleCtx := tracing.WithTracingPacketID(tracing.WithTracingID(ctx), prepare.PacketID)
		go e.handler.HandlePrepare(handleCtx, e.cfg.PeerID, prepare)
	case FrameTypeFulfill:
		fulfill, err := frame.Fulfill()
		if err != nil {
			e.log.Warn(ctx, "Dropping malformed FULFILL frame", zap.Error(err))
			return
		}
		e.resolve(ctx, fulfill.PacketID, Reply{Fulfill: &fulfill}, true)
	case FrameTypeReject:
		reject, err := frame.Reject()
		if err != nil {
			e.log.Warn(ctx, "Dropping malformed REJECT frame", zap.Error(err))
			return
		}
		e.resolve(ctx, reject.PacketID, Reply{Reject: &reject}, true)
	case FrameTypePing:
		// best effort, a full queue drops the pong
		_ = e.enqueue(ctx, Frame{Type: FrameTypePong}, false)
	case FrameTypePong:
	default:
		e.log.Warn(ctx, "Dropping frame of unknown type",
			zap.String("peerID", string(e.cfg.PeerID)), zap.String("frameType", string(frame.Type)))
	}
}

// resolve hands the reply to the waiter exactly once. Late replies (logLate)
// after resolution are logged and dropped.
func (e *Endpoint) resolve(ctx context.Context, packetID string, reply Reply, logLate bool) {
	e.mu.Lock()
	pending, ok := e.pending[packetID]
	delete(e.pending, packetID)
	e.mu.Unlock()

	if !ok {
		if logLate {
			e.log.Warn(ctx, "Dropping late reply for already resolved packet",
				zap.String("peerID", string(e.cfg.PeerID)), zap.String("packetID", packetID))
		}
		return
	}
	if reply.Fulfill != nil || reply.Reject != nil {
		pending.ch <- reply
	}
}

func (e *Endpoint) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case frame := <-e.sendCh:
			if err := conn.WriteJSON(frame); err != nil {
				return errors.Wrapf(err, "write to peer %s failed", e.cfg.PeerID)
			}
		}
	}
}

func (e *Endpoint) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
			_ = e.enqueue(ctx, Frame{Type: FrameTypePing}, false)
		}
	}
}

// expireLoop sweeps the correlation map; SendPrepare waiters own their own
// deadline timers, this only clears entries abandoned by canceled callers.
func (e *Endpoint) expireLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
			now := time.Now()
			e.mu.Lock()
			for packetID, pending := range e.pending {
				if now.After(pending.deadline.Add(time.Minute)) {
					delete(e.pending, packetID)
				}
			}
			e.mu.Unlock()
		}
	}
}

func (e *Endpoint) setState(state State) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

func (e *Endpoint) reconnectDelay(attempt int) time.Duration {
	delay := e.cfg.ReconnectBaseDelay << (attempt - 1)
	if delay > e.cfg.ReconnectMaxDelay || delay <= 0 {
		delay = e.cfg.ReconnectMaxDelay
	}
	// up to 20% jitter to avoid reconnect stampedes
	jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
	return delay + jitter
}
