package pipeline

import (
	"context"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/interledgermesh/connector/btp"
	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/ledger"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/telemetry"
)

//go:generate mockgen -destination=mock.go -package=pipeline . Endpoint,Endpoints,LocalHandler,PauseController

// Endpoint is the slice of a BTP endpoint the pipeline needs.
type Endpoint interface {
	StartPrepare(ctx context.Context, prepare ilp.Prepare) (btp.Pending, error)
	SendFulfill(ctx context.Context, fulfill ilp.Fulfill) error
	SendReject(ctx context.Context, reject ilp.Reject) error
}

// Endpoints resolves a peer id to its endpoint.
type Endpoints interface {
	Endpoint(peerID ilp.PeerID) (Endpoint, bool)
}

// LocalHandler terminates packets addressed to this node.
type LocalHandler interface {
	HandleLocal(ctx context.Context, from ilp.PeerID, prepare ilp.Prepare) btp.Reply
}

// PauseController reports peers paused by the fraud detector. A paused
// peer's rate limiter is treated as exhausted.
type PauseController interface {
	IsPaused(peerID ilp.PeerID) bool
}

// Accounts is the slice of the ledger the pipeline needs.
type Accounts interface {
	Prepare(ctx context.Context, peer ilp.PeerID, asset ilp.AssetID, amount sdkmath.Int) (ledger.Reservation, error)
	Commit(ctx context.Context, res ledger.Reservation) error
	Rollback(ctx context.Context, res ledger.Reservation) error
	Credit(ctx context.Context, peer ilp.PeerID, asset ilp.AssetID, amount sdkmath.Int) error
}

// Router looks up the next hop for a destination.
type Router interface {
	Lookup(destination ilp.Address) (ilp.PeerID, bool)
}

// Config is the pipeline config.
type Config struct {
	NodeID string
	// Address is this node's own ILP address; destinations under it are
	// terminated locally.
	Address ilp.Address
	// Asset all bilateral accounts are denominated in.
	Asset ilp.AssetID

	// RateLimit and RateBurst parameterize the per-peer token bucket.
	RateLimit rate.Limit
	RateBurst int

	// FeeBasisPoints and FlatFee are deducted from forwarded amounts.
	FeeBasisPoints int64
	FlatFee        sdkmath.Int

	// ExpiryMargin shortens the egress Prepare's expiry per hop so the
	// upstream reply arrives before the ingress deadline.
	ExpiryMargin time.Duration
}

// DefaultConfig returns the default pipeline config.
func DefaultConfig() Config {
	return Config{
		Asset:        "ILP",
		RateLimit:    rate.Limit(100),
		RateBurst:    200,
		FlatFee:      sdkmath.ZeroInt(),
		ExpiryMargin: time.Second,
	}
}

// Pipeline forwards Prepare packets between peer endpoints. Every accepted
// Prepare is resolved toward its origin with exactly one Fulfill or Reject,
// and forwarding never precedes a successful ledger reservation.
type Pipeline struct {
	cfg       Config
	log       logger.Logger
	accounts  Accounts
	router    Router
	endpoints Endpoints
	local     LocalHandler
	pause     PauseController
	broker    *telemetry.Broker

	mu       sync.Mutex
	limiters map[ilp.PeerID]*rate.Limiter
}

// New returns a new Pipeline. local and pause may be nil: without a local
// handler own-address packets are rejected, without a pause controller no
// peer is ever paused.
func New(
	cfg Config,
	log logger.Logger,
	accounts Accounts,
	router Router,
	endpoints Endpoints,
	local LocalHandler,
	pause PauseController,
	broker *telemetry.Broker,
) *Pipeline {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultConfig().RateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultConfig().RateBurst
	}
	if cfg.FlatFee.IsNil() {
		cfg.FlatFee = sdkmath.ZeroInt()
	}
	if cfg.ExpiryMargin <= 0 {
		cfg.ExpiryMargin = DefaultConfig().ExpiryMargin
	}
	if cfg.Asset == "" {
		cfg.Asset = DefaultConfig().Asset
	}
	return &Pipeline{
		cfg:       cfg,
		log:       log,
		accounts:  accounts,
		router:    router,
		endpoints: endpoints,
		local:     local,
		pause:     pause,
		broker:    broker,
		limiters:  make(map[ilp.PeerID]*rate.Limiter),
	}
}

// HandlePrepare runs the full forwarding decision for one inbound Prepare.
// It implements btp.PrepareHandler.
func (p *Pipeline) HandlePrepare(ctx context.Context, from ilp.PeerID, prepare ilp.Prepare) {
	p.emitPacketEvent(ctx, telemetry.EventTypePacketReceived, from, prepare, prepare.Amount)

	if err := prepare.Validate(time.Now()); err != nil {
		p.log.Debug(ctx, "Rejecting malformed prepare", zap.String("packetID", prepare.PacketID), zap.Error(err))
		p.reject(ctx, from, prepare, ilp.CodeBadRequest, "packet validation failed")
		return
	}

	if !p.allow(from) {
		p.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeRateLimitExceeded, p.cfg.NodeID, map[string]any{
			"peerId":   string(from),
			"packetId": prepare.PacketID,
		}))
		p.reject(ctx, from, prepare, ilp.CodeRateLimit, "rate limit exceeded")
		return
	}

	reservation, err := p.accounts.Prepare(ctx, from, p.cfg.Asset, prepare.Amount)
	switch {
	case errors.Is(err, ledger.ErrCreditLimitExceeded):
		p.reject(ctx, from, prepare, ilp.CodeInsufficient, "credit limit exceeded")
		return
	case err != nil:
		// accounting unavailable, fail closed
		p.log.Error(ctx, "Ledger reservation failed", zap.String("packetID", prepare.PacketID), zap.Error(err))
		p.reject(ctx, from, prepare, ilp.CodeInternal, "accounting unavailable")
		return
	}

	if prepare.Destination.HasPrefix(p.cfg.Address) {
		p.terminateLocally(ctx, from, prepare, reservation)
		return
	}

	p.forward(ctx, from, prepare, reservation)
}

func (p *Pipeline) terminateLocally(ctx context.Context, from ilp.PeerID, prepare ilp.Prepare, reservation ledger.Reservation) {
	if p.local == nil {
		p.rollback(ctx, reservation)
		p.reject(ctx, from, prepare, ilp.CodeUnreachable, "no local handler")
		return
	}

	reply := p.local.HandleLocal(ctx, from, prepare)
	switch {
	case reply.Fulfill != nil && reply.Fulfill.Matches(prepare.Condition):
		if err := p.accounts.Commit(ctx, reservation); err != nil {
			p.log.Error(ctx, "Ledger commit failed", zap.String("packetID", prepare.PacketID), zap.Error(err))
			p.reject(ctx, from, prepare, ilp.CodeInternal, "accounting failed")
			return
		}
		p.respondFulfill(ctx, from, *reply.Fulfill)
	case reply.Fulfill != nil:
		p.rollback(ctx, reservation)
		p.reject(ctx, from, prepare, ilp.CodeWrongCondition, "fulfillment does not match condition")
	case reply.Reject != nil:
		p.rollback(ctx, reservation)
		p.forwardReject(ctx, from, prepare, *reply.Reject)
	default:
		p.rollback(ctx, reservation)
		p.reject(ctx, from, prepare, ilp.CodeInternal, "local handler returned no reply")
	}
}

func (p *Pipeline) forward(ctx context.Context, from ilp.PeerID, prepare ilp.Prepare, reservation ledger.Reservation) {
	nextHop, found := p.router.Lookup(prepare.Destination)
	if !found {
		p.rollback(ctx, reservation)
		p.reject(ctx, from, prepare, ilp.CodeUnreachable, "no route to destination")
		return
	}

	egress, ok := p.endpoints.Endpoint(nextHop)
	if !ok {
		p.rollback(ctx, reservation)
		p.reject(ctx, from, prepare, ilp.CodeUnreachable, "next hop is not connected")
		return
	}

	amountOut := p.applyFee(prepare.Amount)
	outPrepare := ilp.Prepare{
		PacketID:    uuid.New().String(),
		Destination: prepare.Destination,
		Amount:      amountOut,
		Condition:   prepare.Condition,
		ExpiresAt:   prepare.ExpiresAt.Add(-p.cfg.ExpiryMargin),
		Data:        prepare.Data,
	}

	pending, err := egress.StartPrepare(ctx, outPrepare)
	switch {
	case errors.Is(err, btp.ErrSendQueueFull):
		p.rollback(ctx, reservation)
		p.reject(ctx, from, prepare, ilp.CodeCongested, "next hop send queue is full")
		return
	case err != nil:
		p.rollback(ctx, reservation)
		p.log.Warn(ctx, "Forwarding failed", zap.String("packetID", prepare.PacketID), zap.Error(err))
		p.reject(ctx, from, prepare, ilp.CodeInternal, "forwarding failed")
		return
	}

	// the packet is on the wire; the forward is recorded even if the reply
	// never comes back
	p.emitPacketEvent(ctx, telemetry.EventTypePacketForwarded, nextHop, prepare, amountOut)

	reply, err := pending.Await(ctx)
	if err != nil {
		p.rollback(ctx, reservation)
		p.log.Warn(ctx, "Awaiting forwarded reply failed", zap.String("packetID", prepare.PacketID), zap.Error(err))
		p.reject(ctx, from, prepare, ilp.CodeInternal, "forwarding failed")
		return
	}

	switch {
	case reply.Fulfill != nil && reply.Fulfill.Matches(prepare.Condition):
		if err := p.accounts.Commit(ctx, reservation); err != nil {
			p.log.Error(ctx, "Ledger commit failed", zap.String("packetID", prepare.PacketID), zap.Error(err))
			p.reject(ctx, from, prepare, ilp.CodeInternal, "accounting failed")
			return
		}
		if err := p.accounts.Credit(ctx, nextHop, p.cfg.Asset, amountOut); err != nil {
			p.log.Error(ctx, "Ledger credit failed", zap.String("packetID", prepare.PacketID), zap.Error(err))
		}
		p.respondFulfill(ctx, from, ilp.Fulfill{
			PacketID:    prepare.PacketID,
			Fulfillment: reply.Fulfill.Fulfillment,
			Data:        reply.Fulfill.Data,
		})
	case reply.Fulfill != nil:
		p.rollback(ctx, reservation)
		p.reject(ctx, from, prepare, ilp.CodeWrongCondition, "fulfillment does not match condition")
	case reply.Reject != nil:
		p.rollback(ctx, reservation)
		p.forwardReject(ctx, from, prepare, *reply.Reject)
	default:
		p.rollback(ctx, reservation)
		p.reject(ctx, from, prepare, ilp.CodeInternal, "empty reply from next hop")
	}
}

func (p *Pipeline) applyFee(amountIn sdkmath.Int) sdkmath.Int {
	fee := amountIn.MulRaw(p.cfg.FeeBasisPoints).QuoRaw(10_000).Add(p.cfg.FlatFee)
	amountOut := amountIn.Sub(fee)
	if amountOut.IsNegative() {
		return sdkmath.ZeroInt()
	}
	return amountOut
}

func (p *Pipeline) allow(peerID ilp.PeerID) bool {
	if p.pause != nil && p.pause.IsPaused(peerID) {
		return false
	}

	p.mu.Lock()
	limiter, ok := p.limiters[peerID]
	if !ok {
		limiter = rate.NewLimiter(p.cfg.RateLimit, p.cfg.RateBurst)
		p.limiters[peerID] = limiter
	}
	p.mu.Unlock()
	return limiter.Allow()
}

func (p *Pipeline) respondFulfill(ctx context.Context, to ilp.PeerID, fulfill ilp.Fulfill) {
	ingress, ok := p.endpoints.Endpoint(to)
	if !ok {
		p.log.Warn(ctx, "Ingress endpoint vanished before fulfill could be sent",
			zap.String("peerID", string(to)), zap.String("packetID", fulfill.PacketID))
		return
	}
	if err := ingress.SendFulfill(ctx, fulfill); err != nil {
		p.log.Warn(ctx, "Failed to send fulfill", zap.String("packetID", fulfill.PacketID), zap.Error(err))
	}
}

func (p *Pipeline) forwardReject(ctx context.Context, to ilp.PeerID, prepare ilp.Prepare, reject ilp.Reject) {
	reject.PacketID = prepare.PacketID
	p.sendReject(ctx, to, prepare, reject)
}

func (p *Pipeline) reject(ctx context.Context, to ilp.PeerID, prepare ilp.Prepare, code, message string) {
	p.sendReject(ctx, to, prepare, ilp.NewReject(prepare.PacketID, code, p.cfg.Address, message))
}

func (p *Pipeline) sendReject(ctx context.Context, to ilp.PeerID, prepare ilp.Prepare, reject ilp.Reject) {
	p.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypePacketRejected, p.cfg.NodeID, map[string]any{
		"from":        string(to),
		"packetId":    prepare.PacketID,
		"amount":      prepare.Amount.String(),
		"destination": string(prepare.Destination),
		"code":        reject.Code,
	}))

	ingress, ok := p.endpoints.Endpoint(to)
	if !ok {
		p.log.Warn(ctx, "Ingress endpoint vanished before reject could be sent",
			zap.String("peerID", string(to)), zap.String("packetID", reject.PacketID))
		return
	}
	if err := ingress.SendReject(ctx, reject); err != nil {
		p.log.Warn(ctx, "Failed to send reject", zap.String("packetID", reject.PacketID), zap.Error(err))
	}
}

func (p *Pipeline) rollback(ctx context.Context, reservation ledger.Reservation) {
	if err := p.accounts.Rollback(ctx, reservation); err != nil {
		p.log.Error(ctx, "Ledger rollback failed", zap.String("reservationID", reservation.ID), zap.Error(err))
	}
}

func (p *Pipeline) emitPacketEvent(ctx context.Context, eventType telemetry.EventType, peer ilp.PeerID, prepare ilp.Prepare, amount sdkmath.Int) {
	fields := map[string]any{
		"packetId":    prepare.PacketID,
		"amount":      amount.String(),
		"destination": string(prepare.Destination),
	}
	if eventType == telemetry.EventTypePacketForwarded {
		fields["to"] = string(peer)
	} else {
		fields["from"] = string(peer)
	}
	p.broker.Emit(ctx, telemetry.NewEvent(eventType, p.cfg.NodeID, fields))
}
