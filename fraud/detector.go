package fraud

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/telemetry"
)

// DetectorConfig is the fraud detector config.
type DetectorConfig struct {
	NodeID string
	// InitialScore is every peer's starting reputation.
	InitialScore int64
	// PauseThreshold pauses the peer once its score drops below it.
	PauseThreshold int64
}

// DefaultDetectorConfig returns the default DetectorConfig.
func DefaultDetectorConfig(nodeID string) DetectorConfig {
	return DetectorConfig{
		NodeID:         nodeID,
		InitialScore:   100,
		PauseThreshold: 50,
	}
}

// Detector watches the telemetry stream for suspicious peer behavior, keeps
// per-peer reputation scores, and pauses peers whose score falls below the
// threshold. Every detection is reported on the telemetry stream. A paused
// peer's packets are refused by the forwarding pipeline and its events are no
// longer inspected until the peer is resumed.
type Detector struct {
	cfg    DetectorConfig
	log    logger.Logger
	broker *telemetry.Broker
	rules  []Rule

	mu     sync.RWMutex
	scores map[ilp.PeerID]int64
	paused map[ilp.PeerID]struct{}
}

// NewDetector returns a new Detector with the given rule set.
func NewDetector(cfg DetectorConfig, log logger.Logger, broker *telemetry.Broker, rules ...Rule) *Detector {
	return &Detector{
		cfg:    cfg,
		log:    log,
		broker: broker,
		rules:  rules,
		scores: make(map[ilp.PeerID]int64),
		paused: make(map[ilp.PeerID]struct{}),
	}
}

// Run consumes the telemetry stream until the context is closed.
func (d *Detector) Run(ctx context.Context) error {
	sub := d.broker.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case event, ok := <-sub.Events():
			if !ok {
				return errors.New("telemetry subscription closed")
			}
			d.Inspect(ctx, event)
		}
	}
}

// Inspect runs every rule against the event. A failing rule is logged and
// skipped so one broken rule cannot blind the others. Events attributed to a
// paused peer are dropped without inspection.
func (d *Detector) Inspect(ctx context.Context, event telemetry.Event) {
	switch event.Type {
	case telemetry.EventTypeSuspiciousActivity,
		telemetry.EventTypeFraudDetected,
		telemetry.EventTypePeerPaused,
		telemetry.EventTypePeerResumed:
		// our own output, not input
		return
	}

	if peer := telemetry.Extract(event).PeerID; peer != "" && d.IsPaused(peer) {
		return
	}

	for _, rule := range d.rules {
		finding, err := d.check(rule, event)
		if err != nil {
			d.log.Error(ctx, "Fraud rule failed",
				zap.String("rule", rule.Name()),
				zap.String("eventType", string(event.Type)),
				zap.Error(err))
			continue
		}
		if finding.Detected && finding.Peer != "" {
			d.apply(ctx, finding)
		}
	}
}

// IsPaused reports whether the peer is currently paused. Implements the
// forwarding pipeline's pause control.
func (d *Detector) IsPaused(peerID ilp.PeerID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.paused[peerID]
	return ok
}

// Score returns the peer's current reputation score.
func (d *Detector) Score(peerID ilp.PeerID) int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if score, ok := d.scores[peerID]; ok {
		return score
	}
	return d.cfg.InitialScore
}

// PausedPeers returns the currently paused peers.
func (d *Detector) PausedPeers() []ilp.PeerID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	peers := make([]ilp.PeerID, 0, len(d.paused))
	for peer := range d.paused {
		peers = append(peers, peer)
	}
	return peers
}

// Resume unpauses the peer and restores its reputation.
func (d *Detector) Resume(ctx context.Context, peerID ilp.PeerID) {
	d.mu.Lock()
	_, wasPaused := d.paused[peerID]
	delete(d.paused, peerID)
	d.scores[peerID] = d.cfg.InitialScore
	d.mu.Unlock()

	if !wasPaused {
		return
	}
	d.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypePeerResumed, d.cfg.NodeID, map[string]any{
		"peerId": string(peerID),
	}))
	d.log.Info(ctx, "Peer resumed", zap.String("peerID", string(peerID)))
}

func (d *Detector) check(rule Rule, event telemetry.Event) (finding Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("rule panicked: %v", r)
		}
	}()
	return rule.Check(event)
}

func (d *Detector) apply(ctx context.Context, finding Finding) {
	d.mu.Lock()
	score, ok := d.scores[finding.Peer]
	if !ok {
		score = d.cfg.InitialScore
	}
	score -= finding.Severity.Penalty()
	d.scores[finding.Peer] = score

	_, alreadyPaused := d.paused[finding.Peer]
	pause := score < d.cfg.PauseThreshold && !alreadyPaused
	if pause {
		d.paused[finding.Peer] = struct{}{}
	}
	d.mu.Unlock()

	fields := map[string]any{
		"peerId":   string(finding.Peer),
		"rule":     finding.Rule,
		"severity": string(finding.Severity),
		"score":    score,
	}
	for k, v := range finding.Details {
		fields[k] = v
	}
	d.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeFraudDetected, d.cfg.NodeID, fields))

	if !pause {
		return
	}

	d.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypePeerPaused, d.cfg.NodeID, map[string]any{
		"peerId": string(finding.Peer),
		"score":  score,
	}))
	d.log.Warn(ctx, "Peer paused for suspicious activity",
		zap.String("peerID", string(finding.Peer)),
		zap.String("rule", finding.Rule),
		zap.Int64("score", score))
}
