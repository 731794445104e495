package fraud

import (
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/pkg/errors"

	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/telemetry"
)

// Severity grades a finding. The penalty subtracted from the peer's
// reputation score grows with severity.
type Severity string

// Severities.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Penalty returns the reputation penalty for the severity.
func (s Severity) Penalty() int64 {
	switch s {
	case SeverityHigh:
		return 40
	case SeverityMedium:
		return 15
	default:
		return 5
	}
}

// Finding is one rule's verdict on one event.
type Finding struct {
	Detected bool
	Peer     ilp.PeerID
	Rule     string
	Severity Severity
	Details  map[string]any
}

// Rule inspects the telemetry stream for one class of suspicious behavior.
// Rules must tolerate events of any type and may keep per-peer state.
type Rule interface {
	Name() string
	Check(event telemetry.Event) (Finding, error)
}

// RulesConfig parameterizes the standard rule set.
type RulesConfig struct {
	// MaxPacketAmount flags any single packet over this amount.
	MaxPacketAmount sdkmath.Int
	// PacketRateWindow and MaxPacketsPerWindow flag a peer sending faster
	// than the expected ceiling.
	PacketRateWindow    time.Duration
	MaxPacketsPerWindow int
	// RejectWindow and MaxRejectsPerWindow flag a peer probing the network
	// with packets that keep getting rejected.
	RejectWindow        time.Duration
	MaxRejectsPerWindow int
}

// DefaultRulesConfig returns the default RulesConfig.
func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		MaxPacketAmount:     sdkmath.NewInt(1_000_000_000),
		PacketRateWindow:    10 * time.Second,
		MaxPacketsPerWindow: 1000,
		RejectWindow:        time.Minute,
		MaxRejectsPerWindow: 50,
	}
}

// DefaultRules builds the standard rule set.
func DefaultRules(cfg RulesConfig) []Rule {
	return []Rule{
		NewOversizeAmountRule(cfg.MaxPacketAmount),
		NewPacketRateRule(cfg.PacketRateWindow, cfg.MaxPacketsPerWindow),
		NewRepeatedRejectRule(cfg.RejectWindow, cfg.MaxRejectsPerWindow),
		NewWalletMismatchRule(),
	}
}

// OversizeAmountRule flags single packets over the configured ceiling.
type OversizeAmountRule struct {
	maxAmount sdkmath.Int
}

// NewOversizeAmountRule returns a new OversizeAmountRule.
func NewOversizeAmountRule(maxAmount sdkmath.Int) *OversizeAmountRule {
	return &OversizeAmountRule{maxAmount: maxAmount}
}

// Name implements Rule.
func (r *OversizeAmountRule) Name() string {
	return "oversize-amount"
}

// Check implements Rule.
func (r *OversizeAmountRule) Check(event telemetry.Event) (Finding, error) {
	if event.Type != telemetry.EventTypePacketReceived {
		return Finding{}, nil
	}
	indexed := telemetry.Extract(event)
	if indexed.Amount == "" {
		return Finding{}, nil
	}
	amount, ok := sdkmath.NewIntFromString(indexed.Amount)
	if !ok {
		return Finding{}, errors.Errorf("unparseable packet amount:%s", indexed.Amount)
	}
	if amount.LTE(r.maxAmount) {
		return Finding{}, nil
	}
	return Finding{
		Detected: true,
		Peer:     indexed.PeerID,
		Rule:     r.Name(),
		Severity: SeverityHigh,
		Details: map[string]any{
			"amount":    amount.String(),
			"maxAmount": r.maxAmount.String(),
		},
	}, nil
}

// slidingCounter counts per-peer occurrences inside a rolling window.
type slidingCounter struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[ilp.PeerID][]time.Time
}

func newSlidingCounter(window time.Duration) *slidingCounter {
	return &slidingCounter{
		window: window,
		now:    time.Now,
		seen:   make(map[ilp.PeerID][]time.Time),
	}
}

// observe records one occurrence and returns the count inside the window.
func (c *slidingCounter) observe(peer ilp.PeerID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-c.window)
	kept := c.seen[peer][:0]
	for _, t := range c.seen[peer] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	c.seen[peer] = kept
	return len(kept)
}

// PacketRateRule flags peers sending packets faster than the ceiling.
type PacketRateRule struct {
	maxPackets int
	counter    *slidingCounter
}

// NewPacketRateRule returns a new PacketRateRule.
func NewPacketRateRule(window time.Duration, maxPackets int) *PacketRateRule {
	return &PacketRateRule{
		maxPackets: maxPackets,
		counter:    newSlidingCounter(window),
	}
}

// Name implements Rule.
func (r *PacketRateRule) Name() string {
	return "packet-rate"
}

// Check implements Rule.
func (r *PacketRateRule) Check(event telemetry.Event) (Finding, error) {
	if event.Type != telemetry.EventTypePacketReceived {
		return Finding{}, nil
	}
	indexed := telemetry.Extract(event)
	if indexed.PeerID == "" {
		return Finding{}, nil
	}
	count := r.counter.observe(indexed.PeerID)
	if count <= r.maxPackets {
		return Finding{}, nil
	}
	return Finding{
		Detected: true,
		Peer:     indexed.PeerID,
		Rule:     r.Name(),
		Severity: SeverityMedium,
		Details: map[string]any{
			"packetsInWindow": count,
			"maxPackets":      r.maxPackets,
		},
	}, nil
}

// RepeatedRejectRule flags peers whose packets keep getting rejected.
type RepeatedRejectRule struct {
	maxRejects int
	counter    *slidingCounter
}

// NewRepeatedRejectRule returns a new RepeatedRejectRule.
func NewRepeatedRejectRule(window time.Duration, maxRejects int) *RepeatedRejectRule {
	return &RepeatedRejectRule{
		maxRejects: maxRejects,
		counter:    newSlidingCounter(window),
	}
}

// Name implements Rule.
func (r *RepeatedRejectRule) Name() string {
	return "repeated-rejects"
}

// Check implements Rule.
func (r *RepeatedRejectRule) Check(event telemetry.Event) (Finding, error) {
	if event.Type != telemetry.EventTypePacketRejected {
		return Finding{}, nil
	}
	indexed := telemetry.Extract(event)
	if indexed.PeerID == "" {
		return Finding{}, nil
	}
	count := r.counter.observe(indexed.PeerID)
	if count <= r.maxRejects {
		return Finding{}, nil
	}
	return Finding{
		Detected: true,
		Peer:     indexed.PeerID,
		Rule:     r.Name(),
		Severity: SeverityMedium,
		Details: map[string]any{
			"rejectsInWindow": count,
			"maxRejects":      r.maxRejects,
		},
	}, nil
}

// WalletMismatchRule escalates reported divergence between the ledger's view
// and the on-chain wallet balance.
type WalletMismatchRule struct{}

// NewWalletMismatchRule returns a new WalletMismatchRule.
func NewWalletMismatchRule() *WalletMismatchRule {
	return &WalletMismatchRule{}
}

// Name implements Rule.
func (r *WalletMismatchRule) Name() string {
	return "wallet-mismatch"
}

// Check implements Rule.
func (r *WalletMismatchRule) Check(event telemetry.Event) (Finding, error) {
	if event.Type != telemetry.EventTypeWalletMismatch {
		return Finding{}, nil
	}
	indexed := telemetry.Extract(event)
	details := map[string]any{}
	for _, key := range []string{"expected", "actual"} {
		if v, ok := event.Fields[key]; ok {
			details[key] = v
		}
	}
	return Finding{
		Detected: true,
		Peer:     indexed.PeerID,
		Rule:     r.Name(),
		Severity: SeverityHigh,
		Details:  details,
	}, nil
}
