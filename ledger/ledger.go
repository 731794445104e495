package ledger

import (
	"context"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/interledgermesh/connector/ilp"
)

// SettlementState is the per-account settlement state machine state.
// Transitions into Pending are owned by the threshold monitor, transitions
// into InProgress and back to Idle by the settlement engine.
type SettlementState string

// Settlement states.
const (
	SettlementStateIdle       SettlementState = "IDLE"
	SettlementStatePending    SettlementState = "PENDING"
	SettlementStateInProgress SettlementState = "IN_PROGRESS"
)

// Errors returned by the ledger.
var (
	ErrCreditLimitExceeded   = errors.New("credit limit exceeded")
	ErrBackendUnavailable    = errors.New("ledger backend unavailable")
	ErrReservationNotPending = errors.New("reservation is not pending")
)

// AccountKey addresses a bilateral account.
type AccountKey struct {
	Peer  ilp.PeerID
	Asset ilp.AssetID
}

// BalanceSample is one entry of the bounded net-balance history ring.
type BalanceSample struct {
	Time time.Time  `json:"time"`
	Net  sdkmath.Int `json:"net"`
}

// PeerAccount is a snapshot of a bilateral account.
type PeerAccount struct {
	Peer                ilp.PeerID      `json:"peerId"`
	Asset               ilp.AssetID     `json:"assetId"`
	DebitBalance        sdkmath.Int     `json:"debitBalance"`
	CreditBalance       sdkmath.Int     `json:"creditBalance"`
	NetBalance          sdkmath.Int     `json:"netBalance"`
	CreditLimit         *sdkmath.Int    `json:"creditLimit,omitempty"`
	SettlementThreshold *sdkmath.Int    `json:"settlementThreshold,omitempty"`
	SettlementState     SettlementState `json:"settlementState"`
	LastUpdated         time.Time       `json:"lastUpdated"`
	History             []BalanceSample `json:"history,omitempty"`
}

// Reservation is a pending debit produced by Prepare and finished by exactly
// one of Commit or Rollback.
type Reservation struct {
	ID     string
	Peer   ilp.PeerID
	Asset  ilp.AssetID
	Amount sdkmath.Int
}

// AccountLimits are the optional per-account limits applied on first use.
type AccountLimits struct {
	CreditLimit         *sdkmath.Int
	SettlementThreshold *sdkmath.Int
}

// Config is the Ledger config.
type Config struct {
	// HistorySize bounds the per-account net-balance sample ring.
	HistorySize int
}

// DefaultConfig returns the default ledger config.
func DefaultConfig() Config {
	return Config{
		HistorySize: 20,
	}
}

type account struct {
	mu sync.Mutex

	peer  ilp.PeerID
	asset ilp.AssetID

	debit        sdkmath.Int
	credit       sdkmath.Int
	pendingDebit sdkmath.Int

	creditLimit         *sdkmath.Int
	settlementThreshold *sdkmath.Int
	settlementState     SettlementState

	lastUpdated time.Time
	history     []BalanceSample

	reservations map[string]sdkmath.Int
}

// Ledger is the double-entry store of per-(peer,asset) bilateral balances.
// Mutations for one account are serialized by a per-account mutex; accounts
// are independent. When a two-phase Backend is configured every reservation
// is mirrored to it and backend failures fail closed.
type Ledger struct {
	cfg     Config
	backend Backend
	limits  map[AccountKey]AccountLimits

	mu       sync.RWMutex
	accounts map[AccountKey]*account
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithBackend makes the ledger mirror two-phase transfers to an external
// double-entry engine.
func WithBackend(backend Backend) Option {
	return func(l *Ledger) {
		l.backend = backend
	}
}

// WithAccountLimits pre-configures per-account credit limits and settlement
// thresholds, applied when the account is first touched.
func WithAccountLimits(limits map[AccountKey]AccountLimits) Option {
	return func(l *Ledger) {
		l.limits = limits
	}
}

// New returns a new Ledger.
func New(cfg Config, opts ...Option) *Ledger {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	l := &Ledger{
		cfg:      cfg,
		accounts: make(map[AccountKey]*account),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Prepare reserves amount as a pending debit against the peer's account.
// The reservation counts against the credit limit until it is committed or
// rolled back.
func (l *Ledger) Prepare(ctx context.Context, peer ilp.PeerID, asset ilp.AssetID, amount sdkmath.Int) (Reservation, error) {
	if amount.IsNil() || amount.IsNegative() {
		return Reservation{}, errors.Errorf("prepare amount must be non-negative, peer:%s, asset:%s", peer, asset)
	}

	acc := l.account(peer, asset)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if acc.creditLimit != nil {
		// projected net if this and all pending reservations commit
		projected := acc.credit.Sub(acc.debit).Sub(acc.pendingDebit).Sub(amount)
		if projected.LT(acc.creditLimit.Neg()) {
			return Reservation{}, errors.Wrapf(ErrCreditLimitExceeded,
				"peer:%s, asset:%s, amount:%s, creditLimit:%s", peer, asset, amount, acc.creditLimit)
		}
	}

	res := Reservation{
		ID:     uuid.New().String(),
		Peer:   peer,
		Asset:  asset,
		Amount: amount,
	}

	if l.backend != nil {
		if err := l.backend.CreatePendingTransfer(ctx, res.ID, string(peer), string(asset), amount); err != nil {
			// fail closed: no reservation without accounting
			return Reservation{}, errors.Wrapf(ErrBackendUnavailable, "create pending transfer failed: %s", err)
		}
	}

	acc.pendingDebit = acc.pendingDebit.Add(amount)
	acc.reservations[res.ID] = amount
	return res, nil
}

// Commit finalizes the reservation: the pending debit becomes a debit
// balance entry (the peer owes this node the reserved amount).
func (l *Ledger) Commit(ctx context.Context, res Reservation) error {
	acc := l.account(res.Peer, res.Asset)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	amount, ok := acc.reservations[res.ID]
	if !ok {
		return errors.Wrapf(ErrReservationNotPending, "reservation:%s", res.ID)
	}

	if l.backend != nil {
		if err := l.backend.PostPendingTransfer(ctx, res.ID); err != nil {
			return errors.Wrapf(ErrBackendUnavailable, "post pending transfer failed: %s", err)
		}
	}

	delete(acc.reservations, res.ID)
	acc.pendingDebit = acc.pendingDebit.Sub(amount)
	acc.debit = acc.debit.Add(amount)
	l.recordChange(acc)
	return nil
}

// Rollback releases the reservation without touching balances.
func (l *Ledger) Rollback(ctx context.Context, res Reservation) error {
	acc := l.account(res.Peer, res.Asset)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	amount, ok := acc.reservations[res.ID]
	if !ok {
		return errors.Wrapf(ErrReservationNotPending, "reservation:%s", res.ID)
	}

	if l.backend != nil {
		if err := l.backend.VoidPendingTransfer(ctx, res.ID); err != nil {
			return errors.Wrapf(ErrBackendUnavailable, "void pending transfer failed: %s", err)
		}
	}

	delete(acc.reservations, res.ID)
	acc.pendingDebit = acc.pendingDebit.Sub(amount)
	l.recordChange(acc)
	return nil
}

// Credit increases the credit balance (this node owes the peer).
func (l *Ledger) Credit(ctx context.Context, peer ilp.PeerID, asset ilp.AssetID, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return errors.Errorf("credit amount must be non-negative, peer:%s, asset:%s", peer, asset)
	}

	acc := l.account(peer, asset)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if l.backend != nil {
		if err := l.backend.CreateTransfer(ctx, uuid.New().String(), string(peer), string(asset), amount); err != nil {
			return errors.Wrapf(ErrBackendUnavailable, "create transfer failed: %s", err)
		}
	}

	acc.credit = acc.credit.Add(amount)
	l.recordChange(acc)
	return nil
}

// RecordSettlement reduces the outstanding credit balance by the settled
// amount. Called by the settlement engine after a successful settlement.
func (l *Ledger) RecordSettlement(ctx context.Context, peer ilp.PeerID, asset ilp.AssetID, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return errors.Errorf("settlement amount must be non-negative, peer:%s, asset:%s", peer, asset)
	}

	acc := l.account(peer, asset)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if l.backend != nil {
		if err := l.backend.CreateTransfer(ctx, uuid.New().String(), string(peer), string(asset), amount.Neg()); err != nil {
			return errors.Wrapf(ErrBackendUnavailable, "create transfer failed: %s", err)
		}
	}

	acc.credit = acc.credit.Sub(amount)
	l.recordChange(acc)
	return nil
}

// SetSettlementState applies the requested state transition and reports
// whether it was legal from the current state.
func (l *Ledger) SetSettlementState(peer ilp.PeerID, asset ilp.AssetID, from, to SettlementState) bool {
	acc := l.account(peer, asset)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if acc.settlementState != from {
		return false
	}
	acc.settlementState = to
	return true
}

// Snapshot returns the account snapshot if the account exists.
func (l *Ledger) Snapshot(peer ilp.PeerID, asset ilp.AssetID) (PeerAccount, bool) {
	l.mu.RLock()
	acc, ok := l.accounts[AccountKey{Peer: peer, Asset: asset}]
	l.mu.RUnlock()
	if !ok {
		return PeerAccount{}, false
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.snapshot(), true
}

// Snapshots returns snapshots of all accounts.
func (l *Ledger) Snapshots() []PeerAccount {
	l.mu.RLock()
	accounts := make([]*account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		accounts = append(accounts, acc)
	}
	l.mu.RUnlock()

	snapshots := make([]PeerAccount, 0, len(accounts))
	for _, acc := range accounts {
		acc.mu.Lock()
		snapshots = append(snapshots, acc.snapshot())
		acc.mu.Unlock()
	}
	return snapshots
}

func (l *Ledger) account(peer ilp.PeerID, asset ilp.AssetID) *account {
	key := AccountKey{Peer: peer, Asset: asset}

	l.mu.RLock()
	acc, ok := l.accounts[key]
	l.mu.RUnlock()
	if ok {
		return acc
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[key]; ok {
		return acc
	}

	acc = &account{
		peer:            peer,
		asset:           asset,
		debit:           sdkmath.ZeroInt(),
		credit:          sdkmath.ZeroInt(),
		pendingDebit:    sdkmath.ZeroInt(),
		settlementState: SettlementStateIdle,
		lastUpdated:     time.Now(),
		reservations:    make(map[string]sdkmath.Int),
	}
	if limits, ok := l.limits[key]; ok {
		acc.creditLimit = limits.CreditLimit
		acc.settlementThreshold = limits.SettlementThreshold
	}
	l.accounts[key] = acc
	return acc
}

func (l *Ledger) recordChange(acc *account) {
	acc.lastUpdated = time.Now()
	acc.history = append(acc.history, BalanceSample{
		Time: acc.lastUpdated,
		Net:  acc.credit.Sub(acc.debit),
	})
	if len(acc.history) > l.cfg.HistorySize {
		acc.history = acc.history[len(acc.history)-l.cfg.HistorySize:]
	}
}

func (acc *account) snapshot() PeerAccount {
	history := make([]BalanceSample, len(acc.history))
	copy(history, acc.history)
	return PeerAccount{
		Peer:                acc.peer,
		Asset:               acc.asset,
		DebitBalance:        acc.debit,
		CreditBalance:       acc.credit,
		NetBalance:          acc.credit.Sub(acc.debit),
		CreditLimit:         acc.creditLimit,
		SettlementThreshold: acc.settlementThreshold,
		SettlementState:     acc.settlementState,
		LastUpdated:         acc.lastUpdated,
		History:             history,
	}
}
