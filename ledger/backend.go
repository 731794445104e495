package ledger

import (
	"context"

	sdkmath "cosmossdk.io/math"
)

//go:generate mockgen -destination=backend_mock.go -package=ledger . Backend

// Backend is an external double-entry accounting engine the ledger mirrors
// its mutations to. Pending transfers follow the two-phase transfer model:
// CreatePendingTransfer reserves funds, PostPendingTransfer finalizes the
// reservation and VoidPendingTransfer releases it. CreateTransfer posts a
// single-phase transfer; a negative amount reverses direction.
type Backend interface {
	CreatePendingTransfer(ctx context.Context, transferID, peer, asset string, amount sdkmath.Int) error
	PostPendingTransfer(ctx context.Context, transferID string) error
	VoidPendingTransfer(ctx context.Context, transferID string) error
	CreateTransfer(ctx context.Context, transferID, peer, asset string, amount sdkmath.Int) error
}
