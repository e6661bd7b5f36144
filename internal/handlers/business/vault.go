package business

import (
	"context"
)

// Vault is the custody collaborator: the asset balance actually held per run
// and the transfers in and out of it. The engine treats it as external; the
// production implementation lives in pkg/solana, tests use an in-memory one.
//
// Every fund-moving operation reads and verifies first, then transfers, then
// updates the ledger rows, so an arithmetic failure can never leave a
// transfer applied without matching ledger state.
type Vault interface {
	// Provision ensures the run's custody account exists and returns its
	// address. Idempotent.
	Provision(ctx context.Context, runID uint64) (string, error)

	// Balance returns the run's current custody balance in base units.
	Balance(ctx context.Context, runID uint64) (uint64, error)

	// TransferIn moves amount from a participant wallet into the run's
	// custody and returns the transaction signature.
	TransferIn(ctx context.Context, runID uint64, from string, amount uint64) (string, error)

	// TransferOut moves amount from the run's custody to a wallet and
	// returns the transaction signature.
	TransferOut(ctx context.Context, runID uint64, to string, amount uint64) (string, error)

	// FeeBalance returns the platform fee account balance.
	FeeBalance(ctx context.Context) (uint64, error)

	// TransferFees moves amount out of the platform fee account.
	TransferFees(ctx context.Context, to string, amount uint64) (string, error)
}
