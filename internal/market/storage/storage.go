// Package storage defines persistence contracts for the listing ledger.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beholdlabs/listings/internal/market/ledger"
)

var (
	// ErrListingExecuted indicates an attempted mutation or purchase of a
	// terminal listing.
	ErrListingExecuted = errors.New("listing is executed")
	// ErrListingInactive indicates an attempted purchase of a listing that is
	// not currently active.
	ErrListingInactive = errors.New("listing is inactive")
	// ErrRolesNotSeeded indicates the role row has not been written yet.
	ErrRolesNotSeeded = errors.New("roles are not seeded")
)

// PaymentMismatchError reports a purchase whose attached payment did not
// exactly match the listing price.
type PaymentMismatchError struct {
	Expected uint64
	Actual   uint64
}

// Error implements the error interface.
func (e *PaymentMismatchError) Error() string {
	return fmt.Sprintf("incorrect payment amount: expected %d, got %d", e.Expected, e.Actual)
}

// Purchase is one settled sale recorded alongside the ledger mutation.
type Purchase struct {
	ReceiptID string
	ItemID    uint64
	Buyer     string
	Amount    uint64
	CreatedAt time.Time
}

// SettleFunc runs inside the purchase or drain transaction. Returning an
// error rolls the whole transaction back.
type SettleFunc func(ctx context.Context) error

// PayFunc receives the drained amount inside the withdraw transaction.
type PayFunc func(ctx context.Context, amount uint64) error

// MarketStore persists listing, role, and balance state.
//
// Reads of ids that were never written return the zero listing (price 0,
// status ACTIVE); the ledger keeps the original implicit-default behavior and
// offers no presence detection.
type MarketStore interface {
	GetListing(ctx context.Context, itemID uint64) (ledger.Listing, error)
	PutListing(ctx context.Context, listing ledger.Listing) error
	PutListingBatch(ctx context.Context, listings []ledger.Listing) error
	SetListingPrice(ctx context.Context, itemID, price uint64) error
	ToggleListingStatus(ctx context.Context, itemID uint64) (ledger.Status, error)

	// ExecutePurchase validates and settles one sale atomically: the status
	// flip to EXECUTED, the balance accrual, the receipt row, and the settle
	// callback all commit together or not at all.
	ExecutePurchase(ctx context.Context, purchase Purchase, settle SettleFunc) error
	ListPurchases(ctx context.Context, itemID uint64) ([]Purchase, error)

	Roles(ctx context.Context) (ledger.Roles, error)
	SeedRoles(ctx context.Context, roles ledger.Roles) error
	SetOwner(ctx context.Context, addr string) error
	SetItemOwner(ctx context.Context, addr string) error
	SetPayout(ctx context.Context, addr string) error

	Balance(ctx context.Context) (uint64, error)
	// DrainBalance zeroes the pooled balance and hands the drained amount to
	// pay inside the same transaction; a pay failure restores the balance.
	DrainBalance(ctx context.Context, pay PayFunc) (uint64, error)
}
