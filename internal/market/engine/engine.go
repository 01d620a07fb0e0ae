// Package engine implements the listing, purchase, and admin protocols over
// the ledger store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beholdlabs/listings/internal/market/clients"
	"github.com/beholdlabs/listings/internal/market/ledger"
	"github.com/beholdlabs/listings/internal/market/storage"
	apperrors "github.com/beholdlabs/listings/internal/platform/errors"
)

// Receipt describes one settled purchase.
type Receipt struct {
	ID          string
	ItemID      uint64
	Buyer       string
	Amount      uint64
	PurchasedAt time.Time
}

// Engine validates callers and listing state, mutates the ledger, and drives
// settlement against the external collaborators. Every operation either
// commits fully or leaves all state untouched.
type Engine struct {
	store    storage.MarketStore
	registry clients.AssetRegistry
	payments clients.FundsTransmitter

	newReceiptID func() string
	clock        func() time.Time
}

// New creates an engine over the given store and collaborators.
func New(store storage.MarketStore, registry clients.AssetRegistry, payments clients.FundsTransmitter) *Engine {
	return &Engine{
		store:        store,
		registry:     registry,
		payments:     payments,
		newReceiptID: func() string { return uuid.NewString() },
		clock:        time.Now,
	}
}

// GetListing returns the listing for itemID. Ids never written read back as
// the implicit default (price 0, status ACTIVE).
func (e *Engine) GetListing(ctx context.Context, itemID uint64) (ledger.Listing, error) {
	listing, err := e.store.GetListing(ctx, itemID)
	if err != nil {
		return ledger.Listing{}, apperrors.Wrap(apperrors.CodeStorage, "get listing", err)
	}
	return listing, nil
}

// GetListingPrice returns only the price projection of a listing.
func (e *Engine) GetListingPrice(ctx context.Context, itemID uint64) (uint64, error) {
	listing, err := e.GetListing(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return listing.Price, nil
}

// GetListingStatus returns only the status projection of a listing.
func (e *Engine) GetListingStatus(ctx context.Context, itemID uint64) (ledger.Status, error) {
	listing, err := e.GetListing(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return listing.Status, nil
}

// SetListing creates or overwrites a non-executed listing.
func (e *Engine) SetListing(ctx context.Context, caller string, itemID, price uint64, active bool) error {
	if _, err := e.requireManager(ctx, caller); err != nil {
		return err
	}
	status := ledger.StatusInactive
	if active {
		status = ledger.StatusActive
	}
	err := e.store.PutListing(ctx, ledger.Listing{ItemID: itemID, Price: price, Status: status})
	return mapLedgerError(err, "set listing")
}

// SetListingBatch applies SetListing element-wise and atomically.
func (e *Engine) SetListingBatch(ctx context.Context, caller string, itemIDs, prices []uint64, active bool) error {
	if _, err := e.requireManager(ctx, caller); err != nil {
		return err
	}
	if len(itemIDs) == 0 || len(itemIDs) != len(prices) {
		return apperrors.WithMetadata(apperrors.CodeIncorrectConfiguration,
			"batch item ids and prices must be non-empty and of equal length",
			map[string]string{
				"item_ids": strconv.Itoa(len(itemIDs)),
				"prices":   strconv.Itoa(len(prices)),
			})
	}
	status := ledger.StatusInactive
	if active {
		status = ledger.StatusActive
	}
	batch := make([]ledger.Listing, 0, len(itemIDs))
	for i, itemID := range itemIDs {
		batch = append(batch, ledger.Listing{ItemID: itemID, Price: prices[i], Status: status})
	}
	return mapLedgerError(e.store.PutListingBatch(ctx, batch), "set listing batch")
}

// SetListingPrice updates the price of a non-executed listing.
func (e *Engine) SetListingPrice(ctx context.Context, caller string, itemID, price uint64) error {
	if _, err := e.requireManager(ctx, caller); err != nil {
		return err
	}
	return mapLedgerError(e.store.SetListingPrice(ctx, itemID, price), "set listing price")
}

// ToggleListingStatus flips a non-executed listing between ACTIVE and
// INACTIVE and returns the new status.
func (e *Engine) ToggleListingStatus(ctx context.Context, caller string, itemID uint64) (ledger.Status, error) {
	if _, err := e.requireManager(ctx, caller); err != nil {
		return 0, err
	}
	status, err := e.store.ToggleListingStatus(ctx, itemID)
	if err != nil {
		return 0, mapLedgerError(err, "toggle listing status")
	}
	return status, nil
}

// Purchase settles a sale: it validates buyer and payment, flips the listing
// to EXECUTED, accrues the payment to the pooled balance, and instructs the
// asset registry to move the item to the buyer. Registry failure aborts the
// whole purchase.
func (e *Engine) Purchase(ctx context.Context, buyer string, itemID, payment uint64) (Receipt, error) {
	buyer = strings.TrimSpace(buyer)
	if buyer == "" {
		return Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, "buyer identity is required")
	}
	roles, err := e.roles(ctx)
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		ID:          e.newReceiptID(),
		ItemID:      itemID,
		Buyer:       buyer,
		Amount:      payment,
		PurchasedAt: e.clock().UTC(),
	}
	err = e.store.ExecutePurchase(ctx, storage.Purchase{
		ReceiptID: receipt.ID,
		ItemID:    itemID,
		Buyer:     buyer,
		Amount:    payment,
		CreatedAt: receipt.PurchasedAt,
	}, func(ctx context.Context) error {
		if err := e.registry.TransferItem(ctx, itemID, roles.ItemOwner, buyer); err != nil {
			return apperrors.Wrap(apperrors.CodeAssetTransferFailed, "asset transfer failed", err)
		}
		return nil
	})
	if err != nil {
		return Receipt{}, mapLedgerError(err, "purchase")
	}
	return receipt, nil
}

// Receipts lists settled purchases for one item, oldest first.
func (e *Engine) Receipts(ctx context.Context, itemID uint64) ([]Receipt, error) {
	purchases, err := e.store.ListPurchases(ctx, itemID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorage, "list receipts", err)
	}
	receipts := make([]Receipt, 0, len(purchases))
	for _, p := range purchases {
		receipts = append(receipts, Receipt{
			ID:          p.ReceiptID,
			ItemID:      p.ItemID,
			Buyer:       p.Buyer,
			Amount:      p.Amount,
			PurchasedAt: p.CreatedAt,
		})
	}
	return receipts, nil
}

// SetTokenOwnerAddress updates the item-owner identity.
func (e *Engine) SetTokenOwnerAddress(ctx context.Context, caller, addr string) error {
	if err := e.requireOwner(ctx, caller); err != nil {
		return err
	}
	if err := validAddress(addr); err != nil {
		return err
	}
	return mapLedgerError(e.store.SetItemOwner(ctx, addr), "set token owner address")
}

// SetPayoutAddress updates the payout identity.
func (e *Engine) SetPayoutAddress(ctx context.Context, caller, addr string) error {
	if err := e.requireOwner(ctx, caller); err != nil {
		return err
	}
	if err := validAddress(addr); err != nil {
		return err
	}
	return mapLedgerError(e.store.SetPayout(ctx, addr), "set payout address")
}

// TransferOwnership reassigns the owner role in a single step.
func (e *Engine) TransferOwnership(ctx context.Context, caller, addr string) error {
	if err := e.requireOwner(ctx, caller); err != nil {
		return err
	}
	if err := validAddress(addr); err != nil {
		return err
	}
	return mapLedgerError(e.store.SetOwner(ctx, addr), "transfer ownership")
}

// Withdraw drains the entire pooled balance to the payout identity and
// returns the amount moved. A rejected outbound transfer fails the call and
// restores the balance.
func (e *Engine) Withdraw(ctx context.Context, caller string) (uint64, error) {
	if err := e.requireOwner(ctx, caller); err != nil {
		return 0, err
	}
	roles, err := e.roles(ctx)
	if err != nil {
		return 0, err
	}
	amount, err := e.store.DrainBalance(ctx, func(ctx context.Context, amount uint64) error {
		if err := e.payments.Transfer(ctx, roles.Payout, amount); err != nil {
			return apperrors.Wrap(apperrors.CodePayoutFailed, "payout transfer failed", err)
		}
		return nil
	})
	if err != nil {
		return 0, mapLedgerError(err, "withdraw")
	}
	return amount, nil
}

// Roles returns the engine's administrative identities.
func (e *Engine) Roles(ctx context.Context) (ledger.Roles, error) {
	return e.roles(ctx)
}

// Balance returns the pooled engine balance.
func (e *Engine) Balance(ctx context.Context) (uint64, error) {
	balance, err := e.store.Balance(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorage, "read balance", err)
	}
	return balance, nil
}

func (e *Engine) roles(ctx context.Context) (ledger.Roles, error) {
	roles, err := e.store.Roles(ctx)
	if err != nil {
		return ledger.Roles{}, apperrors.Wrap(apperrors.CodeStorage, "read roles", err)
	}
	return roles, nil
}

// requireManager is the single authorization gate for listing management:
// the caller must hold the owner or item-owner role.
func (e *Engine) requireManager(ctx context.Context, caller string) (ledger.Roles, error) {
	roles, err := e.roles(ctx)
	if err != nil {
		return ledger.Roles{}, err
	}
	if !roles.Manages(caller) {
		return ledger.Roles{}, apperrors.New(apperrors.CodeNotAuthorized, "caller may not manage listings")
	}
	return roles, nil
}

// requireOwner is the single authorization gate for the admin protocol.
func (e *Engine) requireOwner(ctx context.Context, caller string) error {
	roles, err := e.roles(ctx)
	if err != nil {
		return err
	}
	if !roles.Owns(caller) {
		return apperrors.New(apperrors.CodeNotAuthorized, "caller is not the owner")
	}
	return nil
}

func validAddress(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "address is required")
	}
	return nil
}

// mapLedgerError translates storage sentinels to coded domain errors. Errors
// that already carry a code pass through unchanged.
func mapLedgerError(err error, op string) error {
	if err == nil {
		return nil
	}
	var coded *apperrors.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, storage.ErrListingExecuted):
		return apperrors.New(apperrors.CodeListingExecuted, "listing is executed")
	case errors.Is(err, storage.ErrListingInactive):
		return apperrors.New(apperrors.CodeListingInactive, "listing is inactive")
	}
	var mismatch *storage.PaymentMismatchError
	if errors.As(err, &mismatch) {
		return apperrors.WithMetadata(apperrors.CodeIncorrectPaymentAmount,
			mismatch.Error(),
			map[string]string{
				"expected": strconv.FormatUint(mismatch.Expected, 10),
				"actual":   strconv.FormatUint(mismatch.Actual, 10),
			})
	}
	return apperrors.Wrap(apperrors.CodeStorage, fmt.Sprintf("%s failed", op), err)
}
