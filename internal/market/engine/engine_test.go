package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/beholdlabs/listings/internal/market/ledger"
	"github.com/beholdlabs/listings/internal/market/storage/sqlite"
	apperrors "github.com/beholdlabs/listings/internal/platform/errors"
)

const (
	deployer = "0xdeployer"
	minter   = "0xminter"
	customer = "0xcustomer"
	treasury = "0xtreasury"
)

type itemTransfer struct {
	itemID   uint64
	from, to string
}

type fakeRegistry struct {
	err       error
	transfers []itemTransfer
}

func (f *fakeRegistry) TransferItem(ctx context.Context, itemID uint64, from, to string) error {
	if f.err != nil {
		return f.err
	}
	f.transfers = append(f.transfers, itemTransfer{itemID: itemID, from: from, to: to})
	return nil
}

type fundsTransfer struct {
	to     string
	amount uint64
}

type fakePayments struct {
	err       error
	transfers []fundsTransfer
}

func (f *fakePayments) Transfer(ctx context.Context, to string, amount uint64) error {
	if f.err != nil {
		return f.err
	}
	f.transfers = append(f.transfers, fundsTransfer{to: to, amount: amount})
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeRegistry, *fakePayments) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "market.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	if err := store.SeedRoles(context.Background(), ledger.Roles{Owner: deployer, ItemOwner: minter}); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	registry := &fakeRegistry{}
	payments := &fakePayments{}
	return New(store, registry, payments), registry, payments
}

func wantCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	if got := apperrors.CodeOf(err); got != code {
		t.Fatalf("error = %v (code %s), want code %s", err, got, code)
	}
}

func batchFixture() (ids, prices []uint64) {
	for i := uint64(1); i <= 20; i++ {
		ids = append(ids, i)
		prices = append(prices, i)
	}
	return ids, prices
}

func TestRolesSeededAtDeployment(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	roles, err := eng.Roles(context.Background())
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	want := ledger.Roles{Owner: deployer, ItemOwner: minter, Payout: minter}
	if roles != want {
		t.Fatalf("roles = %+v, want %+v", roles, want)
	}
}

func TestGetListingDefaultsToZeroActive(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	listing, err := eng.GetListing(context.Background(), 404)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if listing.Price != 0 || listing.Status != ledger.StatusActive {
		t.Fatalf("expected (0, ACTIVE) default, got (%d, %v)", listing.Price, listing.Status)
	}
}

func TestSetListingByOwnerAndItemOwner(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	if err := eng.SetListing(context.Background(), deployer, 1, 10, true); err != nil {
		t.Fatalf("owner set listing: %v", err)
	}
	if err := eng.SetListing(context.Background(), minter, 2, 20, false); err != nil {
		t.Fatalf("item owner set listing: %v", err)
	}

	listing, err := eng.GetListing(context.Background(), 1)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if listing.Price != 10 || listing.Status != ledger.StatusActive {
		t.Fatalf("expected (10, ACTIVE), got (%d, %v)", listing.Price, listing.Status)
	}
	status, err := eng.GetListingStatus(context.Background(), 2)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status != ledger.StatusInactive {
		t.Fatalf("expected INACTIVE, got %v", status)
	}
}

func TestSetListingRejectsPublicCallers(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	wantCode(t, eng.SetListing(context.Background(), customer, 1, 10, true), apperrors.CodeNotAuthorized)

	ids, prices := batchFixture()
	wantCode(t, eng.SetListingBatch(context.Background(), customer, ids, prices, true), apperrors.CodeNotAuthorized)
	wantCode(t, eng.SetListingPrice(context.Background(), customer, 1, 10), apperrors.CodeNotAuthorized)
	_, err := eng.ToggleListingStatus(context.Background(), customer, 1)
	wantCode(t, err, apperrors.CodeNotAuthorized)
}

func TestSetListingBatchCreatesAllListings(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	ids, prices := batchFixture()
	if err := eng.SetListingBatch(context.Background(), deployer, ids, prices, true); err != nil {
		t.Fatalf("set listing batch: %v", err)
	}
	for i := uint64(1); i <= 20; i++ {
		listing, err := eng.GetListing(context.Background(), i)
		if err != nil {
			t.Fatalf("get listing %d: %v", i, err)
		}
		if listing.Price != i || listing.Status != ledger.StatusActive {
			t.Fatalf("listing %d = %+v, want price %d ACTIVE", i, listing, i)
		}
	}
}

func TestSetListingBatchRejectsMismatchedLengths(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	ids, prices := batchFixture()
	err := eng.SetListingBatch(context.Background(), deployer, ids, prices[:10], true)
	wantCode(t, err, apperrors.CodeIncorrectConfiguration)

	err = eng.SetListingBatch(context.Background(), deployer, nil, nil, true)
	wantCode(t, err, apperrors.CodeIncorrectConfiguration)

	// All twenty ids must be untouched after the failed batch.
	for i := uint64(1); i <= 20; i++ {
		listing, err := eng.GetListing(context.Background(), i)
		if err != nil {
			t.Fatalf("get listing %d: %v", i, err)
		}
		if listing.Price != 0 || listing.Status != ledger.StatusActive {
			t.Fatalf("listing %d mutated by failed batch: %+v", i, listing)
		}
	}
}

func TestSetListingPriceUpdatesOnlyPrice(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	ids, prices := batchFixture()
	if err := eng.SetListingBatch(context.Background(), deployer, ids, prices, true); err != nil {
		t.Fatalf("set listing batch: %v", err)
	}
	if err := eng.SetListingPrice(context.Background(), deployer, 1, 10); err != nil {
		t.Fatalf("set listing price: %v", err)
	}
	price, err := eng.GetListingPrice(context.Background(), 1)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price != 10 {
		t.Fatalf("expected price 10, got %d", price)
	}
	status, err := eng.GetListingStatus(context.Background(), 1)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status != ledger.StatusActive {
		t.Fatalf("expected status unchanged, got %v", status)
	}
}

func TestToggleListingStatusRoundTrip(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	if err := eng.SetListing(context.Background(), deployer, 1, 10, true); err != nil {
		t.Fatalf("set listing: %v", err)
	}
	status, err := eng.ToggleListingStatus(context.Background(), deployer, 1)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if status != ledger.StatusInactive {
		t.Fatalf("expected INACTIVE, got %v", status)
	}
	status, err = eng.ToggleListingStatus(context.Background(), deployer, 1)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if status != ledger.StatusActive {
		t.Fatalf("expected ACTIVE, got %v", status)
	}
}

func TestPurchaseSettlesListing(t *testing.T) {
	eng, registry, _ := newTestEngine(t)

	if err := eng.SetListing(context.Background(), deployer, 1, 10, true); err != nil {
		t.Fatalf("set listing: %v", err)
	}
	receipt, err := eng.Purchase(context.Background(), customer, 1, 10)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.ID == "" {
		t.Fatal("expected a receipt id")
	}
	if receipt.ItemID != 1 || receipt.Buyer != customer || receipt.Amount != 10 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	status, err := eng.GetListingStatus(context.Background(), 1)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status != ledger.StatusExecuted {
		t.Fatalf("expected EXECUTED, got %v", status)
	}
	balance, err := eng.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected pooled balance 10, got %d", balance)
	}
	if len(registry.transfers) != 1 {
		t.Fatalf("expected one registry transfer, got %d", len(registry.transfers))
	}
	if got := registry.transfers[0]; got.itemID != 1 || got.from != minter || got.to != customer {
		t.Fatalf("unexpected registry transfer: %+v", got)
	}

	receipts, err := eng.Receipts(context.Background(), 1)
	if err != nil {
		t.Fatalf("receipts: %v", err)
	}
	if len(receipts) != 1 || receipts[0].ID != receipt.ID {
		t.Fatalf("unexpected receipts: %+v", receipts)
	}
}

func TestPurchaseRejectsWrongPayment(t *testing.T) {
	eng, registry, _ := newTestEngine(t)

	if err := eng.SetListing(context.Background(), deployer, 1, 10, true); err != nil {
		t.Fatalf("set listing: %v", err)
	}
	for _, payment := range []uint64{5, 15} {
		_, err := eng.Purchase(context.Background(), customer, 1, payment)
		wantCode(t, err, apperrors.CodeIncorrectPaymentAmount)
		var coded *apperrors.Error
		if !errors.As(err, &coded) {
			t.Fatalf("expected coded error, got %v", err)
		}
		if coded.Metadata["expected"] != "10" {
			t.Fatalf("expected metadata expected=10, got %v", coded.Metadata)
		}
	}
	if len(registry.transfers) != 0 {
		t.Fatal("failed purchases must not reach the registry")
	}
	balance, err := eng.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected untouched balance, got %d", balance)
	}
}

func TestPurchaseGuards(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	if err := eng.SetListing(context.Background(), deployer, 1, 10, false); err != nil {
		t.Fatalf("set inactive listing: %v", err)
	}
	_, err := eng.Purchase(context.Background(), customer, 1, 10)
	wantCode(t, err, apperrors.CodeListingInactive)

	if err := eng.SetListing(context.Background(), deployer, 2, 5, true); err != nil {
		t.Fatalf("set listing: %v", err)
	}
	if _, err := eng.Purchase(context.Background(), customer, 2, 5); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	_, err = eng.Purchase(context.Background(), customer, 2, 5)
	wantCode(t, err, apperrors.CodeListingExecuted)

	_, err = eng.Purchase(context.Background(), "", 2, 5)
	wantCode(t, err, apperrors.CodeInvalidArgument)
}

func TestPurchaseAbortsWhenRegistryFails(t *testing.T) {
	eng, registry, _ := newTestEngine(t)
	registry.err = errors.New("custody service down")

	if err := eng.SetListing(context.Background(), deployer, 1, 10, true); err != nil {
		t.Fatalf("set listing: %v", err)
	}
	_, err := eng.Purchase(context.Background(), customer, 1, 10)
	wantCode(t, err, apperrors.CodeAssetTransferFailed)

	// The status flip and balance accrual must have rolled back, so the
	// listing remains purchasable.
	status, err := eng.GetListingStatus(context.Background(), 1)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status != ledger.StatusActive {
		t.Fatalf("expected rollback to ACTIVE, got %v", status)
	}
	balance, err := eng.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected balance 0 after rollback, got %d", balance)
	}

	registry.err = nil
	if _, err := eng.Purchase(context.Background(), customer, 1, 10); err != nil {
		t.Fatalf("purchase after registry recovery: %v", err)
	}
}

func TestExecutedListingsRejectAllMutation(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	if err := eng.SetListing(context.Background(), deployer, 1, 10, true); err != nil {
		t.Fatalf("set listing: %v", err)
	}
	if _, err := eng.Purchase(context.Background(), customer, 1, 10); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	wantCode(t, eng.SetListing(context.Background(), deployer, 1, 5, true), apperrors.CodeListingExecuted)
	wantCode(t, eng.SetListingPrice(context.Background(), deployer, 1, 5), apperrors.CodeListingExecuted)
	_, err := eng.ToggleListingStatus(context.Background(), deployer, 1)
	wantCode(t, err, apperrors.CodeListingExecuted)

	ids, prices := batchFixture()
	wantCode(t, eng.SetListingBatch(context.Background(), deployer, ids, prices, true), apperrors.CodeListingExecuted)

	// Failed mutations leave the executed listing intact.
	listing, err := eng.GetListing(context.Background(), 1)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if listing.Price != 10 || listing.Status != ledger.StatusExecuted {
		t.Fatalf("executed listing mutated: %+v", listing)
	}
}

func TestAdminRoleUpdates(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	wantCode(t, eng.SetTokenOwnerAddress(context.Background(), minter, deployer), apperrors.CodeNotAuthorized)
	wantCode(t, eng.SetPayoutAddress(context.Background(), customer, treasury), apperrors.CodeNotAuthorized)
	wantCode(t, eng.TransferOwnership(context.Background(), customer, customer), apperrors.CodeNotAuthorized)

	if err := eng.SetTokenOwnerAddress(context.Background(), deployer, "0xnewminter"); err != nil {
		t.Fatalf("set token owner address: %v", err)
	}
	if err := eng.SetPayoutAddress(context.Background(), deployer, treasury); err != nil {
		t.Fatalf("set payout address: %v", err)
	}
	if err := eng.TransferOwnership(context.Background(), deployer, minter); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}

	roles, err := eng.Roles(context.Background())
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	want := ledger.Roles{Owner: minter, ItemOwner: "0xnewminter", Payout: treasury}
	if roles != want {
		t.Fatalf("roles = %+v, want %+v", roles, want)
	}

	// Ownership transfer is single-step: the previous owner is locked out.
	wantCode(t, eng.TransferOwnership(context.Background(), deployer, deployer), apperrors.CodeNotAuthorized)
}

func TestWithdrawDrainsToPayout(t *testing.T) {
	eng, _, payments := newTestEngine(t)

	if err := eng.SetPayoutAddress(context.Background(), deployer, treasury); err != nil {
		t.Fatalf("set payout address: %v", err)
	}
	if err := eng.SetListing(context.Background(), deployer, 1, 10, true); err != nil {
		t.Fatalf("set listing: %v", err)
	}
	if _, err := eng.Purchase(context.Background(), customer, 1, 10); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	_, err := eng.Withdraw(context.Background(), customer)
	wantCode(t, err, apperrors.CodeNotAuthorized)

	amount, err := eng.Withdraw(context.Background(), deployer)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount != 10 {
		t.Fatalf("expected withdrawal of 10, got %d", amount)
	}
	if len(payments.transfers) != 1 {
		t.Fatalf("expected one payout transfer, got %d", len(payments.transfers))
	}
	if got := payments.transfers[0]; got.to != treasury || got.amount != 10 {
		t.Fatalf("unexpected payout transfer: %+v", got)
	}
	balance, err := eng.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected pooled balance reset to 0, got %d", balance)
	}
}

func TestWithdrawAbortsWhenPayoutFails(t *testing.T) {
	eng, _, payments := newTestEngine(t)

	if err := eng.SetListing(context.Background(), deployer, 1, 10, true); err != nil {
		t.Fatalf("set listing: %v", err)
	}
	if _, err := eng.Purchase(context.Background(), customer, 1, 10); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	payments.err = errors.New("recipient rejected funds")
	_, err := eng.Withdraw(context.Background(), deployer)
	wantCode(t, err, apperrors.CodePayoutFailed)

	balance, err := eng.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected balance restored after failed withdraw, got %d", balance)
	}
}
