// Package sqlite provides a SQLite-backed market storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/beholdlabs/listings/internal/market/ledger"
	"github.com/beholdlabs/listings/internal/market/storage"
	"github.com/beholdlabs/listings/internal/market/storage/sqlite/migrations"
	sqlitemigrate "github.com/beholdlabs/listings/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// Store persists ledger state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite market store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// readListing loads one listing through q, mapping an absent row to the zero
// listing (price 0, status ACTIVE). The implicit default is load-bearing: the
// rest of the store must never treat absence as an error.
func readListing(ctx context.Context, q rowQuerier, itemID uint64) (ledger.Listing, error) {
	row := q.QueryRowContext(
		ctx,
		`SELECT price, status FROM listings WHERE item_id = ?`,
		int64(itemID),
	)
	var price, status int64
	if err := row.Scan(&price, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Listing{ItemID: itemID, Price: 0, Status: ledger.StatusActive}, nil
		}
		return ledger.Listing{}, fmt.Errorf("read listing %d: %w", itemID, err)
	}
	return ledger.Listing{ItemID: itemID, Price: uint64(price), Status: ledger.Status(status)}, nil
}

func upsertListing(ctx context.Context, tx *sql.Tx, listing ledger.Listing, now time.Time) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO listings (item_id, price, status, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (item_id) DO UPDATE SET
		   price = excluded.price,
		   status = excluded.status,
		   updated_at = excluded.updated_at`,
		int64(listing.ItemID),
		int64(listing.Price),
		int64(listing.Status),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("write listing %d: %w", listing.ItemID, err)
	}
	return nil
}

// GetListing returns one listing by item id without requiring presence.
func (s *Store) GetListing(ctx context.Context, itemID uint64) (ledger.Listing, error) {
	if err := s.ready(ctx); err != nil {
		return ledger.Listing{}, err
	}
	return readListing(ctx, s.sqlDB, itemID)
}

// PutListing writes one listing, overwriting any prior non-executed record.
func (s *Store) PutListing(ctx context.Context, listing ledger.Listing) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if !listing.Status.Valid() {
		return fmt.Errorf("invalid listing status %d", listing.Status)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := readListing(ctx, tx, listing.ItemID)
		if err != nil {
			return err
		}
		if current.Status == ledger.StatusExecuted {
			return storage.ErrListingExecuted
		}
		return upsertListing(ctx, tx, listing, time.Now())
	})
}

// PutListingBatch writes all listings or none of them.
func (s *Store) PutListingBatch(ctx context.Context, listings []ledger.Listing) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if len(listings) == 0 {
		return fmt.Errorf("batch is empty")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		for _, listing := range listings {
			if !listing.Status.Valid() {
				return fmt.Errorf("invalid listing status %d", listing.Status)
			}
			current, err := readListing(ctx, tx, listing.ItemID)
			if err != nil {
				return err
			}
			if current.Status == ledger.StatusExecuted {
				return storage.ErrListingExecuted
			}
			if err := upsertListing(ctx, tx, listing, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetListingPrice updates the price of a non-executed listing, leaving its
// status untouched.
func (s *Store) SetListingPrice(ctx context.Context, itemID, price uint64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := readListing(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if current.Status == ledger.StatusExecuted {
			return storage.ErrListingExecuted
		}
		current.Price = price
		return upsertListing(ctx, tx, current, time.Now())
	})
}

// ToggleListingStatus flips a non-executed listing between ACTIVE and
// INACTIVE and returns the new status.
func (s *Store) ToggleListingStatus(ctx context.Context, itemID uint64) (ledger.Status, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var next ledger.Status
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := readListing(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if current.Status == ledger.StatusExecuted {
			return storage.ErrListingExecuted
		}
		if current.Status == ledger.StatusActive {
			current.Status = ledger.StatusInactive
		} else {
			current.Status = ledger.StatusActive
		}
		next = current.Status
		return upsertListing(ctx, tx, current, time.Now())
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// ExecutePurchase settles one sale. The status flip, balance accrual, receipt
// row, and settle callback commit atomically; any failure rolls everything
// back, leaving the listing purchasable again.
func (s *Store) ExecutePurchase(ctx context.Context, purchase storage.Purchase, settle storage.SettleFunc) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(purchase.ReceiptID) == "" {
		return fmt.Errorf("receipt id is required")
	}
	if strings.TrimSpace(purchase.Buyer) == "" {
		return fmt.Errorf("buyer is required")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := readListing(ctx, tx, purchase.ItemID)
		if err != nil {
			return err
		}
		if current.Status == ledger.StatusExecuted {
			return storage.ErrListingExecuted
		}
		if current.Status == ledger.StatusInactive {
			return storage.ErrListingInactive
		}
		if purchase.Amount != current.Price {
			return &storage.PaymentMismatchError{Expected: current.Price, Actual: purchase.Amount}
		}

		now := purchase.CreatedAt
		if now.IsZero() {
			now = time.Now().UTC()
		}
		current.Status = ledger.StatusExecuted
		if err := upsertListing(ctx, tx, current, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE engine_balance SET amount = amount + ?, updated_at = ? WHERE id = 1`,
			int64(purchase.Amount),
			toMillis(now),
		); err != nil {
			return fmt.Errorf("accrue balance: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO purchases (receipt_id, item_id, buyer, amount, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			purchase.ReceiptID,
			int64(purchase.ItemID),
			purchase.Buyer,
			int64(purchase.Amount),
			toMillis(now),
		); err != nil {
			return fmt.Errorf("record purchase: %w", err)
		}
		if settle != nil {
			if err := settle(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListPurchases returns settled purchases for one item, oldest first.
func (s *Store) ListPurchases(ctx context.Context, itemID uint64) ([]storage.Purchase, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT receipt_id, item_id, buyer, amount, created_at
		   FROM purchases
		  WHERE item_id = ?
		  ORDER BY created_at ASC, receipt_id ASC`,
		int64(itemID),
	)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []storage.Purchase
	for rows.Next() {
		var p storage.Purchase
		var id, amount, createdAt int64
		if err := rows.Scan(&p.ReceiptID, &id, &p.Buyer, &amount, &createdAt); err != nil {
			return nil, fmt.Errorf("list purchases: %w", err)
		}
		p.ItemID = uint64(id)
		p.Amount = uint64(amount)
		p.CreatedAt = fromMillis(createdAt)
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return purchases, nil
}

// Roles returns the administrative identities.
func (s *Store) Roles(ctx context.Context) (ledger.Roles, error) {
	if err := s.ready(ctx); err != nil {
		return ledger.Roles{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT owner, item_owner, payout FROM roles WHERE id = 1`)
	var roles ledger.Roles
	if err := row.Scan(&roles.Owner, &roles.ItemOwner, &roles.Payout); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Roles{}, storage.ErrRolesNotSeeded
		}
		return ledger.Roles{}, fmt.Errorf("read roles: %w", err)
	}
	return roles, nil
}

// SeedRoles writes the role row once; an already-seeded store is left as-is.
func (s *Store) SeedRoles(ctx context.Context, roles ledger.Roles) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(roles.Owner) == "" {
		return fmt.Errorf("owner is required")
	}
	if strings.TrimSpace(roles.ItemOwner) == "" {
		return fmt.Errorf("item owner is required")
	}
	if strings.TrimSpace(roles.Payout) == "" {
		roles.Payout = roles.ItemOwner
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO roles (id, owner, item_owner, payout, updated_at)
		 VALUES (1, ?, ?, ?, ?)`,
		roles.Owner,
		roles.ItemOwner,
		roles.Payout,
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	return nil
}

func (s *Store) updateRole(ctx context.Context, column, addr string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("address is required")
	}
	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE roles SET `+column+` = ?, updated_at = ? WHERE id = 1`,
		addr,
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	if affected == 0 {
		return storage.ErrRolesNotSeeded
	}
	return nil
}

// SetOwner reassigns the owner role.
func (s *Store) SetOwner(ctx context.Context, addr string) error {
	return s.updateRole(ctx, "owner", addr)
}

// SetItemOwner reassigns the item-owner role.
func (s *Store) SetItemOwner(ctx context.Context, addr string) error {
	return s.updateRole(ctx, "item_owner", addr)
}

// SetPayout reassigns the payout identity.
func (s *Store) SetPayout(ctx context.Context, addr string) error {
	return s.updateRole(ctx, "payout", addr)
}

// Balance returns the pooled engine balance.
func (s *Store) Balance(ctx context.Context) (uint64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT amount FROM engine_balance WHERE id = 1`)
	var amount int64
	if err := row.Scan(&amount); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return uint64(amount), nil
}

// DrainBalance zeroes the pooled balance and hands the drained amount to pay
// inside the same transaction. A pay failure restores the balance.
func (s *Store) DrainBalance(ctx context.Context, pay storage.PayFunc) (uint64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	if pay == nil {
		return 0, fmt.Errorf("pay func is required")
	}
	var drained uint64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT amount FROM engine_balance WHERE id = 1`)
		var amount int64
		if err := row.Scan(&amount); err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE engine_balance SET amount = 0, updated_at = ? WHERE id = 1`,
			toMillis(time.Now()),
		); err != nil {
			return fmt.Errorf("zero balance: %w", err)
		}
		drained = uint64(amount)
		return pay(ctx, drained)
	})
	if err != nil {
		return 0, err
	}
	return drained, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

var _ storage.MarketStore = (*Store)(nil)
