// Package ledger defines the listing state model shared across the engine.
package ledger

import "fmt"

// Status is the life-cycle state of a listing. The ordinal values are part of
// the persisted format and must not be reordered.
type Status int32

const (
	// StatusActive marks a listing open for purchase.
	StatusActive Status = 0
	// StatusInactive marks a listing visible but not purchasable.
	StatusInactive Status = 1
	// StatusExecuted marks a sold listing. Executed is terminal: no mutation
	// of any kind is permitted afterwards.
	StatusExecuted Status = 2
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusInactive:
		return "INACTIVE"
	case StatusExecuted:
		return "EXECUTED"
	default:
		return fmt.Sprintf("STATUS(%d)", int32(s))
	}
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusExecuted:
		return true
	}
	return false
}

// Listing is one sell offer for a single item unit.
//
// The ledger has no presence flag: an id that was never written reads back as
// the zero listing (price 0, status ACTIVE). Callers cannot distinguish that
// default from an explicitly written zero-price active listing.
type Listing struct {
	ItemID uint64
	Price  uint64 // smallest unit of the settlement currency
	Status Status
}

// Roles holds the engine's administrative identities.
type Roles struct {
	// Owner has full administrative control. Seeded to the deploying
	// identity.
	Owner string
	// ItemOwner is the identity whose items are listed and the custody
	// source for purchase transfers. Also authorized to manage listings.
	ItemOwner string
	// Payout receives withdrawn funds. Seeded from ItemOwner.
	Payout string
}

// Manages reports whether addr may create or mutate listings.
func (r Roles) Manages(addr string) bool {
	if addr == "" {
		return false
	}
	return addr == r.Owner || addr == r.ItemOwner
}

// Owns reports whether addr holds the owner role.
func (r Roles) Owns(addr string) bool {
	return addr != "" && addr == r.Owner
}
