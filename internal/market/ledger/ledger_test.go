package ledger

import "testing"

func TestStatusString(t *testing.T) {
	cases := []struct {
		status Status
		want   string
	}{
		{StatusActive, "ACTIVE"},
		{StatusInactive, "INACTIVE"},
		{StatusExecuted, "EXECUTED"},
		{Status(9), "STATUS(9)"},
	}
	for _, tc := range cases {
		if got := tc.status.String(); got != tc.want {
			t.Fatalf("status %d: expected %q, got %q", tc.status, tc.want, got)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusInactive, StatusExecuted} {
		if !s.Valid() {
			t.Fatalf("expected %v to be valid", s)
		}
	}
	if Status(-1).Valid() || Status(3).Valid() {
		t.Fatal("expected out-of-range statuses to be invalid")
	}
}

func TestRolesManages(t *testing.T) {
	roles := Roles{Owner: "0xowner", ItemOwner: "0xminter", Payout: "0xpayout"}

	if !roles.Manages("0xowner") {
		t.Fatal("owner must manage listings")
	}
	if !roles.Manages("0xminter") {
		t.Fatal("item owner must manage listings")
	}
	if roles.Manages("0xpayout") {
		t.Fatal("payout identity must not manage listings")
	}
	if roles.Manages("") {
		t.Fatal("empty caller must not manage listings")
	}
}

func TestRolesOwns(t *testing.T) {
	roles := Roles{Owner: "0xowner", ItemOwner: "0xminter"}

	if !roles.Owns("0xowner") {
		t.Fatal("expected owner match")
	}
	if roles.Owns("0xminter") || roles.Owns("") {
		t.Fatal("expected non-owner callers to be rejected")
	}
}
