package domain

import (
	"math/big"
	"testing"
	"time"
)

func TestAddressValid(t *testing.T) {
	cases := []struct {
		addr Address
		want bool
	}{
		{"alice", true},
		{" alice ", true},
		{"", false},
		{"   ", false},
	}
	for _, tc := range cases {
		if got := tc.addr.Valid(); got != tc.want {
			t.Fatalf("Address(%q).Valid() = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestRequestIDValid(t *testing.T) {
	valid := RequestID("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	if !valid.Valid() {
		t.Fatalf("expected %s to be valid", valid)
	}
	cases := []RequestID{
		"",
		"abc",
		RequestID(valid[:63]),
		RequestID(string(valid) + "0"),
		"0123456789ABCDEF0123456789abcdef0123456789abcdef0123456789abcdef",
		"0123456789abcdeg0123456789abcdef0123456789abcdef0123456789abcdef",
	}
	for _, id := range cases {
		if id.Valid() {
			t.Fatalf("expected %q to be invalid", id)
		}
	}
}

func TestCloneCollectionIsDeep(t *testing.T) {
	orig := Collection{
		ID:                 3,
		Creator:            "alice",
		UnitPrice:          big.NewInt(5),
		Capacity:           2,
		MemberBlueprintIDs: []uint64{0, 1, 2},
	}
	cp := CloneCollection(orig)
	cp.UnitPrice.SetInt64(99)
	cp.MemberBlueprintIDs[0] = 42
	if orig.UnitPrice.Int64() != 5 {
		t.Fatalf("clone shares unit price: %s", orig.UnitPrice)
	}
	if orig.MemberBlueprintIDs[0] != 0 {
		t.Fatalf("clone shares member slice: %v", orig.MemberBlueprintIDs)
	}
}

func TestClonePurchaseOrderIsDeep(t *testing.T) {
	at := time.Now().UTC()
	orig := PurchaseOrder{
		RequestID:      "aa",
		Buyer:          "bob",
		AmountPaid:     big.NewInt(7),
		Status:         OrderFulfilled,
		MintedTokenIDs: []uint64{1, 2},
		FulfilledAt:    &at,
	}
	cp := ClonePurchaseOrder(orig)
	cp.AmountPaid.SetInt64(0)
	cp.MintedTokenIDs[0] = 9
	*cp.FulfilledAt = at.Add(time.Hour)
	if orig.AmountPaid.Int64() != 7 {
		t.Fatalf("clone shares amount: %s", orig.AmountPaid)
	}
	if orig.MintedTokenIDs[0] != 1 {
		t.Fatalf("clone shares token ids: %v", orig.MintedTokenIDs)
	}
	if !orig.FulfilledAt.Equal(at) {
		t.Fatalf("clone shares fulfillment time: %s", orig.FulfilledAt)
	}
}

func TestResultMergeAndBlocking(t *testing.T) {
	var r Result
	if r.HasBlocking() {
		t.Fatal("empty result must not block")
	}
	r.Merge(Result{Violations: []Violation{{Rule: "a", Severity: SeverityWarn}}})
	if r.HasBlocking() {
		t.Fatal("warn severity must not block")
	}
	r.Merge(Result{Violations: []Violation{{Rule: "b", Severity: SeverityBlock}}})
	if !r.HasBlocking() {
		t.Fatal("block severity must block")
	}
	if len(r.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(r.Violations))
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{ValidationError{Code: CodeEmptyPath}, CodeEmptyPath},
		{NotFoundError{Code: CodeInvalidCollection}, CodeInvalidCollection},
		{AuthorizationError{Code: CodeUnauthorizedCaller}, CodeUnauthorizedCaller},
		{FulfillmentError{Code: CodeAlreadyFulfilled}, CodeAlreadyFulfilled},
		{RuleViolationError{}, ""},
	}
	for _, tc := range cases {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestErrorStrings(t *testing.T) {
	if got := (ValidationError{Code: CodeInvalidAmount}).Error(); got != "InvalidAmount" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := (ValidationError{Code: CodeInvalidAmount, Message: "nope"}).Error(); got != "InvalidAmount: nope" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := (NotFoundError{Code: CodeInvalidId, Entity: EntityBlueprint, ID: "4"}).Error(); got != "InvalidId: blueprint 4 not found" {
		t.Fatalf("unexpected message %q", got)
	}
}
