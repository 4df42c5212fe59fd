// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by packcore.
package domain

import (
	"math/big"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityBlueprint identifies an author-registered NFT template record.
	EntityBlueprint EntityType = "blueprint"
	// EntityCollection identifies a priced, capacity-bounded pack template record.
	EntityCollection EntityType = "collection"
	// EntityToken identifies a minted NFT instance record.
	EntityToken EntityType = "token"
	// EntityPurchaseOrder identifies a pack purchase awaiting or past fulfillment.
	EntityPurchaseOrder EntityType = "purchase_order"
)

// Address is an opaque principal identifier (author, buyer, oracle, minter
// authority). The core never interprets its contents beyond non-emptiness.
type Address string

// Valid reports whether the address is non-blank.
func (a Address) Valid() bool { return strings.TrimSpace(string(a)) != "" }

// RequestID is the opaque 256-bit randomness request handle assigned by the
// oracle subsystem, hex encoded.
type RequestID string

// Valid reports whether the id is a 64-character lowercase hex string.
func (r RequestID) Valid() bool {
	if len(r) != 64 {
		return false
	}
	for i := 0; i < len(r); i++ {
		c := r[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// OrderStatus enumerates the purchase order state machine. Orders move from
// requested to fulfilled exactly once and are never deleted.
type OrderStatus string

// Purchase order states. Fulfilled is terminal.
const (
	OrderRequested OrderStatus = "requested"
	OrderFulfilled OrderStatus = "fulfilled"
)

// Blueprint is an author-submitted NFT template. Immutable once created.
type Blueprint struct {
	ID           uint64    `json:"id"`
	Author       Address   `json:"author"`
	AuthorIndex  uint64    `json:"author_index"`
	MetadataPath string    `json:"metadata_path"`
	CreatedAt    time.Time `json:"created_at"`
}

// Collection groups a fixed pool of blueprints into a purchasable pack
// template. Immutable once created. The member pool must be at least as
// large as the capacity so a pack can be drawn without replacement.
type Collection struct {
	ID                 uint64    `json:"id"`
	Creator            Address   `json:"creator"`
	MetadataPath       string    `json:"metadata_path"`
	UnitPrice          *big.Int  `json:"unit_price"`
	Capacity           uint32    `json:"capacity"`
	MemberBlueprintIDs []uint64  `json:"member_blueprint_ids"`
	CreatedAt          time.Time `json:"created_at"`
}

// Token is a concrete minted NFT instance. Ownership is transferable after
// creation; the token itself is never deleted.
type Token struct {
	ID                uint64    `json:"id"`
	Owner             Address   `json:"owner"`
	SourceBlueprintID uint64    `json:"source_blueprint_id"`
	MintedAt          time.Time `json:"minted_at"`
}

// PurchaseOrder records a pack purchase keyed by its randomness request. It
// is the durable continuation between payment and fulfillment: created at
// buy time, mutated exactly once when the oracle callback is consumed, and
// kept forever as an audit record.
type PurchaseOrder struct {
	RequestID      RequestID   `json:"request_id"`
	Buyer          Address     `json:"buyer"`
	CollectionID   uint64      `json:"collection_id"`
	AmountPaid     *big.Int    `json:"amount_paid"`
	Status         OrderStatus `json:"status"`
	MintedTokenIDs []uint64    `json:"minted_token_ids"`
	OrderedAt      time.Time   `json:"ordered_at"`
	FulfilledAt    *time.Time  `json:"fulfilled_at,omitempty"`
}

// Fulfilled reports whether the order has consumed its randomness callback.
func (o PurchaseOrder) Fulfilled() bool { return o.Status == OrderFulfilled }

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the mutations captured in the audit trail. The
// domain never deletes entities; update covers the single requested to
// fulfilled order transition and token ownership transfers.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// CloneAmount copies a price or payment value. Amounts are *big.Int and must
// never be shared between store state and callers.
func CloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// CloneBlueprint returns a copy of a blueprint.
func CloneBlueprint(b Blueprint) Blueprint { return b }

// CloneCollection returns a deep copy of a collection, including its member
// pool and price.
func CloneCollection(c Collection) Collection {
	cp := c
	cp.UnitPrice = CloneAmount(c.UnitPrice)
	cp.MemberBlueprintIDs = append([]uint64(nil), c.MemberBlueprintIDs...)
	return cp
}

// CloneToken returns a copy of a token.
func CloneToken(t Token) Token { return t }

// ClonePurchaseOrder returns a deep copy of a purchase order.
func ClonePurchaseOrder(o PurchaseOrder) PurchaseOrder {
	cp := o
	cp.AmountPaid = CloneAmount(o.AmountPaid)
	cp.MintedTokenIDs = append([]uint64(nil), o.MintedTokenIDs...)
	if o.FulfilledAt != nil {
		at := *o.FulfilledAt
		cp.FulfilledAt = &at
	}
	return cp
}
