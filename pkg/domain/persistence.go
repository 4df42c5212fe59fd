package domain

import (
	"context"
	"math/big"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Every mutation either commits in full
// or leaves no trace.
type Transaction interface {
	Snapshot() TransactionView
	CreateBlueprint(author Address, metadataPath string) (Blueprint, error)
	CreateCollection(creator Address, metadataPath string, unitPrice *big.Int, capacity uint32, memberBlueprintIDs []uint64) (Collection, error)
	MintToken(receiver Address, blueprintID uint64) (Token, error)
	TransferToken(from, to Address, tokenID uint64) (Token, error)
	CreatePurchaseOrder(requestID RequestID, buyer Address, collectionID uint64, amountPaid *big.Int) (PurchaseOrder, error)
	FulfillPurchaseOrder(requestID RequestID, mintedTokenIDs []uint64) (PurchaseOrder, error)
	FindBlueprint(id uint64) (Blueprint, bool)
	FindCollection(id uint64) (Collection, bool)
	FindPurchaseOrder(id RequestID) (PurchaseOrder, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// queries.
type TransactionView interface {
	ListBlueprints() []Blueprint
	ListCollections() []Collection
	ListTokens() []Token
	ListPurchaseOrders() []PurchaseOrder
	FindBlueprint(id uint64) (Blueprint, bool)
	FindCollection(id uint64) (Collection, bool)
	FindToken(id uint64) (Token, bool)
	FindPurchaseOrder(id RequestID) (PurchaseOrder, bool)
	TotalBlueprints() uint64
	TotalCollections() uint64
	TotalTokens() uint64
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetBlueprint(id uint64) (Blueprint, bool)
	ListBlueprints() []Blueprint
	GetCollection(id uint64) (Collection, bool)
	ListCollections() []Collection
	GetToken(id uint64) (Token, bool)
	ListTokens() []Token
	GetPurchaseOrder(id RequestID) (PurchaseOrder, bool)
	ListPurchaseOrders() []PurchaseOrder
}
