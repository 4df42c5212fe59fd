package domain

// Event payloads emitted by the core after a committed mutation. Each
// mutating entry point produces exactly one primary event; external
// observers (HTTP clients, test harnesses) react to these rather than
// polling store state.

// BlueprintCreated is emitted when an author registers a new blueprint.
type BlueprintCreated struct {
	Author      Address `json:"author"`
	BlueprintID uint64  `json:"blueprint_id"`
	AuthorIndex uint64  `json:"author_index"`
}

// CollectionCreated is emitted when the distributor publishes a collection.
type CollectionCreated struct {
	Creator      Address `json:"creator"`
	CollectionID uint64  `json:"collection_id"`
}

// TokenMinted is emitted for every token minted from a blueprint.
type TokenMinted struct {
	TokenID           uint64  `json:"token_id"`
	Receiver          Address `json:"receiver"`
	SourceBlueprintID uint64  `json:"source_blueprint_id"`
}

// TokenTransferred is emitted when token ownership changes hands.
type TokenTransferred struct {
	TokenID uint64  `json:"token_id"`
	From    Address `json:"from"`
	To      Address `json:"to"`
}

// PurchaseOrdered is emitted when a pack purchase is accepted and its
// randomness request issued.
type PurchaseOrdered struct {
	Buyer        Address   `json:"buyer"`
	CollectionID uint64    `json:"collection_id"`
	RequestID    RequestID `json:"request_id"`
}

// PackOpened is emitted when an order is fulfilled. TokenIDs are in draw
// order.
type PackOpened struct {
	RequestID RequestID `json:"request_id"`
	Buyer     Address   `json:"buyer"`
	TokenIDs  []uint64  `json:"token_ids"`
}
