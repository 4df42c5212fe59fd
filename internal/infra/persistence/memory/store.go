// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"packcore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Blueprint aliases domain.Blueprint for in-memory persistence operations.
	Blueprint = domain.Blueprint
	// Collection aliases domain.Collection.
	Collection = domain.Collection
	// Token aliases domain.Token.
	Token = domain.Token
	// PurchaseOrder aliases domain.PurchaseOrder.
	PurchaseOrder = domain.PurchaseOrder
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

// memoryState holds the entity arenas. Blueprint, collection, and token ids
// are dense and monotonic from 0, so slices indexed by id are the arenas.
// Purchase orders are keyed by their oracle request id; requestOrder keeps
// insertion order for deterministic listings.
type memoryState struct {
	blueprints   []Blueprint
	collections  []Collection
	tokens       []Token
	orders       map[domain.RequestID]PurchaseOrder
	requestOrder []domain.RequestID
}

func newMemoryState() memoryState {
	return memoryState{
		orders: make(map[domain.RequestID]PurchaseOrder),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	cloned.blueprints = make([]Blueprint, len(s.blueprints))
	for i, b := range s.blueprints {
		cloned.blueprints[i] = domain.CloneBlueprint(b)
	}
	cloned.collections = make([]Collection, len(s.collections))
	for i, c := range s.collections {
		cloned.collections[i] = domain.CloneCollection(c)
	}
	cloned.tokens = make([]Token, len(s.tokens))
	for i, t := range s.tokens {
		cloned.tokens[i] = domain.CloneToken(t)
	}
	for id, o := range s.orders {
		cloned.orders[id] = domain.ClonePurchaseOrder(o)
	}
	cloned.requestOrder = append([]domain.RequestID(nil), s.requestOrder...)
	return cloned
}

// authorIndex returns the next per-author local index, derived by counting the
// author's existing blueprints.
func (s memoryState) authorIndex(author domain.Address) uint64 {
	var n uint64
	for _, b := range s.blueprints {
		if b.Author == author {
			n++
		}
	}
	return n
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Blueprints  []Blueprint     `json:"blueprints"`
	Collections []Collection    `json:"collections"`
	Tokens      []Token         `json:"tokens"`
	Orders      []PurchaseOrder `json:"orders"`
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the transaction timestamp source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = now
	s.mu.Unlock()
}

// transaction is a mutation set applied to a clone of the store state and
// promoted on commit.
type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

var _ Transaction = (*transaction)(nil)

// view exposes a read-only snapshot of the transactional state to rules and
// queries.
type view struct {
	state *memoryState
}

var _ TransactionView = view{}
var _ domain.RuleView = view{}

// ListBlueprints returns all blueprints within the snapshot in id order.
func (v view) ListBlueprints() []Blueprint {
	out := make([]Blueprint, len(v.state.blueprints))
	for i, b := range v.state.blueprints {
		out[i] = domain.CloneBlueprint(b)
	}
	return out
}

// ListCollections returns all collections within the snapshot in id order.
func (v view) ListCollections() []Collection {
	out := make([]Collection, len(v.state.collections))
	for i, c := range v.state.collections {
		out[i] = domain.CloneCollection(c)
	}
	return out
}

// ListTokens returns all tokens within the snapshot in id order.
func (v view) ListTokens() []Token {
	out := make([]Token, len(v.state.tokens))
	for i, t := range v.state.tokens {
		out[i] = domain.CloneToken(t)
	}
	return out
}

// ListPurchaseOrders returns all purchase orders in issuance order.
func (v view) ListPurchaseOrders() []PurchaseOrder {
	out := make([]PurchaseOrder, 0, len(v.state.requestOrder))
	for _, id := range v.state.requestOrder {
		if o, ok := v.state.orders[id]; ok {
			out = append(out, domain.ClonePurchaseOrder(o))
		}
	}
	return out
}

// FindBlueprint looks up a blueprint by id.
func (v view) FindBlueprint(id uint64) (Blueprint, bool) {
	if id >= uint64(len(v.state.blueprints)) {
		return Blueprint{}, false
	}
	return domain.CloneBlueprint(v.state.blueprints[id]), true
}

// FindCollection looks up a collection by id.
func (v view) FindCollection(id uint64) (Collection, bool) {
	if id >= uint64(len(v.state.collections)) {
		return Collection{}, false
	}
	return domain.CloneCollection(v.state.collections[id]), true
}

// FindToken looks up a token by id.
func (v view) FindToken(id uint64) (Token, bool) {
	if id >= uint64(len(v.state.tokens)) {
		return Token{}, false
	}
	return domain.CloneToken(v.state.tokens[id]), true
}

// FindPurchaseOrder looks up an order by its randomness request id.
func (v view) FindPurchaseOrder(id domain.RequestID) (PurchaseOrder, bool) {
	o, ok := v.state.orders[id]
	if !ok {
		return PurchaseOrder{}, false
	}
	return domain.ClonePurchaseOrder(o), true
}

// TotalBlueprints returns the number of registered blueprints.
func (v view) TotalBlueprints() uint64 { return uint64(len(v.state.blueprints)) }

// TotalCollections returns the number of published collections.
func (v view) TotalCollections() uint64 { return uint64(len(v.state.collections)) }

// TotalTokens returns the number of minted tokens.
func (v view) TotalTokens() uint64 { return uint64(len(v.state.tokens)) }

// RunInTransaction executes fn within a transactional copy of the store
// state. The clone is promoted only when fn and all blocking rules succeed,
// so no half-applied state is ever observable.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		v := view{state: &tx.state}
		res, err := s.engine.Evaluate(ctx, v, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(view{state: &snapshot})
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return view{state: &tx.state}
}

// CreateBlueprint appends a new blueprint with the next dense id and the
// author's next local index.
func (tx *transaction) CreateBlueprint(author domain.Address, metadataPath string) (Blueprint, error) {
	if !author.Valid() {
		return Blueprint{}, domain.ValidationError{Code: domain.CodeInvalidAddress, Message: "author required"}
	}
	if strings.TrimSpace(metadataPath) == "" {
		return Blueprint{}, domain.ValidationError{Code: domain.CodeEmptyPath, Message: "metadata path required"}
	}
	b := Blueprint{
		ID:           uint64(len(tx.state.blueprints)),
		Author:       author,
		AuthorIndex:  tx.state.authorIndex(author),
		MetadataPath: metadataPath,
		CreatedAt:    tx.now,
	}
	tx.state.blueprints = append(tx.state.blueprints, b)
	tx.recordChange(Change{Entity: domain.EntityBlueprint, Action: domain.ActionCreate, After: domain.CloneBlueprint(b)})
	return domain.CloneBlueprint(b), nil
}

// CreateCollection validates and appends a new collection. Validation order
// is part of the contract: path, price, capacity, then member count.
func (tx *transaction) CreateCollection(creator domain.Address, metadataPath string, unitPrice *big.Int, capacity uint32, memberBlueprintIDs []uint64) (Collection, error) {
	if !creator.Valid() {
		return Collection{}, domain.ValidationError{Code: domain.CodeInvalidAddress, Message: "creator required"}
	}
	if strings.TrimSpace(metadataPath) == "" {
		return Collection{}, domain.ValidationError{Code: domain.CodeEmptyPath, Message: "metadata path required"}
	}
	if unitPrice == nil || unitPrice.Sign() <= 0 {
		return Collection{}, domain.ValidationError{Code: domain.CodePriceUnderLimit, Message: "unit price must be positive"}
	}
	if capacity == 0 {
		return Collection{}, domain.ValidationError{Code: domain.CodeCapacityUnderLimit, Message: "capacity must be positive"}
	}
	if uint64(len(memberBlueprintIDs)) < uint64(capacity) {
		return Collection{}, domain.ValidationError{Code: domain.CodeBlueprintsUnderLimit, Message: "member pool smaller than capacity"}
	}
	c := Collection{
		ID:                 uint64(len(tx.state.collections)),
		Creator:            creator,
		MetadataPath:       metadataPath,
		UnitPrice:          domain.CloneAmount(unitPrice),
		Capacity:           capacity,
		MemberBlueprintIDs: append([]uint64(nil), memberBlueprintIDs...),
		CreatedAt:          tx.now,
	}
	tx.state.collections = append(tx.state.collections, c)
	tx.recordChange(Change{Entity: domain.EntityCollection, Action: domain.ActionCreate, After: domain.CloneCollection(c)})
	return domain.CloneCollection(c), nil
}

// MintToken creates a token from an existing blueprint and assigns it to the
// receiver.
func (tx *transaction) MintToken(receiver domain.Address, blueprintID uint64) (Token, error) {
	if !receiver.Valid() {
		return Token{}, domain.ValidationError{Code: domain.CodeInvalidAddress, Message: "receiver required"}
	}
	if blueprintID >= uint64(len(tx.state.blueprints)) {
		return Token{}, domain.NotFoundError{Code: domain.CodeInvalidBlueprintId, Entity: domain.EntityBlueprint, ID: formatID(blueprintID)}
	}
	t := Token{
		ID:                uint64(len(tx.state.tokens)),
		Owner:             receiver,
		SourceBlueprintID: blueprintID,
		MintedAt:          tx.now,
	}
	tx.state.tokens = append(tx.state.tokens, t)
	tx.recordChange(Change{Entity: domain.EntityToken, Action: domain.ActionCreate, After: domain.CloneToken(t)})
	return domain.CloneToken(t), nil
}

// TransferToken moves ownership of a token. The from address must be the
// current owner.
func (tx *transaction) TransferToken(from, to domain.Address, tokenID uint64) (Token, error) {
	if !to.Valid() {
		return Token{}, domain.ValidationError{Code: domain.CodeInvalidAddress, Message: "recipient required"}
	}
	if tokenID >= uint64(len(tx.state.tokens)) {
		return Token{}, domain.NotFoundError{Code: domain.CodeInvalidTokenId, Entity: domain.EntityToken, ID: formatID(tokenID)}
	}
	current := tx.state.tokens[tokenID]
	if current.Owner != from {
		return Token{}, domain.AuthorizationError{Code: domain.CodeUnauthorized, Caller: from}
	}
	before := domain.CloneToken(current)
	current.Owner = to
	tx.state.tokens[tokenID] = current
	tx.recordChange(Change{Entity: domain.EntityToken, Action: domain.ActionUpdate, Before: before, After: domain.CloneToken(current)})
	return domain.CloneToken(current), nil
}

// CreatePurchaseOrder records a pending order keyed by its randomness
// request id.
func (tx *transaction) CreatePurchaseOrder(requestID domain.RequestID, buyer domain.Address, collectionID uint64, amountPaid *big.Int) (PurchaseOrder, error) {
	if !requestID.Valid() {
		return PurchaseOrder{}, domain.ValidationError{Code: domain.CodeInvalidRequestId, Message: "malformed request id"}
	}
	if _, exists := tx.state.orders[requestID]; exists {
		return PurchaseOrder{}, domain.ValidationError{Code: domain.CodeInvalidRequestId, Message: "request id already in use"}
	}
	if !buyer.Valid() {
		return PurchaseOrder{}, domain.ValidationError{Code: domain.CodeInvalidAddress, Message: "buyer required"}
	}
	if collectionID >= uint64(len(tx.state.collections)) {
		return PurchaseOrder{}, domain.NotFoundError{Code: domain.CodeInvalidCollection, Entity: domain.EntityCollection, ID: formatID(collectionID)}
	}
	o := PurchaseOrder{
		RequestID:    requestID,
		Buyer:        buyer,
		CollectionID: collectionID,
		AmountPaid:   domain.CloneAmount(amountPaid),
		Status:       domain.OrderRequested,
		OrderedAt:    tx.now,
	}
	tx.state.orders[requestID] = o
	tx.state.requestOrder = append(tx.state.requestOrder, requestID)
	tx.recordChange(Change{Entity: domain.EntityPurchaseOrder, Action: domain.ActionCreate, After: domain.ClonePurchaseOrder(o)})
	return domain.ClonePurchaseOrder(o), nil
}

// FulfillPurchaseOrder performs the single requested to fulfilled transition.
// A replayed callback is rejected without side effects.
func (tx *transaction) FulfillPurchaseOrder(requestID domain.RequestID, mintedTokenIDs []uint64) (PurchaseOrder, error) {
	o, ok := tx.state.orders[requestID]
	if !ok {
		return PurchaseOrder{}, domain.NotFoundError{Code: domain.CodeInvalidRequestId, Entity: domain.EntityPurchaseOrder, ID: string(requestID)}
	}
	if o.Fulfilled() {
		return PurchaseOrder{}, domain.FulfillmentError{Code: domain.CodeAlreadyFulfilled, RequestID: requestID}
	}
	before := domain.ClonePurchaseOrder(o)
	o.Status = domain.OrderFulfilled
	o.MintedTokenIDs = append([]uint64(nil), mintedTokenIDs...)
	at := tx.now
	o.FulfilledAt = &at
	tx.state.orders[requestID] = o
	tx.recordChange(Change{Entity: domain.EntityPurchaseOrder, Action: domain.ActionUpdate, Before: before, After: domain.ClonePurchaseOrder(o)})
	return domain.ClonePurchaseOrder(o), nil
}

// FindBlueprint looks up a blueprint within the transaction.
func (tx *transaction) FindBlueprint(id uint64) (Blueprint, bool) {
	return view{state: &tx.state}.FindBlueprint(id)
}

// FindCollection looks up a collection within the transaction.
func (tx *transaction) FindCollection(id uint64) (Collection, bool) {
	return view{state: &tx.state}.FindCollection(id)
}

// FindPurchaseOrder looks up an order within the transaction.
func (tx *transaction) FindPurchaseOrder(id domain.RequestID) (PurchaseOrder, bool) {
	return view{state: &tx.state}.FindPurchaseOrder(id)
}

// GetBlueprint returns a blueprint by id from committed state.
func (s *Store) GetBlueprint(id uint64) (Blueprint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.FindBlueprint(id)
}

// ListBlueprints returns committed blueprints in id order.
func (s *Store) ListBlueprints() []Blueprint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.ListBlueprints()
}

// GetCollection returns a collection by id from committed state.
func (s *Store) GetCollection(id uint64) (Collection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.FindCollection(id)
}

// ListCollections returns committed collections in id order.
func (s *Store) ListCollections() []Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.ListCollections()
}

// GetToken returns a token by id from committed state.
func (s *Store) GetToken(id uint64) (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.FindToken(id)
}

// ListTokens returns committed tokens in id order.
func (s *Store) ListTokens() []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.ListTokens()
}

// GetPurchaseOrder returns an order by request id from committed state.
func (s *Store) GetPurchaseOrder(id domain.RequestID) (PurchaseOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.FindPurchaseOrder(id)
}

// ListPurchaseOrders returns committed orders in issuance order.
func (s *Store) ListPurchaseOrders() []PurchaseOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.ListPurchaseOrders()
}

// ExportState captures a snapshot for durable persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := view{state: &s.state}
	return Snapshot{
		Blueprints:  v.ListBlueprints(),
		Collections: v.ListCollections(),
		Tokens:      v.ListTokens(),
		Orders:      v.ListPurchaseOrders(),
	}
}

// ImportState replaces the store state from a snapshot. Used by durable
// backends during hydration; entity order in the snapshot is id order.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	state.blueprints = make([]Blueprint, len(snapshot.Blueprints))
	for i, b := range snapshot.Blueprints {
		state.blueprints[i] = domain.CloneBlueprint(b)
	}
	state.collections = make([]Collection, len(snapshot.Collections))
	for i, c := range snapshot.Collections {
		state.collections[i] = domain.CloneCollection(c)
	}
	state.tokens = make([]Token, len(snapshot.Tokens))
	for i, t := range snapshot.Tokens {
		state.tokens[i] = domain.CloneToken(t)
	}
	for _, o := range snapshot.Orders {
		state.orders[o.RequestID] = domain.ClonePurchaseOrder(o)
		state.requestOrder = append(state.requestOrder, o.RequestID)
	}
	s.state = state
}

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }
