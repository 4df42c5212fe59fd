package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"packcore/internal/infra/persistence/memory"
	"packcore/pkg/domain"
)

// RandomnessSource issues asynchronous randomness requests against the
// external oracle subsystem. The returned request id is the durable handle a
// later callback is matched against; delivery order across requests is not
// guaranteed.
type RandomnessSource interface {
	RequestRandomness(ctx context.Context, seedMaterial []byte) (RequestID, error)
}

// Service exposes the transactional marketplace operations: blueprint and
// collection registration, restricted minting, and the purchase/fulfillment
// coordinator. All mutations run under the store's single-writer discipline.
type Service struct {
	store           domain.PersistentStore
	clock           Clock
	logger          Logger
	metrics         MetricsRecorder
	audit           AuditRecorder
	tracer          Tracer
	events          EventSink
	oracle          RandomnessSource
	oraclePrincipal Address
	minterAuthority Address
}

// Option customizes service construction.
type Option func(*Service)

// WithClock overrides the timestamp source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger attaches a leveled logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder attaches an operation metrics recorder.
func WithMetricsRecorder(metrics MetricsRecorder) Option {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithAuditRecorder attaches an audit trail recorder.
func WithAuditRecorder(audit AuditRecorder) Option {
	return func(s *Service) {
		if audit != nil {
			s.audit = audit
		}
	}
}

// WithTracer attaches a tracer wrapping each operation in a span.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithEventSink attaches the sink receiving post-commit events.
func WithEventSink(events EventSink) Option {
	return func(s *Service) {
		if events != nil {
			s.events = events
		}
	}
}

// WithOracle configures the randomness source and the principal whose
// callbacks the coordinator accepts.
func WithOracle(source RandomnessSource, principal Address) Option {
	return func(s *Service) {
		s.oracle = source
		s.oraclePrincipal = principal
	}
}

// WithMinterAuthority configures the only principal allowed to call
// MintFromBlueprint directly. Fulfillment mints bypass this check because the
// coordinator is the authority.
func WithMinterAuthority(addr Address) Option {
	return func(s *Service) {
		s.minterAuthority = addr
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		audit:   noopAuditRecorder{},
		tracer:  noopTracer{},
		events:  noopEventSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given
// rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// OraclePrincipal returns the principal whose callbacks are accepted.
func (s *Service) OraclePrincipal() Address { return s.oraclePrincipal }

// run wraps an operation with tracing, metrics, audit, and logging.
func (s *Service) run(ctx context.Context, operation string, fn func(ctx context.Context) (string, error)) error {
	ctx, span := s.tracer.Start(ctx, operation)
	start := time.Now()
	entityID, err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)
	if err != nil {
		s.recordAuditError(ctx, operation, entityID, duration, err)
		s.logger.Error("operation failed", "operation", operation, "error", err)
		return err
	}
	s.recordAuditSuccess(ctx, operation, entityID, duration)
	s.logger.Info("operation completed", "operation", operation, "entity_id", entityID, "duration_ms", duration.Milliseconds())
	return nil
}

func (s *Service) recordAuditSuccess(ctx context.Context, operation, entityID string, duration time.Duration) {
	meta, ok := operationMetadata[operation]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: operation,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	})
}

func (s *Service) recordAuditError(ctx context.Context, operation, entityID string, duration time.Duration, err error) {
	meta, ok := operationMetadata[operation]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: operation,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusError,
		Error:     err.Error(),
		Duration:  duration,
		Timestamp: s.clock.Now(),
	})
}

// CreateBlueprint registers a new NFT template for the author.
func (s *Service) CreateBlueprint(ctx context.Context, author Address, metadataPath string) (Blueprint, Result, error) {
	var (
		created Blueprint
		res     Result
	)
	err := s.run(ctx, OpCreateBlueprint, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateBlueprint(author, metadataPath)
			return err
		})
		return fmt.Sprintf("%d", created.ID), err
	})
	if err != nil {
		return Blueprint{}, res, err
	}
	s.events.Publish(EventBlueprintCreated, domain.BlueprintCreated{
		Author:      created.Author,
		BlueprintID: created.ID,
		AuthorIndex: created.AuthorIndex,
	})
	return created, res, nil
}

// BlueprintURI resolves a blueprint id to its metadata path.
func (s *Service) BlueprintURI(_ context.Context, id uint64) (string, error) {
	b, ok := s.store.GetBlueprint(id)
	if !ok {
		return "", domain.NotFoundError{Code: domain.CodeInvalidId, Entity: EntityBlueprint, ID: fmt.Sprintf("%d", id)}
	}
	return b.MetadataPath, nil
}

// TotalBlueprints returns the number of registered blueprints.
func (s *Service) TotalBlueprints(_ context.Context) uint64 {
	return uint64(len(s.store.ListBlueprints()))
}

// CreateTokenCollection publishes a new pack template referencing existing
// blueprints.
func (s *Service) CreateTokenCollection(ctx context.Context, creator Address, metadataPath string, unitPrice *big.Int, capacity uint32, memberBlueprintIDs []uint64) (Collection, Result, error) {
	var (
		created Collection
		res     Result
	)
	err := s.run(ctx, OpCreateCollection, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateCollection(creator, metadataPath, unitPrice, capacity, memberBlueprintIDs)
			return err
		})
		return fmt.Sprintf("%d", created.ID), err
	})
	if err != nil {
		return Collection{}, res, err
	}
	s.events.Publish(EventCollectionCreated, domain.CollectionCreated{
		Creator:      created.Creator,
		CollectionID: created.ID,
	})
	return created, res, nil
}

// TokenCollection returns a collection view by id.
func (s *Service) TokenCollection(_ context.Context, id uint64) (Collection, error) {
	c, ok := s.store.GetCollection(id)
	if !ok {
		return Collection{}, domain.NotFoundError{Code: domain.CodeInvalidId, Entity: EntityCollection, ID: fmt.Sprintf("%d", id)}
	}
	return c, nil
}

// TotalCollections returns the number of published collections.
func (s *Service) TotalCollections(_ context.Context) uint64 {
	return uint64(len(s.store.ListCollections()))
}

// MintFromBlueprint mints a token directly. Restricted to the configured
// minter authority; the purchase flow mints through the coordinator instead.
func (s *Service) MintFromBlueprint(ctx context.Context, caller, receiver Address, blueprintID uint64) (Token, Result, error) {
	var (
		minted Token
		res    Result
	)
	err := s.run(ctx, OpMintToken, func(ctx context.Context) (string, error) {
		if caller != s.minterAuthority || !caller.Valid() {
			return "", domain.AuthorizationError{Code: domain.CodeUnauthorized, Caller: caller}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			minted, err = tx.MintToken(receiver, blueprintID)
			return err
		})
		return fmt.Sprintf("%d", minted.ID), err
	})
	if err != nil {
		return Token{}, res, err
	}
	s.events.Publish(EventTokenMinted, domain.TokenMinted{
		TokenID:           minted.ID,
		Receiver:          minted.Owner,
		SourceBlueprintID: minted.SourceBlueprintID,
	})
	return minted, res, nil
}

// TransferToken moves token ownership from its current owner.
func (s *Service) TransferToken(ctx context.Context, from, to Address, tokenID uint64) (Token, Result, error) {
	var (
		moved Token
		res   Result
	)
	err := s.run(ctx, OpTransferToken, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			moved, err = tx.TransferToken(from, to, tokenID)
			return err
		})
		return fmt.Sprintf("%d", tokenID), err
	})
	if err != nil {
		return Token{}, res, err
	}
	s.events.Publish(EventTokenTransferred, domain.TokenTransferred{
		TokenID: moved.ID,
		From:    from,
		To:      moved.Owner,
	})
	return moved, res, nil
}

// TokenURI resolves a token id to its source blueprint's metadata path.
func (s *Service) TokenURI(_ context.Context, tokenID uint64) (string, error) {
	t, ok := s.store.GetToken(tokenID)
	if !ok {
		return "", domain.NotFoundError{Code: domain.CodeInvalidTokenId, Entity: EntityToken, ID: fmt.Sprintf("%d", tokenID)}
	}
	b, ok := s.store.GetBlueprint(t.SourceBlueprintID)
	if !ok {
		return "", domain.NotFoundError{Code: domain.CodeInvalidBlueprintId, Entity: EntityBlueprint, ID: fmt.Sprintf("%d", t.SourceBlueprintID)}
	}
	return b.MetadataPath, nil
}

// BalanceOf returns the number of tokens currently owned by the address.
func (s *Service) BalanceOf(_ context.Context, owner Address) uint64 {
	var n uint64
	for _, t := range s.store.ListTokens() {
		if t.Owner == owner {
			n++
		}
	}
	return n
}

// BuyPack accepts an exact-price payment for a collection, issues a
// randomness request, and records the pending purchase order keyed by the
// returned request id. The payment checks run before the oracle is touched:
// a rejected purchase never spends a randomness request.
func (s *Service) BuyPack(ctx context.Context, buyer Address, collectionID uint64, payment *big.Int) (RequestID, Result, error) {
	var (
		requestID RequestID
		res       Result
	)
	err := s.run(ctx, OpBuyPack, func(ctx context.Context) (string, error) {
		if !buyer.Valid() {
			return "", domain.ValidationError{Code: domain.CodeInvalidAddress, Message: "buyer required"}
		}
		collection, ok := s.store.GetCollection(collectionID)
		if !ok {
			return "", domain.NotFoundError{Code: domain.CodeInvalidCollection, Entity: EntityCollection, ID: fmt.Sprintf("%d", collectionID)}
		}
		if payment == nil || payment.Cmp(collection.UnitPrice) != 0 {
			return "", domain.ValidationError{Code: domain.CodeInvalidAmount, Message: "payment must equal the unit price"}
		}
		if s.oracle == nil {
			return "", errors.New("randomness source not configured")
		}
		id, err := s.oracle.RequestRandomness(ctx, purchaseSeedMaterial(buyer, collectionID))
		if err != nil {
			return "", fmt.Errorf("request randomness: %w", err)
		}
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.CreatePurchaseOrder(id, buyer, collectionID, payment)
			return err
		})
		if err != nil {
			return string(id), err
		}
		requestID = id
		return string(id), nil
	})
	if err != nil {
		return "", res, err
	}
	s.events.Publish(EventPackOrdered, domain.PurchaseOrdered{
		Buyer:        buyer,
		CollectionID: collectionID,
		RequestID:    requestID,
	})
	return requestID, res, nil
}

// HandleRandomness consumes an oracle callback: it authenticates the caller,
// deterministically draws the pack contents from the delivered seed, mints
// each selection to the buyer, and marks the order fulfilled. The whole
// fulfillment is one transaction, so a failed mint leaves the order pending
// and a redelivered callback can retry. Replays against a fulfilled order are
// rejected without side effects.
func (s *Service) HandleRandomness(ctx context.Context, caller Address, requestID RequestID, seed *big.Int) (PurchaseOrder, Result, error) {
	var (
		fulfilled PurchaseOrder
		minted    []Token
		res       Result
	)
	err := s.run(ctx, OpFulfillOrder, func(ctx context.Context) (string, error) {
		if caller != s.oraclePrincipal || !caller.Valid() {
			return string(requestID), domain.AuthorizationError{Code: domain.CodeUnauthorizedCaller, Caller: caller}
		}
		if seed == nil {
			return string(requestID), domain.ValidationError{Code: domain.CodeInvalidRequestId, Message: "seed required"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			order, ok := tx.FindPurchaseOrder(requestID)
			if !ok {
				return domain.NotFoundError{Code: domain.CodeInvalidRequestId, Entity: EntityPurchaseOrder, ID: string(requestID)}
			}
			if order.Fulfilled() {
				return domain.FulfillmentError{Code: domain.CodeAlreadyFulfilled, RequestID: requestID}
			}
			collection, ok := tx.FindCollection(order.CollectionID)
			if !ok {
				return domain.NotFoundError{Code: domain.CodeInvalidCollection, Entity: EntityCollection, ID: fmt.Sprintf("%d", order.CollectionID)}
			}
			drawn, err := DrawBlueprints(seed, collection.MemberBlueprintIDs, collection.Capacity)
			if err != nil {
				return err
			}
			minted = minted[:0]
			tokenIDs := make([]uint64, 0, len(drawn))
			for _, blueprintID := range drawn {
				token, err := tx.MintToken(order.Buyer, blueprintID)
				if err != nil {
					return err
				}
				minted = append(minted, token)
				tokenIDs = append(tokenIDs, token.ID)
			}
			fulfilled, err = tx.FulfillPurchaseOrder(requestID, tokenIDs)
			return err
		})
		return string(requestID), err
	})
	if err != nil {
		return PurchaseOrder{}, res, err
	}
	for _, token := range minted {
		s.events.Publish(EventTokenMinted, domain.TokenMinted{
			TokenID:           token.ID,
			Receiver:          token.Owner,
			SourceBlueprintID: token.SourceBlueprintID,
		})
	}
	s.events.Publish(EventPackOpened, domain.PackOpened{
		RequestID: fulfilled.RequestID,
		Buyer:     fulfilled.Buyer,
		TokenIDs:  append([]uint64(nil), fulfilled.MintedTokenIDs...),
	})
	return fulfilled, res, nil
}

// PurchaseOrder returns the order keyed by the request id.
func (s *Service) PurchaseOrder(_ context.Context, requestID RequestID) (PurchaseOrder, error) {
	o, ok := s.store.GetPurchaseOrder(requestID)
	if !ok {
		return PurchaseOrder{}, domain.NotFoundError{Code: domain.CodeInvalidRequestId, Entity: EntityPurchaseOrder, ID: string(requestID)}
	}
	return o, nil
}

// PurchaseOrderTokens returns the minted token ids for an order in draw
// order. A pending order yields an empty sequence.
func (s *Service) PurchaseOrderTokens(ctx context.Context, requestID RequestID) ([]uint64, error) {
	o, err := s.PurchaseOrder(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return o.MintedTokenIDs, nil
}

func purchaseSeedMaterial(buyer Address, collectionID uint64) []byte {
	return fmt.Appendf(nil, "%s|%d", buyer, collectionID)
}
