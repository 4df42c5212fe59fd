package core

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"packcore/pkg/domain"
)

const (
	oracleAddr = Address("oracle-principal")
	minterAddr = Address("minter-authority")

	testReqA = RequestID("1111111111111111111111111111111111111111111111111111111111111111")
	testReqB = RequestID("2222222222222222222222222222222222222222222222222222222222222222")
)

// stubSource hands out a scripted sequence of request ids.
type stubSource struct {
	mu    sync.Mutex
	ids   []RequestID
	calls int
	err   error
}

func (s *stubSource) RequestRandomness(context.Context, []byte) (RequestID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if s.calls >= len(s.ids) {
		return "", errors.New("no scripted request ids left")
	}
	id := s.ids[s.calls]
	s.calls++
	return id, nil
}

func (s *stubSource) requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// captureSink records published events in order.
type captureSink struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	eventType string
	payload   any
}

func (c *captureSink) Publish(eventType string, payload any) {
	c.mu.Lock()
	c.events = append(c.events, capturedEvent{eventType: eventType, payload: payload})
	c.mu.Unlock()
}

func (c *captureSink) ofType(eventType string) []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedEvent
	for _, e := range c.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T, opts ...Option) (*Service, *stubSource, *captureSink) {
	t.Helper()
	source := &stubSource{ids: []RequestID{testReqA, testReqB}}
	sink := &captureSink{}
	base := []Option{
		WithClock(ClockFunc(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })),
		WithOracle(source, oracleAddr),
		WithMinterAuthority(minterAddr),
		WithEventSink(sink),
	}
	svc := NewInMemoryService(NewDefaultRulesEngine(), append(base, opts...)...)
	return svc, source, sink
}

// seedMarketplace registers six blueprints and one collection of capacity 3
// at unit price 1.
func seedMarketplace(t *testing.T, svc *Service) Collection {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if _, _, err := svc.CreateBlueprint(ctx, "alice", "meta/bp.json"); err != nil {
			t.Fatalf("create blueprint %d: %v", i, err)
		}
	}
	collection, _, err := svc.CreateTokenCollection(ctx, "alice", "meta/pack.json", big.NewInt(1), 3, []uint64{0, 1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	return collection
}

func TestCreateBlueprintAndLookups(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	created, _, err := svc.CreateBlueprint(ctx, "alice", "meta/first.json")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != 0 || created.AuthorIndex != 0 {
		t.Fatalf("unexpected ids %+v", created)
	}
	uri, err := svc.BlueprintURI(ctx, 0)
	if err != nil || uri != "meta/first.json" {
		t.Fatalf("uri = %q, err = %v", uri, err)
	}
	if svc.TotalBlueprints(ctx) != 1 {
		t.Fatalf("total = %d", svc.TotalBlueprints(ctx))
	}
	if _, err := svc.BlueprintURI(ctx, 5); domain.ErrorCode(err) != domain.CodeInvalidId {
		t.Fatalf("expected InvalidId, got %v", err)
	}
	events := sink.ofType(EventBlueprintCreated)
	if len(events) != 1 {
		t.Fatalf("expected 1 blueprint.created event, got %d", len(events))
	}
	payload, ok := events[0].payload.(domain.BlueprintCreated)
	if !ok || payload.Author != "alice" || payload.BlueprintID != 0 {
		t.Fatalf("unexpected payload %+v", events[0].payload)
	}
}

func TestBuyPackHappyPath(t *testing.T) {
	svc, source, sink := newTestService(t)
	ctx := context.Background()
	collection := seedMarketplace(t, svc)

	requestID, _, err := svc.BuyPack(ctx, "bob", collection.ID, big.NewInt(1))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if requestID != testReqA {
		t.Fatalf("request id = %s", requestID)
	}
	order, err := svc.PurchaseOrder(ctx, requestID)
	if err != nil || order.Fulfilled() {
		t.Fatalf("pending order %+v err=%v", order, err)
	}

	fulfilled, _, err := svc.HandleRandomness(ctx, oracleAddr, requestID, big.NewInt(777))
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if !fulfilled.Fulfilled() || len(fulfilled.MintedTokenIDs) != 3 {
		t.Fatalf("fulfilled order %+v", fulfilled)
	}

	if got := svc.BalanceOf(ctx, "bob"); got != 3 {
		t.Fatalf("buyer balance = %d", got)
	}

	// Each minted token belongs to the buyer and comes from a distinct pool
	// member.
	seen := make(map[uint64]struct{})
	members := make(map[uint64]struct{})
	for _, m := range collection.MemberBlueprintIDs {
		members[m] = struct{}{}
	}
	tokens, err := svc.PurchaseOrderTokens(ctx, requestID)
	if err != nil {
		t.Fatalf("order tokens: %v", err)
	}
	for _, tokenID := range tokens {
		tok, ok := svc.Store().GetToken(tokenID)
		if !ok || tok.Owner != "bob" {
			t.Fatalf("token %d: %+v ok=%v", tokenID, tok, ok)
		}
		if _, ok := members[tok.SourceBlueprintID]; !ok {
			t.Fatalf("token %d from blueprint %d outside pool", tokenID, tok.SourceBlueprintID)
		}
		if _, dup := seen[tok.SourceBlueprintID]; dup {
			t.Fatalf("blueprint %d drawn twice", tok.SourceBlueprintID)
		}
		seen[tok.SourceBlueprintID] = struct{}{}
	}

	if source.requests() != 1 {
		t.Fatalf("oracle saw %d requests", source.requests())
	}
	if got := len(sink.ofType(EventPackOrdered)); got != 1 {
		t.Fatalf("pack.ordered events: %d", got)
	}
	if got := len(sink.ofType(EventTokenMinted)); got != 3 {
		t.Fatalf("token.minted events: %d", got)
	}
	opened := sink.ofType(EventPackOpened)
	if len(opened) != 1 {
		t.Fatalf("pack.opened events: %d", len(opened))
	}
	payload := opened[0].payload.(domain.PackOpened)
	if payload.RequestID != requestID || payload.Buyer != "bob" || len(payload.TokenIDs) != 3 {
		t.Fatalf("pack.opened payload %+v", payload)
	}
}

func TestBuyPackRejectsBeforeOracle(t *testing.T) {
	svc, source, _ := newTestService(t)
	ctx := context.Background()
	collection := seedMarketplace(t, svc)

	// Wrong payment: both under and over the unit price are rejected.
	if _, _, err := svc.BuyPack(ctx, "bob", collection.ID, big.NewInt(2)); domain.ErrorCode(err) != domain.CodeInvalidAmount {
		t.Fatalf("overpay: %v", err)
	}
	if _, _, err := svc.BuyPack(ctx, "bob", collection.ID, big.NewInt(0)); domain.ErrorCode(err) != domain.CodeInvalidAmount {
		t.Fatalf("underpay: %v", err)
	}
	if _, _, err := svc.BuyPack(ctx, "bob", collection.ID, nil); domain.ErrorCode(err) != domain.CodeInvalidAmount {
		t.Fatalf("nil payment: %v", err)
	}
	// Unknown collection.
	if _, _, err := svc.BuyPack(ctx, "bob", 9, big.NewInt(1)); domain.ErrorCode(err) != domain.CodeInvalidCollection {
		t.Fatalf("unknown collection: %v", err)
	}
	// Blank buyer.
	if _, _, err := svc.BuyPack(ctx, "", collection.ID, big.NewInt(1)); domain.ErrorCode(err) != domain.CodeInvalidAddress {
		t.Fatalf("blank buyer: %v", err)
	}

	// None of the rejected purchases consumed a randomness request.
	if source.requests() != 0 {
		t.Fatalf("oracle saw %d requests", source.requests())
	}
	if got := len(svc.Store().ListPurchaseOrders()); got != 0 {
		t.Fatalf("rejected purchases recorded %d orders", got)
	}
}

func TestHandleRandomnessAuthAndReplay(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	collection := seedMarketplace(t, svc)

	requestID, _, err := svc.BuyPack(ctx, "bob", collection.ID, big.NewInt(1))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	if _, _, err := svc.HandleRandomness(ctx, "mallory", requestID, big.NewInt(777)); domain.ErrorCode(err) != domain.CodeUnauthorizedCaller {
		t.Fatalf("wrong caller: %v", err)
	}
	if _, _, err := svc.HandleRandomness(ctx, oracleAddr, testReqB, big.NewInt(777)); domain.ErrorCode(err) != domain.CodeInvalidRequestId {
		t.Fatalf("unknown request: %v", err)
	}

	if _, _, err := svc.HandleRandomness(ctx, oracleAddr, requestID, big.NewInt(777)); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	tokensBefore := svc.Store().ListTokens()

	if _, _, err := svc.HandleRandomness(ctx, oracleAddr, requestID, big.NewInt(999)); domain.ErrorCode(err) != domain.CodeAlreadyFulfilled {
		t.Fatalf("replay: %v", err)
	}
	if got := len(svc.Store().ListTokens()); got != len(tokensBefore) {
		t.Fatalf("replay minted tokens: %d -> %d", len(tokensBefore), got)
	}
}

func TestSecondPurchaseDrawsFromFullPool(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	collection := seedMarketplace(t, svc)

	first, _, err := svc.BuyPack(ctx, "bob", collection.ID, big.NewInt(1))
	if err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, _, err := svc.HandleRandomness(ctx, oracleAddr, first, big.NewInt(777)); err != nil {
		t.Fatalf("first fulfill: %v", err)
	}

	second, _, err := svc.BuyPack(ctx, "carol", collection.ID, big.NewInt(1))
	if err != nil {
		t.Fatalf("second buy: %v", err)
	}
	order, _, err := svc.HandleRandomness(ctx, oracleAddr, second, big.NewInt(777))
	if err != nil {
		t.Fatalf("second fulfill: %v", err)
	}
	// The pool is not consumed across orders: the same seed yields the same
	// brand-new tokens from the full pool.
	if len(order.MintedTokenIDs) != 3 {
		t.Fatalf("second order minted %v", order.MintedTokenIDs)
	}
	firstOrder, _ := svc.PurchaseOrder(ctx, first)
	for i, tokenID := range order.MintedTokenIDs {
		secondTok, _ := svc.Store().GetToken(tokenID)
		firstTok, _ := svc.Store().GetToken(firstOrder.MintedTokenIDs[i])
		if secondTok.SourceBlueprintID != firstTok.SourceBlueprintID {
			t.Fatalf("same seed drew different blueprints: %d vs %d", secondTok.SourceBlueprintID, firstTok.SourceBlueprintID)
		}
		if secondTok.Owner != "carol" {
			t.Fatalf("token %d owned by %s", tokenID, secondTok.Owner)
		}
	}
}

func TestMintFromBlueprintAuthority(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()
	seedMarketplace(t, svc)

	if _, _, err := svc.MintFromBlueprint(ctx, "mallory", "bob", 0); domain.ErrorCode(err) != domain.CodeUnauthorized {
		t.Fatalf("unauthorized mint: %v", err)
	}
	minted, _, err := svc.MintFromBlueprint(ctx, minterAddr, "bob", 2)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if minted.Owner != "bob" || minted.SourceBlueprintID != 2 {
		t.Fatalf("minted %+v", minted)
	}
	if got := len(sink.ofType(EventTokenMinted)); got != 1 {
		t.Fatalf("token.minted events: %d", got)
	}
}

func TestTransferTokenAndURI(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()
	seedMarketplace(t, svc)

	minted, _, err := svc.MintFromBlueprint(ctx, minterAddr, "bob", 1)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	uri, err := svc.TokenURI(ctx, minted.ID)
	if err != nil || uri != "meta/bp.json" {
		t.Fatalf("token uri = %q err = %v", uri, err)
	}

	moved, _, err := svc.TransferToken(ctx, "bob", "carol", minted.ID)
	if err != nil || moved.Owner != "carol" {
		t.Fatalf("transfer: %+v err=%v", moved, err)
	}
	if svc.BalanceOf(ctx, "bob") != 0 || svc.BalanceOf(ctx, "carol") != 1 {
		t.Fatal("balances not updated")
	}
	events := sink.ofType(EventTokenTransferred)
	if len(events) != 1 {
		t.Fatalf("token.transferred events: %d", len(events))
	}
	payload := events[0].payload.(domain.TokenTransferred)
	if payload.From != "bob" || payload.To != "carol" || payload.TokenID != minted.ID {
		t.Fatalf("payload %+v", payload)
	}

	if _, _, err := svc.TransferToken(ctx, "bob", "dave", minted.ID); domain.ErrorCode(err) != domain.CodeUnauthorized {
		t.Fatalf("stale owner transfer: %v", err)
	}
}

func TestBuyPackOracleFailure(t *testing.T) {
	svc, source, _ := newTestService(t)
	ctx := context.Background()
	collection := seedMarketplace(t, svc)
	source.err = errors.New("oracle down")

	if _, _, err := svc.BuyPack(ctx, "bob", collection.ID, big.NewInt(1)); err == nil {
		t.Fatal("expected error when the oracle is unavailable")
	}
	if got := len(svc.Store().ListPurchaseOrders()); got != 0 {
		t.Fatalf("failed buy recorded %d orders", got)
	}
}

func TestServiceAuditTrail(t *testing.T) {
	recorder := &captureAudit{}
	svc, _, _ := newTestService(t, WithAuditRecorder(recorder))
	ctx := context.Background()

	if _, _, err := svc.CreateBlueprint(ctx, "alice", "meta/bp.json"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.CreateBlueprint(ctx, "", "meta/bp.json"); err == nil {
		t.Fatal("expected validation error")
	}

	entries := recorder.snapshot()
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Status != AuditStatusSuccess || entries[0].Operation != OpCreateBlueprint || entries[0].Entity != EntityBlueprint {
		t.Fatalf("entry 0: %+v", entries[0])
	}
	if entries[1].Status != AuditStatusError || entries[1].Error == "" {
		t.Fatalf("entry 1: %+v", entries[1])
	}
	if !entries[0].Timestamp.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("audit timestamp not from the clock: %s", entries[0].Timestamp)
	}
}

type captureAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAudit) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
}

func (c *captureAudit) snapshot() []AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AuditEntry(nil), c.entries...)
}

func TestServiceTracing(t *testing.T) {
	tracer := &captureTracer{}
	svc, _, _ := newTestService(t, WithTracer(tracer))
	if _, _, err := svc.CreateBlueprint(context.Background(), "alice", "meta/bp.json"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(tracer.spans) != 1 || tracer.spans[0].operation != OpCreateBlueprint || !tracer.spans[0].ended {
		t.Fatalf("spans %+v", tracer.spans)
	}
}

type captureTracer struct {
	mu    sync.Mutex
	spans []*captureSpan
}

type captureSpan struct {
	operation string
	ended     bool
	err       error
}

func (t *captureTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	t.mu.Lock()
	defer t.mu.Unlock()
	span := &captureSpan{operation: operation}
	t.spans = append(t.spans, span)
	return ctx, span
}

func (s *captureSpan) End(err error) {
	s.ended = true
	s.err = err
}
