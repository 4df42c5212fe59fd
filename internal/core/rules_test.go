package core

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"packcore/internal/infra/persistence/memory"
	"packcore/pkg/domain"
)

const ruleReq = domain.RequestID("cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc")

func seedBlueprints(t *testing.T, store *memory.Store, n int) {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		for i := 0; i < n; i++ {
			if _, err := tx.CreateBlueprint("alice", "meta/bp.json"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed blueprints: %v", err)
	}
}

func expectRuleViolation(t *testing.T, err error, rule string) {
	t.Helper()
	var rve domain.RuleViolationError
	if !errors.As(err, &rve) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	for _, v := range rve.Result.Violations {
		if v.Rule == rule {
			return
		}
	}
	t.Fatalf("no %s violation in %+v", rule, rve.Result.Violations)
}

func TestCollectionMembersRuleBlocksUnknownBlueprint(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	seedBlueprints(t, store, 2)

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateCollection("alice", "meta/c.json", big.NewInt(1), 1, []uint64{0, 7})
		return err
	})
	expectRuleViolation(t, err, "collection_members")
	if got := len(store.ListCollections()); got != 0 {
		t.Fatalf("blocked collection committed: %d", got)
	}
}

func TestMintSourceRuleBlocksOrphanToken(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	// Hydrate a corrupted snapshot: a token minted from a blueprint that was
	// never registered.
	store.ImportState(memory.Snapshot{
		Tokens: []domain.Token{{ID: 0, Owner: "bob", SourceBlueprintID: 42}},
	})

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateBlueprint("alice", "meta/bp.json")
		return err
	})
	expectRuleViolation(t, err, "mint_source")
}

func TestOrderIntegrityRulePendingOrderWithTokens(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	store.ImportState(memory.Snapshot{
		Blueprints: []domain.Blueprint{{ID: 0, Author: "alice", MetadataPath: "meta/bp.json"}},
		Collections: []domain.Collection{{
			ID: 0, Creator: "alice", MetadataPath: "meta/c.json",
			UnitPrice: big.NewInt(1), Capacity: 1, MemberBlueprintIDs: []uint64{0},
		}},
		Orders: []domain.PurchaseOrder{{
			RequestID: ruleReq, Buyer: "bob", CollectionID: 0,
			AmountPaid: big.NewInt(1), Status: domain.OrderRequested,
			MintedTokenIDs: []uint64{0},
		}},
		Tokens: []domain.Token{{ID: 0, Owner: "bob", SourceBlueprintID: 0}},
	})

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateBlueprint("alice", "meta/bp2.json")
		return err
	})
	expectRuleViolation(t, err, "order_integrity")
}

func TestOrderIntegrityRuleCapacityMismatch(t *testing.T) {
	now := time.Now().UTC()
	store := memory.NewStore(NewDefaultRulesEngine())
	store.ImportState(memory.Snapshot{
		Blueprints: []domain.Blueprint{
			{ID: 0, Author: "alice", MetadataPath: "meta/bp.json"},
			{ID: 1, Author: "alice", MetadataPath: "meta/bp.json"},
		},
		Collections: []domain.Collection{{
			ID: 0, Creator: "alice", MetadataPath: "meta/c.json",
			UnitPrice: big.NewInt(1), Capacity: 2, MemberBlueprintIDs: []uint64{0, 1},
		}},
		Tokens: []domain.Token{{ID: 0, Owner: "bob", SourceBlueprintID: 0}},
		Orders: []domain.PurchaseOrder{{
			RequestID: ruleReq, Buyer: "bob", CollectionID: 0,
			AmountPaid: big.NewInt(1), Status: domain.OrderFulfilled,
			MintedTokenIDs: []uint64{0}, FulfilledAt: &now,
		}},
	})

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateBlueprint("alice", "meta/bp2.json")
		return err
	})
	expectRuleViolation(t, err, "order_integrity")
}

func TestDefaultRulesPassOnConsistentState(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	seedBlueprints(t, store, 3)

	res, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.CreateCollection("alice", "meta/c.json", big.NewInt(1), 2, []uint64{0, 1, 2}); err != nil {
			return err
		}
		_, err := tx.MintToken("bob", 1)
		return err
	})
	if err != nil {
		t.Fatalf("consistent state rejected: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations %+v", res.Violations)
	}
}
