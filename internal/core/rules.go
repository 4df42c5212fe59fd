package core

import (
	"context"
	"fmt"

	"packcore/pkg/domain"
)

// NewDefaultRulesEngine returns the engine with the built-in referential
// integrity rules registered.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewCollectionMembersRule())
	engine.Register(NewMintSourceRule())
	engine.Register(NewOrderIntegrityRule())
	return engine
}

// NewCollectionMembersRule returns the rule requiring every collection member
// to reference a registered blueprint.
func NewCollectionMembersRule() domain.Rule {
	return collectionMembersRule{}
}

type collectionMembersRule struct{}

func (collectionMembersRule) Name() string { return "collection_members" }

func (collectionMembersRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	total := uint64(len(view.ListBlueprints()))

	res := domain.Result{}
	for _, collection := range view.ListCollections() {
		for _, member := range collection.MemberBlueprintIDs {
			if member >= total {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "collection_members",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("collection %d references unknown blueprint %d", collection.ID, member),
					Entity:   domain.EntityCollection,
					EntityID: fmt.Sprintf("%d", collection.ID),
				})
			}
		}
	}
	return res, nil
}

// NewMintSourceRule returns the rule requiring every token's source blueprint
// to exist.
func NewMintSourceRule() domain.Rule {
	return mintSourceRule{}
}

type mintSourceRule struct{}

func (mintSourceRule) Name() string { return "mint_source" }

func (mintSourceRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	total := uint64(len(view.ListBlueprints()))

	res := domain.Result{}
	for _, token := range view.ListTokens() {
		if token.SourceBlueprintID >= total {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "mint_source",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("token %d minted from unknown blueprint %d", token.ID, token.SourceBlueprintID),
				Entity:   domain.EntityToken,
				EntityID: fmt.Sprintf("%d", token.ID),
			})
		}
	}
	return res, nil
}

// NewOrderIntegrityRule returns the rule validating fulfilled purchase
// orders: exactly capacity tokens, each minted from a distinct member of the
// order's collection and owned at mint time by the buyer.
func NewOrderIntegrityRule() domain.Rule {
	return orderIntegrityRule{}
}

type orderIntegrityRule struct{}

func (orderIntegrityRule) Name() string { return "order_integrity" }

func (orderIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, order := range view.ListPurchaseOrders() {
		if !order.Fulfilled() {
			if len(order.MintedTokenIDs) != 0 {
				res.Violations = append(res.Violations, violationFor(order, "pending order holds minted tokens"))
			}
			continue
		}
		collection, ok := view.FindCollection(order.CollectionID)
		if !ok {
			res.Violations = append(res.Violations, violationFor(order, fmt.Sprintf("fulfilled against unknown collection %d", order.CollectionID)))
			continue
		}
		if uint64(len(order.MintedTokenIDs)) != uint64(collection.Capacity) {
			res.Violations = append(res.Violations, violationFor(order, fmt.Sprintf("minted %d tokens, capacity %d", len(order.MintedTokenIDs), collection.Capacity)))
			continue
		}
		members := make(map[uint64]struct{}, len(collection.MemberBlueprintIDs))
		for _, m := range collection.MemberBlueprintIDs {
			members[m] = struct{}{}
		}
		seen := make(map[uint64]struct{}, len(order.MintedTokenIDs))
		for _, tokenID := range order.MintedTokenIDs {
			token, ok := view.FindToken(tokenID)
			if !ok {
				res.Violations = append(res.Violations, violationFor(order, fmt.Sprintf("references unknown token %d", tokenID)))
				continue
			}
			if _, ok := members[token.SourceBlueprintID]; !ok {
				res.Violations = append(res.Violations, violationFor(order, fmt.Sprintf("token %d minted from blueprint %d outside the collection pool", tokenID, token.SourceBlueprintID)))
			}
			if _, dup := seen[token.SourceBlueprintID]; dup {
				res.Violations = append(res.Violations, violationFor(order, fmt.Sprintf("blueprint %d drawn more than once", token.SourceBlueprintID)))
			}
			seen[token.SourceBlueprintID] = struct{}{}
		}
	}
	return res, nil
}

func violationFor(order domain.PurchaseOrder, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "order_integrity",
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf("order %s: %s", order.RequestID, msg),
		Entity:   domain.EntityPurchaseOrder,
		EntityID: string(order.RequestID),
	}
}
