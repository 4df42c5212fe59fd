// Package httpapi exposes the marketplace service over HTTP. Dispatch is
// explicit path/method matching under /api/v1 with JSON bodies.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"packcore/internal/adapters/metadata"
	"packcore/pkg/domain"
)

// Service is the subset of marketplace operations the API needs.
type Service interface {
	CreateBlueprint(ctx context.Context, author domain.Address, metadataPath string) (domain.Blueprint, domain.Result, error)
	BlueprintURI(ctx context.Context, id uint64) (string, error)
	TotalBlueprints(ctx context.Context) uint64
	CreateTokenCollection(ctx context.Context, creator domain.Address, metadataPath string, unitPrice *big.Int, capacity uint32, memberBlueprintIDs []uint64) (domain.Collection, domain.Result, error)
	TokenCollection(ctx context.Context, id uint64) (domain.Collection, error)
	TotalCollections(ctx context.Context) uint64
	TransferToken(ctx context.Context, from, to domain.Address, tokenID uint64) (domain.Token, domain.Result, error)
	TokenURI(ctx context.Context, tokenID uint64) (string, error)
	BalanceOf(ctx context.Context, owner domain.Address) uint64
	BuyPack(ctx context.Context, buyer domain.Address, collectionID uint64, payment *big.Int) (domain.RequestID, domain.Result, error)
	HandleRandomness(ctx context.Context, caller domain.Address, requestID domain.RequestID, seed *big.Int) (domain.PurchaseOrder, domain.Result, error)
	PurchaseOrder(ctx context.Context, requestID domain.RequestID) (domain.PurchaseOrder, error)
	PurchaseOrderTokens(ctx context.Context, requestID domain.RequestID) ([]uint64, error)
	Store() domain.PersistentStore
}

// callerHeader carries the acting principal for mutating requests.
const callerHeader = "X-Packcore-Caller"

// Handler routes marketplace API requests.
type Handler struct {
	Service  Service
	Metadata *metadata.Store
}

// NewHandler constructs the API handler. The metadata store may be nil, in
// which case the metadata routes 404.
func NewHandler(svc Service, meta *metadata.Store) *Handler {
	return &Handler{Service: svc, Metadata: meta}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "service not configured")
		return
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/blueprints":
		h.handleBlueprints(w, r)
	case strings.HasPrefix(path, "/api/v1/blueprints/"):
		h.handleBlueprint(w, r, strings.TrimPrefix(path, "/api/v1/blueprints/"))
	case path == "/api/v1/collections":
		h.handleCollections(w, r)
	case strings.HasPrefix(path, "/api/v1/collections/"):
		h.handleCollection(w, r, strings.TrimPrefix(path, "/api/v1/collections/"))
	case path == "/api/v1/purchases":
		h.handlePurchaseCreate(w, r)
	case strings.HasPrefix(path, "/api/v1/purchases/"):
		h.handlePurchase(w, r, strings.TrimPrefix(path, "/api/v1/purchases/"))
	case path == "/api/v1/oracle/callback":
		h.handleOracleCallback(w, r)
	case strings.HasPrefix(path, "/api/v1/tokens/"):
		h.handleToken(w, r, strings.TrimPrefix(path, "/api/v1/tokens/"))
	case strings.HasPrefix(path, "/api/v1/owners/"):
		h.handleOwner(w, r, strings.TrimPrefix(path, "/api/v1/owners/"))
	case path == "/api/v1/metadata" || strings.HasPrefix(path, "/api/v1/metadata/"):
		h.handleMetadata(w, r, strings.TrimPrefix(path, "/api/v1/metadata"))
	default:
		http.NotFound(w, r)
	}
}

type blueprintRequest struct {
	MetadataPath string `json:"metadata_path"`
}

func (h *Handler) handleBlueprints(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		blueprints := h.Service.Store().ListBlueprints()
		writeJSON(w, http.StatusOK, map[string]any{"blueprints": blueprints, "total": len(blueprints)})
	case http.MethodPost:
		var req blueprintRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid blueprint request payload")
			return
		}
		created, _, err := h.Service.CreateBlueprint(r.Context(), caller(r), req.MetadataPath)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"blueprint": created})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleBlueprint(w http.ResponseWriter, r *http.Request, remainder string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, err := parseID(remainder)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid blueprint id")
		return
	}
	uri, err := h.Service.BlueprintURI(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "uri": uri})
}

type collectionRequest struct {
	MetadataPath       string   `json:"metadata_path"`
	UnitPrice          string   `json:"unit_price"`
	Capacity           uint32   `json:"capacity"`
	MemberBlueprintIDs []uint64 `json:"member_blueprint_ids"`
}

func (h *Handler) handleCollections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		collections := h.Service.Store().ListCollections()
		writeJSON(w, http.StatusOK, map[string]any{"collections": collections, "total": len(collections)})
	case http.MethodPost:
		var req collectionRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid collection request payload")
			return
		}
		price, ok := parseAmount(req.UnitPrice)
		if !ok {
			writeError(w, http.StatusBadRequest, string(domain.CodePriceUnderLimit))
			return
		}
		created, _, err := h.Service.CreateTokenCollection(r.Context(), caller(r), req.MetadataPath, price, req.Capacity, req.MemberBlueprintIDs)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"collection": created})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleCollection(w http.ResponseWriter, r *http.Request, remainder string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, err := parseID(remainder)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	collection, err := h.Service.TokenCollection(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collection": collection})
}

type purchaseRequest struct {
	CollectionID uint64 `json:"collection_id"`
	Payment      string `json:"payment"`
}

func (h *Handler) handlePurchaseCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req purchaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid purchase request payload")
		return
	}
	payment, ok := parseAmount(req.Payment)
	if !ok {
		writeError(w, http.StatusBadRequest, string(domain.CodeInvalidAmount))
		return
	}
	requestID, _, err := h.Service.BuyPack(r.Context(), caller(r), req.CollectionID, payment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"request_id": requestID})
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request, remainder string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	segments := strings.Split(remainder, "/")
	requestID := domain.RequestID(segments[0])
	switch len(segments) {
	case 1:
		order, err := h.Service.PurchaseOrder(r.Context(), requestID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	case 2:
		if segments[1] != "tokens" {
			http.NotFound(w, r)
			return
		}
		tokens, err := h.Service.PurchaseOrderTokens(r.Context(), requestID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"request_id": requestID, "token_ids": tokens})
	default:
		http.NotFound(w, r)
	}
}

type callbackRequest struct {
	RequestID string `json:"request_id"`
	Seed      string `json:"seed"`
}

func (h *Handler) handleOracleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req callbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid callback payload")
		return
	}
	seed, ok := new(big.Int).SetString(req.Seed, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid seed")
		return
	}
	order, _, err := h.Service.HandleRandomness(r.Context(), caller(r), domain.RequestID(req.RequestID), seed)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request, remainder string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, err := parseID(remainder)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}
	uri, err := h.Service.TokenURI(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "uri": uri})
}

func (h *Handler) handleOwner(w http.ResponseWriter, r *http.Request, remainder string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	segments := strings.Split(remainder, "/")
	if len(segments) != 2 || segments[1] != "balance" {
		http.NotFound(w, r)
		return
	}
	owner := domain.Address(segments[0])
	if !owner.Valid() {
		writeError(w, http.StatusBadRequest, string(domain.CodeInvalidAddress))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "balance": h.Service.BalanceOf(r.Context(), owner)})
}

func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request, remainder string) {
	if h.Metadata == nil {
		http.NotFound(w, r)
		return
	}
	switch {
	case remainder == "" && r.Method == http.MethodPost:
		var doc metadata.Document
		if err := decodeBody(r, &doc); err != nil {
			writeError(w, http.StatusBadRequest, "invalid metadata payload")
			return
		}
		path, err := h.Metadata.Put(r.Context(), doc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"path": path})
	case remainder != "" && r.Method == http.MethodGet:
		path := strings.TrimPrefix(remainder, "/")
		doc, err := h.Metadata.Get(r.Context(), path)
		if err != nil {
			writeError(w, http.StatusNotFound, "metadata document not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"path": path, "document": doc})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func caller(r *http.Request) domain.Address {
	return domain.Address(strings.TrimSpace(r.Header.Get(callerHeader)))
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err.Error() != "EOF" {
		return err
	}
	return nil
}

func parseID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func parseAmount(s string) (*big.Int, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}

// writeServiceError maps domain errors onto HTTP statuses: validation 400,
// authorization 403, not-found 404, fulfillment replay 409. The body carries
// the reason code so clients can branch without parsing prose.
func writeServiceError(w http.ResponseWriter, err error) {
	code := domain.ErrorCode(err)
	var status int
	switch {
	case errors.As(err, new(domain.ValidationError)):
		status = http.StatusBadRequest
	case errors.As(err, new(domain.AuthorizationError)):
		status = http.StatusForbidden
	case errors.As(err, new(domain.NotFoundError)):
		status = http.StatusNotFound
	case errors.As(err, new(domain.FulfillmentError)):
		status = http.StatusConflict
	case errors.As(err, new(domain.RuleViolationError)):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}
	if code != "" {
		writeJSON(w, status, map[string]any{"error": err.Error(), "code": string(code)})
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
