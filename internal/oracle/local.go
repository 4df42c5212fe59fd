// Package oracle provides randomness sources for the purchase coordinator.
// The local source keeps requests in memory and delivers seeds either from a
// configured VRF key or from an explicitly supplied value.
package oracle

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"packcore/pkg/domain"
)

// Handler consumes a delivered seed for a previously issued request. The
// caller address identifies the oracle principal to the receiving service.
type Handler func(ctx context.Context, caller domain.Address, requestID domain.RequestID, seed *big.Int) error

// Local is an in-process randomness source. Request ids are 256-bit values
// read from the entropy reader; seeds are derived from the VRF key when one
// is configured, otherwise they must be supplied on delivery.
type Local struct {
	mu        sync.Mutex
	principal domain.Address
	vrfKey    []byte
	handler   Handler
	entropy   io.Reader
	logger    *slog.Logger
	pending   map[domain.RequestID]struct{}
	order     []domain.RequestID
}

// LocalOption customizes a Local source.
type LocalOption func(*Local)

// WithVRFKey enables deterministic seed derivation from the key and the
// request id. Without a key every delivery must carry an explicit seed.
func WithVRFKey(key []byte) LocalOption {
	return func(l *Local) {
		l.vrfKey = append([]byte(nil), key...)
	}
}

// WithHandler sets the callback invoked on delivery.
func WithHandler(h Handler) LocalOption {
	return func(l *Local) { l.handler = h }
}

// WithEntropy overrides the request id entropy source. Intended for tests.
func WithEntropy(r io.Reader) LocalOption {
	return func(l *Local) {
		if r != nil {
			l.entropy = r
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocal constructs a local source acting as the given principal.
func NewLocal(principal domain.Address, opts ...LocalOption) *Local {
	l := &Local{
		principal: principal,
		entropy:   rand.Reader,
		logger:    slog.Default(),
		pending:   map[domain.RequestID]struct{}{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Principal returns the address this source delivers callbacks as.
func (l *Local) Principal() domain.Address { return l.principal }

// SetHandler replaces the delivery callback. Needed when the source is built
// before the service consuming its callbacks.
func (l *Local) SetHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// RequestRandomness issues a new pending request and returns its id. The
// seed material is accepted for interface compatibility; the local source
// does not mix it into the request id.
func (l *Local) RequestRandomness(_ context.Context, _ []byte) (domain.RequestID, error) {
	var buf [32]byte
	if _, err := io.ReadFull(l.entropy, buf[:]); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	id := domain.RequestID(hex.EncodeToString(buf[:]))
	l.mu.Lock()
	l.pending[id] = struct{}{}
	l.order = append(l.order, id)
	l.mu.Unlock()
	l.logger.Debug("randomness requested", "request_id", string(id))
	return id, nil
}

// Pending returns the ids of undelivered requests in issue order.
func (l *Local) Pending() []domain.RequestID {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]domain.RequestID, 0, len(l.pending))
	for _, id := range l.order {
		if _, ok := l.pending[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Deliver fulfills a pending request using the seed derived from the VRF
// key. It fails when no key is configured.
func (l *Local) Deliver(ctx context.Context, requestID domain.RequestID) error {
	l.mu.Lock()
	key := l.vrfKey
	l.mu.Unlock()
	if len(key) == 0 {
		return errors.New("no vrf key configured, use DeliverSeed")
	}
	return l.DeliverSeed(ctx, requestID, DeriveSeed(key, requestID))
}

// DeliverSeed fulfills a pending request with an explicit seed value.
func (l *Local) DeliverSeed(ctx context.Context, requestID domain.RequestID, seed *big.Int) error {
	l.mu.Lock()
	handler := l.handler
	_, ok := l.pending[requestID]
	if ok {
		delete(l.pending, requestID)
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown request id %s", requestID)
	}
	if handler == nil {
		return errors.New("no delivery handler configured")
	}
	if err := handler(ctx, l.principal, requestID, seed); err != nil {
		// Put the request back so a later redelivery can retry.
		l.mu.Lock()
		l.pending[requestID] = struct{}{}
		l.mu.Unlock()
		return err
	}
	l.logger.Debug("randomness delivered", "request_id", string(requestID))
	return nil
}

// DeriveSeed computes the deterministic seed for a request id under a VRF
// key: the SHA-256 digest of the key followed by the id bytes, as an
// unsigned 256-bit integer.
func DeriveSeed(key []byte, requestID domain.RequestID) *big.Int {
	h := sha256.New()
	h.Write(key)
	h.Write([]byte(requestID))
	return new(big.Int).SetBytes(h.Sum(nil))
}
