package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	txs   []*Transaction
	byRef map[string]*Transaction
	byID  map[string]*Transaction
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byRef: make(map[string]*Transaction),
		byID:  make(map[string]*Transaction),
	}
}

func (s *MemoryStore) Append(ctx context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byRef[tx.Reference]; ok {
		return ErrDuplicateReference
	}

	cp := *tx
	s.txs = append(s.txs, &cp)
	s.byRef[cp.Reference] = &cp
	s.byID[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.byRef[reference]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) AdvanceStatus(ctx context.Context, id string, to TxStatus, providerRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return ErrTransactionNotFound
	}
	if tx.Status == to {
		return nil
	}
	if !canAdvance(tx.Status, to) {
		return ErrInvalidStatusChange
	}
	tx.Status = to
	if providerRef != "" {
		tx.ProviderRef = providerRef
	}
	return nil
}

func (s *MemoryStore) ListByBooking(ctx context.Context, bookingID string) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Transaction
	for _, tx := range s.txs {
		if tx.BookingID == bookingID {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByParty(ctx context.Context, partyID string, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Transaction
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].PartyID != partyID {
			continue
		}
		cp := *s.txs[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
