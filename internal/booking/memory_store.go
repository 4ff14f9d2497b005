package booking

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory booking store for demo/development mode.
type MemoryStore struct {
	bookings map[string]*Booking
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory booking store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bookings: make(map[string]*Booking)}
}

func (m *MemoryStore) Create(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bookings[b.ID]; ok {
		return ErrBookingExists
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

// UpdateVersioned applies the write only if the stored version still equals
// expectedVersion. A mismatch means another writer got there first.
func (m *MemoryStore) UpdateVersioned(ctx context.Context, b *Booking, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.bookings[b.ID]
	if !ok {
		return ErrBookingNotFound
	}
	if current.Version != expectedVersion {
		return ErrConflict
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Booking
	for _, b := range m.bookings {
		if b.Archived {
			continue
		}
		if filter.ClientID != "" && b.ClientID != filter.ClientID {
			continue
		}
		if filter.StylistID != "" && b.StylistID != filter.StylistID {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if !filter.BeforeTime.IsZero() {
			if b.CreatedAt.After(filter.BeforeTime) {
				continue
			}
			if b.CreatedAt.Equal(filter.BeforeTime) && b.ID >= filter.BeforeID {
				continue
			}
		}
		cp := *b
		matched = append(matched, &cp)
	}

	// Newest first, ID as tiebreaker so pagination is stable
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (m *MemoryStore) ListArchivable(ctx context.Context, before time.Time, limit int) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Booking
	for _, b := range m.bookings {
		if b.Archived || !b.IsTerminal() || !b.UpdatedAt.Before(before) {
			continue
		}
		cp := *b
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) MarkArchived(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	b.Archived = true
	return nil
}
