package repository

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"notifyhub/internal/model"
)

// MemoryStore keeps everything in process memory. It implements both
// NotificationStore and DeadLetterStore and is used for local runs and tests.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextRecordID int64
	nextUnitID   int64
	nextEntryID  int64

	records map[int64]*model.NotificationRecord
	units   map[int64]*model.DeliveryUnit
	entries map[int64]*model.DeadLetterEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		records: make(map[int64]*model.NotificationRecord),
		units:   make(map[int64]*model.DeliveryUnit),
		entries: make(map[int64]*model.DeadLetterEntry),
	}
}

// WithClock overrides the time source used for CreatedAt stamps.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Save(_ context.Context, rec *model.NotificationRecord) error {
	if rec == nil {
		return fmt.Errorf("nil notification record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(rec.Units))
	for _, u := range rec.Units {
		key := fmt.Sprintf("%d/%s", u.UserID, u.Channel)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate delivery unit user=%d channel=%s", u.UserID, u.Channel)
		}
		seen[key] = struct{}{}
	}

	s.nextRecordID++
	rec.ID = s.nextRecordID
	rec.CreatedAt = s.now().UTC()

	stored := *rec
	stored.Units = nil
	stored.Metadata = copyMetadata(rec.Metadata)
	s.records[rec.ID] = &stored

	for i := range rec.Units {
		s.nextUnitID++
		rec.Units[i].ID = s.nextUnitID
		rec.Units[i].NotificationID = rec.ID
		u := rec.Units[i]
		s.units[u.ID] = &u
	}
	return nil
}

func (s *MemoryStore) SaveAll(_ context.Context, units []model.DeliveryUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range units {
		if _, ok := s.units[u.ID]; !ok {
			return fmt.Errorf("delivery unit %d: %w", u.ID, ErrNotFound)
		}
	}
	for _, u := range units {
		cur := s.units[u.ID]
		if cur.Status != model.StatusRead {
			cur.Status = u.Status
		}
		cur.SentAt = u.SentAt
	}
	return nil
}

func (s *MemoryStore) FindUnitByID(_ context.Context, id int64) (*model.DeliveryUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.units[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) FindUnitsByNotification(_ context.Context, notificationID int64) ([]model.DeliveryUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.DeliveryUnit
	for _, u := range s.units {
		if u.NotificationID == notificationID {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FindByUserOrderBySentAtDesc(_ context.Context, userID int64) ([]model.NotificationDTO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.NotificationDTO{}
	for _, u := range s.units {
		if u.UserID != userID {
			continue
		}
		rec := s.records[u.NotificationID]
		dto := model.NewNotificationDTO(*u, rec)
		dto.Metadata = copyMetadata(rec.Metadata)
		out = append(out, dto)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].SentAt, out[j].SentAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CountByUserAndStatus(_ context.Context, userID int64, status model.Status) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, u := range s.units {
		if u.UserID == userID && u.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteNotification(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	for uid, u := range s.units {
		if u.NotificationID == id {
			delete(s.units, uid)
		}
	}
	return nil
}

func (s *MemoryStore) SaveDeadLetterEntry(_ context.Context, e *model.DeadLetterEntry) error {
	if e == nil {
		return fmt.Errorf("nil dead letter entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEntryID++
	e.ID = s.nextEntryID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	cp := *e
	cp.PayloadRaw = bytes.Clone(e.PayloadRaw)
	s.entries[e.ID] = &cp
	return nil
}

func (s *MemoryStore) ListUnprocessed(_ context.Context) ([]model.DeadLetterEntry, error) {
	return s.listUnprocessed(func(model.DeadLetterEntry) bool { return true }), nil
}

func (s *MemoryStore) ListUnprocessedOlderThan(_ context.Context, cutoff time.Time) ([]model.DeadLetterEntry, error) {
	return s.listUnprocessed(func(e model.DeadLetterEntry) bool { return e.CreatedAt.Before(cutoff) }), nil
}

func (s *MemoryStore) listUnprocessed(keep func(model.DeadLetterEntry) bool) []model.DeadLetterEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.DeadLetterEntry{}
	for _, e := range s.entries {
		if !e.Processed && keep(*e) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) CountUnprocessed(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.entries {
		if !e.Processed {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if !e.Processed {
		now := s.now().UTC()
		e.Processed = true
		e.ProcessedAt = &now
	}
	return nil
}

// Ping lets the memory store stand in for a database readiness check.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
