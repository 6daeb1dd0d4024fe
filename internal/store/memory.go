package store

import (
	"context"
	"sort"
	"sync"

	"github.com/aslanahmtv/event-management-system/internal/notification"
)

// Memory is a mutex-guarded in-memory store. It is the default backend and
// the one tests run against.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*notification.Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*notification.Record)}
}

func (m *Memory) Insert(_ context.Context, rec *notification.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.NotificationID] = cloneRecord(rec)
	return nil
}

func (m *Memory) FindByID(_ context.Context, id, subject string) (*notification.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok || !rec.IsDeliveredTo(subject) {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) FindByRecipient(_ context.Context, subject string, page, pageSize int) ([]*notification.Record, error) {
	m.mu.RLock()
	matched := make([]*notification.Record, 0)
	for _, rec := range m.records {
		if rec.IsDeliveredTo(subject) {
			matched = append(matched, cloneRecord(rec))
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	offset := (page - 1) * pageSize
	if offset >= len(matched) {
		return []*notification.Record{}, nil
	}
	end := offset + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (m *Memory) CountUnread(_ context.Context, subject string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, rec := range m.records {
		if rec.IsDeliveredTo(subject) && !rec.IsReadBy(subject) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) MarkRead(_ context.Context, id, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || !rec.IsDeliveredTo(subject) {
		return ErrNotFound
	}
	if !rec.IsReadBy(subject) {
		rec.ReadBy = append(rec.ReadBy, subject)
	}
	return nil
}

func (m *Memory) MarkAllRead(_ context.Context, subject string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, rec := range m.records {
		if rec.IsDeliveredTo(subject) && !rec.IsReadBy(subject) {
			rec.ReadBy = append(rec.ReadBy, subject)
			count++
		}
	}
	return count, nil
}

func (m *Memory) Close() error { return nil }

func cloneRecord(rec *notification.Record) *notification.Record {
	out := *rec
	out.DeliveredTo = append([]string{}, rec.DeliveredTo...)
	out.ReadBy = append([]string{}, rec.ReadBy...)
	return &out
}
