// Package store provides in-memory implementations of the generic audit interfaces.
package store

import (
	"context"
	"sync"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// MEMORY AUDIT LOG - In-memory implementation (for testing/dev)
// =============================================================================

// Memory collects audit records. It implements both generic.AuditLog and
// generic.AuditPublisher so tests can assert on either side of a commit.
type Memory struct {
	mu        sync.RWMutex
	appended  []generic.AuditRecord
	published []generic.AuditRecord
	failWith  error
}

func NewMemory() *Memory {
	return &Memory{}
}

// AppendAudit adds a single record. Append-only.
func (m *Memory) AppendAudit(_ context.Context, rec generic.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, rec)
	return nil
}

// Publish records a committed batch. Returns the error set with FailPublish, if any.
func (m *Memory) Publish(_ context.Context, recs []generic.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.published = append(m.published, recs...)
	return nil
}

// FailPublish makes every following Publish call return err.
func (m *Memory) FailPublish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *Memory) Appended() []generic.AuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]generic.AuditRecord, len(m.appended))
	copy(result, m.appended)
	return result
}

func (m *Memory) Published() []generic.AuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]generic.AuditRecord, len(m.published))
	copy(result, m.published)
	return result
}

// PublishedActions returns the actions of all published records, in order.
func (m *Memory) PublishedActions() []generic.AuditAction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	actions := make([]generic.AuditAction, len(m.published))
	for i, r := range m.published {
		actions[i] = r.Action
	}
	return actions
}

var (
	_ generic.AuditLog       = (*Memory)(nil)
	_ generic.AuditPublisher = (*Memory)(nil)
)
