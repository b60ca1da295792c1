package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/absence-engine/generic"
)

func TestMemory_AppendAndPublish(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rec := generic.AuditRecord{ID: "a-1", Action: generic.AuditCaseReported}

	assert.NoError(t, m.AppendAudit(ctx, rec))
	assert.Len(t, m.Appended(), 1)
	assert.Empty(t, m.Published())

	assert.NoError(t, m.Publish(ctx, []generic.AuditRecord{rec}))
	assert.Equal(t, []generic.AuditAction{generic.AuditCaseReported}, m.PublishedActions())

	m.FailPublish(errors.New("down"))
	assert.Error(t, m.Publish(ctx, []generic.AuditRecord{rec}))
	assert.Len(t, m.Published(), 1)
}
