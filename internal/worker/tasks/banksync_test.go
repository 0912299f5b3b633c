package tasks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBankSyncTask(t *testing.T) {
	task, err := NewBankSyncTask(42, "webhook")
	assert.NoError(t, err)
	assert.Equal(t, TypeBankSync, task.Type())

	var p BankSyncPayload
	assert.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, uint64(42), p.ConnectionID)
	assert.Equal(t, "webhook", p.Trigger)
}
