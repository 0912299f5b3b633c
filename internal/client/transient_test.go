package client

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	base := errors.New("connection refused")

	assert.True(t, IsTransient(Transient(base)))
	assert.False(t, IsTransient(base))
	assert.False(t, IsTransient(nil))

	// 包装一层后仍可识别
	wrapped := fmt.Errorf("sync failed: %w", Transient(base))
	assert.True(t, IsTransient(wrapped))
}

func TestTransientNil(t *testing.T) {
	assert.Nil(t, Transient(nil))
}
