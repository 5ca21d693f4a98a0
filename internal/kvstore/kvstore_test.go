package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnconfiguredClientIsUnavailable(t *testing.T) {
	c := New(Options{})

	assert.False(t, c.Available())
	assert.ErrorIs(t, c.Ping(context.Background()), ErrUnavailable)

	_, err := c.IncrementWindow(context.Background(), "auth", "1.2.3.4", 3, time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.NoError(t, c.Close())
}

func TestNilClientIsUnavailable(t *testing.T) {
	var c *Client

	assert.False(t, c.Available())
	assert.ErrorIs(t, c.Ping(context.Background()), ErrUnavailable)
	assert.NoError(t, c.Close())
}

func TestWindowKeyIsolatesCategories(t *testing.T) {
	assert.Equal(t, "perimeter:rl:auth:1.2.3.4", windowKey("auth", "1.2.3.4"))
	assert.NotEqual(t, windowKey("auth", "1.2.3.4"), windowKey("contact", "1.2.3.4"))
}
