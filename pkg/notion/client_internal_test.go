package notion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestNewClient_DefaultRateLimit(t *testing.T) {
	c, ok := NewClient("test-token").(*notionClient)
	require.True(t, ok)
	require.NotNil(t, c.limiter)
	assert.Equal(t, rate.Limit(3), c.limiter.Limit())
	assert.Equal(t, 1, c.limiter.Burst())
}

func TestWithRateLimit(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(10)).(*notionClient)
	assert.Equal(t, rate.Limit(10), c.limiter.Limit())
	assert.Equal(t, 10, c.limiter.Burst())

	c = NewClient("test-token", WithRateLimit(0.5)).(*notionClient)
	assert.Equal(t, 1, c.limiter.Burst())

	c = NewClient("test-token", WithRateLimit(0)).(*notionClient)
	assert.Nil(t, c.limiter)
	assert.NoError(t, c.wait(context.Background()))
}

func TestWait_CancelledContext(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(0.001)).(*notionClient)
	require.NoError(t, c.wait(context.Background())) // consume the burst

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: rate limit")
}
