package util_test

import (
	"context"
	"testing"
	"time"

	// Packages
	util "github.com/mutablelogic/go-mcp-bridge/pkg/util"
	assert "github.com/stretchr/testify/assert"
)

func Test_origin_001(t *testing.T) {
	assert := assert.New(t)

	allow := util.AllowedOrigins{"https://a.example"}
	assert.True(allow.Accepts("https://a.example"))
	// Boundary from spec.md §8: no port normalization
	assert.False(allow.Accepts("https://a.example:443"))
}

func Test_origin_002(t *testing.T) {
	assert := assert.New(t)

	allow := util.AllowedOrigins{"*"}
	assert.True(allow.Accepts("https://anything.example"))
}

func Test_origin_003(t *testing.T) {
	assert := assert.New(t)

	var allow util.AllowedOrigins
	assert.False(allow.Accepts("https://a.example"))
}

func Test_matchOrigin_001(t *testing.T) {
	assert := assert.New(t)

	assert.True(util.MatchOrigin("https://peer", "https://peer"))
	assert.False(util.MatchOrigin("https://peer", "https://evil"))
}

func Test_sessionID_001(t *testing.T) {
	assert := assert.New(t)

	a := util.SessionID()
	b := util.SessionID()
	assert.NotEmpty(a)
	assert.NotEqual(a, b)
}

func Test_pinnedOrigin_001(t *testing.T) {
	assert := assert.New(t)

	var p util.PinnedOrigin
	_, set := p.Get()
	assert.False(set)

	assert.True(p.Pin("https://peer"))
	origin, set := p.Get()
	assert.True(set)
	assert.Equal("https://peer", origin)

	// Write-once: second pin is a no-op
	assert.False(p.Pin("https://other"))
	origin, _ = p.Get()
	assert.Equal("https://peer", origin)
}

func Test_withTimeout_001(t *testing.T) {
	assert := assert.New(t)

	ctx, cancel := util.WithTimeout(context.Background(), 0)
	defer cancel()
	assert.Error(ctx.Err())
}

func Test_withTimeout_002(t *testing.T) {
	assert := assert.New(t)

	ctx, cancel := util.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(ctx.Err())
	<-ctx.Done()
	assert.ErrorIs(ctx.Err(), context.DeadlineExceeded)
}
