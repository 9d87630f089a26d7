package eventbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveOptions_Defaults(t *testing.T) {
	cfg := resolveOptions(nil)
	require.NotNil(t, cfg.pool)
	require.NotNil(t, cfg.logger)
	require.Nil(t, cfg.guardTime)
	require.False(t, cfg.gcActions)
}

func TestResolveOptions_AppliesEachOption(t *testing.T) {
	pool := NewThreadPool(2)
	defer pool.Close()

	cfg := resolveOptions([]Option{
		WithThreadPool(pool),
		WithGCActions(true),
		WithGuardTime(10 * time.Millisecond),
	})
	require.Same(t, ActionPool(pool), cfg.pool)
	require.True(t, cfg.gcActions)
	require.NotNil(t, cfg.guardTime)
}

func TestResolveOptions_NilOptionIgnored(t *testing.T) {
	require.NotPanics(t, func() {
		resolveOptions([]Option{nil, WithGCActions(true)})
	})
}

func TestWithGuardTime_Nil(t *testing.T) {
	cfg := resolveOptions([]Option{WithGuardTime(nil)})
	require.Nil(t, cfg.guardTime)
}
