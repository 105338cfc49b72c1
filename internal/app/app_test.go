package app

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopcap/internal/config"
	"shopcap/pkg/model"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{
		Domain:            "shopee.com.br",
		CDPPort:           9222,
		DataDir:           t.TempDir(),
		Profile:           "default",
		RequestsPerMinute: 60,
		InactivityWindowS: 10,
	}
	a, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewWiresCollaborators(t *testing.T) {
	a := newTestApp(t)
	assert.NotNil(t, a.Sched)
	assert.NotNil(t, a.Exp)
	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Runner)
	assert.NotNil(t, a.Catalog)
}

func TestFilterDefaultsAndOverrides(t *testing.T) {
	a := newTestApp(t)

	pdp, err := a.PDPFilter()
	require.NoError(t, err)
	assert.True(t, pdp.Match("https://shopee.com.br/api/v4/pdp/get_pc?id=1"))
	assert.False(t, pdp.Match("https://shopee.com.br/api/v4/search/search_items"))

	search, err := a.SearchFilter()
	require.NoError(t, err)
	assert.True(t, search.Match("https://shopee.com.br/api/v4/search/search_items?keyword=x"))

	a.Cfg.PDPPatterns = []string{`/api/v2/item/get\b`}
	pdp, err = a.PDPFilter()
	require.NoError(t, err)
	assert.True(t, pdp.Match("https://shopee.com.br/api/v2/item/get?id=1"))
	assert.False(t, pdp.Match("https://shopee.com.br/api/v4/pdp/get_pc"))

	a.Cfg.PDPPatterns = []string{`[broken`}
	_, err = a.PDPFilter()
	require.Error(t, err)
}

func TestTaskKindsAreRegistered(t *testing.T) {
	a := newTestApp(t)

	// Parameter validation fires before any browser work.
	err := a.Runner.Execute(context.Background(), &model.Task{
		Kind: model.KindSearch, Params: map[string]any{}, Result: map[string]any{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyword")

	err = a.Runner.Execute(context.Background(), &model.Task{
		Kind: model.KindSearchAll, Params: map[string]any{}, Result: map[string]any{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyword")

	// No prior search export exists, so enrich fails while resolving input.
	err = a.Runner.Execute(context.Background(), &model.Task{
		Kind: model.KindEnrich, Params: map[string]any{}, Result: map[string]any{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no search export")

	err = a.Runner.Execute(context.Background(), &model.Task{Kind: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task kind")
}
