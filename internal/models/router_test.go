package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumehq/plume/internal/config"
	"github.com/plumehq/plume/internal/models/clients"
)

func testModelsConfig(candidates ...string) config.ModelsConfig {
	return config.ModelsConfig{
		Candidates:  candidates,
		RevertAfter: "1m",
		Providers: map[string]config.ProviderConfig{
			"gemini": {APIKey: "key-a"},
			"openai": {APIKey: "key-b"},
		},
	}
}

func TestNewRouterValidation(t *testing.T) {
	_, err := NewRouter(nil, config.ModelsConfig{})
	assert.ErrorIs(t, err, ErrNoCandidates)

	_, err = NewRouter(nil, config.ModelsConfig{Candidates: []string{"bare-model-id"}})
	assert.Error(t, err, "backend id without provider segment is rejected")

	_, err = NewRouter(nil, config.ModelsConfig{Candidates: []string{"gemini/gemini-2.5-flash"}})
	assert.ErrorIs(t, err, clients.ErrMissingAPIKey, "missing mandatory credential fails at startup")

	// A custom base URL stands in for a key on OpenAI-compatible providers.
	_, err = NewRouter(nil, config.ModelsConfig{
		Candidates: []string{"ollama/llama3"},
		Providers:  map[string]config.ProviderConfig{"ollama": {BaseURL: "http://127.0.0.1:11434/v1"}},
	})
	assert.NoError(t, err)
}

func TestAdvanceAndRevert(t *testing.T) {
	r, err := NewRouter(nil, testModelsConfig("gemini/gemini-2.5-flash", "openai/gpt-4o-mini"))
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	assert.Equal(t, "gemini/gemini-2.5-flash", r.Current())
	assert.False(t, r.TouchUsage(), "primary needs no revert")

	assert.True(t, r.Advance())
	assert.Equal(t, "openai/gpt-4o-mini", r.Current())

	// Within the revert window the secondary stays active.
	now = now.Add(30 * time.Second)
	assert.False(t, r.TouchUsage())
	assert.Equal(t, "openai/gpt-4o-mini", r.Current())

	// After a quiet minute the router reverts to the primary.
	now = now.Add(31 * time.Second)
	assert.True(t, r.TouchUsage())
	assert.Equal(t, "gemini/gemini-2.5-flash", r.Current())
}

func TestAdvanceWrapsAndSingleCandidate(t *testing.T) {
	r, err := NewRouter(nil, testModelsConfig("gemini/gemini-2.5-flash", "openai/gpt-4o-mini"))
	require.NoError(t, err)
	assert.True(t, r.Advance())
	assert.True(t, r.Advance())
	assert.Equal(t, "gemini/gemini-2.5-flash", r.Current(), "advance wraps to index 0")

	single, err := NewRouter(nil, testModelsConfig("gemini/gemini-2.5-flash"))
	require.NoError(t, err)
	assert.False(t, single.Advance(), "single candidate cannot advance past itself")
}

type countingClient struct{}

func (*countingClient) Complete(context.Context, []clients.Message) (string, error) {
	return "ok", nil
}

func TestClientCache(t *testing.T) {
	r, err := NewRouter(nil, testModelsConfig("gemini/gemini-2.5-flash"))
	require.NoError(t, err)

	constructed := 0
	r.SetFactory(func(context.Context, string) (clients.Client, error) {
		constructed++
		return &countingClient{}, nil
	})

	first, err := r.Client(context.Background(), "gemini/gemini-2.5-flash")
	require.NoError(t, err)
	second, err := r.Client(context.Background(), "gemini/gemini-2.5-flash")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, constructed, "one client instance per backend id")
}

func TestSupportsImages(t *testing.T) {
	cfg := testModelsConfig("gemini/gemini-2.5-flash", "openai/gpt-4o-mini", "openai/o1-mini")
	cfg.Images = map[string]bool{"openai/o1-mini": true, "gemini/gemini-2.5-flash": false}
	r, err := NewRouter(nil, cfg)
	require.NoError(t, err)

	assert.False(t, r.SupportsImages("gemini/gemini-2.5-flash"), "explicit table wins over heuristic")
	assert.True(t, r.SupportsImages("openai/o1-mini"), "explicit table enables unknown names")
	assert.True(t, r.SupportsImages("openai/gpt-4o-mini"), "heuristic marker match")
	assert.False(t, r.SupportsImages("openai/text-davinci"), "no marker, no table entry")
}
