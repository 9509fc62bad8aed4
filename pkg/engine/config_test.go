package engine_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/engine"
)

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"llm": {"provider": "openai", "api_key": "sk-test", "model": "gpt-4o-mini"},
		"embedder": {"provider": "openai", "api_key": "sk-test", "model": "text-embedding-3-small", "dimensions": 1536},
		"store": {"provider": "sqlite", "config": {"db_path": "./test.db"}},
		"retrieval": {"mmr_k": 5}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := engine.LoadConfigFromJSON(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", config.LLM.Provider)
	assert.Equal(t, "sqlite", config.Store.Provider)
	assert.Equal(t, "./test.db", config.Store.Config["db_path"])
	assert.Equal(t, 5, config.Retrieval.MMRK)

	// Unset retrieval fields are filled with the defaults.
	assert.Equal(t, 0.25, config.Retrieval.RelevanceFloor)
	assert.Equal(t, 24, config.Retrieval.PoolSize)
	assert.Equal(t, 0.7, config.Retrieval.Lambda)
	assert.Equal(t, 1000, config.Retrieval.BudgetChars)
	assert.Equal(t, engine.DefaultSalienceBump, config.Retrieval.SalienceBump)
	assert.Equal(t, engine.DefaultMinTurnsForDistill, config.Retrieval.MinTurnsForDistill)
}

func TestLoadConfigFromJSON_MissingFile(t *testing.T) {
	_, err := engine.LoadConfigFromJSON(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name      string
		retrieval engine.RetrievalConfig
		wantErr   bool
	}{
		{"defaults", engine.RetrievalConfig{RelevanceFloor: 0.25, Lambda: 0.7, SalienceBump: 0.05, AdmissionFloor: 0.6}, false},
		{"lambda above one", engine.RetrievalConfig{Lambda: 1.5}, true},
		{"negative pool", engine.RetrievalConfig{PoolSize: -1}, true},
		{"floor out of range", engine.RetrievalConfig{RelevanceFloor: 1.5}, true},
		{"bump out of range", engine.RetrievalConfig{SalienceBump: 2}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := &engine.Config{Retrieval: tc.retrieval}
			err := config.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, engine.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEngineError(t *testing.T) {
	cause := errors.New("connection refused")
	err := engine.NewEngineError("BuildContext", cause)

	assert.Equal(t, "recall: BuildContext: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestNewEngineError_NilCause(t *testing.T) {
	assert.NoError(t, engine.NewEngineError("BuildContext", nil))
}
