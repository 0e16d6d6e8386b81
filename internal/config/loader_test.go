package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadFromDirAppliesDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := LoadFromDir(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workflow.MaxAttempts)
	assert.Equal(t, 7.0, cfg.Workflow.QualityThreshold)
	assert.Equal(t, []float64{0.7, 0.9, 0.5}, cfg.Workflow.TemperatureSchedule)
	assert.Equal(t, 150, cfg.Workflow.WordsPerMinute)
	assert.Equal(t, 120*time.Second, cfg.Workflow.Timeouts.Generation)
	assert.Equal(t, 3, cfg.Workflow.GenerationRetry.MaxTries)
	assert.Equal(t, "tale-weaver-api", cfg.App.Name)
}

func TestLoadFromDirExpandsEnvAndMergesOverlay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
workflow:
  quality_threshold: ${TW_TEST_THRESHOLD:8}
  max_attempts: 2
  temperature_schedule: [0.6, 0.8]
llm:
  providers:
    openai:
      api_key: ${TW_TEST_API_KEY:missing}
      model: gpt-4o-mini
`)
	writeFile(t, dir, "config.staging.yaml", `
workflow:
  max_attempts: 4
`)
	t.Setenv("APP_ENV", "staging")
	t.Setenv("TW_TEST_API_KEY", "sk-test")

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)

	assert.Equal(t, 8.0, cfg.Workflow.QualityThreshold)
	assert.Equal(t, 4, cfg.Workflow.MaxAttempts)
	assert.Equal(t, []float64{0.6, 0.8}, cfg.Workflow.TemperatureSchedule)
	assert.Equal(t, "sk-test", cfg.LLM.Providers["openai"].APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Providers["openai"].Model)
}

func TestLoadFromDirRejectsInconsistentWorkflow(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
workflow:
  quality_threshold: 12
`)
	t.Setenv("APP_ENV", "development")

	_, err := LoadFromDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quality_threshold")
}

func TestWorkflowConfigCheck(t *testing.T) {
	valid := WorkflowConfig{
		MaxAttempts:         3,
		QualityThreshold:    7,
		TemperatureSchedule: []float64{0.7},
		WordsPerMinute:      150,
		GenerationRetry:     RetryConfig{MaxTries: 3},
	}
	require.NoError(t, valid.Check())

	cases := map[string]func(w *WorkflowConfig){
		"zero attempts":       func(w *WorkflowConfig) { w.MaxAttempts = 0 },
		"too many attempts":   func(w *WorkflowConfig) { w.MaxAttempts = 11 },
		"threshold too low":   func(w *WorkflowConfig) { w.QualityThreshold = 0.5 },
		"empty schedule":      func(w *WorkflowConfig) { w.TemperatureSchedule = nil },
		"negative temp":       func(w *WorkflowConfig) { w.TemperatureSchedule = []float64{-0.1} },
		"no words":            func(w *WorkflowConfig) { w.WordsPerMinute = 0 },
		"no generation tries": func(w *WorkflowConfig) { w.GenerationRetry.MaxTries = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			w := valid
			w.TemperatureSchedule = append([]float64(nil), valid.TemperatureSchedule...)
			mutate(&w)
			assert.Error(t, w.Check())
		})
	}
}

func TestExpandEnvKeepsUnknownPlaceholder(t *testing.T) {
	assert.Equal(t, "${TW_SURELY_UNSET_VAR}", expandEnv("${TW_SURELY_UNSET_VAR}"))
	assert.Equal(t, "fallback", expandEnv("${TW_SURELY_UNSET_VAR:fallback}"))
}
