package orchestrator

import (
	"fmt"

	"tale-weaver-api/internal/config"
	"tale-weaver-api/internal/workflow/assessor"
	"tale-weaver-api/internal/workflow/generator"
	workflowport "tale-weaver-api/internal/workflow/port"
	workflowprompt "tale-weaver-api/internal/workflow/prompt"
	"tale-weaver-api/internal/workflow/validator"
)

// Build 按配置装配完整工作流；cache 可为 nil
func Build(cfg *config.Config, factory workflowport.ChatModelFactory, cache workflowport.VerdictCache) (*Orchestrator, error) {
	wf := cfg.Workflow
	if err := wf.Check(); err != nil {
		return nil, err
	}
	prompts := workflowprompt.NewRegistry()
	if err := prompts.Warm(); err != nil {
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}

	v, err := validator.New(factory, prompts, cache, validator.Config{
		Provider:        wf.ClassifierProvider,
		Timeout:         wf.Timeouts.Validation,
		DisallowedTerms: wf.DisallowedTerms,
		CacheTTL:        wf.ValidationCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request validator: %w", err)
	}

	g, err := generator.New(factory, prompts, generator.Config{
		Provider:            wf.GenerationProvider,
		ModelIdentifier:     modelIdentifier(cfg, wf.GenerationProvider),
		TemperatureSchedule: wf.TemperatureSchedule,
		WordsPerMinute:      wf.WordsPerMinute,
		Timeout:             wf.Timeouts.Generation,
		MaxTokens:           cfg.LLM.Providers[wf.GenerationProvider].MaxTokens,
		Retry: generator.RetryPolicy{
			MaxTries:   wf.GenerationRetry.MaxTries,
			Initial:    wf.GenerationRetry.Initial,
			Max:        wf.GenerationRetry.Max,
			Multiplier: wf.GenerationRetry.Multiplier,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build candidate generator: %w", err)
	}

	a, err := assessor.New(factory, prompts, assessor.Config{
		Provider:       wf.AssessorProvider,
		Timeout:        wf.Timeouts.Assessment,
		Threshold:      wf.QualityThreshold,
		WordsPerMinute: wf.WordsPerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build quality assessor: %w", err)
	}

	return New(v, g, a, Config{MaxAttempts: wf.MaxAttempts})
}

func modelIdentifier(cfg *config.Config, provider string) string {
	p, ok := cfg.LLM.Providers[provider]
	if !ok || p.Model == "" {
		return provider
	}
	return provider + "/" + p.Model
}
