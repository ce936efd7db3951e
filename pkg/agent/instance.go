package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zhaopengme/toolclaw/pkg/breaker"
	"github.com/zhaopengme/toolclaw/pkg/bus"
	"github.com/zhaopengme/toolclaw/pkg/cache"
	"github.com/zhaopengme/toolclaw/pkg/clock"
	"github.com/zhaopengme/toolclaw/pkg/config"
	"github.com/zhaopengme/toolclaw/pkg/history"
	"github.com/zhaopengme/toolclaw/pkg/logger"
	"github.com/zhaopengme/toolclaw/pkg/providers"
	"github.com/zhaopengme/toolclaw/pkg/storage"
	"github.com/zhaopengme/toolclaw/pkg/tokens"
	"github.com/zhaopengme/toolclaw/pkg/tools"
)

// Instance is an Orchestrator together with the resources it owns when
// built from configuration.
type Instance struct {
	*Orchestrator

	Config        *config.Config
	Store         storage.Store
	Cache         *cache.ResponseCache
	History       *history.Manager
	Breaker       *breaker.CircuitBreaker
	Tools         *tools.ToolRegistry
	Progress      *bus.ProgressBus
	Workspace     string
	Model         string
	FallbackModel string
}

// NewFromConfig wires providers, tools, storage, history, cache and
// snapshots from cfg. A missing fallback model is logged, not fatal.
func NewFromConfig(cfg *config.Config) (*Instance, error) {
	clk := clock.Real()

	primaryCfg, err := cfg.GetModelConfig(cfg.Agent.Model)
	if err != nil {
		return nil, fmt.Errorf("primary model: %w", err)
	}
	provider, model, err := providers.CreateProvider(primaryCfg)
	if err != nil {
		return nil, fmt.Errorf("primary model: %w", err)
	}

	maxTokens := cfg.Agent.MaxTokens
	if primaryCfg.MaxTokens > 0 {
		maxTokens = primaryCfg.MaxTokens
	}
	temperature := cfg.Agent.Temperature
	if primaryCfg.Temperature > 0 {
		temperature = primaryCfg.Temperature
	}

	var fallback *providers.FallbackProvider
	var fallbackModel string
	summaryProvider, summaryModel := provider, model
	if cfg.Agent.FallbackModel != "" {
		fb, fbModel, fbProvider, err := newFallback(cfg, cfg.Agent.FallbackModel)
		if err != nil {
			logger.WarnCF("agent", "Fallback model unavailable", map[string]interface{}{
				"model_name": cfg.Agent.FallbackModel,
				"error":      err.Error(),
			})
		} else {
			fallback, fallbackModel = fb, fbModel
			summaryProvider, summaryModel = fbProvider, fbModel
		}
	}
	if cfg.Agent.SummaryModel != "" {
		if mc, err := cfg.GetModelConfig(cfg.Agent.SummaryModel); err == nil {
			if p, m, err := providers.CreateProvider(mc); err == nil {
				summaryProvider, summaryModel = p, m
			}
		}
	}

	workspace := cfg.WorkspacePath()
	registry := tools.NewToolRegistry()
	registry.SetRetryPolicy(cfg.Tools.MaxRetries, cfg.Tools.RetryBaseDelay())
	registry.Register(tools.NewThinkTool())
	registry.Register(tools.NewAnalyzeFilesTool(workspace, cfg.Tools.MaxFileBytes))
	registry.Register(tools.NewSearchCodebaseTool(workspace, cfg.Tools.MaxSearchResults, cfg.Tools.MaxFileBytes))
	if ws := cfg.Tools.WebSearch; ws.Enabled || ws.APIKey != "" {
		registry.Register(tools.NewWebSearchTool(ws.Endpoint, ws.APIKey, ws.MaxResults))
	}

	if cfg.Storage.Driver != storage.DriverMemory && cfg.Storage.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return nil, fmt.Errorf("storage directory: %w", err)
		}
	}
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	hist := history.NewManager(history.Options{
		MaxTurns:   cfg.History.MaxTurns,
		RecentKeep: cfg.History.RecentKeep,
		TTL:        cfg.History.TTL(),
		Store:      store,
		Counter:    tokens.NewApproximator(model),
		Summarizer: NewLLMSummarizer(summaryProvider, summaryModel),
		Clock:      clk,
	})

	cb := breaker.New("primary", breaker.Options{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutSeconds) * time.Second,
		MonitoringPeriod: time.Duration(cfg.Breaker.MonitoringPeriodSeconds) * time.Second,
	}, clk)

	responses := cache.New(
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
		time.Duration(cfg.Cache.SweepIntervalSeconds)*time.Second,
		clk,
	)
	progress := bus.NewProgressBus(bus.DefaultBuffer)

	orch := NewOrchestrator(Deps{
		Provider:  provider,
		Fallback:  fallback,
		Tools:     registry,
		Breaker:   cb,
		History:   hist,
		Cache:     responses,
		Snapshots: NewSnapshotStore(store, cfg.Agent.SnapshotTTL(), clk),
		Progress:  progress,
		Clock:     clk,
	}, Options{
		Model:               model,
		MaxTokens:           maxTokens,
		Temperature:         temperature,
		BaseCallLimit:       cfg.Agent.BaseCallLimit,
		MaxComplexityFactor: cfg.Agent.MaxComplexityFactor,
		ProviderTimeout:     cfg.Agent.ProviderTimeout(),
		ToolSignatureWindow: cfg.Agent.ToolSignatureWindow,
		DefaultTool:         cfg.Agent.DefaultTool,
		CacheEnabled:        cfg.Agent.CacheEnabled,
		MaxContextTokens:    cfg.Agent.MaxContextTokens,
		SystemPrompt:        cfg.Agent.SystemPrompt,
		Workspace:           workspace,
	})

	logger.InfoCF("agent", "Agent initialized", map[string]interface{}{
		"model":          model,
		"fallback_model": fallbackModel,
		"tools":          registry.List(),
		"storage":        cfg.Storage.Driver,
		"workspace":      workspace,
	})

	return &Instance{
		Orchestrator:  orch,
		Config:        cfg,
		Store:         store,
		Cache:         responses,
		History:       hist,
		Breaker:       cb,
		Tools:         registry,
		Progress:      progress,
		Workspace:     workspace,
		Model:         model,
		FallbackModel: fallbackModel,
	}, nil
}

func newFallback(cfg *config.Config, name string) (*providers.FallbackProvider, string, providers.LLMProvider, error) {
	mc, err := cfg.GetModelConfig(name)
	if err != nil {
		return nil, "", nil, err
	}
	p, model, err := providers.CreateProvider(mc)
	if err != nil {
		return nil, "", nil, err
	}
	return providers.NewFallbackProvider(p, model, mc.MaxTokens, mc.Temperature), model, p, nil
}

// Start launches background work: the cache sweep and expired history
// cleanup on startup.
func (i *Instance) Start(ctx context.Context) {
	i.Cache.Start(ctx)
	if n := i.History.CleanupExpired(ctx, time.Now()); n > 0 {
		logger.InfoCF("agent", "Expired conversations removed", map[string]interface{}{"count": n})
	}
}

// Close stops background work and releases storage.
func (i *Instance) Close() error {
	i.Cache.Stop()
	i.Progress.Close()
	return i.Store.Close()
}

// Status reports diagnostic state for hosts.
func (i *Instance) Status() map[string]interface{} {
	stats := i.Breaker.Stats()
	return map[string]interface{}{
		"model":            i.Model,
		"fallback_model":   i.FallbackModel,
		"tools":            i.Tools.List(),
		"breaker_state":    stats.State.String(),
		"breaker_failures": stats.ConsecutiveFailures,
		"cached_answers":   i.Cache.Len(),
		"active_threads":   i.ActiveThreads(),
		"storage":          i.Config.Storage.Driver,
		"workspace":        i.Workspace,
	}
}
