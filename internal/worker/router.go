package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router binds agents to providers and prompts them with their profile.
// It implements Executor.
type Router struct {
	providers map[string]Provider
	profiles  map[string]Profile  // agentID -> profile
	fallbacks map[string][]string // agentID -> fallback provider chain
	defaults  string              // default provider ID
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		profiles:  make(map[string]Profile),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// NewProvider builds a provider for cfg.Type.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case "anthropic":
		return NewAnthropicProvider(cfg, logger), nil
	case "openai", "":
		return NewOpenAIProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// Register adds a provider. The first one becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// SetProfile configures an agent.
func (r *Router) SetProfile(agentID string, p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[agentID] = p
}

// SetFallbacks configures fallback providers for an agent.
func (r *Router) SetFallbacks(agentID string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[agentID] = providerIDs
}

// Execute runs job through the agent's provider, then its fallbacks.
func (r *Router) Execute(ctx context.Context, job Job) (Reply, error) {
	r.mu.RLock()
	profile := r.profiles[job.AgentID]
	primary := r.providerFor(profile)
	var chain []Provider
	for _, id := range r.fallbacks[job.AgentID] {
		if p, ok := r.providers[id]; ok {
			chain = append(chain, p)
		}
	}
	r.mu.RUnlock()

	if primary == nil {
		return Reply{}, fmt.Errorf("no provider available for agent %s", job.AgentID)
	}

	req := &Request{
		Model:     profile.Model,
		System:    profile.SystemPrompt,
		Prompt:    job.Message,
		MaxTokens: profile.MaxTokens,
	}

	resp, err := primary.Complete(ctx, req)
	if err == nil {
		return toReply(resp, req.Model), nil
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("agent", job.AgentID), zap.String("provider", primary.ID()), zap.Error(err))

	for _, fb := range chain {
		// Fallbacks pick their own default model.
		fbReq := *req
		fbReq.Model = ""
		resp, err = fb.Complete(ctx, &fbReq)
		if err == nil {
			return toReply(resp, ""), nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fb.ID()), zap.Error(err))
	}

	return Reply{}, fmt.Errorf("all providers failed for agent %s: %w", job.AgentID, err)
}

func (r *Router) providerFor(profile Profile) Provider {
	if profile.Provider != "" {
		if p, ok := r.providers[profile.Provider]; ok {
			return p
		}
	}
	return r.providers[r.defaults]
}

func toReply(resp *Response, model string) Reply {
	return Reply{
		Text:       resp.Content,
		Model:      model,
		StopReason: resp.FinishReason,
		Usage:      resp.Usage,
	}
}
