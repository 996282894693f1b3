// Package worker executes agent runs against LLM providers.
package worker

import (
	"context"
	"time"
)

// Executor runs one agent turn for a job.
type Executor interface {
	Execute(ctx context.Context, job Job) (Reply, error)
}

// Job is a single agent run.
type Job struct {
	AgentID    string `json:"agent_id"`
	SessionKey string `json:"session_key"`
	Message    string `json:"message"`
}

// Reply is the agent's answer.
type Reply struct {
	Text       string `json:"text"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason,omitempty"`
	Usage      Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Provider is an LLM backend.
type Provider interface {
	ID() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request is a provider-neutral completion request.
type Request struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
}

// Response is a provider-neutral completion.
type Response struct {
	ID           string
	Content      string
	FinishReason string
	Usage        Usage
}

// ProviderConfig holds configuration for a provider instance.
type ProviderConfig struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"` // anthropic | openai
	Endpoint string        `json:"endpoint,omitempty"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Profile customizes how one agent is prompted.
type Profile struct {
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty"`
}
