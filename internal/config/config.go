package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/nuka-missions/internal/knowledge"
	"github.com/nidhogg/nuka-missions/internal/mission"
	"github.com/nidhogg/nuka-missions/internal/worker"
)

// Config is the top-level configuration structure.
type Config struct {
	Server          ServerConfig           `json:"server"`
	Database        DatabaseConfig         `json:"database"`
	Embedding       EmbeddingConfig        `json:"embedding"`
	Providers       []ProviderConfig       `json:"providers"`
	DefaultProvider string                 `json:"default_provider"`
	Substrate       SubstrateConfig        `json:"substrate"`
	Orchestrator    OrchestratorConfig     `json:"orchestrator"`
	Agents          map[string]AgentConfig `json:"agents"`
	Gateway         GatewayConfig          `json:"gateway"`
	Notes           NotesConfig            `json:"notes"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN           string `json:"dsn"`
	MigrationsDir string `json:"migrations_dir"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type ProviderConfig struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Endpoint string   `json:"endpoint"`
	APIKey   string   `json:"api_key"`
	Model    string   `json:"model"`
	Timeout  Duration `json:"timeout"`
}

type SubstrateConfig struct {
	Mode           string   `json:"mode"` // "local" or "http"
	Endpoint       string   `json:"endpoint"`
	PoolSize       int      `json:"pool_size"`
	RequestTimeout Duration `json:"request_timeout"`
	RunTimeout     Duration `json:"run_timeout"`
}

type OrchestratorConfig struct {
	MaxRetries               *int     `json:"max_retries"`
	MaxTotalSpawns           int      `json:"max_total_spawns"`
	UnlimitedLoopSpawnBudget int      `json:"unlimited_loop_spawn_budget"`
	SpawnTimeout             Duration `json:"spawn_timeout"`
	KnowledgeTimeout         Duration `json:"knowledge_timeout"`
	RecoveryGrace            Duration `json:"recovery_grace"`
	SinkWorkers              int      `json:"sink_workers"`
	SinkQueue                int      `json:"sink_queue"`
	SinkTimeout              Duration `json:"sink_timeout"`
	StateFile                string   `json:"state_file"`
}

type AgentConfig struct {
	MaxRetries   *int     `json:"max_retries"`
	MaxLoops     *int     `json:"max_loops"`
	Directive    string   `json:"directive"`
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt"`
	MaxTokens    int      `json:"max_tokens"`
	Fallbacks    []string `json:"fallbacks"`
}

type GatewayConfig struct {
	Slack     SlackGatewayConfig   `json:"slack"`
	Discord   DiscordGatewayConfig `json:"discord"`
	InboxSize int                  `json:"inbox_size"`
}

type SlackGatewayConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	Username  string `json:"username"`
	IconEmoji string `json:"icon_emoji"`
	IconURL   string `json:"icon_url"`
}

type DiscordGatewayConfig struct {
	Enabled  bool              `json:"enabled"`
	BotToken string            `json:"bot_token"`
	Username string            `json:"username"`
	Webhooks map[string]string `json:"webhooks"` // channelID -> webhook URL
}

type NotesConfig struct {
	Dir      string `json:"dir"`
	Timezone string `json:"timezone"`
}

// Duration is a time.Duration read from a Go duration string ("30s") or a
// number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(time.Duration(x * float64(time.Second)))
	case string:
		if x == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config JSON after environment substitution.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3210
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "development"
	}
	if c.Database.Postgres.MigrationsDir == "" {
		c.Database.Postgres.MigrationsDir = "migrations"
	}
	if c.Database.Qdrant.Port == 0 {
		c.Database.Qdrant.Port = 6334
	}
	if c.Substrate.Mode == "" {
		c.Substrate.Mode = "local"
	}
	if c.Substrate.PoolSize <= 0 {
		c.Substrate.PoolSize = 4
	}
	if c.Substrate.RequestTimeout == 0 {
		c.Substrate.RequestTimeout = Duration(30 * time.Second)
	}
	if c.Substrate.RunTimeout == 0 {
		c.Substrate.RunTimeout = Duration(10 * time.Minute)
	}
	if c.Orchestrator.StateFile == "" {
		c.Orchestrator.StateFile = "data/missions.json"
	}
	if c.Gateway.InboxSize <= 0 {
		c.Gateway.InboxSize = 50
	}
	if c.Agents == nil {
		c.Agents = map[string]AgentConfig{}
	}
}

// Validate rejects settings the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Substrate.Mode {
	case "local":
	case "http":
		if c.Substrate.Endpoint == "" {
			return fmt.Errorf("substrate.endpoint is required in http mode")
		}
	default:
		return fmt.Errorf("unknown substrate mode %q", c.Substrate.Mode)
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider without id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider %q", p.ID)
		}
		seen[p.ID] = true
	}
	for id, a := range c.Agents {
		if a.Provider != "" && !seen[a.Provider] {
			return fmt.Errorf("agent %q uses unknown provider %q", id, a.Provider)
		}
		if a.MaxRetries != nil && *a.MaxRetries < 0 {
			return fmt.Errorf("agent %q: max_retries must be >= 0", id)
		}
		if a.MaxLoops != nil && *a.MaxLoops < 0 {
			return fmt.Errorf("agent %q: max_loops must be >= 0", id)
		}
	}
	return nil
}

// MissionConfig maps the orchestrator and agent sections onto the
// orchestrator's settings.
func (c *Config) MissionConfig() mission.Config {
	o := c.Orchestrator
	mc := mission.DefaultConfig()
	if o.MaxRetries != nil {
		mc.DefaultMaxRetries = *o.MaxRetries
	}
	mc.MaxTotalSpawns = o.MaxTotalSpawns
	if o.UnlimitedLoopSpawnBudget > 0 {
		mc.UnlimitedLoopBudget = o.UnlimitedLoopSpawnBudget
	}
	if o.SpawnTimeout > 0 {
		mc.SpawnTimeout = o.SpawnTimeout.Std()
	}
	if o.KnowledgeTimeout > 0 {
		mc.KnowledgeTimeout = o.KnowledgeTimeout.Std()
	}
	if o.RecoveryGrace > 0 {
		mc.RecoveryGrace = o.RecoveryGrace.Std()
	}
	if o.SinkWorkers > 0 {
		mc.SideEffectWorkers = o.SinkWorkers
	}
	if o.SinkQueue > 0 {
		mc.SideEffectQueue = o.SinkQueue
	}
	if o.SinkTimeout > 0 {
		mc.SideEffectTimeout = o.SinkTimeout.Std()
	}

	mc.Agents = make(map[string]mission.AgentPolicy, len(c.Agents))
	for id, a := range c.Agents {
		mc.Agents[id] = mission.AgentPolicy{
			MaxRetries: a.MaxRetries,
			MaxLoops:   a.MaxLoops,
			Directive:  a.Directive,
		}
	}
	return mc
}

// WorkerProviders converts provider entries for the worker router.
func (c *Config) WorkerProviders() []worker.ProviderConfig {
	out := make([]worker.ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		out[i] = worker.ProviderConfig{
			ID:       p.ID,
			Type:     p.Type,
			Endpoint: p.Endpoint,
			APIKey:   p.APIKey,
			Model:    p.Model,
			Timeout:  p.Timeout.Std(),
		}
	}
	return out
}

// Profile returns the worker profile for an agent.
func (a AgentConfig) Profile() worker.Profile {
	return worker.Profile{
		Provider:     a.Provider,
		Model:        a.Model,
		SystemPrompt: a.SystemPrompt,
		MaxTokens:    a.MaxTokens,
	}
}

// KnowledgeEmbedding converts the embedding section.
func (c *Config) KnowledgeEmbedding() knowledge.EmbeddingConfig {
	e := c.Embedding
	return knowledge.EmbeddingConfig{
		Provider:  e.Provider,
		Endpoint:  e.Endpoint,
		Model:     e.Model,
		APIKey:    e.APIKey,
		Dimension: e.Dimension,
	}
}
