package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/asteroniris/asteroniris/pkg/secrets"
)

type SecretsConfig struct {
	Encrypt bool `toml:"encrypt" mapstructure:"encrypt"`
}

type Config struct {
	Agents        AgentsConfig        `toml:"agents" mapstructure:"agents"`
	Channels      ChannelsConfig      `toml:"channels" mapstructure:"channels"`
	Providers     ProvidersConfig     `toml:"providers" mapstructure:"providers"`
	Gateway       GatewayConfig       `toml:"gateway" mapstructure:"gateway"`
	Tools         ToolsConfig         `toml:"tools" mapstructure:"tools"`
	Heartbeat     HeartbeatConfig     `toml:"heartbeat" mapstructure:"heartbeat"`
	Memory        MemoryConfig        `toml:"memory" mapstructure:"memory"`
	Cost          CostConfig          `toml:"cost" mapstructure:"cost"`
	Secrets       SecretsConfig       `toml:"secrets" mapstructure:"secrets"`
	Security      SecurityConfig      `toml:"security" mapstructure:"security"`
	Autonomy      AutonomyConfig      `toml:"autonomy" mapstructure:"autonomy"`
	Scheduler     SchedulerConfig     `toml:"scheduler" mapstructure:"scheduler"`
	Ingestion     IngestionConfig     `toml:"ingestion" mapstructure:"ingestion"`
	Reliability   ReliabilityConfig   `toml:"reliability" mapstructure:"reliability"`
	Observability ObservabilityConfig `toml:"observability" mapstructure:"observability"`
	mu            sync.RWMutex
}

// SchedulerConfig governs the cron + self-task job store.
type SchedulerConfig struct {
	TickIntervalSeconds int `toml:"tick_interval_seconds" mapstructure:"tick_interval_seconds"`
	SelfTaskCap         int `toml:"self_task_cap" mapstructure:"self_task_cap"`
	MaxRestartAttempts  int `toml:"max_restart_attempts" mapstructure:"max_restart_attempts"`
}

// IngestionConfig governs the trend/RSS poller feeding the ingestion pipeline.
type IngestionConfig struct {
	Enabled           bool     `toml:"enabled" mapstructure:"enabled"`
	Feeds             []string `toml:"feeds,omitempty" mapstructure:"feeds"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds" mapstructure:"poll_interval_seconds"`
	RespectRobotsTxt  bool     `toml:"respect_robots_txt" mapstructure:"respect_robots_txt"`
}

// ReliabilityConfig governs the ReliableProvider's fallback chain shared
// across agents that don't set a per-agent override.
type ReliabilityConfig struct {
	FallbackProviders []string `toml:"fallback_providers,omitempty" mapstructure:"fallback_providers"`
	ProviderRetries   int      `toml:"provider_retries" mapstructure:"provider_retries"`
	ProviderBackoffMs int      `toml:"provider_backoff_ms" mapstructure:"provider_backoff_ms"`
}

// ObservabilityConfig selects the metrics/telemetry backend. "none" and
// "log" require no extra dependency; "prometheus" and "otel" are wired as
// optional exporters behind the same interface.
type ObservabilityConfig struct {
	Backend string `toml:"backend" mapstructure:"backend"` // none | log | prometheus | otel
}

type SecurityConfig struct {
	PromptGuard      PromptGuardConfig      `toml:"prompt_guard" mapstructure:"prompt_guard"`
	LeakDetector     LeakDetectorConfig     `toml:"leak_detector" mapstructure:"leak_detector"`
	PromptLeakGuard  PromptLeakGuardConfig  `toml:"prompt_leak_guard" mapstructure:"prompt_leak_guard"`
}

// PromptLeakGuardConfig governs the fingerprint-threshold detector that
// scans outbound assistant content for verbatim leakage of the system
// prompt.
type PromptLeakGuardConfig struct {
	Enabled   bool    `toml:"enabled" mapstructure:"enabled"`
	Threshold float64 `toml:"threshold" mapstructure:"threshold"`
	Action    string  `toml:"action" mapstructure:"action"`
}

type PromptGuardConfig struct {
	Enabled     bool    `toml:"enabled" mapstructure:"enabled"`
	Action      string  `toml:"action" mapstructure:"action"`
	Sensitivity float64 `toml:"sensitivity" mapstructure:"sensitivity"`
}

type LeakDetectorConfig struct {
	Enabled     bool    `toml:"enabled" mapstructure:"enabled"`
	Sensitivity float64 `toml:"sensitivity" mapstructure:"sensitivity"`
}

// AutonomyConfig is the [autonomy] table: the caps the Security Policy
// enforces regardless of which autonomy level a channel or agent runs at.
type AutonomyConfig struct {
	Level               string   `toml:"level" mapstructure:"level"`
	WorkspaceOnly       bool     `toml:"workspace_only" mapstructure:"workspace_only"`
	AllowedCommands     []string `toml:"allowed_commands" mapstructure:"allowed_commands"`
	ForbiddenPaths      []string `toml:"forbidden_paths" mapstructure:"forbidden_paths"`
	MaxActionsPerHour   int      `toml:"max_actions_per_hour" mapstructure:"max_actions_per_hour"`
	MaxCostPerDayCents  int      `toml:"max_cost_per_day_cents" mapstructure:"max_cost_per_day_cents"`
}

type ModelPriceConfig struct {
	Input  float64 `toml:"input" mapstructure:"input"`
	Output float64 `toml:"output" mapstructure:"output"`
}

type CostConfig struct {
	Enabled         bool                        `toml:"enabled" mapstructure:"enabled"`
	DailyLimitUSD   float64                     `toml:"daily_limit_usd" mapstructure:"daily_limit_usd"`
	MonthlyLimitUSD float64                     `toml:"monthly_limit_usd" mapstructure:"monthly_limit_usd"`
	WarnAtPercent   float64                     `toml:"warn_at_percent" mapstructure:"warn_at_percent"`
	Prices          map[string]ModelPriceConfig `toml:"prices" mapstructure:"prices"`
}

type MemoryRetentionConfig struct {
	Daily        int `toml:"daily" mapstructure:"daily"`
	Conversation int `toml:"conversation" mapstructure:"conversation"`
	Custom       int `toml:"custom" mapstructure:"custom"`
}

// MemoryConfig is the [memory] table, including the backend selector that
// picks which of the four Memory Backend implementations OpenBackend hands
// back.
type MemoryConfig struct {
	Backend             string                `toml:"backend" mapstructure:"backend"`
	PostgresDSN         string                `toml:"postgres_dsn" mapstructure:"postgres_dsn"`
	EmbeddingDimensions int                   `toml:"embedding_dimensions" mapstructure:"embedding_dimensions"`
	RetentionDays       MemoryRetentionConfig `toml:"retention_days" mapstructure:"retention_days"`
	SearchLimit         int                   `toml:"search_limit" mapstructure:"search_limit"`
	MinRelevance        float64               `toml:"min_relevance" mapstructure:"min_relevance"`
	ContextTopK         int                   `toml:"context_top_k" mapstructure:"context_top_k"`
	AutoSave            bool                  `toml:"auto_save" mapstructure:"auto_save"`
	SnapshotOnExit      bool                  `toml:"snapshot_on_exit" mapstructure:"snapshot_on_exit"`
}

type HeartbeatConfig struct {
	Enabled         bool   `toml:"enabled" mapstructure:"enabled"`
	IntervalSeconds int    `toml:"interval_seconds" mapstructure:"interval_seconds"`
	Channel         string `toml:"channel" mapstructure:"channel"`
	ChatID          string `toml:"chat_id" mapstructure:"chat_id"`
}

type AgentsConfig struct {
	Defaults AgentDefaults `toml:"defaults" mapstructure:"defaults"`
	List     []AgentConfig `toml:"list,omitempty" mapstructure:"list"`
}

type AgentConfig struct {
	ID                string           `toml:"id" mapstructure:"id"`
	Name              string           `toml:"name,omitempty" mapstructure:"name"`
	Workspace         string           `toml:"workspace,omitempty" mapstructure:"workspace"`
	Default           bool             `toml:"default,omitempty" mapstructure:"default"`
	Provider          string           `toml:"provider,omitempty" mapstructure:"provider"`
	Model             string           `toml:"model,omitempty" mapstructure:"model"`
	MaxTokens         int              `toml:"max_tokens,omitempty" mapstructure:"max_tokens"`
	MaxToolIterations int              `toml:"max_tool_iterations,omitempty" mapstructure:"max_tool_iterations"`
	Temperature       *float64         `toml:"temperature,omitempty" mapstructure:"temperature"`
	Skills            []string         `toml:"skills,omitempty" mapstructure:"skills"`
	Subagents         *SubagentsConfig `toml:"subagents,omitempty" mapstructure:"subagents"`
	Autonomy          string           `toml:"autonomy,omitempty" mapstructure:"autonomy"`
	DeniedTools       []string         `toml:"denied_tools,omitempty" mapstructure:"denied_tools"`
	Reflection        *bool            `toml:"reflection,omitempty" mapstructure:"reflection"`
}

type SubagentsConfig struct {
	AllowAgents []string `toml:"allow_agents,omitempty" mapstructure:"allow_agents"`
}

type AgentDefaults struct {
	Workspace         string  `toml:"workspace" mapstructure:"workspace"`
	Provider          string  `toml:"provider,omitempty" mapstructure:"provider"`
	Model             string  `toml:"model" mapstructure:"model"`
	MaxTokens         int     `toml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `toml:"temperature" mapstructure:"temperature"`
	MaxToolIterations int     `toml:"max_tool_iterations" mapstructure:"max_tool_iterations"`
	Reflection        bool    `toml:"reflection,omitempty" mapstructure:"reflection"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `toml:"whatsapp" mapstructure:"whatsapp"`
	Telegram TelegramConfig `toml:"telegram" mapstructure:"telegram"`
	Feishu   FeishuConfig   `toml:"feishu" mapstructure:"feishu"`
	Discord  DiscordConfig  `toml:"discord" mapstructure:"discord"`
	MaixCam  MaixCamConfig  `toml:"maixcam" mapstructure:"maixcam"`
	QQ       QQConfig       `toml:"qq" mapstructure:"qq"`
	DingTalk DingTalkConfig `toml:"dingtalk" mapstructure:"dingtalk"`
	Lark     WebhookChannelConfig `toml:"lark" mapstructure:"lark"`
	Generic  []WebhookChannelConfig `toml:"webhook,omitempty" mapstructure:"webhook"`
}

// WebhookChannelConfig configures a generic inbound-webhook channel
// (Lark/DingTalk/QQ-shaped adapters that differ only in payload parsing).
type WebhookChannelConfig struct {
	Name      string   `toml:"name" mapstructure:"name"`
	Enabled   bool     `toml:"enabled" mapstructure:"enabled"`
	Secret    string   `toml:"secret" mapstructure:"secret"`
	AllowFrom []string `toml:"allow_from" mapstructure:"allow_from"`
	Autonomy  string   `toml:"autonomy" mapstructure:"autonomy"`
	// ReplyURL is the platform's incoming-webhook URL for outbound delivery
	// (custom bot webhooks for Lark/DingTalk/QQ-shaped integrations send
	// replies by POSTing back to a configured URL rather than over a
	// persistent connection).
	ReplyURL string `toml:"reply_url" mapstructure:"reply_url"`
}

type WhatsAppConfig struct {
	Enabled   bool     `toml:"enabled" mapstructure:"enabled"`
	BridgeURL string   `toml:"bridge_url" mapstructure:"bridge_url"`
	AllowFrom []string `toml:"allow_from" mapstructure:"allow_from"`
}

type TelegramConfig struct {
	Enabled   bool     `toml:"enabled" mapstructure:"enabled"`
	Token     string   `toml:"token" mapstructure:"token"`
	AllowFrom []string `toml:"allow_from" mapstructure:"allow_from"`
	AllowTemp bool     `toml:"allow_temp" mapstructure:"allow_temp"`
	Autonomy  string   `toml:"autonomy" mapstructure:"autonomy"`
}

type FeishuConfig struct {
	Enabled           bool     `toml:"enabled" mapstructure:"enabled"`
	AppID             string   `toml:"app_id" mapstructure:"app_id"`
	AppSecret         string   `toml:"app_secret" mapstructure:"app_secret"`
	EncryptKey        string   `toml:"encrypt_key" mapstructure:"encrypt_key"`
	VerificationToken string   `toml:"verification_token" mapstructure:"verification_token"`
	AllowFrom         []string `toml:"allow_from" mapstructure:"allow_from"`
	Autonomy          string   `toml:"autonomy" mapstructure:"autonomy"`
}

type DiscordConfig struct {
	Enabled   bool     `toml:"enabled" mapstructure:"enabled"`
	Token     string   `toml:"token" mapstructure:"token"`
	AllowFrom []string `toml:"allow_from" mapstructure:"allow_from"`
	Autonomy  string   `toml:"autonomy" mapstructure:"autonomy"`
}

type MaixCamConfig struct {
	Enabled   bool     `toml:"enabled" mapstructure:"enabled"`
	Host      string   `toml:"host" mapstructure:"host"`
	Port      int      `toml:"port" mapstructure:"port"`
	AllowFrom []string `toml:"allow_from" mapstructure:"allow_from"`
}

type QQConfig struct {
	Enabled   bool     `toml:"enabled" mapstructure:"enabled"`
	AppID     string   `toml:"app_id" mapstructure:"app_id"`
	AppSecret string   `toml:"app_secret" mapstructure:"app_secret"`
	AllowFrom []string `toml:"allow_from" mapstructure:"allow_from"`
	Autonomy  string   `toml:"autonomy" mapstructure:"autonomy"`
}

type DingTalkConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	ClientID     string   `toml:"client_id" mapstructure:"client_id"`
	ClientSecret string   `toml:"client_secret" mapstructure:"client_secret"`
	AllowFrom    []string `toml:"allow_from" mapstructure:"allow_from"`
	Autonomy     string   `toml:"autonomy" mapstructure:"autonomy"`
}

type ProvidersConfig struct {
	Anthropic  ProviderConfig `toml:"anthropic" mapstructure:"anthropic"`
	OpenAI     ProviderConfig `toml:"openai" mapstructure:"openai"`
	OpenRouter ProviderConfig `toml:"openrouter" mapstructure:"openrouter"`
	Groq       ProviderConfig `toml:"groq" mapstructure:"groq"`
	Zhipu      ProviderConfig `toml:"zhipu" mapstructure:"zhipu"`
	VLLM       ProviderConfig `toml:"vllm" mapstructure:"vllm"`
	Gemini     ProviderConfig `toml:"gemini" mapstructure:"gemini"`
	Nvidia     ProviderConfig `toml:"nvidia" mapstructure:"nvidia"`
}

type ProviderConfig struct {
	APIKey            string   `toml:"api_key" mapstructure:"api_key"`
	APIBase           string   `toml:"api_base" mapstructure:"api_base"`
	UserAgent         string   `toml:"user_agent,omitempty" mapstructure:"user_agent"`
	ModelPatterns     []string `toml:"model_patterns,omitempty" mapstructure:"model_patterns"`
	Fallback          bool     `toml:"fallback,omitempty" mapstructure:"fallback"`
	CircuitBreakerMax int      `toml:"circuit_breaker_max_failures,omitempty" mapstructure:"circuit_breaker_max_failures"`
	FallbackTo        string   `toml:"fallback_to,omitempty" mapstructure:"fallback_to"`
}

// NamedProviders returns every configured provider keyed by its TOML table
// name, for callers that need to iterate (model-pattern matching, fallback
// chain resolution) rather than address a single well-known provider.
func (p ProvidersConfig) NamedProviders() map[string]*ProviderConfig {
	return map[string]*ProviderConfig{
		"anthropic":  &p.Anthropic,
		"openai":     &p.OpenAI,
		"openrouter": &p.OpenRouter,
		"groq":       &p.Groq,
		"zhipu":      &p.Zhipu,
		"vllm":       &p.VLLM,
		"gemini":     &p.Gemini,
		"nvidia":     &p.Nvidia,
	}
}

// GetProviderConfig returns the named provider's config, or nil if name
// does not match a known provider.
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.Providers.NamedProviders()[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return p
}

// GatewayConfig is the [gateway] table.
type GatewayConfig struct {
	Host              string   `toml:"host" mapstructure:"host"`
	Port              int      `toml:"port" mapstructure:"port"`
	RequirePairing    bool     `toml:"require_pairing" mapstructure:"require_pairing"`
	AllowPublicBind   bool     `toml:"allow_public_bind" mapstructure:"allow_public_bind"`
	DefenseMode       string   `toml:"defense_mode" mapstructure:"defense_mode"`
	CORSOrigins       []string `toml:"cors_origins" mapstructure:"cors_origins"`
	MaxBodyBytes      int64    `toml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RequestTimeoutSeconds int  `toml:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
}

type WebSearchConfig struct {
	APIKey     string `toml:"api_key" mapstructure:"api_key"`
	MaxResults int    `toml:"max_results" mapstructure:"max_results"`
}

type OllamaConfig struct {
	APIKey     string `toml:"api_key" mapstructure:"api_key"`
	MaxResults int    `toml:"max_results" mapstructure:"max_results"`
}

type WebToolsConfig struct {
	Search WebSearchConfig `toml:"search" mapstructure:"search"`
	Ollama OllamaConfig    `toml:"ollama" mapstructure:"ollama"`
}

type ToolsConfig struct {
	Web                 WebToolsConfig `toml:"web" mapstructure:"web"`
	RestrictToWorkspace *bool          `toml:"restrict_to_workspace" mapstructure:"restrict_to_workspace"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:         "~/.asteroniris/workspace",
				Model:             "glm-4.7",
				MaxTokens:         8192,
				Temperature:       0.7,
				MaxToolIterations: 20,
			},
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:   false,
				BridgeURL: "ws://localhost:3001",
				AllowFrom: []string{},
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				Token:     "",
				AllowFrom: []string{},
			},
			Feishu: FeishuConfig{
				Enabled:           false,
				AppID:             "",
				AppSecret:         "",
				EncryptKey:        "",
				VerificationToken: "",
				AllowFrom:         []string{},
			},
			Discord: DiscordConfig{
				Enabled:   false,
				Token:     "",
				AllowFrom: []string{},
			},
			MaixCam: MaixCamConfig{
				Enabled:   false,
				Host:      "0.0.0.0",
				Port:      18790,
				AllowFrom: []string{},
			},
			QQ: QQConfig{
				Enabled:   false,
				AppID:     "",
				AppSecret: "",
				AllowFrom: []string{},
			},
			DingTalk: DingTalkConfig{
				Enabled:      false,
				ClientID:     "",
				ClientSecret: "",
				AllowFrom:    []string{},
			},
		},
		Providers: ProvidersConfig{
			Anthropic:  ProviderConfig{},
			OpenAI:     ProviderConfig{},
			OpenRouter: ProviderConfig{},
			Groq:       ProviderConfig{},
			Zhipu:      ProviderConfig{},
			VLLM:       ProviderConfig{},
			Gemini:     ProviderConfig{},
			Nvidia:     ProviderConfig{},
		},
		Gateway: GatewayConfig{
			Host:                  "0.0.0.0",
			Port:                  18790,
			RequirePairing:        true,
			AllowPublicBind:       false,
			DefenseMode:           "enforce",
			CORSOrigins:           []string{},
			MaxBodyBytes:          64 * 1024,
			RequestTimeoutSeconds: 30,
		},
		Scheduler: SchedulerConfig{
			TickIntervalSeconds: 1,
			SelfTaskCap:         5,
			MaxRestartAttempts:  10,
		},
		Ingestion: IngestionConfig{
			Enabled:             false,
			Feeds:               []string{},
			PollIntervalSeconds: 900,
			RespectRobotsTxt:    true,
		},
		Reliability: ReliabilityConfig{
			FallbackProviders: []string{},
			ProviderRetries:   3,
			ProviderBackoffMs: 500,
		},
		Observability: ObservabilityConfig{
			Backend: "log",
		},
		Heartbeat: HeartbeatConfig{
			Enabled:         false,
			IntervalSeconds: 1800,
			Channel:         "telegram",
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				Search: WebSearchConfig{
					APIKey:     "",
					MaxResults: 5,
				},
				Ollama: OllamaConfig{
					APIKey:     "",
					MaxResults: 5,
				},
			},
		},
		Memory: MemoryConfig{
			Backend:             "kv+fts+vector",
			EmbeddingDimensions: 1536,
			RetentionDays: MemoryRetentionConfig{
				Daily:        30,
				Conversation: 7,
				Custom:       90,
			},
			SearchLimit:    20,
			MinRelevance:   0.1,
			ContextTopK:    10,
			AutoSave:       false,
			SnapshotOnExit: false,
		},
		Cost: CostConfig{
			Enabled:         false,
			DailyLimitUSD:   0,
			MonthlyLimitUSD: 0,
			WarnAtPercent:   80,
			Prices:          map[string]ModelPriceConfig{},
		},
		Secrets: SecretsConfig{
			Encrypt: false,
		},
		Security: SecurityConfig{
			PromptGuard: PromptGuardConfig{
				Enabled:     false,
				Action:      "warn",
				Sensitivity: 0.5,
			},
			LeakDetector: LeakDetectorConfig{
				Enabled:     false,
				Sensitivity: 0.7,
			},
			PromptLeakGuard: PromptLeakGuardConfig{
				Enabled:   false,
				Threshold: 0.6,
				Action:    "warn",
			},
		},
		Autonomy: AutonomyConfig{
			Level:              "supervised",
			WorkspaceOnly:      true,
			AllowedCommands:    []string{"git", "ls", "cat", "grep", "find", "head", "tail", "wc", "diff"},
			ForbiddenPaths:     []string{"/etc", "/root", "/sys", "/proc", "/dev"},
			MaxActionsPerHour:  60,
			MaxCostPerDayCents: 500,
		},
	}
}

// sensitiveFields returns pointers to all sensitive string fields in the config.
func sensitiveFields(cfg *Config) []*string {
	return []*string{
		&cfg.Providers.Anthropic.APIKey,
		&cfg.Providers.OpenAI.APIKey,
		&cfg.Providers.OpenRouter.APIKey,
		&cfg.Providers.Groq.APIKey,
		&cfg.Providers.Zhipu.APIKey,
		&cfg.Providers.VLLM.APIKey,
		&cfg.Providers.Gemini.APIKey,
		&cfg.Providers.Nvidia.APIKey,
		&cfg.Channels.Telegram.Token,
		&cfg.Channels.Discord.Token,
		&cfg.Channels.Feishu.AppSecret,
		&cfg.Channels.Feishu.EncryptKey,
		&cfg.Channels.Feishu.VerificationToken,
		&cfg.Channels.QQ.AppSecret,
		&cfg.Channels.DingTalk.ClientSecret,
		&cfg.Tools.Web.Search.APIKey,
		&cfg.Tools.Web.Ollama.APIKey,
	}
}

// LoadConfig reads a TOML config file at path, falling back to defaults
// when the file doesn't exist, and layers ASTERONIRIS_-prefixed
// environment variables over it (e.g. ASTERONIRIS_PROVIDERS_OPENAI_API_KEY
// overrides providers.openai.api_key).
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("asteroniris")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindDefaults(v, cfg); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: config file not found at %s, using defaults\n", path)
		} else {
			return nil, err
		}
	} else if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("config: parse toml: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// Check for encrypted and unencrypted sensitive fields
	hasEncrypted := false
	hasPlaintext := false
	for _, fp := range sensitiveFields(cfg) {
		if *fp == "" {
			continue
		}
		if secrets.IsSealed(*fp) {
			hasEncrypted = true
		} else {
			hasPlaintext = true
		}
	}

	// Decrypt any encrypted fields before use
	if hasEncrypted {
		keyPath := filepath.Join(filepath.Dir(path), ".secret_key")
		vault, err := secrets.Open(keyPath, true)
		if err != nil {
			return nil, fmt.Errorf("config: init secret store: %w", err)
		}
		for _, fp := range sensitiveFields(cfg) {
			secret, _, err := vault.Unseal(*fp)
			if err != nil {
				return nil, fmt.Errorf("config: decrypt field: %w", err)
			}
			*fp = secret.String()
			secret.Zero()
		}
	}

	// Auto-encrypt: if encrypt is enabled and any sensitive field was plaintext, save back encrypted
	if cfg.Secrets.Encrypt && hasPlaintext {
		if err := SaveConfig(path, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to auto-encrypt config secrets: %v\n", err)
		}
	}

	return cfg, nil
}

// bindDefaults seeds viper with DefaultConfig()'s values so fields absent
// from both the TOML file and the environment still resolve to a default
// rather than a zero value after Unmarshal.
func bindDefaults(v *viper.Viper, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	return v.MergeConfig(strings.NewReader(string(data)))
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	toSave := cfg
	perm := os.FileMode(0644)

	if cfg.Secrets.Encrypt {
		// Clone via TOML round-trip to avoid mutating caller's config
		cloneData, err := toml.Marshal(cfg)
		if err != nil {
			return err
		}
		var clone Config
		if err := toml.Unmarshal(cloneData, &clone); err != nil {
			return err
		}

		keyPath := filepath.Join(filepath.Dir(path), ".secret_key")
		vault, err := secrets.Open(keyPath, true)
		if err != nil {
			return fmt.Errorf("config: init secret store: %w", err)
		}

		for _, fp := range sensitiveFields(&clone) {
			encrypted, err := vault.Seal(*fp)
			if err != nil {
				return fmt.Errorf("config: encrypt field: %w", err)
			}
			*fp = encrypted
		}
		toSave = &clone
		perm = 0600
	}

	data, err := toml.Marshal(toSave)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, perm)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Agents.Defaults.Workspace)
}

func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenRouter.APIKey != "" {
		return c.Providers.OpenRouter.APIKey
	}
	if c.Providers.Anthropic.APIKey != "" {
		return c.Providers.Anthropic.APIKey
	}
	if c.Providers.OpenAI.APIKey != "" {
		return c.Providers.OpenAI.APIKey
	}
	if c.Providers.Gemini.APIKey != "" {
		return c.Providers.Gemini.APIKey
	}
	if c.Providers.Zhipu.APIKey != "" {
		return c.Providers.Zhipu.APIKey
	}
	if c.Providers.Groq.APIKey != "" {
		return c.Providers.Groq.APIKey
	}
	if c.Providers.Nvidia.APIKey != "" {
		return c.Providers.Nvidia.APIKey
	}
	if c.Providers.VLLM.APIKey != "" {
		return c.Providers.VLLM.APIKey
	}
	return ""
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenRouter.APIKey != "" {
		if c.Providers.OpenRouter.APIBase != "" {
			return c.Providers.OpenRouter.APIBase
		}
		return "https://openrouter.ai/api/v1"
	}
	if c.Providers.Zhipu.APIKey != "" {
		return c.Providers.Zhipu.APIBase
	}
	if c.Providers.VLLM.APIKey != "" && c.Providers.VLLM.APIBase != "" {
		return c.Providers.VLLM.APIBase
	}
	return ""
}

// GetChannelAllowFrom returns the allow_from list for a given channel name.
func (c *Config) GetChannelAllowFrom(channel string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch channel {
	case "telegram":
		return c.Channels.Telegram.AllowFrom
	case "discord":
		return c.Channels.Discord.AllowFrom
	case "whatsapp":
		return c.Channels.WhatsApp.AllowFrom
	case "feishu":
		return c.Channels.Feishu.AllowFrom
	case "qq":
		return c.Channels.QQ.AllowFrom
	case "dingtalk":
		return c.Channels.DingTalk.AllowFrom
	case "maixcam":
		return c.Channels.MaixCam.AllowFrom
	default:
		return nil
	}
}

func (c *Config) IsRestrictToWorkspace() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Tools.RestrictToWorkspace == nil {
		return true // default: restricted
	}
	return *c.Tools.RestrictToWorkspace
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
