package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Config is the root configuration for the Animara proxy.
type Config struct {
	Server    ServerConfig    `json:"server"`
	LLM       LLMConfig       `json:"llm"`
	Godmode   GodmodeConfig   `json:"godmode"`
	Embedding EmbeddingConfig `json:"embedding"`
	VectorDB  VectorDBConfig  `json:"vector_db"`
	Workspace WorkspaceConfig `json:"workspace"`
	Identity  IdentityConfig  `json:"identity"`
	Sessions  SessionsConfig  `json:"sessions"`
	Search    SearchConfig    `json:"search"`
	Budget    BudgetConfig    `json:"budget"`
	Tools     ToolsConfig     `json:"tools"`
	MCP       MCPConfig       `json:"mcp,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	AuthToken    string `json:"-"` // from env ANIMARA_AUTH_TOKEN only
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"`
	// Maintenance is a cron expression (gronx syntax) driving idle-session
	// cleanup and the periodic lexical index rebuild.
	Maintenance string `json:"maintenance,omitempty"`
}

// LLMConfig configures the local backend.
type LLMConfig struct {
	Endpoint      string  `json:"endpoint"`
	Model         string  `json:"model"`
	MaxTokens     int     `json:"max_tokens"`
	ContextWindow int     `json:"context_window"`
	Temperature   float64 `json:"temperature"`
	TimeoutSec    int     `json:"timeout_sec,omitempty"`
}

// GodmodeConfig configures the premium backend.
// APIKey is NEVER read from the config file — only from env ANIMARA_PREMIUM_API_KEY.
type GodmodeConfig struct {
	APIKey     string `json:"-"`
	Endpoint   string `json:"endpoint,omitempty"`
	Model      string `json:"model"`
	MaxTokens  int    `json:"max_tokens"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

// EmbeddingConfig configures the embedding endpoint.
type EmbeddingConfig struct {
	Endpoint   string `json:"endpoint"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// VectorDBConfig configures the Qdrant connection and collection names.
type VectorDBConfig struct {
	URI                     string `json:"uri"`
	MemoriesCollection      string `json:"memories_collection,omitempty"`
	ConversationsCollection string `json:"conversations_collection,omitempty"`
}

// WorkspaceConfig configures the persona/memory file directory.
type WorkspaceConfig struct {
	Path        string `json:"path"`
	CacheTTLSec int    `json:"cache_ttl_sec,omitempty"`
}

// IdentityConfig names the privileged owner and the default caller.
type IdentityConfig struct {
	OwnerID         string `json:"owner_id"`
	DefaultCallerID string `json:"default_caller_id"`
}

// SessionsConfig bounds the per-caller session ring.
type SessionsConfig struct {
	MaxMessages      int `json:"max_messages"`
	TimeoutSec       int `json:"timeout_sec"`
	PruneAfter       int `json:"prune_after_messages"`
	PruneToolMaxChar int `json:"prune_tool_max_chars"`
}

// SearchConfig holds hybrid-search fusion parameters.
type SearchConfig struct {
	VectorWeight float64 `json:"vector_weight"`
	BM25Weight   float64 `json:"bm25_weight"`
	TopK         int     `json:"top_k"`
}

// BudgetConfig holds token budgeting thresholds.
type BudgetConfig struct {
	FlushThreshold    int `json:"flush_threshold"`
	ReserveTokens     int `json:"reserve_tokens"`
	MinResponseTokens int `json:"min_response_tokens"`
}

// ToolsConfig bounds the tool loop and configures built-in tool backends.
type ToolsConfig struct {
	MaxIterations int    `json:"max_iterations"`
	TimeoutSec    int    `json:"timeout_sec"`
	MaxOutputChar int    `json:"max_output_chars,omitempty"`
	BraveAPIKey   string `json:"-"` // from env ANIMARA_BRAVE_API_KEY only
	TaskBoardURL  string `json:"task_board_url,omitempty"`
	TaskBoardKey  string `json:"-"` // from env ANIMARA_TASK_BOARD_KEY only
}

// MCPServerConfig describes one external MCP tool server.
type MCPServerConfig struct {
	Transport  string            `json:"transport"` // "stdio", "sse", "http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	ToolPrefix string            `json:"tool_prefix,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
	Disabled   bool              `json:"disabled,omitempty"`
}

// MCPConfig maps server names to their descriptors.
type MCPConfig struct {
	Servers map[string]*MCPServerConfig `json:"servers,omitempty"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8015,
			RateLimitRPM: 0,
			Maintenance:  "*/10 * * * *",
		},
		LLM: LLMConfig{
			Endpoint:      "http://127.0.0.1:8010",
			Model:         "qwen3",
			MaxTokens:     2000,
			ContextWindow: 32768,
			Temperature:   0.7,
			TimeoutSec:    120,
		},
		Godmode: GodmodeConfig{
			Endpoint:   "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			MaxTokens:  2000,
			TimeoutSec: 120,
		},
		Embedding: EmbeddingConfig{
			Endpoint:   "http://127.0.0.1:8011",
			Model:      "bge-m3",
			Dimensions: 1024,
		},
		VectorDB: VectorDBConfig{
			URI:                     "http://localhost:6334",
			MemoriesCollection:      "memories",
			ConversationsCollection: "conversations",
		},
		Workspace: WorkspaceConfig{
			Path:        "~/animara/workspace",
			CacheTTLSec: 60,
		},
		Identity: IdentityConfig{
			OwnerID:         "owner",
			DefaultCallerID: "owner",
		},
		Sessions: SessionsConfig{
			MaxMessages:      20,
			TimeoutSec:       1800,
			PruneAfter:       3,
			PruneToolMaxChar: 200,
		},
		Search: SearchConfig{
			VectorWeight: 0.7,
			BM25Weight:   0.3,
			TopK:         5,
		},
		Budget: BudgetConfig{
			FlushThreshold:    28000,
			ReserveTokens:     512,
			MinResponseTokens: 768,
		},
		Tools: ToolsConfig{
			MaxIterations: 5,
			TimeoutSec:    30,
			MaxOutputChar: 8000,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "animara-proxy",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults + env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.validate()
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ANIMARA_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("ANIMARA_PREMIUM_API_KEY"); v != "" {
		c.Godmode.APIKey = v
	}
	if v := os.Getenv("ANIMARA_BRAVE_API_KEY"); v != "" {
		c.Tools.BraveAPIKey = v
	}
	if v := os.Getenv("ANIMARA_TASK_BOARD_KEY"); v != "" {
		c.Tools.TaskBoardKey = v
	}
	if v := os.Getenv("ANIMARA_LLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("ANIMARA_VECTOR_DB_URI"); v != "" {
		c.VectorDB.URI = v
	}
	if v := os.Getenv("ANIMARA_WORKSPACE"); v != "" {
		c.Workspace.Path = v
	}
	if v := os.Getenv("ANIMARA_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
}

func (c *Config) validate() error {
	if c.Sessions.MaxMessages <= 0 {
		return fmt.Errorf("sessions.max_messages must be positive")
	}
	if c.Search.VectorWeight < 0 || c.Search.BM25Weight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	if c.Tools.MaxIterations <= 0 {
		return fmt.Errorf("tools.max_iterations must be positive")
	}
	if c.LLM.ContextWindow <= c.Budget.MinResponseTokens {
		return fmt.Errorf("llm.context_window must exceed budget.min_response_tokens")
	}
	c.Workspace.Path = expandHome(c.Workspace.Path)
	return nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
