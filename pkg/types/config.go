package types

// Config represents the crosstalk configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Default model selection, "provider/model" form.
	Model string `json:"model,omitempty"`

	// MaxTurns is the per-session turn budget. Zero means unlimited.
	MaxTurns int `json:"maxTurns,omitempty"`

	// PoolSize caps concurrently resident external sessions.
	PoolSize int `json:"poolSize,omitempty"`

	// Provider configs keyed by provider id.
	Provider map[string]ProviderConfig `json:"provider,omitempty"`

	// External surface commands keyed by external model id, e.g.
	// "cli/demo" -> {Command: "demo", Args: ["--interactive"]}.
	Terminal map[string]TerminalConfig `json:"terminal,omitempty"`

	// Server settings for the HTTP surface.
	Server *ServerConfig `json:"server,omitempty"`

	// Log level: DEBUG, INFO, WARN, ERROR, FATAL.
	LogLevel string `json:"logLevel,omitempty"`
}

// ProviderConfig holds configuration for a specific model provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
	Model   string `json:"model,omitempty"`
	Disable bool   `json:"disable,omitempty"`
}

// TerminalConfig describes the command used to launch an external CLI model.
type TerminalConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// DefaultMaxTurns is applied when the config does not set a budget.
const DefaultMaxTurns = 50

// DefaultPoolSize is the default cap on resident external sessions.
const DefaultPoolSize = 10
