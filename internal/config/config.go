package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/crosstalk/crosstalk.json[c])
// 2. Project config (<dir>/crosstalk.json[c], <dir>/.crosstalk/crosstalk.json[c])
// 3. CROSSTALK_CONFIG file
// 4. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
		Terminal: make(map[string]types.TerminalConfig),
	}

	loaded := make(map[string]bool)
	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return
		}
		if loadConfigFile(path, config) == nil {
			loaded[absPath] = true
		}
	}

	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "crosstalk.json"))
	loadOnce(filepath.Join(globalPath, "crosstalk.jsonc"))

	if directory != "" {
		loadOnce(filepath.Join(directory, "crosstalk.json"))
		loadOnce(filepath.Join(directory, "crosstalk.jsonc"))
		loadOnce(filepath.Join(directory, ".crosstalk", "crosstalk.json"))
		loadOnce(filepath.Join(directory, ".crosstalk", "crosstalk.jsonc"))
	}

	if configPath := os.Getenv("CROSSTALK_CONFIG"); configPath != "" {
		loadOnce(configPath)
	}

	applyEnvOverrides(config)
	applyDefaults(config)

	return config, nil
}

// loadConfigFile loads a single JSONC config file with env interpolation.
func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // file doesn't exist, skip
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data)

	var loaded types.Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}

	mergeConfig(config, &loaded)
	return nil
}

var envVarPattern = regexp.MustCompile(`\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolate replaces {env:NAME} placeholders with environment values.
func interpolate(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func mergeConfig(dst, src *types.Config) {
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.MaxTurns > 0 {
		dst.MaxTurns = src.MaxTurns
	}
	if src.PoolSize > 0 {
		dst.PoolSize = src.PoolSize
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.Server != nil {
		dst.Server = src.Server
	}
	for id, p := range src.Provider {
		dst.Provider[id] = p
	}
	for id, t := range src.Terminal {
		dst.Terminal[id] = t
	}
}

func applyEnvOverrides(config *types.Config) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p := config.Provider["anthropic"]
		if p.APIKey == "" {
			p.APIKey = key
			config.Provider["anthropic"] = p
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p := config.Provider["openai"]
		if p.APIKey == "" {
			p.APIKey = key
			config.Provider["openai"] = p
		}
	}
	if model := os.Getenv("CROSSTALK_MODEL"); model != "" {
		config.Model = model
	}
	if level := os.Getenv("CROSSTALK_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
}

func applyDefaults(config *types.Config) {
	if config.MaxTurns <= 0 {
		config.MaxTurns = types.DefaultMaxTurns
	}
	if config.PoolSize <= 0 {
		config.PoolSize = types.DefaultPoolSize
	}
}

// SplitModel splits a "provider/model" reference into its parts.
func SplitModel(model string) (providerID, modelID string) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", model
}
