package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const defaultConfigRelPath = ".config/codex-chat-bridge/conf.toml"

// Overrides carries command-line flag values. A nil field means the flag
// was not provided and the file/default value should stand, so a
// zero-value flag never silently clobbers a configured value.
type Overrides struct {
	Host           *string
	Port           *int
	UpstreamURL    *string
	UpstreamWire   *string
	APIKeyEnv      *string
	ServerInfo     *string
	HTTPShutdown   *bool
	VerboseLogging *bool
	MetricsEnabled *bool
	DropToolTypes  []string
}

// Load resolves configuration from built-in defaults, then an optional
// TOML file (explicit path or the default path), then CLI overrides. If no
// file exists at the resolved path, a commented default file is written
// there and loading proceeds with defaults alone.
func Load(explicitPath string, overrides Overrides) (*Config, error) {
	cfg := Defaults()

	path, err := resolveConfigPath(explicitPath)
	if err != nil {
		return nil, err
	}

	urlFromFile := false
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
		if err := writeDefaultConfigFile(path); err != nil {
			return nil, fmt.Errorf("materializing default config file %s: %w", path, err)
		}
	} else {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		urlFromFile = md.IsDefined("upstream_url")
	}

	fileDropTypes := cfg.DropToolTypes
	applyOverrides(&cfg, overrides)
	cfg.DropToolTypes = unionDropTypes(fileDropTypes, overrides.DropToolTypes)

	if cfg.UpstreamURL == "" || (!urlFromFile && overrides.UpstreamURL == nil) {
		cfg.UpstreamURL = defaultUpstreamURL(cfg.UpstreamWire)
	}

	return &cfg, nil
}

// resolveConfigPath returns explicitPath if set, else the default path
// under the user's home directory.
func resolveConfigPath(explicitPath string) (string, error) {
	if explicitPath != "" {
		return explicitPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, defaultConfigRelPath), nil
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.Host != nil {
		cfg.Host = *o.Host
	}
	if o.Port != nil {
		cfg.Port = *o.Port
	}
	if o.UpstreamURL != nil {
		cfg.UpstreamURL = *o.UpstreamURL
	}
	if o.UpstreamWire != nil {
		cfg.UpstreamWire = *o.UpstreamWire
	}
	if o.APIKeyEnv != nil {
		cfg.APIKeyEnv = *o.APIKeyEnv
	}
	if o.ServerInfo != nil {
		cfg.ServerInfo = *o.ServerInfo
	}
	if o.HTTPShutdown != nil {
		cfg.HTTPShutdown = *o.HTTPShutdown
	}
	if o.VerboseLogging != nil {
		cfg.VerboseLogging = *o.VerboseLogging
	}
	if o.MetricsEnabled != nil {
		cfg.MetricsEnabled = *o.MetricsEnabled
	}
}

// unionDropTypes merges the file and CLI drop-type lists, trims blanks,
// and removes duplicates while preserving first-seen order.
func unionDropTypes(fromFile, fromCLI []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range [][]string{fromFile, fromCLI} {
		for _, raw := range list {
			v := strings.TrimSpace(raw)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func writeDefaultConfigFile(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(defaultConfigTemplate), 0o644)
}

const defaultConfigTemplate = `# codex-chat-bridge configuration.
# Uncomment and edit values as needed; CLI flags override whatever is set here.

# host = "127.0.0.1"
# port = 0
# upstream_url = "https://api.openai.com/v1/chat/completions"
# upstream_wire = "chat"
# api_key_env = "OPENAI_API_KEY"
# server_info = ""
# http_shutdown = false
# verbose_logging = false
# drop_tool_types = []
# metrics_enabled = false
`

// ResolveAPIKey reads the bearer token from the environment variable named
// by cfg.APIKeyEnv. It fails if the variable is absent or blank.
func ResolveAPIKey(cfg *Config) (string, error) {
	v := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	if v == "" {
		return "", fmt.Errorf("missing or empty env var: %s", cfg.APIKeyEnv)
	}
	return v, nil
}
