// Package config provides layered configuration for the bridge process:
// built-in defaults, then a TOML file, then command-line flag overrides.
package config

// Config holds all configuration needed to start the bridge.
type Config struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	UpstreamURL    string   `toml:"upstream_url"`
	UpstreamWire   string   `toml:"upstream_wire"` // "chat" or "responses"
	APIKeyEnv      string   `toml:"api_key_env"`
	ServerInfo     string   `toml:"server_info"`
	HTTPShutdown   bool     `toml:"http_shutdown"`
	VerboseLogging bool     `toml:"verbose_logging"`
	DropToolTypes  []string `toml:"drop_tool_types"`
	MetricsEnabled bool     `toml:"metrics_enabled"`
}

// UpstreamWireChat and UpstreamWireResponses name the two supported
// upstream_wire values.
const (
	UpstreamWireChat      = "chat"
	UpstreamWireResponses = "responses"
)

// Defaults returns a Config populated with the built-in defaults, before
// any file or flag overrides are applied.
func Defaults() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           0,
		UpstreamWire:   UpstreamWireChat,
		UpstreamURL:    defaultUpstreamURL(UpstreamWireChat),
		APIKeyEnv:      "OPENAI_API_KEY",
		HTTPShutdown:   false,
		VerboseLogging: false,
		MetricsEnabled: false,
	}
}

// defaultUpstreamURL picks the default upstream endpoint for a wire
// format, matching whichever OpenAI-compatible endpoint that wire format
// natively speaks.
func defaultUpstreamURL(wire string) string {
	if wire == UpstreamWireResponses {
		return "https://api.openai.com/v1/responses"
	}
	return "https://api.openai.com/v1/chat/completions"
}
