package config

// Gateway server names. Used as routing keys and in the status surface.
const (
	ServerCouchbase   = "couchbase"
	ServerPostgresMCP = "postgres"
)

// ServerConfig describes one MCP query tool server.
type ServerConfig struct {
	// URL is the server endpoint. SSE endpoints typically end in /sse;
	// plain http(s) URLs without the suffix use the streamable transport.
	URL string `mapstructure:"url" json:"url"`

	// Active controls whether the gateway connects to this server.
	Active bool `mapstructure:"active" json:"active"`

	// Bucket is the Couchbase bucket the query tools operate on.
	// Ignored for non-Couchbase servers.
	Bucket string `mapstructure:"bucket" json:"bucket,omitempty"`
}

// ActiveServers returns the name→config map of servers the gateway
// should connect to. Empty when neither server is active; Validate
// rejects that configuration at startup.
func (c *Config) ActiveServers() map[string]ServerConfig {
	servers := make(map[string]ServerConfig, 2)
	if c.Couchbase.Active {
		servers[ServerCouchbase] = c.Couchbase
	}
	if c.PostgresMCP.Active {
		servers[ServerPostgresMCP] = c.PostgresMCP
	}
	return servers
}
