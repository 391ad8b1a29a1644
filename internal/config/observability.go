package config

// OtelConfig configures OTLP trace export.
// Tracing is disabled unless Endpoint is set (OTEL_EXPORTER_OTLP_ENDPOINT).
type OtelConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"` // host:port of the OTLP HTTP collector
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Enabled reports whether trace export is configured.
func (o OtelConfig) Enabled() bool {
	return o.Endpoint != ""
}
