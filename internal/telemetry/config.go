package telemetry

// Config configures tracing and profiling for one process.
type Config struct {
	ServiceName    string
	ServiceVersion string

	Tracing   TracingConfig
	Profiling ProfilingConfig
}

// TracingConfig selects the OTLP/gRPC trace exporter. When disabled every
// span is a no-op.
type TracingConfig struct {
	Enabled bool

	// Endpoint is the collector's host:port.
	Endpoint string

	// Insecure dials the collector without TLS.
	Insecure bool

	// SampleRate is the fraction of associations traced, from 0 to 1.
	SampleRate float64
}

// ProfilingConfig selects Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool

	// Endpoint is the Pyroscope server URL.
	Endpoint string

	// ProfileTypes lists the profiles to push. Empty means cpu and the
	// in-use heap.
	ProfileTypes []string
}

// DefaultConfig returns tracing and profiling both disabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "dicomul",
		ServiceVersion: "dev",
		Tracing: TracingConfig{
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 1.0,
		},
		Profiling: ProfilingConfig{
			Endpoint: "http://localhost:4040",
		},
	}
}
