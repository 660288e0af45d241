package dicom

import (
	"fmt"
	"net"
	"time"

	"github.com/marmos91/dicomul/internal/bytesize"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
	"github.com/marmos91/dicomul/pkg/ul/transport"
)

// DefaultPort is the registered DICOM port. The well-known port 104
// requires root.
const DefaultPort = 11112

// Config holds the configuration of the DICOM acceptor.
//
// Default values (applied by ApplyDefaults if zero):
//   - Port: 11112
//   - MaxPDULength: 16KiB (announced to requestors)
//   - MaxPDUSize: 1MiB (largest PDU body read)
//   - ShutdownTimeout: 30s
//   - Transport: transport.DefaultConfig()
type Config struct {
	// BindAddress is the IP address to bind to. Empty binds to all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the TCP port to listen on. Zero picks a free port when
	// ApplyDefaults is not called.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// MaxConnections limits the number of concurrent associations.
	// When reached, new connections wait in the listen backlog.
	// 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// MaxPDULength is the maximum PDU length announced in the
	// A-ASSOCIATE-AC. Requestors fragment what they send to fit it.
	MaxPDULength bytesize.ByteSize `mapstructure:"max_pdu_length" yaml:"max_pdu_length"`

	// MaxPDUSize is the largest PDU body accepted on the wire. Larger PDUs
	// abort the association.
	MaxPDUSize bytesize.ByteSize `mapstructure:"max_pdu_size" yaml:"max_pdu_size"`

	// MaxUnitSize bounds one reassembled command or dataset. 0 disables the
	// bound.
	MaxUnitSize bytesize.ByteSize `mapstructure:"max_unit_size" yaml:"max_unit_size,omitempty"`

	// AllowedNetworks restricts peers to these CIDR blocks. Empty allows
	// every peer.
	AllowedNetworks []string `mapstructure:"allowed_networks" yaml:"allowed_networks,omitempty"`

	// Transport configures per-connection socket options and timeouts.
	Transport transport.Config `mapstructure:"transport" yaml:"transport"`

	// ShutdownTimeout is the maximum duration to wait for active
	// associations during graceful shutdown. Remaining connections are then
	// closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0" yaml:"shutdown_timeout"`

	// MetricsLogInterval is the interval at which to log the number of
	// active associations. 0 disables periodic logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0" yaml:"metrics_log_interval,omitempty"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	c.applyLimits()
}

func (c *Config) applyLimits() {
	if c.MaxPDULength == 0 {
		c.MaxPDULength = 16 * bytesize.KiB
	}
	if c.MaxPDUSize == 0 {
		c.MaxPDUSize = pdu.DefaultMaxPDUSize
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.Transport == (transport.Config{}) {
		c.Transport = transport.DefaultConfig()
	}
}

// Validate checks settings that struct tags cannot express.
func (c *Config) Validate() error {
	if c.MaxPDULength.Uint64() > uint64(^uint32(0)) {
		return fmt.Errorf("max_pdu_length %s does not fit in 32 bits", c.MaxPDULength)
	}
	if c.MaxPDUSize.Uint64() > uint64(^uint32(0)) {
		return fmt.Errorf("max_pdu_size %s does not fit in 32 bits", c.MaxPDUSize)
	}
	if c.MaxPDUSize != 0 && c.MaxPDULength > c.MaxPDUSize {
		return fmt.Errorf("max_pdu_length %s exceeds max_pdu_size %s", c.MaxPDULength, c.MaxPDUSize)
	}
	if _, err := parseNetworks(c.AllowedNetworks); err != nil {
		return err
	}
	return nil
}

func parseNetworks(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, s := range cidrs {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("allowed_networks: %w", err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}
