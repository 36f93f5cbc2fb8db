package server

import (
	"net"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/p2p/netutil"
)

// Config contains the listener and request policy settings.
type Config struct {
	Host    string
	Port    int
	UDSPath string `toml:",omitempty"` // unix socket served next to the tcp listener

	APIKey      string   `toml:",omitempty"` // required in X-API-KEY when set
	CorsOrigins []string `toml:",omitempty"`

	RateLimit float64 // requests per second and client, 0 disables limiting
	RateBurst int

	// TrustedProxies lists the peers whose X-Forwarded-For header names the
	// client. Everyone else is identified by the connection's address.
	TrustedProxies *netutil.Netlist `toml:",omitempty"`

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig contains reasonable default settings.
var DefaultConfig = Config{
	Host:         "0.0.0.0",
	Port:         8080,
	RateBurst:    20,
	ReadTimeout:  30 * time.Second,
	WriteTimeout: 5 * time.Minute,
}

// Addr returns the tcp listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
