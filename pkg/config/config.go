// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the quicbridge configuration from built-in defaults, an optional
// configuration file and the environment, in increasing order of precedence.
//
// Environment variables carry the QUICBRIDGE prefix and separate nested keys with a
// double underscore, e.g. QUICBRIDGE_QUIC_SERVER__PORT=4433.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/dtn7/quicbridge/pkg/quicl"
)

const envVarPrefix = "QUICBRIDGE"

// Config contains every option of the quicbridge daemon.
type Config struct {
	QuicServer QuicServer `mapstructure:"quic_server" toml:"quic_server"`
	QuicClient QuicClient `mapstructure:"quic_client" toml:"quic_client"`
	HTTPServer HTTPServer `mapstructure:"http_server" toml:"http_server"`
	Session    Session    `mapstructure:"session" toml:"session"`
	Host       Host       `mapstructure:"host" toml:"host"`
	Logging    Logging    `mapstructure:"logging" toml:"logging"`
}

// QuicServer describes the listening endpoint. A client connects to Host and Port and
// expects the server's certificate to be valid for Name.
type QuicServer struct {
	Host             string `mapstructure:"host" toml:"host"`
	Port             int    `mapstructure:"port" toml:"port"`
	Certificate      string `mapstructure:"certificate" toml:"certificate"`
	PrivateKey       string `mapstructure:"private_key" toml:"private_key"`
	Name             string `mapstructure:"name" toml:"name"`
	RequireRetry     bool   `mapstructure:"require_retry" toml:"require_retry"`
	WatchCredentials bool   `mapstructure:"watch_credentials" toml:"watch_credentials"`
}

// QuicClient describes the dialing endpoint. Host and Port are its local address,
// Certificate is the only trusted root.
type QuicClient struct {
	Host        string `mapstructure:"host" toml:"host"`
	Port        int    `mapstructure:"port" toml:"port"`
	Certificate string `mapstructure:"certificate" toml:"certificate"`
}

type HTTPServer struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Host    string `mapstructure:"host" toml:"host"`
	Port    int    `mapstructure:"port" toml:"port"`
}

type Session struct {
	KeepAliveInterval    Duration `mapstructure:"keep_alive_interval" toml:"keep_alive_interval"`
	ReadLimit            int      `mapstructure:"read_limit" toml:"read_limit"`
	MaxIdleTimeout       Duration `mapstructure:"max_idle_timeout" toml:"max_idle_timeout"`
	HandshakeIdleTimeout Duration `mapstructure:"handshake_idle_timeout" toml:"handshake_idle_timeout"`
	ReconnectDelay       Duration `mapstructure:"reconnect_delay" toml:"reconnect_delay"`
	MaxIncomingStreams   int64    `mapstructure:"max_incoming_streams" toml:"max_incoming_streams"`
}

// Host configures the consumer loop draining the event bridge.
type Host struct {
	TickRate int `mapstructure:"tick_rate" toml:"tick_rate"`
}

type Logging struct {
	Level        string `mapstructure:"level" toml:"level"`
	ReportCaller bool   `mapstructure:"report-caller" toml:"report-caller"`
	Format       string `mapstructure:"format" toml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		QuicServer: QuicServer{
			Host:         "127.0.0.1",
			Port:         4433,
			Certificate:  "tls.crt",
			PrivateKey:   "tls.key",
			Name:         "localhost",
			RequireRetry: true,
		},
		QuicClient: QuicClient{
			Host:        "127.0.0.1",
			Port:        0,
			Certificate: "tls.crt",
		},
		HTTPServer: HTTPServer{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Session: Session{
			KeepAliveInterval:    Duration(quicl.DefaultKeepAliveInterval),
			ReadLimit:            quicl.DefaultReadLimit,
			MaxIdleTimeout:       Duration(5 * time.Second),
			HandshakeIdleTimeout: Duration(2 * time.Second),
			ReconnectDelay:       0,
			MaxIncomingStreams:   1024,
		},
		Host: Host{
			TickRate: 60,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// setDefaults registers every option, so each key can be overridden from the environment.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("quic_server.host", d.QuicServer.Host)
	v.SetDefault("quic_server.port", d.QuicServer.Port)
	v.SetDefault("quic_server.certificate", d.QuicServer.Certificate)
	v.SetDefault("quic_server.private_key", d.QuicServer.PrivateKey)
	v.SetDefault("quic_server.name", d.QuicServer.Name)
	v.SetDefault("quic_server.require_retry", d.QuicServer.RequireRetry)
	v.SetDefault("quic_server.watch_credentials", d.QuicServer.WatchCredentials)

	v.SetDefault("quic_client.host", d.QuicClient.Host)
	v.SetDefault("quic_client.port", d.QuicClient.Port)
	v.SetDefault("quic_client.certificate", d.QuicClient.Certificate)

	v.SetDefault("http_server.enabled", d.HTTPServer.Enabled)
	v.SetDefault("http_server.host", d.HTTPServer.Host)
	v.SetDefault("http_server.port", d.HTTPServer.Port)

	v.SetDefault("session.keep_alive_interval", d.Session.KeepAliveInterval.String())
	v.SetDefault("session.read_limit", d.Session.ReadLimit)
	v.SetDefault("session.max_idle_timeout", d.Session.MaxIdleTimeout.String())
	v.SetDefault("session.handshake_idle_timeout", d.Session.HandshakeIdleTimeout.String())
	v.SetDefault("session.reconnect_delay", d.Session.ReconnectDelay.String())
	v.SetDefault("session.max_incoming_streams", d.Session.MaxIncomingStreams)

	v.SetDefault("host.tick_rate", d.Host.TickRate)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.report-caller", d.Logging.ReportCaller)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Load assembles the configuration. An empty path searches for an optional file named
// "config" (TOML, YAML or JSON) in the working directory; an explicit path must exist.
// Overrides take precedence over every other source.
func Load(path string, overrides map[string]interface{}) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(envVarPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__", "-", "_"))
	v.AutomaticEnv()

	for key, value := range overrides {
		v.Set(key, value)
	}

	var conf Config
	err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.TextUnmarshallerHookFunc()))
	if err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	return conf, nil
}

// Validate reports every invalid option at once.
func (c Config) Validate() error {
	var errs error
	check := func(ok bool, format string, a ...interface{}) {
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf(format, a...))
		}
	}

	for name, port := range map[string]int{
		"quic_server.port": c.QuicServer.Port,
		"quic_client.port": c.QuicClient.Port,
		"http_server.port": c.HTTPServer.Port,
	} {
		check(port >= 0 && port <= 65535, "%s %d is out of range", name, port)
	}

	check(c.QuicServer.Certificate != "", "quic_server.certificate is empty")
	check(c.QuicServer.PrivateKey != "", "quic_server.private_key is empty")
	check(c.QuicServer.Name != "", "quic_server.name is empty")
	check(c.QuicClient.Certificate != "", "quic_client.certificate is empty")

	check(c.Session.KeepAliveInterval > 0, "session.keep_alive_interval must be positive")
	check(c.Session.ReadLimit > 0, "session.read_limit must be positive")
	check(c.Session.MaxIdleTimeout > 0, "session.max_idle_timeout must be positive")
	check(c.Session.HandshakeIdleTimeout > 0, "session.handshake_idle_timeout must be positive")
	check(c.Session.ReconnectDelay >= 0, "session.reconnect_delay must not be negative")
	check(c.Session.MaxIncomingStreams > 0, "session.max_incoming_streams must be positive")

	check(c.Host.TickRate > 0, "host.tick_rate must be positive")

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		check(false, "logging.format %q is unknown", c.Logging.Format)
	}

	return errs
}

// ServerAddress is the address the listener binds and the client connects to.
func (c Config) ServerAddress() string {
	return net.JoinHostPort(c.QuicServer.Host, fmt.Sprint(c.QuicServer.Port))
}

// ClientAddress is the local address of the dialer.
func (c Config) ClientAddress() string {
	return net.JoinHostPort(c.QuicClient.Host, fmt.Sprint(c.QuicClient.Port))
}

// HTTPAddress is the address of the health server.
func (c Config) HTTPAddress() string {
	return net.JoinHostPort(c.HTTPServer.Host, fmt.Sprint(c.HTTPServer.Port))
}

// TickInterval is the pause between two ticks of the consumer loop.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Host.TickRate)
}

// SessionOptions converts the session block for the quicl endpoints.
func (c Config) SessionOptions() quicl.Options {
	return quicl.Options{
		KeepAliveInterval:    time.Duration(c.Session.KeepAliveInterval),
		ReadLimit:            c.Session.ReadLimit,
		MaxIdleTimeout:       time.Duration(c.Session.MaxIdleTimeout),
		HandshakeIdleTimeout: time.Duration(c.Session.HandshakeIdleTimeout),
		MaxIncomingStreams:   c.Session.MaxIncomingStreams,
		RequireRetry:         c.QuicServer.RequireRetry,
		ReconnectDelay:       time.Duration(c.Session.ReconnectDelay),
	}
}

// Encode writes the configuration as TOML.
func (c Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// WriteFile stores the configuration as a TOML file. Existing files are not overwritten.
func (c Config) WriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}

	if err := c.Encode(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
