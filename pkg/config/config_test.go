// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-test/deep"
	"github.com/hashicorp/go-multierror"
)

func writeConfig(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	conf, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(conf, Default()); diff != nil {
		t.Fatal(diff)
	}
	if err := conf.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadLayers(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[quic_server]
port = 5000
name = "bridge.example"

[session]
keep_alive_interval = "250ms"
read_limit = 1024

[logging]
level = "debug"
`)

	t.Setenv("QUICBRIDGE_QUIC_SERVER__PORT", "6000")
	t.Setenv("QUICBRIDGE_HOST__TICK_RATE", "30")
	t.Setenv("QUICBRIDGE_LOGGING__REPORT_CALLER", "true")

	conf, err := Load(path, map[string]interface{}{"logging.level": "trace"})
	if err != nil {
		t.Fatal(err)
	}

	expected := Default()
	expected.QuicServer.Port = 6000
	expected.QuicServer.Name = "bridge.example"
	expected.Session.KeepAliveInterval = Duration(250 * time.Millisecond)
	expected.Session.ReadLimit = 1024
	expected.Host.TickRate = 30
	expected.Logging.Level = "trace"
	expected.Logging.ReportCaller = true

	if diff := deep.Equal(conf, expected); diff != nil {
		t.Fatal(diff)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
http_server:
  enabled: false
session:
  reconnect_delay: 2s
`)

	conf, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if conf.HTTPServer.Enabled {
		t.Fatal("http_server.enabled was not read")
	}
	if time.Duration(conf.Session.ReconnectDelay) != 2*time.Second {
		t.Fatalf("Unexpected reconnect delay %v", conf.Session.ReconnectDelay)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml"), nil); err == nil {
		t.Fatal("Loading a missing explicit file succeeded")
	}

	path := writeConfig(t, "broken.toml", `
[session]
keep_alive_interval = "soon"
`)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("Loading an invalid duration succeeded")
	}
}

func TestValidate(t *testing.T) {
	conf := Default()
	conf.QuicServer.Port = 70000
	conf.QuicServer.Certificate = ""
	conf.Session.ReadLimit = 0
	conf.Session.KeepAliveInterval = 0
	conf.Host.TickRate = -1
	conf.Logging.Format = "xml"

	err := conf.Validate()

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("Expected a multierror, got %v", err)
	}
	if len(merr.Errors) != 6 {
		t.Fatalf("Expected 6 errors, got %d: %v", len(merr.Errors), merr)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quicbridge.toml")

	if err := Default().WriteFile(path); err != nil {
		t.Fatal(err)
	}

	var decoded Config
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(decoded, Default()); diff != nil {
		t.Fatal(diff)
	}

	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(loaded, Default()); diff != nil {
		t.Fatal(diff)
	}

	if err := Default().WriteFile(path); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("Expected an existing file to be kept, got %v", err)
	}
}

func TestDerivedValues(t *testing.T) {
	conf := Default()

	if addr := conf.ServerAddress(); addr != "127.0.0.1:4433" {
		t.Fatalf("Unexpected server address %s", addr)
	}
	if addr := conf.ClientAddress(); addr != "127.0.0.1:0" {
		t.Fatalf("Unexpected client address %s", addr)
	}
	if tick := conf.TickInterval(); tick != time.Second/60 {
		t.Fatalf("Unexpected tick interval %v", tick)
	}

	opts := conf.SessionOptions()
	if opts.KeepAliveInterval != time.Second || opts.ReadLimit != 64*1024 || !opts.RequireRetry {
		t.Fatalf("Unexpected session options %+v", opts)
	}
}
