// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package netcat

import (
	"errors"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/sys/unix"
)

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(env.Options{
		Prefix: EnvPrefix,
		Environment: map[string]string{
			"NETCAT_FAMILY":       "6",
			"NETCAT_WAIT":         "3s",
			"NETCAT_QUIT_DELAY":   "500ms",
			"NETCAT_LISTEN_MANY":  "true",
			"NETCAT_CLIENT_RATE":  "5",
			"NETCAT_METRICS_ADDR": ":9100",
		},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Family != "6" || cfg.AddressFamily() != unix.AF_INET6 {
		t.Errorf("Expected IPv6, got %q", cfg.Family)
	}
	if cfg.Wait != 3*time.Second || cfg.QuitDelay != 500*time.Millisecond {
		t.Errorf("Unexpected timeouts: wait %v, quit %v", cfg.Wait, cfg.QuitDelay)
	}
	if !cfg.ListenMany || cfg.ClientRate != 5 || cfg.MetricsAddr != ":9100" {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if !cfg.Background || cfg.ListenFD != -1 || cfg.LogLevel != "warn" || cfg.LogFormat != "text" {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestNewConfig_Invalid(t *testing.T) {
	_, err := NewConfig(env.Options{
		Prefix:      EnvPrefix,
		Environment: map[string]string{"NETCAT_WAIT": "soon"},
	})
	if err == nil {
		t.Error("Expected error for an invalid duration")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"dial", Config{Args: []string{"localhost", "80"}}, nil},
		{"dial missing port", Config{Args: []string{"localhost"}}, errArgCount},
		{"file", Config{File: "/dev/null"}, nil},
		{"file with args", Config{File: "/dev/null", Args: []string{"x"}}, errArgCount},
		{"listen", Config{Listen: true}, nil},
		{"listen with command", Config{ListenMany: true, Args: []string{"cat", "-n"}}, nil},
		{"listen both", Config{Listen: true, ListenMany: true}, errExclusive},
		{"listen many with wait", Config{ListenMany: true, Wait: time.Second}, errExclusive},
		{"listen once with wait", Config{Listen: true, Wait: time.Second}, nil},
		{"bad family", Config{Family: "5", Args: []string{"h", "p"}}, errExclusive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if err := (Config{Idle: -time.Second, Listen: true}).Validate(); err == nil {
		t.Error("Expected error for a negative timeout")
	}
}

func TestConfig_Command(t *testing.T) {
	cfg := Config{Listen: true, Args: []string{"sh", "-c", "date"}}
	if got := cfg.Command(); len(got) != 3 {
		t.Errorf("Expected the listen command, got %v", got)
	}

	cfg = Config{Args: []string{"localhost", "80"}}
	if got := cfg.Command(); got != nil {
		t.Errorf("Expected no command when dialing, got %v", got)
	}

	cfg = Config{File: "/dev/ttyS0", Listen: true}
	if cfg.Listening() {
		t.Error("Expected file mode to take precedence over listening")
	}
}
