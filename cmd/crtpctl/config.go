package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/crtplink/internal/client"
	"github.com/danmuck/crtplink/internal/transport"
)

type fileConfig struct {
	Device           string `toml:"device"`
	Baud             int    `toml:"baud"`
	ReadTimeoutMS    int64  `toml:"read_timeout_ms"`
	CacheDir         string `toml:"cache_dir"`
	ForceRefresh     bool   `toml:"force_refresh"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	MetricsAddr      string `toml:"metrics_addr"`
}

type serviceConfig struct {
	Serial      transport.SerialConfig
	Client      client.Config
	CacheDir    string
	MetricsAddr string
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Serial:      transport.DefaultSerialConfig(),
		Client:      client.DefaultConfig(),
		CacheDir:    defaultCacheDir(),
		MetricsAddr: "127.0.0.1:9108",
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "crtplink")
	}
	return filepath.Join(dir, "crtplink")
}

func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load crtpctl config: %w", err)
	}

	if meta.IsDefined("device") {
		if dev := strings.TrimSpace(raw.Device); dev != "" {
			cfg.Serial.Device = dev
		}
	}

	if meta.IsDefined("baud") {
		if raw.Baud <= 0 {
			return serviceConfig{}, fmt.Errorf("invalid baud: %d", raw.Baud)
		}
		cfg.Serial.Baud = raw.Baud
	}

	if meta.IsDefined("read_timeout_ms") {
		cfg.Serial.ReadTimeout = time.Duration(raw.ReadTimeoutMS) * time.Millisecond
	}

	if meta.IsDefined("cache_dir") {
		cfg.CacheDir = strings.TrimSpace(raw.CacheDir)
	}

	if meta.IsDefined("force_refresh") {
		cfg.Client.ForceRefresh = raw.ForceRefresh
	}

	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse handshake_timeout: %w", err)
		}
		cfg.Client.HandshakeTimeout = d
	}

	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	return cfg, nil
}
