package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/session"
)

// profile is the on-disk CLI defaults. Flags and RTMQ_* env vars override it.
type profile struct {
	Addr         string
	AppID        uint16
	In           int
	Out          int
	Timeout      time.Duration
	PollInterval time.Duration
	Attempts     int
	Codec        string
	GatewayAddr  string
	CorsOrigins  []string
	Device       string
	Image        string
}

type fileConfig struct {
	Addr         string   `toml:"addr"`
	AppID        int64    `toml:"app_id"`
	In           int      `toml:"in"`
	Out          int      `toml:"out"`
	Timeout      string   `toml:"timeout"`
	TimeoutMS    int64    `toml:"timeout_ms"`
	PollInterval string   `toml:"poll_interval"`
	Attempts     int      `toml:"attempts"`
	Codec        string   `toml:"codec"`
	GatewayAddr  string   `toml:"gateway_addr"`
	CorsOrigins  []string `toml:"cors_origins"`
	Device       string   `toml:"device"`
	Image        string   `toml:"image"`
}

func defaultProfile() profile {
	d := session.DefaultConfig()
	return profile{
		Addr:         "127.0.0.1:7300",
		Timeout:      d.SyncTimeout,
		PollInterval: d.PollInterval,
		Attempts:     d.Attempts,
		Codec:        "host",
		GatewayAddr:  "127.0.0.1:7310",
	}
}

func loadProfile(path string) (profile, error) {
	cfg := defaultProfile()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return profile{}, fmt.Errorf("load rtmqctl config: %w", err)
	}

	if meta.IsDefined("addr") {
		if v := strings.TrimSpace(raw.Addr); v != "" {
			cfg.Addr = v
		}
	}

	if meta.IsDefined("app_id") {
		if raw.AppID < 0 || raw.AppID > 0xFFFF {
			return profile{}, fmt.Errorf("app_id %#x does not fit 16 bits", raw.AppID)
		}
		cfg.AppID = uint16(raw.AppID)
	}

	if meta.IsDefined("in") {
		cfg.In = raw.In
	}

	if meta.IsDefined("out") {
		cfg.Out = raw.Out
	}

	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return profile{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}

	if meta.IsDefined("timeout_ms") {
		cfg.Timeout = time.Duration(raw.TimeoutMS) * time.Millisecond
	}

	if meta.IsDefined("poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollInterval))
		if err != nil {
			return profile{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}

	if meta.IsDefined("attempts") {
		cfg.Attempts = raw.Attempts
	}

	if meta.IsDefined("codec") {
		cfg.Codec = strings.TrimSpace(raw.Codec)
	}

	if meta.IsDefined("gateway_addr") {
		cfg.GatewayAddr = strings.TrimSpace(raw.GatewayAddr)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}

	if meta.IsDefined("image") {
		cfg.Image = strings.TrimSpace(raw.Image)
	}

	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
