package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/hmq"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/frame"
)

const (
	CodecHost   = "host"
	CodecNative = "native"
	CodecCustom = "custom"
)

type SlotConfig struct {
	Width int `toml:"width"`
	Depth int `toml:"depth"`
}

// BankConfig lists host->core input slots and core->host output slots.
type BankConfig struct {
	Input  []SlotConfig `toml:"input"`
	Output []SlotConfig `toml:"output"`
}

// DeviceConfig describes a node: its queue banks and header encoding.
type DeviceConfig struct {
	Name  string `toml:"name"`
	Codec string `toml:"codec"`
	// Transforms is read when Codec is "custom": four byte permutations, one
	// per header word.
	Transforms [][]int    `toml:"transforms"`
	Local      BankConfig `toml:"local"`
	Remote     BankConfig `toml:"remote"`
}

func LoadDeviceConfig(path string) (DeviceConfig, error) {
	var cfg DeviceConfig
	if err := loadToml(path, &cfg); err != nil {
		return DeviceConfig{}, err
	}
	return finishDevice(cfg)
}

func ParseDeviceConfig(data []byte) (DeviceConfig, error) {
	var cfg DeviceConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return DeviceConfig{}, fmt.Errorf("config parse failed: %w", err)
	}
	return finishDevice(cfg)
}

func finishDevice(cfg DeviceConfig) (DeviceConfig, error) {
	if cfg.Name == "" {
		cfg.Name = "wrnc"
	}
	if cfg.Codec == "" {
		cfg.Codec = CodecHost
	}
	if len(cfg.Local.Input) == 0 && len(cfg.Local.Output) == 0 {
		cfg.Local = uniform(2, SlotConfig{Width: hmq.DefaultSlot.Width, Depth: hmq.DefaultSlot.Depth})
	}
	if err := ValidateDeviceConfig(cfg); err != nil {
		return DeviceConfig{}, err
	}
	return cfg, nil
}

func uniform(n int, sc SlotConfig) BankConfig {
	b := BankConfig{}
	for i := 0; i < n; i++ {
		b.Input = append(b.Input, sc)
		b.Output = append(b.Output, sc)
	}
	return b
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDeviceConfig(cfg DeviceConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("device config missing name")
	}
	if _, err := cfg.FrameCodec(); err != nil {
		return err
	}
	if err := cfg.Local.toHMQ().Validate(); err != nil {
		return fmt.Errorf("local bank invalid: %w", err)
	}
	if err := cfg.Remote.toHMQ().Validate(); err != nil {
		return fmt.Errorf("remote bank invalid: %w", err)
	}
	return nil
}

func (b BankConfig) toHMQ() hmq.BankConfig {
	out := hmq.BankConfig{}
	for _, s := range b.Input {
		out.Input = append(out.Input, hmq.SlotConfig{Width: s.Width, Depth: s.Depth})
	}
	for _, s := range b.Output {
		out.Output = append(out.Output, hmq.SlotConfig{Width: s.Width, Depth: s.Depth})
	}
	return out
}

// FrameCodec builds the header codec the device uses.
func (cfg DeviceConfig) FrameCodec() (frame.Codec, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Codec)) {
	case CodecHost, "":
		return frame.HostCodec(), nil
	case CodecNative:
		return frame.NewCodec(frame.NativeTransforms)
	case CodecCustom:
		if len(cfg.Transforms) != frame.HeaderWords {
			return frame.Codec{}, fmt.Errorf("custom codec needs %d transforms, got %d", frame.HeaderWords, len(cfg.Transforms))
		}
		var t frame.Transforms
		for i, perm := range cfg.Transforms {
			if len(perm) != 4 {
				return frame.Codec{}, fmt.Errorf("transform %d: need 4 byte indices, got %d", i, len(perm))
			}
			for j, b := range perm {
				if b < 0 || b > 3 {
					return frame.Codec{}, fmt.Errorf("transform %d: byte index %d out of range", i, b)
				}
				t[i][j] = uint8(b)
			}
		}
		return frame.NewCodec(t)
	default:
		return frame.Codec{}, fmt.Errorf("unknown codec %q", cfg.Codec)
	}
}

// Fabric builds a simulated fabric with the configured geometry.
func (cfg DeviceConfig) Fabric() (*hmq.Fabric, error) {
	return hmq.NewFabric(cfg.Local.toHMQ(), cfg.Remote.toHMQ())
}
