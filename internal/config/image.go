package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/schema"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/rt"
)

// ImageConfig describes a core image for the simulator: identity, served
// queues and the exported variable and structure tables.
type ImageConfig struct {
	Name       string            `toml:"name"`
	AppID      uint32            `toml:"app_id"`
	FPGAID     uint32            `toml:"fpga_id"`
	Version    string            `toml:"version"`
	BuildID    uint32            `toml:"build_id"`
	MQs        []MQConfig        `toml:"mq"`
	Cells      int               `toml:"cells"`
	SetClear   []SetClearConfig  `toml:"set_clear"`
	Variables  []VariableConfig  `toml:"variables"`
	Structures []StructureConfig `toml:"structures"`
}

type MQConfig struct {
	Index  int  `toml:"index"`
	Remote bool `toml:"remote"`
}

// SetClearConfig wires two write-only cells to a status cell.
type SetClearConfig struct {
	Set    int `toml:"set"`
	Clear  int `toml:"clear"`
	Status int `toml:"status"`
}

type VariableConfig struct {
	Name   string `toml:"name"`
	Cell   int    `toml:"cell"`
	Mask   uint32 `toml:"mask"`
	Offset uint8  `toml:"offset"`
	// Mode is "rw" (default) or "wo".
	Mode string `toml:"mode"`
}

type StructureConfig struct {
	Name string `toml:"name"`
	Size int    `toml:"size"`
}

func LoadImageConfig(path string) (ImageConfig, error) {
	var cfg ImageConfig
	if err := loadToml(path, &cfg); err != nil {
		return ImageConfig{}, err
	}
	return finishImage(cfg)
}

func ParseImageConfig(data []byte) (ImageConfig, error) {
	var cfg ImageConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return ImageConfig{}, fmt.Errorf("config parse failed: %w", err)
	}
	return finishImage(cfg)
}

func finishImage(cfg ImageConfig) (ImageConfig, error) {
	if cfg.Name == "" {
		cfg.Name = "image"
	}
	if cfg.Version == "" {
		cfg.Version = "0.1"
	}
	if len(cfg.MQs) == 0 {
		cfg.MQs = []MQConfig{{Index: 0}}
	}
	for i := range cfg.Variables {
		if cfg.Variables[i].Mask == 0 {
			cfg.Variables[i].Mask = 0xFFFFFFFF
		}
	}
	if err := ValidateImageConfig(cfg); err != nil {
		return ImageConfig{}, err
	}
	return cfg, nil
}

func ValidateImageConfig(cfg ImageConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("image config missing name")
	}
	if cfg.AppID > 0xFFFF {
		return fmt.Errorf("image app_id %#x does not fit the 16-bit header field", cfg.AppID)
	}
	if _, err := ParseVersion(cfg.Version); err != nil {
		return err
	}
	if cfg.Cells < 0 {
		return fmt.Errorf("image cells must not be negative")
	}
	for i, sc := range cfg.SetClear {
		for _, c := range []int{sc.Set, sc.Clear, sc.Status} {
			if c < 0 || c >= cfg.Cells {
				return fmt.Errorf("set_clear[%d]: cell %d out of range", i, c)
			}
		}
	}
	for i, v := range cfg.Variables {
		if v.Cell < 0 || v.Cell >= cfg.Cells {
			return fmt.Errorf("variables[%d] (%s): cell %d out of range", i, v.Name, v.Cell)
		}
		if _, err := parseMode(v.Mode); err != nil {
			return fmt.Errorf("variables[%d] (%s): %w", i, v.Name, err)
		}
	}
	for i, s := range cfg.Structures {
		if s.Size <= 0 || s.Size%4 != 0 {
			return fmt.Errorf("structures[%d] (%s): size %d must be a positive multiple of 4", i, s.Name, s.Size)
		}
	}
	return nil
}

func parseMode(s string) (rt.AccessMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rw":
		return rt.ReadWrite, nil
	case "wo":
		return rt.WriteOnly, nil
	}
	return 0, fmt.Errorf("unknown access mode %q", s)
}

// ParseVersion reads "major.minor" into the packed version word.
func ParseVersion(s string) (uint32, error) {
	major, minor, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return 0, fmt.Errorf("version %q: want major.minor", s)
	}
	ma, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("version %q: %w", s, err)
	}
	mi, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("version %q: %w", s, err)
	}
	return schema.MakeVersion(uint16(ma), uint16(mi)), nil
}

// Application builds the runtime description. Handlers for image-specific
// actions are attached by the caller.
func (cfg ImageConfig) Application() (rt.Application, error) {
	version, err := ParseVersion(cfg.Version)
	if err != nil {
		return rt.Application{}, err
	}
	mem := rt.NewMemory(cfg.Cells)
	for _, sc := range cfg.SetClear {
		if err := mem.SetClear(rt.CellID(sc.Set), rt.CellID(sc.Clear), rt.CellID(sc.Status)); err != nil {
			return rt.Application{}, err
		}
	}
	vars := make([]rt.Variable, 0, len(cfg.Variables))
	for _, v := range cfg.Variables {
		mode, err := parseMode(v.Mode)
		if err != nil {
			return rt.Application{}, err
		}
		vars = append(vars, rt.Variable{Name: v.Name, Cell: rt.CellID(v.Cell), Mask: v.Mask, Offset: v.Offset, Mode: mode})
	}
	structs := make([]rt.Structure, 0, len(cfg.Structures))
	for _, s := range cfg.Structures {
		structs = append(structs, rt.Structure{Name: s.Name, Buffer: make([]byte, s.Size)})
	}
	reg, err := rt.NewRegistry(mem, vars, structs)
	if err != nil {
		return rt.Application{}, err
	}
	mqs := make([]rt.MQ, 0, len(cfg.MQs))
	for _, mq := range cfg.MQs {
		mqs = append(mqs, rt.MQ{Index: mq.Index, Remote: mq.Remote})
	}
	return rt.Application{
		Name: cfg.Name,
		Version: schema.Version{
			FPGAID:     cfg.FPGAID,
			AppID:      cfg.AppID,
			AppVersion: version,
			BuildID:    cfg.BuildID,
		},
		MQs:      mqs,
		Registry: reg,
	}, nil
}
