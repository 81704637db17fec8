package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "device":
		return deviceTemplate, nil
	case "image":
		return imageTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const deviceTemplate = `name = "wrnc"
codec = "host"

[[local.input]]
width = 128
depth = 4

[[local.input]]
width = 128
depth = 4

[[local.output]]
width = 128
depth = 4

[[local.output]]
width = 128
depth = 16

[[remote.input]]
width = 128
depth = 4

[[remote.output]]
width = 128
depth = 4
`

const imageTemplate = `name = "demo"
app_id = 0x115
fpga_id = 0x115790DE
version = "1.0"
build_id = 1
cells = 4

[[mq]]
index = 0

[[mq]]
index = 0
remote = true

[[set_clear]]
set = 1
clear = 2
status = 3

[[variables]]
name = "ctrl"
cell = 0

[[variables]]
name = "ctrl_field"
cell = 0
mask = 0x0F
offset = 4

[[variables]]
name = "gpio_set"
cell = 1
mode = "wo"

[[variables]]
name = "gpio_clear"
cell = 2
mode = "wo"

[[variables]]
name = "gpio_status"
cell = 3

[[structures]]
name = "config"
size = 24
`
