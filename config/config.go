// Package config loads the on-disk YAML configuration: the thin adapter
// between that file and the param registry defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jangala-dev/robot-supervisor/params"
)

type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type WorkersConfig struct {
	VisionArgv  []string `yaml:"vision_argv,omitempty"`
	AudioArgv   []string `yaml:"audio_argv,omitempty"`
	PlannerArgv []string `yaml:"planner_argv,omitempty"`
}

type Config struct {
	Reflex SerialConfig `yaml:"reflex"`
	Face   SerialConfig `yaml:"face"`

	RobotID        string `yaml:"robot_id"`
	PlannerURL     string `yaml:"planner_url"`
	PlannerEnabled bool   `yaml:"planner_enabled"`

	WebAddr  string `yaml:"web_addr"`
	LogLevel string `yaml:"log_level"`

	Workers WorkersConfig `yaml:"workers"`

	Params map[string]any `yaml:"params"`
}

// Default returns the configuration used when --config is omitted:
// stable device aliases for the serial ports and a disabled planner.
func Default() Config {
	return Config{
		Reflex:   SerialConfig{Port: "/dev/reflex", Baud: 115200},
		Face:     SerialConfig{Port: "/dev/face", Baud: 115200},
		RobotID:  "buddy-01",
		WebAddr:  ":8080",
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file, applying Default for any
// zero-valued field the file doesn't set.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// DeclareParams registers the fixed parameter schema into
// reg, then applies any overrides present in cfg.Params as one initial
// batch; the batch is validated like any update, and an invalid override
// is returned as an error.
func DeclareParams(reg *params.Registry, cfg Config, reflexSetConfig func(paramID uint8, value uint32) error) error {
	reg.Declare(params.Spec{
		Key: "reflex.max_v_mm_s", Type: params.TypeI32, Default: int32(600),
		Min: int32(0), Max: int32(600), HotReload: true,
		Binding: &params.MCUBinding{ParamID: 1, Send: reflexSetConfig},
	})
	reg.Declare(params.Spec{
		Key: "reflex.max_w_mrad_s", Type: params.TypeI32, Default: int32(3000),
		Min: int32(0), Max: int32(6000), HotReload: true,
		Binding: &params.MCUBinding{ParamID: 2, Send: reflexSetConfig},
	})
	reg.Declare(params.Spec{
		Key: "safety.range_hardstop_mm", Type: params.TypeI32, Default: int32(250),
		Min: int32(0), Max: int32(2000), HotReload: true,
	})
	reg.Declare(params.Spec{
		Key: "safety.range_scale_mm", Type: params.TypeI32, Default: int32(500),
		Min: int32(0), Max: int32(3000), HotReload: true,
	})
	reg.Declare(params.Spec{
		Key: "wander.enabled", Type: params.TypeBool, Default: true, HotReload: true,
	})
	reg.Declare(params.Spec{
		Key: "wander.profile", Type: params.TypeEnum, Default: "calm",
		EnumValues: []string{"calm", "bold"}, HotReload: true,
	})
	reg.Declare(params.Spec{
		Key: "teleop.stale_ms", Type: params.TypeI32, Default: int32(200),
		Min: int32(50), Max: int32(2000), HotReload: true,
	})
	reg.Declare(params.Spec{
		Key: "power.low_battery_mv", Type: params.TypeI32, Default: int32(6600),
		Min: int32(0), Max: int32(20000), HotReload: true,
	})

	if len(cfg.Params) == 0 {
		return nil
	}
	return reg.Update(cfg.Params)
}
