package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`

	DisconnectGraceSeconds int `yaml:"disconnect_grace_seconds"`
	CheckpointEveryActions int `yaml:"checkpoint_every_actions"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

// RateLimits are sliding-window caps per (participant, category).
type RateLimits struct {
	ActionWindowSeconds     int `yaml:"action_window_seconds"`
	ActionMax               int `yaml:"action_max"`
	ChatWindowSeconds       int `yaml:"chat_window_seconds"`
	ChatMax                 int `yaml:"chat_max"`
	PrivilegedWindowSeconds int `yaml:"privileged_window_seconds"`
	PrivilegedMax           int `yaml:"privileged_max"`
}

func Defaults() Tuning {
	return Tuning{
		ListenAddr:             ":8080",
		DataDir:                "./data",
		DisconnectGraceSeconds: 30,
		CheckpointEveryActions: 20,
		RateLimits: RateLimits{
			ActionWindowSeconds:     60,
			ActionMax:               30,
			ChatWindowSeconds:       60,
			ChatMax:                 20,
			PrivilegedWindowSeconds: 60,
			PrivilegedMax:           10,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
