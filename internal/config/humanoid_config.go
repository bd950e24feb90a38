// File: internal/config/humanoid_config.go
// This file defines the HumanoidConfig struct, which contains the tunable
// parameters for the humanoid interaction simulation. These settings control
// the models that generate realistic user behavior, including mouse movement,
// cognitive delays, and typing patterns.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// HumanoidConfig tunes the simulated-human input layer. Rates are
// probabilities in [0, 1]; durations are base values that get randomized per
// action.
type HumanoidConfig struct {
	// Seed makes all randomized behavior reproducible when non-zero.
	Seed int64 `mapstructure:"seed" yaml:"seed"`

	// Mouse movement.
	MoveSteps    int     `mapstructure:"move_steps" yaml:"move_steps"`
	MoveOvershot float64 `mapstructure:"move_overshoot" yaml:"move_overshoot"`

	// Delays between actions.
	PauseMin       time.Duration `mapstructure:"pause_min" yaml:"pause_min"`
	PauseMax       time.Duration `mapstructure:"pause_max" yaml:"pause_max"`
	HesitationRate float64       `mapstructure:"hesitation_rate" yaml:"hesitation_rate"`

	// Typing cadence.
	KeyDelayBase   time.Duration `mapstructure:"key_delay_base" yaml:"key_delay_base"`
	KeyDelayJitter time.Duration `mapstructure:"key_delay_jitter" yaml:"key_delay_jitter"`
	TypoRate       float64       `mapstructure:"typo_rate" yaml:"typo_rate"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.seed", 0)
	v.SetDefault("browser.humanoid.move_steps", 24)
	v.SetDefault("browser.humanoid.move_overshoot", 0.12)
	v.SetDefault("browser.humanoid.pause_min", "350ms")
	v.SetDefault("browser.humanoid.pause_max", "1200ms")
	v.SetDefault("browser.humanoid.hesitation_rate", 0.15)
	v.SetDefault("browser.humanoid.key_delay_base", "90ms")
	v.SetDefault("browser.humanoid.key_delay_jitter", "70ms")
	v.SetDefault("browser.humanoid.typo_rate", 0.02)
}

// Validate checks the humanoid settings for sane values.
func (h *HumanoidConfig) Validate() error {
	if h.MoveSteps <= 0 {
		return fmt.Errorf("move_steps must be a positive integer")
	}
	if h.PauseMin < 0 || h.PauseMax < h.PauseMin {
		return fmt.Errorf("pause_min/pause_max must satisfy 0 <= min <= max")
	}
	if h.TypoRate < 0.0 || h.TypoRate > 1.0 {
		return fmt.Errorf("typo_rate must be between 0.0 and 1.0")
	}
	if h.HesitationRate < 0.0 || h.HesitationRate > 1.0 {
		return fmt.Errorf("hesitation_rate must be between 0.0 and 1.0")
	}
	return nil
}
