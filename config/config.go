package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/c360/bridgeharness/errors"
)

// Environment variables read by Load.
const (
	EnvBrokerImage     = "BROKER_IMAGE"
	EnvMockTargetImage = "MOCK_TARGET_IMAGE"
	EnvBridgeImage     = "BRIDGE_IMAGE"
	EnvStartupTimeout  = "STARTUP_TIMEOUT"
	EnvVerbose         = "VERBOSE"
	EnvLogDir          = "LOG_DIR"
	EnvPartitions      = "TOPIC_PARTITIONS"
)

// Harness holds the settings shared by every topology a process starts.
// Empty image fields leave each component's default image in place.
type Harness struct {
	BrokerImage     string        `json:"broker_image,omitempty"`
	MockTargetImage string        `json:"mock_target_image,omitempty"`
	BridgeImage     string        `json:"bridge_image,omitempty"`
	StartupTimeout  time.Duration `json:"startup_timeout"`
	Verbose         bool          `json:"verbose"`
	LogDir          string        `json:"log_dir,omitempty"`
	Partitions      int           `json:"partitions"`
}

// Defaults returns the harness settings used when nothing is overridden.
func Defaults() Harness {
	return Harness{
		StartupTimeout: 5 * time.Minute,
		Partitions:     1,
	}
}

// Load reads harness settings from the environment over Defaults.
func Load() (Harness, error) {
	h := Defaults()
	h.applyEnvOverrides()
	if err := h.Validate(); err != nil {
		return Harness{}, err
	}
	return h, nil
}

func (h *Harness) applyEnvOverrides() {
	h.BrokerImage = getEnv(EnvBrokerImage, h.BrokerImage)
	h.MockTargetImage = getEnv(EnvMockTargetImage, h.MockTargetImage)
	h.BridgeImage = getEnv(EnvBridgeImage, h.BridgeImage)
	h.StartupTimeout = getEnvDuration(EnvStartupTimeout, h.StartupTimeout)
	h.Verbose = getEnvBool(EnvVerbose, h.Verbose)
	h.LogDir = getEnv(EnvLogDir, h.LogDir)
	h.Partitions = getEnvInt(EnvPartitions, h.Partitions)
}

// Validate checks the settings and normalises LogDir to an absolute path.
func (h *Harness) Validate() error {
	if h.StartupTimeout <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: startup timeout must be positive", errors.ErrInvalidConfig),
			"Harness", "Validate", "check startup timeout")
	}
	if h.Partitions < 1 {
		return errors.WrapInvalid(fmt.Errorf("%w: partitions must be at least 1", errors.ErrInvalidConfig),
			"Harness", "Validate", "check partitions")
	}
	for name, value := range map[string]string{
		EnvBrokerImage:     h.BrokerImage,
		EnvMockTargetImage: h.MockTargetImage,
		EnvBridgeImage:     h.BridgeImage,
		EnvLogDir:          h.LogDir,
	} {
		if err := validateEnvVar(name, value); err != nil {
			return errors.WrapInvalid(err, "Harness", "Validate", "check "+name)
		}
	}
	if h.LogDir != "" {
		abs, err := filepath.Abs(h.LogDir)
		if err != nil {
			return errors.WrapInvalid(err, "Harness", "Validate", "resolve log dir")
		}
		h.LogDir = abs
	}
	return nil
}

// EnsureLogDir creates LogDir when set.
func (h Harness) EnsureLogDir() error {
	if h.LogDir == "" {
		return nil
	}
	if err := os.MkdirAll(h.LogDir, 0o755); err != nil {
		return errors.WrapFatal(err, "Harness", "EnsureLogDir", "create "+h.LogDir)
	}
	return nil
}

// String returns a JSON representation of the settings
func (h Harness) String() string {
	data, _ := json.MarshalIndent(h, "", "  ")
	return string(data)
}
