package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

const (
	configName    = "classmon" // .yaml is implicit
	configEnvPath = "CLASSMON_CONFIG_PATH"
	envPrefix     = "CLASSMON"
)

// Config is the daemon and CLI configuration after defaults, the config
// file and CLASSMON_* environment overrides are applied.
type Config struct {
	DataDir        string
	LogPath        string
	EventSource    string
	ServerURL      string
	SelfPackage    string
	TablePath      string
	OverlayCommand string
	ProbeCommands  map[domain.Capability]string
	ProbeTimeout   time.Duration

	PermissionPoll    time.Duration
	Heartbeat         time.Duration
	AlertHeartbeat    time.Duration
	RegistryHeartbeat time.Duration
	GuardianCheck     time.Duration
	AutostartCheck    time.Duration

	StartupGrace  time.Duration
	SettingsGrace time.Duration
	PostSelfGrace time.Duration
	BlockCooldown time.Duration

	PenaltyStep   time.Duration
	PenaltyCap    time.Duration
	PenaltyWindow time.Duration

	// ConfigFile is the file that was read, empty when none was found.
	ConfigFile string
}

func setDefaults(v *viper.Viper, mode *ExecModeConfig) {
	v.SetDefault("data_dir", mode.DataDir)
	v.SetDefault("log_path", mode.LogPath)
	v.SetDefault("event_source", "")
	v.SetDefault("server_url", "")
	v.SetDefault("self_package", "com.classmon.agent")
	v.SetDefault("table_path", "")
	v.SetDefault("overlay_command", "")
	v.SetDefault("probe_timeout", defaultProbeTimeout)
	for _, c := range domain.AllCapabilities {
		v.SetDefault("probes."+string(c), "")
	}

	v.SetDefault("intervals.permission_poll", 3*time.Second)
	v.SetDefault("intervals.heartbeat", 30*time.Second)
	v.SetDefault("intervals.alert_heartbeat", 10*time.Second)
	v.SetDefault("intervals.registry_heartbeat", 30*time.Second)
	v.SetDefault("intervals.guardian_check", 30*time.Second)
	v.SetDefault("intervals.autostart_check", 60*time.Second)

	v.SetDefault("grace.startup", 5*time.Second)
	v.SetDefault("grace.settings", 10*time.Second)
	v.SetDefault("grace.post_self", 2*time.Second)
	v.SetDefault("grace.block_cooldown", 500*time.Millisecond)

	v.SetDefault("penalty.step", 20*time.Second)
	v.SetDefault("penalty.cap", 300*time.Second)
	v.SetDefault("penalty.window", 30*time.Minute)
}

// LoadConfig reads classmon.yaml from CLASSMON_CONFIG_PATH, the data
// directory or the working directory. A missing file is not an error.
func LoadConfig(mode *ExecModeConfig) (*Config, error) {
	v := viper.New()
	setDefaults(v, mode)

	v.SetConfigName(configName)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if override := os.Getenv(configEnvPath); override != "" {
		v.AddConfigPath(override)
	}
	v.AddConfigPath(mode.DataDir)
	v.AddConfigPath("./")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		DataDir:        expandHome(v.GetString("data_dir")),
		LogPath:        expandHome(v.GetString("log_path")),
		EventSource:    v.GetString("event_source"),
		ServerURL:      v.GetString("server_url"),
		SelfPackage:    v.GetString("self_package"),
		TablePath:      expandHome(v.GetString("table_path")),
		OverlayCommand: v.GetString("overlay_command"),
		ProbeCommands:  make(map[domain.Capability]string),
		ProbeTimeout:   v.GetDuration("probe_timeout"),

		PermissionPoll:    v.GetDuration("intervals.permission_poll"),
		Heartbeat:         v.GetDuration("intervals.heartbeat"),
		AlertHeartbeat:    v.GetDuration("intervals.alert_heartbeat"),
		RegistryHeartbeat: v.GetDuration("intervals.registry_heartbeat"),
		GuardianCheck:     v.GetDuration("intervals.guardian_check"),
		AutostartCheck:    v.GetDuration("intervals.autostart_check"),

		StartupGrace:  v.GetDuration("grace.startup"),
		SettingsGrace: v.GetDuration("grace.settings"),
		PostSelfGrace: v.GetDuration("grace.post_self"),
		BlockCooldown: v.GetDuration("grace.block_cooldown"),

		PenaltyStep:   v.GetDuration("penalty.step"),
		PenaltyCap:    v.GetDuration("penalty.cap"),
		PenaltyWindow: v.GetDuration("penalty.window"),

		ConfigFile: v.ConfigFileUsed(),
	}
	for _, c := range domain.AllCapabilities {
		if cmd := v.GetString("probes." + string(c)); cmd != "" {
			cfg.ProbeCommands[c] = cmd
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	positive := map[string]time.Duration{
		"intervals.permission_poll":    c.PermissionPoll,
		"intervals.heartbeat":          c.Heartbeat,
		"intervals.alert_heartbeat":    c.AlertHeartbeat,
		"intervals.registry_heartbeat": c.RegistryHeartbeat,
		"intervals.guardian_check":     c.GuardianCheck,
		"intervals.autostart_check":    c.AutostartCheck,
		"penalty.step":                 c.PenaltyStep,
		"penalty.cap":                  c.PenaltyCap,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("config %s must be positive, got %s", name, d)
		}
	}
	if c.SelfPackage == "" {
		return fmt.Errorf("config self_package must not be empty")
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	return GetRealUserHome() + path[1:]
}
