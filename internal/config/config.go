// Package config loads bridge settings from ~/.kickrbridge/config.yaml,
// overridden by command-line flags, the way the teacher's go.mod anticipates
// for its own settings (viper + pflag) even though the teacher itself reads
// everything from its curses UI instead of a config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of bridge settings, read once at startup.
type Config struct {
	Port            int
	Serial          string
	MAC             string
	GearCount       int
	GearRatios      []int
	MaxClients      int
	KeepAlive       time.Duration
	Debounce        time.Duration
	LogFile         string
	LogMaxSizeMB    int
	LogMaxBackups   int
	DeviceName      string
	Manufacturer    string
	ModelNumber     string
	HardwareVersion string
	FirmwareVersion string
}

func defaults() Config {
	return Config{
		Port:            36867,
		Serial:          "KB0000001",
		MAC:             "00-00-00-00-00-00",
		GearCount:       24,
		MaxClients:      1,
		KeepAlive:       5 * time.Second,
		Debounce:        100 * time.Millisecond,
		LogFile:         defaultLogPath(),
		LogMaxSizeMB:    10,
		LogMaxBackups:   3,
		DeviceName:      "KICKR BIKE PRO",
		Manufacturer:    "Wahoo Fitness",
		ModelNumber:     "KICKR BIKE PRO",
		HardwareVersion: "1.0",
		FirmwareVersion: "1.0.0",
	}
}

// ConfigDir is the directory holding kickrbridge's persisted state and
// configuration, mirroring the teacher's ~/.smart-trainer convention
// (internal/trainer/ui_model_persistence.go).
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".kickrbridge")
}

func defaultLogPath() string {
	return filepath.Join(ConfigDir(), "kickrbridge.log")
}

// Load reads defaults, then ~/.kickrbridge/config.yaml if present, then
// flags parsed from args (excluding argv[0]). Flags always win over the
// config file; the config file always wins over the built-in defaults.
func Load(args []string) (Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return cfg, fmt.Errorf("config: reading config.yaml: %w", err)
		}
	}

	flags := pflag.NewFlagSet("kickrbridge", pflag.ContinueOnError)
	port := flags.Int("port", v.GetInt("port"), "TCP port for the TNP server")
	serial := flags.String("serial", v.GetString("serial"), "device serial number")
	mac := flags.String("mac", v.GetString("mac"), "device MAC address")
	gearCount := flags.Int("gear-count", v.GetInt("gear-count"), "number of virtual gears")
	maxClients := flags.Int("max-clients", v.GetInt("max-clients"), "maximum concurrent TCP sessions")
	logFile := flags.String("log-file", v.GetString("log-file"), "log file path")
	deviceName := flags.String("device-name", v.GetString("device-name"), "advertised device name prefix")

	if err := flags.Parse(args); err != nil {
		return cfg, fmt.Errorf("config: parsing flags: %w", err)
	}

	cfg.Port = *port
	cfg.Serial = *serial
	cfg.MAC = *mac
	cfg.GearCount = *gearCount
	cfg.MaxClients = *maxClients
	cfg.LogFile = *logFile
	cfg.DeviceName = *deviceName

	if v.IsSet("keep-alive-ms") {
		cfg.KeepAlive = time.Duration(v.GetInt("keep-alive-ms")) * time.Millisecond
	}
	if v.IsSet("debounce-ms") {
		cfg.Debounce = time.Duration(v.GetInt("debounce-ms")) * time.Millisecond
	}
	if ratios := v.GetIntSlice("gear-ratios"); len(ratios) > 0 {
		cfg.GearRatios = ratios
	}

	return cfg, nil
}

func bindDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("port", cfg.Port)
	v.SetDefault("serial", cfg.Serial)
	v.SetDefault("mac", cfg.MAC)
	v.SetDefault("gear-count", cfg.GearCount)
	v.SetDefault("max-clients", cfg.MaxClients)
	v.SetDefault("log-file", cfg.LogFile)
	v.SetDefault("device-name", cfg.DeviceName)
	v.SetDefault("keep-alive-ms", int(cfg.KeepAlive/time.Millisecond))
	v.SetDefault("debounce-ms", int(cfg.Debounce/time.Millisecond))
}
