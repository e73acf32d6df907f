// Package config loads and deep-merges the pipeline's persisted JSON
// configuration").
package config

import (
	"encoding/json"
	"os"

	"github.com/towerwatch/shm/internal/shmerr"
)

// StorageConfig is the `storage` block.
type StorageConfig struct {
	Enabled         bool    `json:"enabled"`
	IntervalSec     float64 `json:"interval_s"`
	DurationSec     float64 `json:"duration_s"`
	OutputDir       string  `json:"output_dir"`
	FilenameFormat  string  `json:"filename_format"`
	RetentionMonths int     `json:"retention_months"`
}

// RS485Config is the `wind.rs485` block.
type RS485Config struct {
	Port          string  `json:"port"`
	Baudrate      int     `json:"baudrate"`
	SlaveID       int     `json:"slave_id"`
	Bytesize      int     `json:"bytesize"`
	Parity        string  `json:"parity"`
	Stopbits      int     `json:"stopbits"`
	TimeoutSec    float64 `json:"timeout_s"`
	StartRegister int     `json:"start_register"`
	RegisterCount int     `json:"register_count"`
}

// WindConfig is the `wind` block.
type WindConfig struct {
	Enabled           bool        `json:"enabled"`
	Mode              string      `json:"mode"` // "sim" | "rs485"
	SampleIntervalSec float64     `json:"sample_interval_s"`
	StatsIntervalSec  float64     `json:"stats_interval_s"`
	SimSeed           int64       `json:"sim_seed"`
	RS485             RS485Config `json:"rs485"`
}

// AlarmConfig is the `alarm` block: a GPIO line pulsed for hold_s
// whenever cumulative damage for any direction bin rises to or above
// threshold.
type AlarmConfig struct {
	Enabled   bool    `json:"enabled"`
	Chip      string  `json:"chip"`
	Line      int     `json:"line"`
	ActiveLow bool    `json:"active_low"`
	Threshold float64 `json:"threshold"`
	HoldSec   float64 `json:"hold_s"`
}

// IoTConfig is the `iot` block.
type IoTConfig struct {
	Type         string `json:"type"` // "log" | "mqtt"
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Topic        string `json:"topic"`
	ControlTopic string `json:"control_topic"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	ClientID     string `json:"client_id"`
	CACert       string `json:"ca_cert"`
	CertFile     string `json:"certfile"`
	KeyFile      string `json:"keyfile"`
}

// ChannelConfig mirrors daq.ChannelConfig's JSON shape; kept separate
// so this package has no dependency on internal/daq.
type ChannelConfig struct {
	ID          int     `json:"id"`
	Enabled     bool    `json:"enabled"`
	Type        string  `json:"type"`
	Unit        string  `json:"unit"`
	Sensitivity float64 `json:"sensitivity"`
	Coupling    string  `json:"coupling"`
	IEPE        bool    `json:"iepe"`
	IEPECurrent float64 `json:"iepe_current"`
	Remark      string  `json:"remark"`
}

// DeviceConfig is one entry of the `devices` map.
type DeviceConfig struct {
	Model       string          `json:"model"`
	DisplayName string          `json:"display_name"`
	Material    string          `json:"material"`
	Channels    []ChannelConfig `json:"channels"`
}

// Config is the full persisted JSON document.
type Config struct {
	SampleRate          float64                 `json:"sample_rate"`
	EffectiveSampleRate float64                 `json:"effective_sample_rate"`
	SamplesPerRead      int                     `json:"samples_per_read"`
	FFTInterval         float64                 `json:"fft_interval"`
	FFTWindowSec        float64                 `json:"fft_window_s"`
	DispMethod          string                  `json:"disp_method"`
	Storage             StorageConfig           `json:"storage"`
	Wind                WindConfig              `json:"wind"`
	IoT                 IoTConfig               `json:"iot"`
	Alarm               AlarmConfig             `json:"alarm"`
	Devices             map[string]DeviceConfig `json:"devices"`
}

// Default returns the built-in default configuration that Load deep-
// merges missing keys from.
func Default() Config {
	return Config{
		SampleRate:          1600,
		EffectiveSampleRate: 1600,
		SamplesPerRead:      100,
		FFTInterval:         1.0,
		FFTWindowSec:        1.0,
		DispMethod:          "fft",
		Storage: StorageConfig{
			Enabled:         false,
			IntervalSec:     600,
			DurationSec:     60,
			OutputDir:       "data/waveforms",
			FilenameFormat:  "{display_name}_%Y%m%d_%H%M%S.tdms",
			RetentionMonths: 3,
		},
		Wind: WindConfig{
			Enabled:           false,
			Mode:              "sim",
			SampleIntervalSec: 1.0,
			StatsIntervalSec:  60.0,
			RS485: RS485Config{
				Baudrate:      9600,
				Bytesize:      8,
				Parity:        "N",
				Stopbits:      1,
				TimeoutSec:    1.0,
				StartRegister: 0,
				RegisterCount: 5,
			},
		},
		IoT: IoTConfig{
			Type:         "log",
			Port:         1883,
			Topic:        "shm",
			ControlTopic: "shm/control/stream",
		},
		Alarm: AlarmConfig{
			Enabled:   false,
			Line:      17,
			Threshold: 1.0,
			HoldSec:   10.0,
		},
		Devices: map[string]DeviceConfig{},
	}
}

// Load reads path, deep-merging onto Default() so any missing key
// falls back to the built-in default, then applies rate
// validation.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyRateValidation()
		return cfg, nil
	}
	if err != nil {
		return Config{}, shmerr.New(shmerr.ConfigInvalid, "config.load", err)
	}

	var overlay map[string]any
	if err := json.Unmarshal(raw, &overlay); err != nil {
		return Config{}, shmerr.New(shmerr.ConfigInvalid, "config.load", err)
	}

	defaults, err := toMap(cfg)
	if err != nil {
		return Config{}, shmerr.New(shmerr.ConfigInvalid, "config.load", err)
	}
	merged := deepMerge(defaults, overlay)

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return Config{}, shmerr.New(shmerr.ConfigInvalid, "config.load", err)
	}
	if err := json.Unmarshal(mergedJSON, &cfg); err != nil {
		return Config{}, shmerr.New(shmerr.ConfigInvalid, "config.load", err)
	}

	cfg.applyRateValidation()
	return cfg, nil
}

// Save writes cfg as indented JSON to path.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return shmerr.New(shmerr.ConfigInvalid, "config.save", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return shmerr.New(shmerr.PersistenceError, "config.save", err)
	}
	return nil
}

// applyRateValidation remaps a requested hardware rate below 1600 (the
// requested value becomes fs_eff, fs_hw becomes 1600); fs_eff is then
// clamped to fs_hw.
func (c *Config) applyRateValidation() {
	if c.SampleRate < 1600 {
		c.EffectiveSampleRate = c.SampleRate
		c.SampleRate = 1600
	}
	if c.EffectiveSampleRate > c.SampleRate {
		c.EffectiveSampleRate = c.SampleRate
	}
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMerge overlays overlay onto base, recursing into nested objects
// and otherwise letting overlay win.
func deepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range overlay {
		if bv, ok := out[k]; ok {
			if bm, ok := bv.(map[string]any); ok {
				if om, ok := ov.(map[string]any); ok {
					out[k] = deepMerge(bm, om)
					continue
				}
			}
		}
		out[k] = ov
	}
	return out
}
