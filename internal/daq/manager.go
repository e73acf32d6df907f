package daq

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/towerwatch/shm/internal/config"
	"github.com/towerwatch/shm/internal/iot"
	"github.com/towerwatch/shm/internal/storage"
	"github.com/towerwatch/shm/internal/wind"
)

// SourceFactory builds the SampleSource for a configured device; the
// caller picks between a real SampleSource (portaudio) and a
// SimSource depending on deployment.
type SourceFactory func(deviceName string, deviceCfg config.DeviceConfig) SampleSource

// Manager owns every configured DeviceRuntime, the single storage
// service, the single wind service, the shared IoT publisher, and the
// optional GPIO alarm, applying a loaded Config.
type Manager struct {
	cfg    config.Config
	log    *log.Logger
	source SourceFactory

	devices   map[string]*DeviceRuntime
	order     []string
	materials []Material

	storage *storage.Service
	wind    *wind.Service
	pub     iot.Publisher
	gate    *iot.StreamGate
	alarm   *Alarm
}

// NewManager constructs and wires every collaborator from cfg but does
// not start anything; call Start to begin device acquisition, the
// storage timer, and the wind poller.
func NewManager(cfg config.Config, source SourceFactory, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Default()
	}

	logDeviceCheck(cfg, logger)

	m := &Manager{
		cfg:       cfg,
		log:       logger,
		source:    source,
		devices:   make(map[string]*DeviceRuntime),
		materials: LoadMaterials(),
	}

	pub, gate, err := buildPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}
	m.pub = pub
	m.gate = gate

	alarm, err := NewAlarm(AlarmConfig{
		Enabled:   cfg.Alarm.Enabled,
		Chip:      cfg.Alarm.Chip,
		Line:      cfg.Alarm.Line,
		ActiveLow: cfg.Alarm.ActiveLow,
		Threshold: cfg.Alarm.Threshold,
		HoldSec:   cfg.Alarm.HoldSec,
	}, logger)
	if err != nil {
		return nil, err
	}
	m.alarm = alarm

	if err := m.buildDevices(); err != nil {
		return nil, err
	}

	if cfg.Storage.Enabled {
		m.storage = buildStorageService(cfg, m.deviceSnapshotSources(), logger)
	}

	if cfg.Wind.Enabled {
		svc, err := buildWindService(cfg.Wind, pub, logger)
		if err != nil {
			return nil, err
		}
		m.wind = svc
	}

	return m, nil
}

// logDeviceCheck logs the configured device roster at startup.
func logDeviceCheck(cfg config.Config, logger *log.Logger) {
	logger.Info("device check start", "configured_devices", len(cfg.Devices))
	for name, dev := range cfg.Devices {
		logger.Info("config device", "name", name, "model", dev.Model, "channels", len(dev.Channels))
	}
}

func (m *Manager) buildDevices() error {
	for name, devCfg := range m.cfg.Devices {
		channels := make([]ChannelConfig, len(devCfg.Channels))
		for i, c := range devCfg.Channels {
			channels[i] = ChannelConfig{
				ID:          c.ID,
				Enabled:     c.Enabled,
				Kind:        ChannelKind(c.Type),
				Unit:        c.Unit,
				Sensitivity: c.Sensitivity,
				Coupling:    c.Coupling,
				IEPE:        c.IEPE,
				IEPECurrent: c.IEPECurrent,
				Remark:      c.Remark,
			}
			if err := channels[i].Validate(); err != nil {
				return fmt.Errorf("device %s channel %d: %w", name, c.ID, err)
			}
		}

		displayName := devCfg.DisplayName
		if displayName == "" {
			displayName = name
		}

		dataDir := m.cfg.Storage.OutputDir
		if dataDir == "" {
			dataDir = "data"
		}
		damage, err := NewDamageLogger(name, dataDir, DefaultBinStepDeg, m.log)
		if err != nil {
			return err
		}
		csvLog, err := NewCSVLog(name, dataDir)
		if err != nil {
			return err
		}

		disp := parseDispMethod(m.cfg.DispMethod)
		dirParams := DefaultDirectionalParams()
		dirParams.ElasticModulus = ElasticModulusFor(m.materials, devCfg.Material)
		worker := NewAnalysisWorker(
			name, displayName,
			m.cfg.EffectiveSampleRate,
			DefaultLogIntervalSec,
			disp,
			channels,
			damage, csvLog, m.pub,
			dirParams,
			m.log,
		)
		worker.SetAlarm(m.alarm)

		rtCfg := DeviceConfig{
			Name:           name,
			DisplayName:    displayName,
			Model:          devCfg.Model,
			Channels:       channels,
			SampleRate:     m.cfg.SampleRate,
			EffectiveRate:  m.cfg.EffectiveSampleRate,
			SamplesPerRead: m.cfg.SamplesPerRead,
			LogIntervalSec: DefaultLogIntervalSec,
			DispMethod:     disp,
		}

		source := m.source(name, devCfg)
		rt := NewDeviceRuntime(rtCfg, source, worker, m.log)
		m.devices[name] = rt
		m.order = append(m.order, name)
	}
	return nil
}

func (m *Manager) deviceSnapshotSources() []storage.SnapshotSource {
	out := make([]storage.SnapshotSource, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.devices[name])
	}
	return out
}

// Start launches every device, the storage service, and the wind
// service.
func (m *Manager) Start() error {
	for _, name := range m.order {
		if err := m.devices[name].Start(); err != nil {
			return fmt.Errorf("start device %s: %w", name, err)
		}
	}
	if m.storage != nil {
		m.storage.Start()
	}
	if m.wind != nil {
		m.wind.Start()
	}
	return nil
}

// Stop halts the wind service, the storage service, and every device,
// then closes the publisher and alarm, in that order.
func (m *Manager) Stop(joinTimeout time.Duration) {
	if m.wind != nil {
		m.wind.Stop(joinTimeout)
	}
	if m.storage != nil {
		m.storage.Stop(joinTimeout)
	}
	for _, name := range m.order {
		m.devices[name].Stop(joinTimeout)
	}
	if m.pub != nil {
		if err := m.pub.Close(); err != nil {
			m.log.Error("publisher close failed", "err", err)
		}
	}
	if m.alarm != nil {
		if err := m.alarm.Close(); err != nil {
			m.log.Error("alarm close failed", "err", err)
		}
	}
}

// Device returns the named device's runtime, for status/dashboard
// facades built on top of Manager.
func (m *Manager) Device(name string) (*DeviceRuntime, bool) {
	rt, ok := m.devices[name]
	return rt, ok
}

// DeviceNames returns configured device names in stable (insertion)
// order.
func (m *Manager) DeviceNames() []string {
	return append([]string(nil), m.order...)
}

func parseDispMethod(s string) DispMethod {
	if s == "time" {
		return DispTime
	}
	return DispFFT
}

func buildPublisher(cfg config.Config, logger *log.Logger) (iot.Publisher, *iot.StreamGate, error) {
	gate := iot.NewStreamGate(allowListFromDevices(cfg.Devices))

	dir := cfg.Storage.OutputDir
	if dir == "" {
		dir = "data"
	}

	if cfg.IoT.Type == "mqtt" {
		inner, err := iot.NewMQTTPublisher(iot.MQTTConfig{
			Host:         cfg.IoT.Host,
			Port:         cfg.IoT.Port,
			ClientID:     cfg.IoT.ClientID,
			Username:     cfg.IoT.Username,
			Password:     cfg.IoT.Password,
			CACert:       cfg.IoT.CACert,
			CertFile:     cfg.IoT.CertFile,
			KeyFile:      cfg.IoT.KeyFile,
			ControlTopic: cfg.IoT.ControlTopic,
		}, gate)
		if err != nil {
			return nil, nil, err
		}
		// MQTT outages are common in the field; keep a local JSONL
		// error log so swallowed publish failures stay inspectable.
		errSink, err := iot.NewJSONLSink(dir)
		if err != nil {
			return nil, nil, err
		}
		return iot.NewFaultTolerant(inner, errSink, logger), gate, nil
	}

	inner, err := iot.NewJSONLSink(dir)
	if err != nil {
		return nil, nil, err
	}
	return iot.NewFaultTolerant(inner, nil, logger), gate, nil
}

func allowListFromDevices(devices map[string]config.DeviceConfig) []string {
	var names []string
	for _, d := range devices {
		if d.DisplayName != "" {
			names = append(names, d.DisplayName)
		}
	}
	return names
}

func buildStorageService(cfg config.Config, sources []storage.SnapshotSource, logger *log.Logger) *storage.Service {
	return storage.NewService(storage.ServiceConfig{
		IntervalSec:     cfg.Storage.IntervalSec,
		DurationSec:     cfg.Storage.DurationSec,
		OutputDir:       cfg.Storage.OutputDir,
		FilenameFormat:  cfg.Storage.FilenameFormat,
		RetentionMonths: cfg.Storage.RetentionMonths,
		SampleRate:      cfg.SampleRate,
		EffectiveRate:   cfg.EffectiveSampleRate,
	}, sources, logger)
}

func buildWindService(cfg config.WindConfig, pub iot.Publisher, logger *log.Logger) (*wind.Service, error) {
	var sensor wind.Sensor
	if cfg.Mode == "rs485" {
		port := cfg.RS485.Port
		if port == "" {
			discovered, err := wind.DiscoverPort()
			if err == nil {
				port = discovered
			}
		}
		sensor = wind.NewRS485Sensor(wind.RS485Config{
			Port:          port,
			Baudrate:      cfg.RS485.Baudrate,
			SlaveID:       byte(cfg.RS485.SlaveID),
			TimeoutSec:    cfg.RS485.TimeoutSec,
			StartRegister: uint16(cfg.RS485.StartRegister),
			RegisterCount: uint16(cfg.RS485.RegisterCount),
		})
	} else {
		sensor = wind.NewSimSensor(cfg.SimSeed)
	}

	return wind.NewService(sensor, cfg.SampleIntervalSec, cfg.StatsIntervalSec, pub, "wind/stats", logger), nil
}
