// Package config loads the camera configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/prucam/host"
	"github.com/ardnew/prucam/host/hal/linux"
	"github.com/ardnew/prucam/host/hal/sim"
	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/pru"
)

// Geometry presets.
const (
	PresetAR0130 = "ar0130"
	PresetCFC    = "cfc"
)

// HAL backends.
const (
	BackendSim   = "sim"
	BackendLinux = "linux"
)

// Config is the complete camera configuration.
type Config struct {
	Preset   string        `yaml:"preset"`
	Geometry pru.Geometry  `yaml:"geometry"`
	Capture  CaptureConfig `yaml:"capture"`
	Ring     RingConfig    `yaml:"ring"`
	HAL      HALConfig     `yaml:"hal"`
	Sensor   SensorConfig  `yaml:"sensor"`
	GPIO     GPIOConfig    `yaml:"gpio"`
	Output   OutputConfig  `yaml:"output"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	Log      LogConfig     `yaml:"log"`
}

// CaptureConfig holds the host handshake parameters.
type CaptureConfig struct {
	Timeout        time.Duration   `yaml:"timeout"`
	QuiesceTimeout time.Duration   `yaml:"quiesce_timeout"`
	AddressMode    pru.AddressMode `yaml:"address_mode"`
	Abort          *bool           `yaml:"abort"` // nil means true
}

// RingConfig sizes the chunk ring between the cores.
type RingConfig struct {
	Slots  int               `yaml:"slots"`
	Policy pru.OverrunPolicy `yaml:"policy"`
}

// UIONone disables an event device or firmware selection.
const UIONone = "none"

// HALConfig selects and places the host HAL.
type HALConfig struct {
	Backend      string `yaml:"backend"`
	CarveoutBase uint32 `yaml:"carveout_base"`
	CarveoutSize int    `yaml:"carveout_size"`

	// UIO is the PRU-ICSS event device on the linux backend. UIONone
	// polls the interrupt controller instead.
	UIO string `yaml:"uio"`

	// Remoteproc names the sysfs remoteproc directories of the capture and
	// transfer cores on the linux backend.
	Remoteproc [2]string `yaml:"remoteproc"`

	// Firmware names the images remoteproc loads, or UIONone to keep the
	// ones already selected.
	Firmware [2]string `yaml:"firmware"`

	// Simulation only.
	WarmupCycles int `yaml:"warmup_cycles"`
	VBlank       int `yaml:"vblank"`
	HBlank       int `yaml:"hblank"`
}

// SensorConfig describes the register bus and bring-up.
type SensorConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Bus      int            `yaml:"bus"`
	Address  uint16         `yaml:"address"`
	Table    string         `yaml:"table"`
	Settings map[string]int `yaml:"settings"`
}

// GPIOConfig describes the camera power lines.
type GPIOConfig struct {
	Enabled bool          `yaml:"enabled"`
	Sysfs   string        `yaml:"sysfs"`
	Settle  time.Duration `yaml:"settle"`
}

// OutputConfig controls what the acceptance client writes.
type OutputConfig struct {
	Dir      string   `yaml:"dir"`
	Raw      string   `yaml:"raw"`
	Formats  []string `yaml:"formats"`
	Preview  int      `yaml:"preview"`
	Metadata bool     `yaml:"metadata"`
}

// MQTTConfig holds capture-event publishing settings. An empty broker
// disables publishing.
type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Preset returns the geometry of a named preset.
func Preset(name string) (pru.Geometry, error) {
	switch name {
	case PresetAR0130:
		return pru.GeometryAR0130, nil
	case PresetCFC:
		return pru.GeometryCFC, nil
	}
	return pru.Geometry{}, fmt.Errorf("%w: preset %q", pkg.ErrInvalidParameter, name)
}

// Default returns the configuration of a simulated AR0130.
func Default() *Config {
	cfg := &Config{Preset: PresetAR0130}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Validate fills defaults and rejects invalid values. Geometry fields left
// zero are taken from the preset.
func (c *Config) Validate() error {
	if c.Preset == "" {
		c.Preset = PresetAR0130
	}
	p, err := Preset(c.Preset)
	if err != nil {
		return err
	}
	if c.Geometry.Rows == 0 {
		c.Geometry.Rows = p.Rows
	}
	if c.Geometry.Cols == 0 {
		c.Geometry.Cols = p.Cols
	}
	if c.Geometry.BytesPerPixel == 0 {
		c.Geometry.BytesPerPixel = p.BytesPerPixel
	}
	if c.Geometry.ChunkSize == 0 {
		c.Geometry.ChunkSize = p.ChunkSize
	}
	if err := c.Geometry.Validate(); err != nil {
		return err
	}

	if c.Capture.Timeout < 0 || c.Capture.QuiesceTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", pkg.ErrInvalidParameter)
	}
	if c.Capture.Timeout == 0 {
		c.Capture.Timeout = host.DefaultTimeout
	}

	if c.Ring.Slots == 0 {
		c.Ring.Slots = 2
	}
	if c.Ring.Slots < 1 || c.Ring.Slots > pru.MaxSlots {
		return fmt.Errorf("%w: ring slots %d outside 1..%d", pkg.ErrInvalidParameter, c.Ring.Slots, pru.MaxSlots)
	}

	switch c.HAL.Backend {
	case "":
		c.HAL.Backend = BackendSim
	case BackendSim, BackendLinux:
	default:
		return fmt.Errorf("%w: hal backend %q", pkg.ErrInvalidParameter, c.HAL.Backend)
	}
	if c.HAL.CarveoutBase == 0 {
		c.HAL.CarveoutBase = sim.DefaultCarveoutBase
	}
	if c.HAL.CarveoutSize == 0 {
		c.HAL.CarveoutSize = sim.DefaultCarveoutSize
	}
	if c.HAL.CarveoutSize < c.Geometry.FrameSize() {
		return fmt.Errorf("%w: carveout %d bytes smaller than frame %d", pkg.ErrInvalidParameter,
			c.HAL.CarveoutSize, c.Geometry.FrameSize())
	}
	if c.HAL.UIO == "" {
		c.HAL.UIO = linux.DefaultUIO
	}
	if c.HAL.Remoteproc == [2]string{} {
		c.HAL.Remoteproc = [2]string{linux.DefaultCaptureRemoteproc, linux.DefaultTransferRemoteproc}
	}
	if c.HAL.Firmware == [2]string{} {
		c.HAL.Firmware = [2]string{linux.DefaultCaptureFirmware, linux.DefaultTransferFirmware}
	}

	if c.Sensor.Address == 0 {
		c.Sensor.Address = 0x10
	}
	if c.Sensor.Bus == 0 {
		c.Sensor.Bus = 2
	}
	if c.GPIO.Settle == 0 {
		c.GPIO.Settle = 10 * time.Millisecond
	}

	if c.Output.Raw == "" {
		c.Output.Raw = "img.buf"
	}
	for _, f := range c.Output.Formats {
		switch f {
		case "png", "tiff", "webp", "tga":
		default:
			return fmt.Errorf("%w: output format %q", pkg.ErrInvalidParameter, f)
		}
	}

	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "prucam/capture"
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos %d", pkg.ErrInvalidParameter, c.MQTT.QoS)
	}
	if c.MQTT.Timeout == 0 {
		c.MQTT.Timeout = 5 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if _, ok := pkg.ParseLogLevel(c.Log.Level); !ok {
		return fmt.Errorf("%w: log level %q", pkg.ErrInvalidParameter, c.Log.Level)
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", pkg.ErrInvalidParameter, c.Log.Format)
	}
	return nil
}

// AbortOnTimeout reports whether a timed-out capture raises abort.
func (c *Config) AbortOnTimeout() bool {
	return c.Capture.Abort == nil || *c.Capture.Abort
}

// HostConfig returns the subsystem parameters.
func (c *Config) HostConfig() host.Config {
	return host.Config{
		Geometry:       c.Geometry,
		Timeout:        c.Capture.Timeout,
		QuiesceTimeout: c.Capture.QuiesceTimeout,
		AddressMode:    c.Capture.AddressMode,
		DisableAbort:   !c.AbortOnTimeout(),
	}
}

// LinuxConfig returns the linux backend configuration.
func (c *Config) LinuxConfig() linux.Config {
	cfg := linux.DefaultConfig()
	cfg.CarveoutBase = c.HAL.CarveoutBase
	cfg.CarveoutSize = c.HAL.CarveoutSize
	cfg.UIO = none(c.HAL.UIO)
	cfg.Remoteproc = c.HAL.Remoteproc
	cfg.Firmware = [2]string{none(c.HAL.Firmware[0]), none(c.HAL.Firmware[1])}
	return cfg
}

func none(s string) string {
	if s == UIONone {
		return ""
	}
	return s
}

// SimOptions returns the simulated HAL options matching the configuration.
func (c *Config) SimOptions() []sim.Option {
	var sopts []pru.SimOption
	if c.HAL.VBlank > 0 || c.HAL.HBlank > 0 {
		sopts = append(sopts, pru.WithBlanking(c.HAL.VBlank, c.HAL.HBlank))
	}
	sensor := pru.NewSimSensor(c.Geometry, sopts...)
	return []sim.Option{
		sim.WithGeometry(c.Geometry),
		sim.WithChunkRing(c.Ring.Slots, c.Ring.Policy),
		sim.WithCarveout(c.HAL.CarveoutBase, c.HAL.CarveoutSize),
		sim.WithBus(sensor),
		sim.WithCoreOptions(
			pru.WithWarmup(c.HAL.WarmupCycles),
			pru.WithAddressMode(c.Capture.AddressMode),
		),
	}
}
