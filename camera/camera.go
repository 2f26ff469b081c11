package camera

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ardnew/prucam/config"
	"github.com/ardnew/prucam/frame"
	"github.com/ardnew/prucam/gpio"
	"github.com/ardnew/prucam/host"
	"github.com/ardnew/prucam/host/hal"
	"github.com/ardnew/prucam/host/hal/linux"
	"github.com/ardnew/prucam/host/hal/sim"
	"github.com/ardnew/prucam/notify"
	"github.com/ardnew/prucam/pkg"
	"github.com/ardnew/prucam/sensor"
	"github.com/ardnew/prucam/sensor/control"
)

// Camera is an open capture rig.
type Camera struct {
	cfg *config.Config
	sub *host.Subsystem

	bus     sensor.Bus
	closer  io.Closer // register bus device, if opened here
	model   sensor.Model
	surface *control.Surface
	queue   *notify.Queue

	capMu sync.Mutex // serializes Capture over buf
	buf   []byte

	mu   sync.Mutex
	last host.Request
}

// Option overrides a part of the rig chosen from the configuration.
type Option func(*options)

type options struct {
	hal   hal.HostHAL
	chip  gpio.Chip
	bus   sensor.Bus
	pub   notify.Publisher
	sleep sensor.SleepFunc
}

// WithHAL uses h instead of the configured backend.
func WithHAL(h hal.HostHAL) Option {
	return func(o *options) { o.hal = h }
}

// WithGPIOChip drives the power lines through chip.
func WithGPIOChip(chip gpio.Chip) Option {
	return func(o *options) { o.chip = chip }
}

// WithSensorBus talks to the sensor through bus.
func WithSensorBus(bus sensor.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithPublisher publishes capture events to pub instead of dialing the
// configured broker.
func WithPublisher(pub notify.Publisher) Option {
	return func(o *options) { o.pub = pub }
}

// WithSensorSleep replaces the delay between register table steps.
func WithSensorSleep(fn sensor.SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

// Open brings the rig up in order: HAL, power, sensor, cores, settings,
// publisher. On failure everything already up is torn down.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Camera, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Camera{cfg: cfg, buf: make([]byte, cfg.Geometry.FrameSize())}

	h := o.hal
	if h == nil {
		var err error
		if h, err = newHAL(cfg); err != nil {
			return nil, err
		}
	}

	var stages []host.Stage
	if cfg.GPIO.Enabled {
		chip := o.chip
		if chip == nil {
			chip = newChip(cfg)
		}
		stages = append(stages, gpio.NewCamera(chip, gpio.WithSettle(cfg.GPIO.Settle)).Stage())
	}
	if cfg.Sensor.Enabled {
		stages = append(stages, c.sensorStage(o.bus, o.sleep))
	}

	sub, err := host.Open(ctx, h, cfg.HostConfig(), stages...)
	if err != nil {
		return nil, err
	}
	c.sub = sub
	sub.Controller().Observe(c.record)

	if c.bus != nil {
		c.surface = control.New(c.bus, sub.Controller())
		if len(cfg.Sensor.Settings) > 0 {
			if err := c.surface.Apply(cfg.Sensor.Settings); err != nil {
				sub.Close()
				return nil, fmt.Errorf("sensor settings: %w", err)
			}
		}
	}

	pub := o.pub
	if pub == nil && cfg.MQTT.Broker != "" {
		m, err := notify.DialMQTT(ctx, notify.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
			Timeout:  cfg.MQTT.Timeout,
		})
		if err != nil {
			sub.Close()
			return nil, err
		}
		pub = m
	}
	if pub != nil {
		c.queue = notify.NewQueue(pub, notify.DefaultQueue, cfg.MQTT.Timeout)
		sub.Controller().Observe(c.queue.Observer())
	}

	pkg.LogInfo(pkg.ComponentHost, "camera open",
		"backend", cfg.HAL.Backend, "preset", cfg.Preset, "sensor", c.model,
		"gpio", cfg.GPIO.Enabled, "publish", pub != nil)
	return c, nil
}

func newHAL(cfg *config.Config) (hal.HostHAL, error) {
	switch cfg.HAL.Backend {
	case config.BackendSim:
		return sim.New(cfg.SimOptions()...), nil
	case config.BackendLinux:
		return linux.New(cfg.LinuxConfig()), nil
	}
	return nil, fmt.Errorf("%w: hal backend %q", pkg.ErrInvalidParameter, cfg.HAL.Backend)
}

func newChip(cfg *config.Config) gpio.Chip {
	if cfg.HAL.Backend == config.BackendSim {
		return gpio.NewMemory()
	}
	return gpio.NewSysfs(cfg.GPIO.Sysfs)
}

// sensorStage opens the register bus once power is up and plays the
// startup table.
func (c *Camera) sensorStage(bus sensor.Bus, sleep sensor.SleepFunc) host.Stage {
	var popts []sensor.PlayOption
	if sleep != nil {
		popts = append(popts, sensor.WithSleep(sleep))
	}
	return host.Stage{
		Name: "sensor",
		Up: func(ctx context.Context) error {
			if bus == nil {
				var err error
				if bus, err = c.openBus(); err != nil {
					return err
				}
			}
			c.bus = bus
			model, err := c.initSensor(ctx, bus, popts)
			c.model = model
			if err != nil && c.closer != nil {
				c.closer.Close()
				c.closer = nil
			}
			return err
		},
		Down: func() error {
			if c.closer == nil {
				return nil
			}
			err := c.closer.Close()
			c.closer = nil
			return err
		},
	}
}

func (c *Camera) openBus() (sensor.Bus, error) {
	if c.cfg.HAL.Backend == config.BackendSim {
		return sensor.NewRegisterFile(simModel(c.cfg.Preset)), nil
	}
	dev, err := openDev(c.cfg.Sensor.Bus, c.cfg.Sensor.Address)
	if err != nil {
		return nil, err
	}
	c.closer = dev
	return sensor.NewI2C(dev), nil
}

// simModel is the sensor the simulated backend pretends to carry.
func simModel(preset string) sensor.Model {
	if preset == config.PresetCFC {
		return sensor.ModelAR0134
	}
	return sensor.ModelAR0130
}

func (c *Camera) initSensor(ctx context.Context, bus sensor.Bus, popts []sensor.PlayOption) (sensor.Model, error) {
	if c.cfg.Sensor.Table == "" {
		return sensor.Init(ctx, bus, popts...)
	}

	model, err := sensor.Detect(bus)
	if err != nil {
		return model, err
	}
	t, err := sensor.LoadTable(c.cfg.Sensor.Table)
	if err != nil {
		return model, err
	}
	if t.Model != "" && t.Model != model.String() {
		pkg.LogWarn(pkg.ComponentSensor, "register table written for another sensor",
			"table", c.cfg.Sensor.Table, "table_model", t.Model, "detected", model)
	}
	_, err = sensor.Play(ctx, bus, t, popts...)
	return model, err
}

func (c *Camera) record(req host.Request) {
	c.mu.Lock()
	c.last = req
	c.mu.Unlock()
}

// Capture captures one frame. The returned frame owns its data.
func (c *Camera) Capture(ctx context.Context) (*frame.Frame, error) {
	c.capMu.Lock()
	defer c.capMu.Unlock()

	n, err := c.sub.Capture(ctx, c.buf)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	copy(data, c.buf[:n])

	c.mu.Lock()
	req := c.last
	c.mu.Unlock()
	return frame.FromRequest(c.cfg.Geometry, data, req)
}

// Close tears the rig down and then drains the publisher.
func (c *Camera) Close() error {
	err := c.sub.Close()
	if c.queue != nil {
		if qerr := c.queue.Close(); err == nil {
			err = qerr
		}
	}
	return err
}

// Subsystem returns the open subsystem.
func (c *Camera) Subsystem() *host.Subsystem { return c.sub }

// Surface returns the sensor control surface. It fails with
// [pkg.ErrNotSupported] when the sensor is disabled.
func (c *Camera) Surface() (*control.Surface, error) {
	if c.surface == nil {
		return nil, fmt.Errorf("%w: sensor disabled", pkg.ErrNotSupported)
	}
	return c.surface, nil
}

// Model returns the detected sensor, or [sensor.ModelUnknown].
func (c *Camera) Model() sensor.Model { return c.model }

// Stats returns the publisher queue counters; zero when not publishing.
func (c *Camera) Stats() notify.QueueStats {
	if c.queue == nil {
		return notify.QueueStats{}
	}
	return c.queue.Stats()
}
