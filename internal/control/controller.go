package control

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/greenroomlabs/envirodash/internal/protocol"
)

var (
	// ErrInvalidThreshold is returned when a threshold update names a
	// sensor or bound that does not exist.
	ErrInvalidThreshold = errors.New("control: invalid threshold")

	// ErrInvalidMode is returned for mode values outside the fixed set.
	ErrInvalidMode = errors.New("control: invalid mode")
)

// sensorReportSize is the minimum sensor-report payload: five
// little-endian float32 values.
const sensorReportSize = 20

// Status is the full dashboard state as served over the API and pushed
// over WebSocket. Data is nil while serial mode is selected but the
// link is down: stale readings are withheld rather than shown.
type Status struct {
	Data       *Sample      `json:"data"`
	Devices    DeviceStates `json:"devices"`
	Thresholds Thresholds   `json:"thresholds"`
	Events     []Event      `json:"events"`
	Mode       Mode         `json:"data_mode"`
	SerialUp   bool         `json:"serial_connected"`
}

// Controller owns the shared environment state. Every reader and
// writer (serial reader goroutine, tick loop, HTTP handlers) goes
// through its lock, so each public method is one atomic step.
type Controller struct {
	mu         sync.Mutex
	sample     Sample
	devices    DeviceStates
	thresholds Thresholds
	log        *Log
	mode       Mode
	smokeAlarm bool

	now func() time.Time
}

// New creates a Controller in simulation mode with default thresholds
// and a plausible initial sample, so the dashboard has data before the
// first tick.
func New() *Controller {
	return &Controller{
		sample:     Sample{Temperature: 25, Humidity: 60, CO2: 400, Light: 350},
		thresholds: DefaultThresholds(),
		log:        NewLog(EventLogCapacity),
		mode:       ModeSimulation,
		now:        time.Now,
	}
}

func (c *Controller) appendEvent(category, message, level string) Event {
	e := Event{
		Timestamp: c.now().Format("15:04:05"),
		Category:  category,
		Message:   message,
		Level:     level,
	}
	c.log.Append(e)
	return e
}

// LogEvent records an event from outside the controller (startup,
// serial connects, shutdown).
func (c *Controller) LogEvent(category, message, level string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendEvent(category, message, level)
}

// HandleFrame ingests one decoded frame from the board. Safe to call
// from the serial reader goroutine.
func (c *Controller) HandleFrame(frame protocol.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch frame.Cmd {
	case protocol.CmdSensorReport:
		if len(frame.Payload) < sensorReportSize {
			c.appendEvent(CategoryError,
				fmt.Sprintf("sensor report too short: %d bytes", len(frame.Payload)),
				LevelError)
			return
		}
		c.sample.Temperature = readFloat32(frame.Payload[0:])
		c.sample.Humidity = readFloat32(frame.Payload[4:])
		c.sample.CO2 = readFloat32(frame.Payload[8:])
		pm25 := readFloat32(frame.Payload[12:])
		c.sample.PM25 = &pm25
		c.sample.Smoke = readFloat32(frame.Payload[16:])

	case protocol.CmdDeviceState:
		if len(frame.Payload) < 1 {
			c.appendEvent(CategoryError, "device state report with empty payload", LevelError)
			return
		}
		reported := DeviceStatesFromByte(frame.Payload[0])
		if reported != c.devices {
			c.devices = reported
			c.appendEvent(CategorySerial,
				fmt.Sprintf("board reported device states 0x%02X", frame.Payload[0]),
				LevelInfo)
		}

	default:
		c.appendEvent(CategoryWarning,
			fmt.Sprintf("unknown command 0x%02X", frame.Cmd), LevelWarning)
	}
}

func readFloat32(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}

// ApplySample replaces the current readings. A nil PM2.5 in the new
// sample keeps the previous value instead of erasing it.
func (c *Controller) ApplySample(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.PM25 == nil {
		s.PM25 = c.sample.PM25
	}
	c.sample = s
}

// Tick runs the hysteresis rules against the current sample and flips
// devices that crossed a threshold. Events are recorded only on state
// changes, never repeated while a condition persists. The new events
// are returned for downstream publishing.
func (c *Controller) Tick() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []Event
	set := func(target *bool, on bool, message string) {
		if *target == on {
			return
		}
		*target = on
		events = append(events, c.appendEvent(CategoryDevice, message, LevelInfo))
	}

	if t := c.thresholds["temperature"]; t != nil {
		temp := c.sample.Temperature
		switch {
		case t.Min != nil && temp < *t.Min:
			set(&c.devices.Heating, true, fmt.Sprintf("heating on: temperature %.1f below %.1f", temp, *t.Min))
			set(&c.devices.Cooling, false, "cooling off")
		case t.Max != nil && temp > *t.Max:
			set(&c.devices.Cooling, true, fmt.Sprintf("cooling on: temperature %.1f above %.1f", temp, *t.Max))
			set(&c.devices.Heating, false, "heating off")
		default:
			set(&c.devices.Heating, false, fmt.Sprintf("heating off: temperature %.1f in range", temp))
			set(&c.devices.Cooling, false, fmt.Sprintf("cooling off: temperature %.1f in range", temp))
		}
	}

	if h := c.thresholds["humidity"]; h != nil {
		hum := c.sample.Humidity
		switch {
		case h.Min != nil && hum < *h.Min:
			set(&c.devices.Humidify, true, fmt.Sprintf("humidifier on: humidity %.1f below %.1f", hum, *h.Min))
			set(&c.devices.Dehumidify, false, "dehumidifier off")
		case h.Max != nil && hum > *h.Max:
			set(&c.devices.Dehumidify, true, fmt.Sprintf("dehumidifier on: humidity %.1f above %.1f", hum, *h.Max))
			set(&c.devices.Humidify, false, "humidifier off")
		default:
			set(&c.devices.Humidify, false, fmt.Sprintf("humidifier off: humidity %.1f in range", hum))
			set(&c.devices.Dehumidify, false, fmt.Sprintf("dehumidifier off: humidity %.1f in range", hum))
		}
	}

	if co2 := c.thresholds["co2"]; co2 != nil && co2.Max != nil {
		switch {
		case c.sample.CO2 > *co2.Max:
			set(&c.devices.Ventilation, true, fmt.Sprintf("ventilation on: co2 %.0f above %.0f", c.sample.CO2, *co2.Max))
		default:
			set(&c.devices.Ventilation, false, fmt.Sprintf("ventilation off: co2 %.0f in range", c.sample.CO2))
		}
	}

	if s := c.thresholds["smoke"]; s != nil && s.Max != nil {
		high := c.sample.Smoke > *s.Max
		if high && !c.smokeAlarm {
			c.smokeAlarm = true
			events = append(events, c.appendEvent(CategoryWarning,
				fmt.Sprintf("smoke level %.1f above %.1f", c.sample.Smoke, *s.Max),
				LevelWarning))
		} else if !high && c.smokeAlarm {
			c.smokeAlarm = false
			events = append(events, c.appendEvent(CategoryWarning,
				"smoke level back to normal", LevelInfo))
		}
	}

	return events
}

// SetDevice applies a manual override for one device. Turning on a
// device also turns off its opposing partner so the pair never ends up
// active together. A MANUAL event is recorded only when the state
// actually changes.
func (c *Controller) SetDevice(name string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.deviceField(name)
	if target == nil {
		return ErrUnknownDevice
	}
	if *target == on {
		return nil
	}
	*target = on
	state := "off"
	if on {
		state = "on"
	}
	c.appendEvent(CategoryManual, fmt.Sprintf("%s manually turned %s", name, state), LevelInfo)

	if on {
		if partner := c.deviceField(devicePartner[name]); partner != nil && *partner {
			*partner = false
			c.appendEvent(CategoryManual,
				fmt.Sprintf("%s turned off (conflicts with %s)", devicePartner[name], name),
				LevelInfo)
		}
	}
	return nil
}

// devicePartner pairs devices that must not run at the same time.
var devicePartner = map[string]string{
	"heating":     "cooling",
	"cooling":     "heating",
	"humidify":    "dehumidify",
	"dehumidify":  "humidify",
	"ventilation": "close_vent",
	"close_vent":  "ventilation",
}

func (c *Controller) deviceField(name string) *bool {
	switch name {
	case "heating":
		return &c.devices.Heating
	case "cooling":
		return &c.devices.Cooling
	case "humidify":
		return &c.devices.Humidify
	case "dehumidify":
		return &c.devices.Dehumidify
	case "ventilation":
		return &c.devices.Ventilation
	case "close_vent":
		return &c.devices.CloseVent
	default:
		return nil
	}
}

// SetThreshold updates one side of one sensor's band. Only bounds that
// already exist can be changed; a sensor with no max cannot grow one
// over the API.
func (c *Controller) SetThreshold(sensor, bound string, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.thresholds[sensor]
	if b == nil {
		return fmt.Errorf("%w: sensor %q", ErrInvalidThreshold, sensor)
	}
	switch bound {
	case "min":
		if b.Min == nil {
			return fmt.Errorf("%w: %s has no min", ErrInvalidThreshold, sensor)
		}
		*b.Min = value
	case "max":
		if b.Max == nil {
			return fmt.Errorf("%w: %s has no max", ErrInvalidThreshold, sensor)
		}
		*b.Max = value
	default:
		return fmt.Errorf("%w: bound %q", ErrInvalidThreshold, bound)
	}
	c.appendEvent(CategorySystem,
		fmt.Sprintf("%s %s threshold set to %.1f", sensor, bound, value), LevelInfo)
	return nil
}

// SetMode switches the sample source. Switching to serial while the
// link is down is allowed; the dashboard shows no data until a
// connection is made, and a warning event records the situation.
func (c *Controller) SetMode(mode Mode, serialConnected bool) error {
	if mode != ModeSimulation && mode != ModeSerial {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode == c.mode {
		return nil
	}
	c.mode = mode
	c.appendEvent(CategorySystem, fmt.Sprintf("data source switched to %s", mode), LevelInfo)
	if mode == ModeSerial && !serialConnected {
		c.appendEvent(CategoryWarning, "serial mode selected with no connection", LevelWarning)
	}
	return nil
}

// Mode returns the current sample source.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Devices returns the current device states.
func (c *Controller) Devices() DeviceStates {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devices
}

// Sample returns the current readings.
func (c *Controller) Sample() Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sample
}

// Events returns up to n recent events, newest last.
func (c *Controller) Events(n int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Last(n)
}

// Snapshot assembles the full dashboard state. When serial mode is
// selected but the link is down, Data is nil.
func (c *Controller) Snapshot(serialUp bool, nEvents int) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Devices:    c.devices,
		Thresholds: c.thresholds.Clone(),
		Events:     c.log.Last(nEvents),
		Mode:       c.mode,
		SerialUp:   serialUp,
	}
	if c.mode == ModeSerial && !serialUp {
		return st
	}
	sample := c.sample
	if sample.PM25 != nil {
		pm25 := *sample.PM25
		sample.PM25 = &pm25
	}
	st.Data = &sample
	return st
}
