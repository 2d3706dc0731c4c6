// Package control holds the environment state: the latest sensor
// sample, device on/off states, thresholds, the event log and the
// hysteresis rules that drive devices from readings. A single
// Controller mutex covers all of it; the serial reader, the tick loop
// and HTTP handlers all mutate through that one lock.
package control

// Mode selects where sensor samples come from.
type Mode string

const (
	ModeSimulation Mode = "simulation"
	ModeSerial     Mode = "serial"
)

// Sample is one set of environment readings. PM2.5 is optional: the
// simulator does not produce it and board reports may omit it, so it is
// a pointer and absent values stay absent in JSON.
type Sample struct {
	Temperature float64  `json:"temperature"`
	Humidity    float64  `json:"humidity"`
	CO2         float64  `json:"co2"`
	Light       float64  `json:"light"`
	Smoke       float64  `json:"smoke"`
	PM25        *float64 `json:"pm25,omitempty"`
}

// DeviceStates is the on/off state of every controllable device.
type DeviceStates struct {
	Heating     bool `json:"heating"`
	Cooling     bool `json:"cooling"`
	Humidify    bool `json:"humidify"`
	Dehumidify  bool `json:"dehumidify"`
	Ventilation bool `json:"ventilation"`
	CloseVent   bool `json:"close_vent"`
}

// Device bit positions in the wire status byte.
const (
	BitHeating     = 0x01
	BitCooling     = 0x02
	BitHumidify    = 0x04
	BitDehumidify  = 0x08
	BitVentilation = 0x10
	BitCloseVent   = 0x20
)

// deviceBits maps API device names to their status bits.
var deviceBits = map[string]byte{
	"heating":     BitHeating,
	"cooling":     BitCooling,
	"humidify":    BitHumidify,
	"dehumidify":  BitDehumidify,
	"ventilation": BitVentilation,
	"close_vent":  BitCloseVent,
}

// StatusByte packs the device states into the wire status byte.
func (d DeviceStates) StatusByte() byte {
	var b byte
	if d.Heating {
		b |= BitHeating
	}
	if d.Cooling {
		b |= BitCooling
	}
	if d.Humidify {
		b |= BitHumidify
	}
	if d.Dehumidify {
		b |= BitDehumidify
	}
	if d.Ventilation {
		b |= BitVentilation
	}
	if d.CloseVent {
		b |= BitCloseVent
	}
	return b
}

// DeviceStatesFromByte unpacks a wire status byte.
func DeviceStatesFromByte(b byte) DeviceStates {
	return DeviceStates{
		Heating:     b&BitHeating != 0,
		Cooling:     b&BitCooling != 0,
		Humidify:    b&BitHumidify != 0,
		Dehumidify:  b&BitDehumidify != 0,
		Ventilation: b&BitVentilation != 0,
		CloseVent:   b&BitCloseVent != 0,
	}
}

// Bound is the hysteresis band for one sensor. A nil Min or Max means
// that side is unbounded and never triggers a device.
type Bound struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Thresholds maps sensor names to their bands.
type Thresholds map[string]*Bound

func f64(v float64) *float64 { return &v }

// DefaultThresholds returns the stock control bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		"temperature": {Min: f64(20), Max: f64(26)},
		"humidity":    {Min: f64(40), Max: f64(70)},
		"co2":         {Max: f64(1000)},
		"light":       {Min: f64(100), Max: f64(800)},
		"smoke":       {Max: f64(50)},
	}
}

// Clone deep-copies the thresholds so callers can hand them out without
// aliasing the controller's live map.
func (t Thresholds) Clone() Thresholds {
	out := make(Thresholds, len(t))
	for name, b := range t {
		if b == nil {
			out[name] = nil
			continue
		}
		nb := &Bound{}
		if b.Min != nil {
			nb.Min = f64(*b.Min)
		}
		if b.Max != nil {
			nb.Max = f64(*b.Max)
		}
		out[name] = nb
	}
	return out
}
