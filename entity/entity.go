package entity

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"
)

// Units that the node firmware has not pinned down yet. They are carried as
// explicit placeholders until the product owner settles them.
const (
	PressureUnit = "unspecified"
	IntervalUnit = "unspecified"
)

// SensorData is one atmospheric sample. No field is range checked.
type SensorData struct {
	Temperature   float32
	Humidity      float32
	Pressure      float32
	GasResistance float32
}

// reading is the JSON form of SensorData. JSON numbers cannot carry NaN or
// infinities, so those are written as the strings "NaN", "+Inf" and "-Inf".
type reading struct {
	Temperature   jsonFloat `json:"temperature"`
	Humidity      jsonFloat `json:"humidity"`
	Pressure      jsonFloat `json:"pressure"`
	GasResistance jsonFloat `json:"gas_resistance"`
}

func (d SensorData) MarshalJSON() ([]byte, error) {
	return json.Marshal(reading{
		Temperature:   jsonFloat(d.Temperature),
		Humidity:      jsonFloat(d.Humidity),
		Pressure:      jsonFloat(d.Pressure),
		GasResistance: jsonFloat(d.GasResistance),
	})
}

func (d *SensorData) UnmarshalJSON(b []byte) error {
	var r reading
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	*d = SensorData{
		Temperature:   float32(r.Temperature),
		Humidity:      float32(r.Humidity),
		Pressure:      float32(r.Pressure),
		GasResistance: float32(r.GasResistance),
	}
	return nil
}

type jsonFloat float32

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(float32(f))
}

func (f *jsonFloat) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch s {
		case "NaN", "+Inf", "-Inf":
			v, _ := strconv.ParseFloat(s, 32)
			*f = jsonFloat(v)
			return nil
		}
		return errors.New("invalid reading value " + strconv.Quote(s))
	}

	var v float32
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}

// CommandKind is the discriminant of DeviceCommand on the wire.
type CommandKind uint8

const (
	KindSleep CommandKind = iota
	KindReset
	KindSetInterval
)

func (k CommandKind) String() string {
	switch k {
	case KindSleep:
		return "sleep"
	case KindReset:
		return "reset"
	case KindSetInterval:
		return "set_interval"
	}
	return "unknown"
}

// DeviceCommand is exactly one of Sleep, Reset or SetInterval.
type DeviceCommand interface {
	Kind() CommandKind
	deviceCommand()
}

// Sleep puts the device into its low-power state.
type Sleep struct{}

// Reset restarts the device.
type Reset struct{}

// SetInterval changes the sampling/reporting interval, in IntervalUnit.
type SetInterval struct {
	Interval uint32
}

func (Sleep) Kind() CommandKind       { return KindSleep }
func (Reset) Kind() CommandKind       { return KindReset }
func (SetInterval) Kind() CommandKind { return KindSetInterval }

func (Sleep) deviceCommand()       {}
func (Reset) deviceCommand()       {}
func (SetInterval) deviceCommand() {}

var ErrMissingInterval = errors.New("set_interval requires an interval")

// CommandRequest is the JSON body accepted by the command endpoint.
type CommandRequest struct {
	Command  string  `json:"command" validate:"required,oneof=sleep reset set_interval"`
	Interval *uint32 `json:"interval,omitempty"`
}

func (r CommandRequest) ToCommand() (DeviceCommand, error) {
	switch r.Command {
	case KindSleep.String():
		return Sleep{}, nil
	case KindReset.String():
		return Reset{}, nil
	case KindSetInterval.String():
		if r.Interval == nil {
			return nil, ErrMissingInterval
		}
		return SetInterval{Interval: *r.Interval}, nil
	}
	return nil, errors.New("unknown command " + r.Command)
}

// Telemetry is a decoded reading as fanned out by the gateway.
type Telemetry struct {
	SerialNumber int        `json:"serial_number"`
	Reading      SensorData `json:"reading"`
	ReceivedAt   time.Time  `json:"received_at"`
}

// ClientController is the only client type accepted on the websocket;
// browsers subscribe through socket.io instead.
const ClientController = "controller"

// Greet is the first message a client sends on the websocket.
type Greet struct {
	SerialNumber int    `json:"serial_number" validate:"required,min=1"`
	TypeClient   string `json:"type_client" validate:"required,eq=controller"`
}

type Response struct {
	Status  int         `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
