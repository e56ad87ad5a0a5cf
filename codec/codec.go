// Package codec is the byte-level contract between a node and its gateway.
//
// Every record starts with a schema version and a record tag, followed by a
// little-endian body. Floats travel as their IEEE-754 bit pattern, so NaN and
// infinities survive a round-trip unchanged.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"loranode/entity"
)

const Version byte = 1

type Tag byte

const (
	TagSensorData    Tag = 0x01
	TagDeviceCommand Tag = 0x02
)

func (t Tag) String() string {
	switch t {
	case TagSensorData:
		return "sensor_data"
	case TagDeviceCommand:
		return "device_command"
	}
	return fmt.Sprintf("tag(%#x)", byte(t))
}

const (
	headerSize     = 2
	SensorDataSize = headerSize + 4*4
	// MinCommandSize is the length of the shortest command (Sleep, Reset).
	MinCommandSize = headerSize + 1
)

var (
	ErrTruncated   = errors.New("truncated record")
	ErrVersion     = errors.New("unsupported schema version")
	ErrTag         = errors.New("unexpected record tag")
	ErrVariant     = errors.New("unknown command variant")
	ErrTrailing    = errors.New("trailing bytes after record")
	ErrCommandType = errors.New("unsupported device command")
)

// DecodeError reports why a byte sequence is not a valid record.
type DecodeError struct {
	Record Tag
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s at offset %d: %v", e.Record, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func header(tag Tag) *bytes.Buffer {
	buf := bytes.NewBuffer(make([]byte, 0, SensorDataSize))
	buf.WriteByte(Version)
	buf.WriteByte(byte(tag))
	return buf
}

// EncodeSensorData never fails; every float32 bit pattern is representable.
func EncodeSensorData(d entity.SensorData) []byte {
	buf := header(TagSensorData)
	for _, v := range []float32{d.Temperature, d.Humidity, d.Pressure, d.GasResistance} {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

// EncodeCommand accepts Sleep, Reset and SetInterval, by value or by
// non-nil pointer. Only a nil command is rejected.
func EncodeCommand(c entity.DeviceCommand) ([]byte, error) {
	switch cmd := c.(type) {
	case *entity.Sleep:
		if cmd != nil {
			return EncodeCommand(*cmd)
		}
	case *entity.Reset:
		if cmd != nil {
			return EncodeCommand(*cmd)
		}
	case *entity.SetInterval:
		if cmd != nil {
			return EncodeCommand(*cmd)
		}
	}

	buf := header(TagDeviceCommand)

	switch cmd := c.(type) {
	case entity.Sleep, entity.Reset:
		buf.WriteByte(byte(cmd.Kind()))
	case entity.SetInterval:
		buf.WriteByte(byte(cmd.Kind()))
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], cmd.Interval)
		buf.Write(b[:])
	default:
		return nil, fmt.Errorf("%w: %T", ErrCommandType, c)
	}

	return buf.Bytes(), nil
}

// RecordTag validates the header and returns the record tag.
func RecordTag(b []byte) (Tag, error) {
	r := reader{buf: b}
	if err := r.header(); err != nil {
		return 0, err
	}
	return r.tag, nil
}

func DecodeSensorData(b []byte) (entity.SensorData, error) {
	r := reader{buf: b, record: TagSensorData}
	if err := r.expect(TagSensorData); err != nil {
		return entity.SensorData{}, err
	}

	var fields [4]float32
	for i := range fields {
		v, err := r.uint32()
		if err != nil {
			return entity.SensorData{}, err
		}
		fields[i] = math.Float32frombits(v)
	}

	if err := r.end(); err != nil {
		return entity.SensorData{}, err
	}

	return entity.SensorData{
		Temperature:   fields[0],
		Humidity:      fields[1],
		Pressure:      fields[2],
		GasResistance: fields[3],
	}, nil
}

func DecodeCommand(b []byte) (entity.DeviceCommand, error) {
	r := reader{buf: b, record: TagDeviceCommand}
	if err := r.expect(TagDeviceCommand); err != nil {
		return nil, err
	}

	kind, err := r.byte()
	if err != nil {
		return nil, err
	}

	var cmd entity.DeviceCommand
	switch entity.CommandKind(kind) {
	case entity.KindSleep:
		cmd = entity.Sleep{}
	case entity.KindReset:
		cmd = entity.Reset{}
	case entity.KindSetInterval:
		interval, err := r.uint32()
		if err != nil {
			return nil, err
		}
		cmd = entity.SetInterval{Interval: interval}
	default:
		return nil, r.fail(r.off-1, ErrVariant)
	}

	if err := r.end(); err != nil {
		return nil, err
	}
	return cmd, nil
}

type reader struct {
	buf    []byte
	off    int
	record Tag
	tag    Tag
}

func (r *reader) fail(off int, err error) error {
	return &DecodeError{Record: r.record, Offset: off, Err: err}
}

func (r *reader) byte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, r.fail(r.off, ErrTruncated)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	if len(r.buf)-r.off < 4 {
		return 0, r.fail(r.off, ErrTruncated)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) header() error {
	version, err := r.byte()
	if err != nil {
		return err
	}
	if version != Version {
		return r.fail(0, ErrVersion)
	}

	tag, err := r.byte()
	if err != nil {
		return err
	}
	r.tag = Tag(tag)
	return nil
}

func (r *reader) expect(tag Tag) error {
	if err := r.header(); err != nil {
		return err
	}
	if r.tag != tag {
		return r.fail(1, ErrTag)
	}
	return nil
}

func (r *reader) end() error {
	if r.off != len(r.buf) {
		return r.fail(r.off, ErrTrailing)
	}
	return nil
}
