package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Serial frame: preamble, uint16 payload length, payload, uint16 CRC of the
// payload. All integers little-endian.
const (
	preamOneByte byte = 0x55
	preamTwoByte byte = 0xAA

	MaxFrameSize = 255
)

var preamble = [...]byte{preamOneByte, preamTwoByte, preamOneByte, preamTwoByte}

var (
	ErrChecksum      = errors.New("frame checksum mismatch")
	ErrFrameTooLarge = errors.New("frame payload too large")
)

// CRC16 is CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF).
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(preamble)+len(payload)+4))
	buf.Write(preamble[:])
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(payload))); err != nil {
		return err
	}
	buf.Write(payload)
	if err := binary.Write(buf, binary.LittleEndian, CRC16(payload)); err != nil {
		return err
	}

	_, err := w.Write(buf.Bytes())
	return err
}

type FrameReader struct {
	r *bufio.Reader
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// ReadFrame returns the next payload. ErrChecksum and ErrFrameTooLarge leave
// the reader usable; the next call resynchronises on the preamble.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	if err := f.sync(); err != nil {
		return nil, err
	}

	var length uint16
	if err := binary.Read(f.r, binary.LittleEndian, &length); err != nil {
		return nil, unexpected(err)
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return nil, unexpected(err)
	}

	var crc uint16
	if err := binary.Read(f.r, binary.LittleEndian, &crc); err != nil {
		return nil, unexpected(err)
	}
	if want := CRC16(payload); crc != want {
		return nil, fmt.Errorf("%w: got %#04x want %#04x", ErrChecksum, crc, want)
	}

	return payload, nil
}

func (f *FrameReader) sync() error {
	matched := 0
	for matched < len(preamble) {
		b, err := f.r.ReadByte()
		if err != nil {
			if matched > 0 {
				return unexpected(err)
			}
			return err
		}

		switch {
		case b == preamble[matched]:
			matched++
		case b == preamble[0]:
			matched = 1
		default:
			matched = 0
		}
	}
	return nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
