package gpio

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// Pin is a single digital output line.
type Pin interface {
	Set(level Level) error
}

// SysfsPin drives a line through its sysfs value file, e.g.
// /sys/class/gpio/gpio25/value. The line must already be exported as output.
type SysfsPin struct {
	file *os.File
}

func OpenSysfs(path string) (*SysfsPin, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open gpio %s: %w", path, err)
	}
	return &SysfsPin{file: f}, nil
}

func (p *SysfsPin) Set(level Level) error {
	v := []byte{'0'}
	if level {
		v[0] = '1'
	}
	if _, err := p.file.WriteAt(v, 0); err != nil {
		return fmt.Errorf("write gpio %s: %w", p.file.Name(), err)
	}
	return nil
}

func (p *SysfsPin) Close() error {
	return p.file.Close()
}

// TracePin stands in for hardware and only logs the level it is driven to.
type TracePin struct {
	log   *logrus.Entry
	Level Level
}

func NewTracePin(log logrus.FieldLogger, name string) *TracePin {
	return &TracePin{log: log.WithField("pin", name)}
}

func (p *TracePin) Set(level Level) error {
	p.Level = level
	p.log.WithField("level", level).Debug("set")
	return nil
}
