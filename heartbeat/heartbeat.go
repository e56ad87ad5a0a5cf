// Package heartbeat blinks an output line as a liveness indicator.
package heartbeat

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"loranode/gpio"
)

// Period is the time spent in each state, a 1 Hz blink.
const Period = 500 * time.Millisecond

type State int

const (
	PinLow State = iota
	PinHigh
)

func (s State) String() string {
	if s == PinHigh {
		return "pin_high"
	}
	return "pin_low"
}

// FaultHandler receives faults the task cannot recover from. It is not
// expected to return.
type FaultHandler func(err error)

func PanicOnFault(err error) {
	panic(err)
}

// Task alternates the pin between low and high, spending Period in each
// state. It never retires.
type Task struct {
	pin     gpio.Pin
	log     logrus.FieldLogger
	fault   FaultHandler
	state   State
	started bool
}

// New drives pin low and returns a task in the PinLow state.
func New(pin gpio.Pin, log logrus.FieldLogger, fault FaultHandler) *Task {
	if fault == nil {
		fault = PanicOnFault
	}
	t := &Task{
		pin:   pin,
		log:   log,
		fault: fault,
		state: PinLow,
	}
	t.set(gpio.Low)
	return t
}

func (t *Task) Name() string { return "heartbeat" }

func (t *Task) State() State { return t.state }

func (t *Task) Poll(now time.Time) time.Time {
	if !t.started {
		t.started = true
		t.log.Info("system is alive")
	}

	switch t.state {
	case PinLow:
		t.log.Info("blink")
		t.set(gpio.High)
		t.state = PinHigh
	case PinHigh:
		t.set(gpio.Low)
		t.state = PinLow
	}

	return now.Add(Period)
}

func (t *Task) set(level gpio.Level) {
	if err := t.pin.Set(level); err != nil {
		t.fault(fmt.Errorf("heartbeat: drive pin %v: %w", level, err))
	}
}
