// Package executor runs cooperative tasks on a single goroutine.
//
// A task never blocks: each Poll does one step and returns the time it wants
// to be resumed at. The executor waits for the earliest resumption time and
// polls that task, so any number of tasks can share one thread of control.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrNoTasks = errors.New("no tasks to run")

type Task interface {
	Name() string
	// Poll runs one step. A zero return value retires the task.
	Poll(now time.Time) time.Time
}

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type entry struct {
	task     Task
	resumeAt time.Time
	started  bool
}

type Executor struct {
	clock Clock
	log   *logrus.Entry
	tasks []*entry
}

func New(clock Clock, log logrus.FieldLogger) *Executor {
	if clock == nil {
		clock = SystemClock
	}
	return &Executor{
		clock: clock,
		log:   log.WithField("subsystem", "executor"),
	}
}

// Spawn registers a task; it is first polled on the next Step.
func (e *Executor) Spawn(t Task) {
	e.tasks = append(e.tasks, &entry{task: t})
	e.log.WithField("task", t.Name()).Debug("spawned")
}

func (e *Executor) Len() int {
	return len(e.tasks)
}

// Step waits until the earliest task is due and polls it once.
func (e *Executor) Step(ctx context.Context) error {
	next := e.next()
	if next == nil {
		return ErrNoTasks
	}

	if next.started {
		if d := next.resumeAt.Sub(e.clock.Now()); d > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.clock.After(d):
			}
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	next.started = true
	next.resumeAt = next.task.Poll(e.clock.Now())
	if next.resumeAt.IsZero() {
		e.retire(next)
	}
	return nil
}

// Run steps until ctx is cancelled or every task has retired.
func (e *Executor) Run(ctx context.Context) error {
	e.log.WithField("tasks", len(e.tasks)).Info("running")
	for {
		if err := e.Step(ctx); err != nil {
			return err
		}
	}
}

func (e *Executor) next() *entry {
	var next *entry
	for _, en := range e.tasks {
		if !en.started {
			return en
		}
		if next == nil || en.resumeAt.Before(next.resumeAt) {
			next = en
		}
	}
	return next
}

func (e *Executor) retire(en *entry) {
	for i, t := range e.tasks {
		if t == en {
			e.tasks = append(e.tasks[:i], e.tasks[i+1:]...)
			break
		}
	}
	e.log.WithField("task", en.task.Name()).Debug("retired")
}
