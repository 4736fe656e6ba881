package reveal

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is a pending callback that can be stopped before it fires.
type Timer interface {
	Stop() bool
}

// Clock schedules the scheduler's steps. After must never invoke f on the
// caller's goroutine.
type Clock interface {
	Now() time.Time
	After(d time.Duration, f func()) Timer
}

var realClock = clockwork.NewRealClock()

// SystemClock runs callbacks on runtime timers.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return realClock.Now() }

func (SystemClock) After(d time.Duration, f func()) Timer {
	return realClock.AfterFunc(d, f)
}

// FromClockwork adapts a clockwork clock, for example a fake clock that a
// test advances by hand.
func FromClockwork(c clockwork.Clock) Clock {
	return clockworkClock{c: c}
}

type clockworkClock struct {
	c clockwork.Clock
}

func (w clockworkClock) Now() time.Time { return w.c.Now() }

func (w clockworkClock) After(d time.Duration, f func()) Timer {
	return w.c.AfterFunc(d, f)
}
