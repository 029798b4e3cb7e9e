package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time to rate limiting and token code.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fake is a manually advanced clock for tests.
type Fake struct {
	mutex sync.Mutex
	now   time.Time
}

// NewFake returns a Fake set to t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mutex.Lock()
	f.now = f.now.Add(d)
	f.mutex.Unlock()
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mutex.Lock()
	f.now = t
	f.mutex.Unlock()
}
