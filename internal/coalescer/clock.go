package coalescer

import "time"

// Timer is the part of *time.Timer the coalescer uses.
type Timer interface {
	Stop() bool
}

// Clock starts timers. Tests inject a manual clock; production uses the
// runtime timers.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock returns the clock backed by package time.
func SystemClock() Clock {
	return systemClock{}
}
