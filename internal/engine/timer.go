package engine

import "time"

// Timer is a pending phase deadline.
type Timer interface {
	Stop() bool
}

// Scheduler arms phase timers. Tests swap in a manual scheduler.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (wallClock) Now() time.Time { return time.Now() }

// WallClock schedules on real time.
func WallClock() Scheduler { return wallClock{} }
