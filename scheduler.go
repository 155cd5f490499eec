package librtm

import "time"

type (
	// Timer is a scheduled callback that can be cancelled.
	Timer interface {
		// Stop cancels the callback. It returns false if it already fired or was stopped.
		Stop() bool
	}

	// Scheduler runs callbacks after a delay. The supervisor uses it for
	// reconnect delays only.
	Scheduler interface {
		AfterFunc(d time.Duration, f func()) Timer
	}

	realScheduler struct{}
)

// RealScheduler is a Scheduler backed by time.AfterFunc.
func RealScheduler() Scheduler { return realScheduler{} }

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
