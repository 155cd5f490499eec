package librtm

import (
	"context"
	"sync"
	"time"
)

// keepAlive ticks at a fixed interval and asks the supervisor to ping the
// gateway. Pings are dropped by the supervisor while not connected.
type keepAlive struct {
	interval time.Duration
	tick     func()
	logger   Logger

	startOnce sync.Once
	closeOnce sync.Once
	closeC    chan struct{}
}

func newKeepAlive(logger Logger, interval time.Duration, tick func()) *keepAlive {
	return &keepAlive{
		logger:   logger.WithField("component", "keepalive"),
		interval: interval,
		tick:     tick,
		closeC:   make(chan struct{}),
	}
}

// Start spawns the ticking routine. Only the first call has an effect.
func (k *keepAlive) Start(ctx context.Context) {
	k.startOnce.Do(func() {
		go k.run(ctx)
	})
}

// Close stops the ticking routine. Only the first call has an effect.
func (k *keepAlive) Close() {
	k.closeOnce.Do(func() {
		close(k.closeC)
	})
}

func (k *keepAlive) run(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.logger.Debugf("pinging every %s", k.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-k.closeC:
			return
		case <-ticker.C:
			k.tick()
		}
	}
}
