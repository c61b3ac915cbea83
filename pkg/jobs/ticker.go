package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ticker runs a task immediately and then on every interval until stopped.
type Ticker struct {
	name     string
	interval time.Duration
	task     func(context.Context)
	logger   *zap.Logger

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewTicker builds a periodic runner.
func NewTicker(name string, interval time.Duration, task func(context.Context), logger *zap.Logger) *Ticker {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ticker{name: name, interval: interval, task: task, logger: logger, stop: make(chan struct{})}
}

// Start launches the background loop.
func (t *Ticker) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.loop(ctx)
	t.logger.Sugar().Infow("ticker started", "ticker", t.name, "interval", t.interval.String())
}

// Stop halts the loop and waits for an in-flight run to finish.
func (t *Ticker) Stop() {
	t.once.Do(func() { close(t.stop) })
	t.wg.Wait()
	t.logger.Sugar().Infow("ticker stopped", "ticker", t.name)
}

func (t *Ticker) loop(ctx context.Context) {
	defer t.wg.Done()
	t.task(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.task(ctx)
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
