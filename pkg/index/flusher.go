package index

import (
	"time"

	"github.com/rs/zerolog"
)

// flusher periodically persists an activated index
type flusher struct {
	interval time.Duration
	flushFn  func() error
	log      zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newFlusher(interval time.Duration, flushFn func() error, log zerolog.Logger) *flusher {
	return &flusher{
		interval: interval,
		flushFn:  flushFn,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the background flush loop
func (f *flusher) Start() {
	go f.run()
}

// Stop stops the loop and waits for it to exit
func (f *flusher) Stop() {
	close(f.stopCh)
	<-f.doneCh
}

func (f *flusher) run() {
	defer close(f.doneCh)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := f.flushFn(); err != nil {
				f.log.Error().Err(err).Msg("Periodic flush failed")
			}

		case <-f.stopCh:
			return
		}
	}
}
