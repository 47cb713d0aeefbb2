package clickhouse

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// ArchiverOptions configures the async event archiver.
// Zero values select defaults.
type ArchiverOptions struct {
	// BufferSize is the capacity of the in-memory event queue. When the
	// queue is full, new events are dropped rather than blocking the
	// event loop.
	BufferSize int

	// BatchSize is the maximum number of events per INSERT batch.
	BatchSize int

	// FlushInterval bounds how long a partial batch may sit in the queue.
	FlushInterval time.Duration

	Logger *log.Logger
}

func (o *ArchiverOptions) withDefaults() ArchiverOptions {
	opts := ArchiverOptions{
		BufferSize:    4096,
		BatchSize:     256,
		FlushInterval: 5 * time.Second,
		Logger:        log.Default(),
	}
	if o == nil {
		return opts
	}
	if o.BufferSize > 0 {
		opts.BufferSize = o.BufferSize
	}
	if o.BatchSize > 0 {
		opts.BatchSize = o.BatchSize
	}
	if o.FlushInterval > 0 {
		opts.FlushInterval = o.FlushInterval
	}
	if o.Logger != nil {
		opts.Logger = o.Logger
	}
	return opts
}

// Archiver is a non-blocking sink in front of an EventArchive. Offer never
// blocks the caller; a full queue drops the event and bumps the drop counter.
// The archive is an audit trail, not a source of truth, so losing events
// under backpressure is acceptable.
type Archiver struct {
	archive storage.EventArchive
	opts    ArchiverOptions

	queue   chan *domain.ArchivedEvent
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewArchiver starts the background flush loop.
func NewArchiver(archive storage.EventArchive, opts *ArchiverOptions) *Archiver {
	a := &Archiver{
		archive: archive,
		opts:    opts.withDefaults(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	a.queue = make(chan *domain.ArchivedEvent, a.opts.BufferSize)
	go a.run()
	return a
}

// Offer enqueues a protocol event for archiving. Never blocks.
func (a *Archiver) Offer(ev domain.Event) {
	rec := domain.FlattenEvent(ev)
	if rec == nil {
		return
	}
	select {
	case a.queue <- rec:
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded due to a full queue.
func (a *Archiver) Dropped() uint64 {
	return a.dropped.Load()
}

// Close flushes the remaining queue and stops the loop.
func (a *Archiver) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
	})
	<-a.stopped
}

func (a *Archiver) run() {
	defer close(a.stopped)

	ticker := time.NewTicker(a.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*domain.ArchivedEvent, 0, a.opts.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.archive.InsertBulk(ctx, batch); err != nil {
			a.opts.Logger.Printf("[archiver] insert batch of %d: %v", len(batch), err)
			a.dropped.Add(uint64(len(batch)))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-a.queue:
			batch = append(batch, rec)
			if len(batch) >= a.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.done:
			// Drain whatever is already queued, then exit.
			for {
				select {
				case rec := <-a.queue:
					batch = append(batch, rec)
					if len(batch) >= a.opts.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
