// Package recorder persists access events off the capture path. A single
// worker goroutine drains a bounded queue so events are written in the order
// they were decided.
package recorder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/logging"
)

// Options tunes the queue and write behaviour.
type Options struct {
	QueueSize      int
	WriteTimeout   time.Duration // per store or blob call
	EnqueueTimeout time.Duration // how long Enqueue waits on a full queue
	RetryBackoff   time.Duration
	Retries        uint64
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		QueueSize:      256,
		WriteTimeout:   2 * time.Second,
		EnqueueTimeout: 50 * time.Millisecond,
		RetryBackoff:   200 * time.Millisecond,
		Retries:        1,
	}
}

// Counts reports what happened to enqueued events.
type Counts struct {
	Persisted    int64 `json:"persisted"`
	Lost         int64 `json:"lost"`          // write failed after retries or discarded on stop
	Dropped      int64 `json:"dropped"`       // queue full
	BlobFailures int64 `json:"blob_failures"` // event kept, image lost
	Queued       int   `json:"queued"`
}

type job struct {
	ev    events.AccessEvent
	image []byte
}

// Recorder writes events and their images in the background.
type Recorder struct {
	store events.Store
	blobs events.BlobSink
	opts  Options

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	quit   chan struct{}
	done   chan struct{}

	quitOnce sync.Once

	persisted    atomic.Int64
	lost         atomic.Int64
	dropped      atomic.Int64
	blobFailures atomic.Int64
}

// New starts a Recorder. blobs may be nil, in which case images are not
// archived.
func New(store events.Store, blobs events.BlobSink, opts Options) *Recorder {
	def := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = def.EnqueueTimeout
	}

	r := &Recorder{
		store: store,
		blobs: blobs,
		opts:  opts,
		jobs:  make(chan job, opts.QueueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.loop()
	return r
}

// Enqueue hands ev to the worker. It waits at most EnqueueTimeout for room
// and reports whether the event was accepted.
func (r *Recorder) Enqueue(ev events.AccessEvent, image []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return false
	}

	j := job{ev: ev, image: image}
	select {
	case r.jobs <- j:
		return true
	default:
	}

	timer := time.NewTimer(r.opts.EnqueueTimeout)
	defer timer.Stop()

	select {
	case r.jobs <- j:
		return true
	case <-timer.C:
		r.dropped.Add(1)
		logging.Component("recorder").WithField("event_type", ev.EventType).Warn("Event queue full, dropping event")
		return false
	}
}

// Close stops accepting events and waits for the queue to drain. If ctx
// expires first the remaining events are discarded and ctx.Err is returned.
func (r *Recorder) Close(ctx context.Context) error {
	r.shutdown()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		r.discard()
		<-r.done
		return ctx.Err()
	}
}

// Stop discards queued events and returns once the worker has exited. An
// in-flight write is allowed to finish.
func (r *Recorder) Stop() {
	r.discard()
	r.shutdown()
	<-r.done
}

// Counts returns a snapshot of the recorder counters.
func (r *Recorder) Counts() Counts {
	return Counts{
		Persisted:    r.persisted.Load(),
		Lost:         r.lost.Load(),
		Dropped:      r.dropped.Load(),
		BlobFailures: r.blobFailures.Load(),
		Queued:       len(r.jobs),
	}
}

func (r *Recorder) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
}

func (r *Recorder) discard() {
	r.quitOnce.Do(func() { close(r.quit) })
}

func (r *Recorder) loop() {
	defer close(r.done)

	for j := range r.jobs {
		select {
		case <-r.quit:
			r.lost.Add(1)
			continue
		default:
		}
		r.write(j)
	}
}

func (r *Recorder) write(j job) {
	log := logging.Component("recorder")
	ev := j.ev

	if len(j.image) > 0 && r.blobs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
		ref, err := r.blobs.StoreBlob(ctx, j.image)
		cancel()
		if err != nil {
			r.blobFailures.Add(1)
			log.WithError(err).Warn("Failed to archive image, recording event without it")
		} else {
			ev.ImageRef = &ref
		}
	}

	insert := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
		defer cancel()
		_, err := r.store.InsertAccessEvent(ctx, ev)
		if errors.Is(err, events.ErrWriteRejected) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(r.opts.RetryBackoff), r.opts.Retries)
	if err := backoff.Retry(insert, policy); err != nil {
		r.lost.Add(1)
		log.WithError(err).WithFields(logging.Fields{
			"event_type": ev.EventType,
			"identity":   ev.IdentityName(),
		}).Error("Failed to persist access event")
		return
	}
	r.persisted.Add(1)
}
