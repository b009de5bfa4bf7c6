package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher decouples alert producers from Telegram delivery. Publish
// never blocks the request path: when the buffer is full the alert is
// dropped and counted.
type Dispatcher struct {
	notifier *Notifier
	queue    chan Alert
	timeout  time.Duration

	mu      sync.Mutex
	dropped int64

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// NewDispatcher starts a single delivery worker. notifier may be nil;
// alerts are then discarded silently.
func NewDispatcher(notifier *Notifier, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{
		notifier: notifier,
		queue:    make(chan Alert, buffer),
		timeout:  10 * time.Second,
		stop:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Publish enqueues an alert without blocking.
func (d *Dispatcher) Publish(a Alert) {
	select {
	case d.queue <- a:
	default:
		d.mu.Lock()
		d.dropped++
		n := d.dropped
		d.mu.Unlock()
		slog.Warn("notify.alert_dropped", "type", string(a.Type), "total_dropped", n)
	}
}

// Dropped reports how many alerts were discarded due to backpressure.
func (d *Dispatcher) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close drains pending alerts and stops the worker.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
		d.wg.Wait()
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case a := <-d.queue:
			d.deliver(a)
		case <-d.stop:
			// Drain whatever is already buffered, then exit.
			for {
				select {
				case a := <-d.queue:
					d.deliver(a)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(a Alert) {
	if d.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.notifier.Send(ctx, a); err != nil {
		slog.Error("notify.send_failed", "type", string(a.Type), "error", err)
	}
}
