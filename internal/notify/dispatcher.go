package notify

import (
	"context"
	"sync"
	"time"

	"grcflow/internal/logging"
)

const defaultQueueSize = 256

// Dispatcher is an asynchronous Notifier backed by a buffered queue and a
// single delivery worker. A full queue drops the event with a log line
// rather than blocking an engine transaction.
type Dispatcher struct {
	sender  Sender
	logger  *logging.Logger
	queue   chan Event
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewDispatcher creates and starts a Dispatcher delivering through sender.
func NewDispatcher(sender Sender, logger *logging.Logger) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		logger:  logger,
		queue:   make(chan Event, defaultQueueSize),
		timeout: 30 * time.Second,
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Publish enqueues the event, dropping it when the queue is full.
func (d *Dispatcher) Publish(event Event) {
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("notification queue full, dropping event",
			"type", string(event.Type), "instance_id", event.InstanceID)
	}
}

// Close stops the worker after draining queued events.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.done:
			// drain what is already queued
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, event); err != nil {
		d.logger.Error("notification delivery failed",
			"type", string(event.Type), "instance_id", event.InstanceID, "error", err)
	}
}
