package events

import (
	"context"
	"sync"

	"github.com/weiawesome/groupwatch/internal/domain"
	"github.com/weiawesome/groupwatch/internal/metric"
	"github.com/weiawesome/groupwatch/internal/registry"
	pkglog "github.com/weiawesome/groupwatch/pkg/log"
	"github.com/weiawesome/groupwatch/pkg/pubsub"
)

// Dispatcher exports room lifecycle events off the relay path. Emit only
// enqueues; a single worker advertises rooms and publishes events, so the
// per-room order of events is preserved.
type Dispatcher struct {
	queue      chan domain.RoomEvent
	publisher  pubsub.Publisher
	registry   registry.Registry
	instanceID string

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewDispatcher creates a dispatcher. publisher and reg may be nil.
func NewDispatcher(publisher pubsub.Publisher, reg registry.Registry, instanceID string, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Dispatcher{
		queue:      make(chan domain.RoomEvent, queueSize),
		publisher:  publisher,
		registry:   reg,
		instanceID: instanceID,
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Emit queues an event. A full queue drops it.
func (d *Dispatcher) Emit(event domain.RoomEvent) {
	select {
	case d.queue <- event:
	default:
		metric.LifecycleEventDropped()
		l := pkglog.L()
		l.Warn().
			Str(pkglog.FieldRoomID, event.RoomID).
			Str("event_type", event.Type).
			Msg("lifecycle queue full, event dropped")
	}
}

// Run exports events until ctx is cancelled or Close is called. Events
// still queued at that point are flushed first.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case ev := <-d.queue:
			d.dispatch(ctx, ev)
		case <-ctx.Done():
			d.drain(context.Background())
			return
		case <-d.closed:
			d.drain(ctx)
			return
		}
	}
}

// Close stops Run after the queue is flushed and waits for it.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
	<-d.done
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case ev := <-d.queue:
			d.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev domain.RoomEvent) {
	l := pkglog.Ctx(ctx).With().Str(pkglog.FieldRoomID, ev.RoomID).Str("event_type", ev.Type).Logger()

	if d.registry != nil {
		var err error
		switch ev.Type {
		case pubsub.EventRoomOpened:
			err = d.registry.Register(ctx, ev.RoomID)
		case pubsub.EventRoomClosed:
			err = d.registry.Deregister(ctx, ev.RoomID)
		}
		if err != nil {
			l.Error().Err(err).Msg("failed to update room advertisement")
		}
	}

	if d.publisher == nil {
		return
	}

	event, err := pubsub.NewEvent(ev.Type, ev.RoomID, pubsub.RoomEventPayload{
		HostID:       ev.HostID,
		Participants: ev.Count,
		InstanceID:   d.instanceID,
	})
	if err != nil {
		l.Error().Err(err).Msg("failed to encode lifecycle event")
		return
	}
	event.Timestamp = ev.At

	if err := d.publisher.Publish(ctx, pubsub.RoomEventsChannel(ev.RoomID), event); err != nil {
		l.Error().Err(err).Msg("failed to publish lifecycle event")
	}
}
