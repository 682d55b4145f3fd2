package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Tempo/internal/event"
	"github.com/hbomb79/Tempo/pkg/logger"
)

const (
	DEBOUNCE_DURATION  time.Duration = time.Millisecond * 500
	MAX_TIMER_DURATION time.Duration = time.Second * 2
)

type (
	broadcastHandler func(uuid.UUID) error

	broadcaster interface {
		BroadcastIngestUpdate(uuid.UUID) error
		BroadcastTrackUpdate(uuid.UUID) error
	}

	eventKey struct {
		ev event.Event
		id uuid.UUID
	}

	// activityService listens to the event bus and broadcasts the changed
	// resources to connected clients. Bursts of events for the same
	// resource are debounced in to a single broadcast, with a maximum
	// delay so a busy resource is still broadcast regularly.
	activityService struct {
		*sync.Mutex
		broadcaster
		eventBus       event.EventHandler
		debounce       time.Duration
		maxWait        time.Duration
		debounceTimers map[eventKey]*time.Timer
		maxTimers      map[eventKey]*time.Timer
	}
)

func newActivityService(broadcaster broadcaster, eventBus event.EventHandler) *activityService {
	return &activityService{
		Mutex:          &sync.Mutex{},
		broadcaster:    broadcaster,
		eventBus:       eventBus,
		debounce:       DEBOUNCE_DURATION,
		maxWait:        MAX_TIMER_DURATION,
		debounceTimers: make(map[eventKey]*time.Timer),
		maxTimers:      make(map[eventKey]*time.Timer),
	}
}

func (service *activityService) Run(ctx context.Context) error {
	messageChan := make(chan event.HandlerEvent, 100)
	service.eventBus.RegisterHandlerChannel(messageChan, event.INGEST_UPDATE, event.INGEST_COMPLETE, event.TRACK_SAVED)

	log.Emit(logger.NEW, "Activity service started\n")
	defer service.stopTimers()
	for {
		select {
		case ev := <-messageChan:
			if err := service.handleEvent(ev); err != nil {
				log.Emit(logger.ERROR, "Handling of event %v failed: %v\n", ev, err)
			}
		case <-ctx.Done():
			log.Emit(logger.STOP, "Activity service closed\n")
			return nil
		}
	}
}

func (service *activityService) handleEvent(ev event.HandlerEvent) error {
	resourceID, ok := ev.Payload.(uuid.UUID)
	if !ok {
		return errors.New("illegal payload (expected UUID)")
	}

	resourceKey := eventKey{id: resourceID, ev: ev.Event}

	switch ev.Event {
	case event.INGEST_UPDATE, event.INGEST_COMPLETE:
		// Both events broadcast the same resource, so share a key.
		resourceKey.ev = event.INGEST_UPDATE
		service.scheduleEventBroadcast(resourceKey, service.BroadcastIngestUpdate)
	case event.TRACK_SAVED:
		service.scheduleEventBroadcast(resourceKey, service.BroadcastTrackUpdate)
	default:
		return errors.New("unknown event type")
	}

	return nil
}

func (service *activityService) scheduleEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	service.Lock()
	defer service.Unlock()

	broadcaster := func() { service.broadcast(resourceKey, handler) }

	// Cancel and re-set a debounce timer
	if t, ok := service.debounceTimers[resourceKey]; ok {
		t.Stop()
	}
	service.debounceTimers[resourceKey] = time.AfterFunc(service.debounce, broadcaster)

	// Set a max timer if not already set
	if _, ok := service.maxTimers[resourceKey]; !ok {
		service.maxTimers[resourceKey] = time.AfterFunc(service.maxWait, broadcaster)
	}
}

func (service *activityService) broadcast(resourceKey eventKey, handler broadcastHandler) {
	service.Lock()
	_, debouncing := service.debounceTimers[resourceKey]
	if t, ok := service.debounceTimers[resourceKey]; ok {
		t.Stop()
		delete(service.debounceTimers, resourceKey)
	}
	if t, ok := service.maxTimers[resourceKey]; ok {
		t.Stop()
		delete(service.maxTimers, resourceKey)
	}
	service.Unlock()

	// Both timers may fire for the same burst; only the first broadcasts.
	if !debouncing {
		return
	}

	if err := handler(resourceKey.id); err != nil {
		log.Emit(logger.WARNING, "Broadcast of %s for %s failed: %v\n", resourceKey.ev, resourceKey.id, err)
	}
}

func (service *activityService) stopTimers() {
	service.Lock()
	defer service.Unlock()

	for k, t := range service.debounceTimers {
		t.Stop()
		delete(service.debounceTimers, k)
	}
	for k, t := range service.maxTimers {
		t.Stop()
		delete(service.maxTimers, k)
	}
}
