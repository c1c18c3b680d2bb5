package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Game event types written to the event log
const (
	EvtSnakeJoin  = "snake_join"
	EvtSnakeDeath = "snake_death"
)

const (
	eventQueueSize     = 1024
	eventBatchSize     = 50
	eventFlushInterval = 5 * time.Second
	eventWriteTimeout  = 5 * time.Second
)

// GameEvent is one recorded game occurrence. Killer is the id of the snake
// that was hit, empty for walls and self hits.
type GameEvent struct {
	Type     string
	PlayerID string
	Name     string
	Score    int
	Killer   string
	At       time.Time
}

// EventSink receives game events. Track must not block.
type EventSink interface {
	Track(evt GameEvent)
}

type eventWriter interface {
	InsertGameEvents(ctx context.Context, events []GameEvent) error
}

// EventLog batches game events and writes them from a background goroutine
// so the tick never waits on disk
type EventLog struct {
	w       eventWriter
	log     *zap.Logger
	events  chan GameEvent
	stop    chan struct{}
	wg      sync.WaitGroup
	dropped int64 // only touched by Track callers, i.e. the hub loop
}

// NewEventLog creates and starts the background writer
func NewEventLog(w eventWriter, log *zap.Logger) *EventLog {
	l := &EventLog{
		w:      w,
		log:    log,
		events: make(chan GameEvent, eventQueueSize),
		stop:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writer(eventFlushInterval)
	return l
}

// Track enqueues an event. A full queue drops it.
func (l *EventLog) Track(evt GameEvent) {
	select {
	case l.events <- evt:
	default:
		l.dropped++
		if l.dropped%100 == 1 {
			l.log.Warn("event queue full, dropping", zap.Int64("dropped", l.dropped))
		}
	}
}

// Stop flushes what is queued and waits for the writer. Track must not be
// called afterwards.
func (l *EventLog) Stop() {
	close(l.stop)
	l.wg.Wait()
}

func (l *EventLog) writer(every time.Duration) {
	defer l.wg.Done()

	batch := make([]GameEvent, 0, eventBatchSize)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case evt := <-l.events:
			batch = append(batch, evt)
			if len(batch) >= eventBatchSize {
				batch = l.flush(batch)
			}
		case <-ticker.C:
			batch = l.flush(batch)
		case <-l.stop:
			for {
				select {
				case evt := <-l.events:
					batch = append(batch, evt)
				default:
					l.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes batch and returns it emptied
func (l *EventLog) flush(batch []GameEvent) []GameEvent {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
	defer cancel()
	if err := l.w.InsertGameEvents(ctx, batch); err != nil {
		l.log.Warn("write game events", zap.Int("count", len(batch)), zap.Error(err))
	}
	return batch[:0]
}
