package main

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type recordingWriter struct {
	mu      sync.Mutex
	batches [][]GameEvent
	err     error
}

func (w *recordingWriter) InsertGameEvents(ctx context.Context, events []GameEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, append([]GameEvent(nil), events...))
	return w.err
}

func (w *recordingWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

type sinkFunc func(GameEvent)

func (f sinkFunc) Track(evt GameEvent) { f(evt) }

func TestEventLogFlushesFullBatch(t *testing.T) {
	w := &recordingWriter{}
	l := NewEventLog(w, zap.NewNop())
	defer l.Stop()

	for i := 0; i < eventBatchSize; i++ {
		l.Track(GameEvent{Type: EvtSnakeJoin, PlayerID: "p_1"})
	}
	eventually(t, func() bool { return w.total() == eventBatchSize }, "full batch not flushed")
}

func TestEventLogStopDrains(t *testing.T) {
	w := &recordingWriter{err: errors.New("disk full")}
	l := NewEventLog(w, zap.NewNop())
	l.Track(GameEvent{Type: EvtSnakeJoin})
	l.Track(GameEvent{Type: EvtSnakeDeath})
	l.Stop()

	if w.total() != 2 {
		t.Errorf("expected 2 events written on stop, got %d", w.total())
	}
}

func TestEventLogDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	w := &blockingWriter{release: block}
	l := NewEventLog(w, zap.NewNop())

	for i := 0; i < eventQueueSize+eventBatchSize*2; i++ {
		l.Track(GameEvent{Type: EvtSnakeJoin})
	}
	if l.dropped == 0 {
		t.Error("a saturated queue should drop events")
	}
	close(block)
	l.Stop()
}

type blockingWriter struct {
	release chan struct{}
}

func (w *blockingWriter) InsertGameEvents(ctx context.Context, events []GameEvent) error {
	<-w.release
	return nil
}

func TestEngineReportsJoinAndDeath(t *testing.T) {
	var got []GameEvent
	e := newTestEngine(func(g *GameConfig) { g.FoodCount = 0 })
	e.SetEventSink(sinkFunc(func(evt GameEvent) { got = append(got, evt) }))

	id := e.Join(&mockConn{}, false, "", SnakeJoinMsg{Name: "Ann"})
	p := mustPlayer(t, e, id)
	p.Score = 30
	placeSnake(p, DirLeft, Point{0, 100}, Point{20, 100}, Point{40, 100})
	e.Tick(testNow)
	e.Tick(testNow)

	if len(got) != 2 {
		t.Fatalf("expected join and death, got %+v", got)
	}
	if got[0].Type != EvtSnakeJoin || got[0].Name != "Ann" {
		t.Errorf("unexpected join event %+v", got[0])
	}
	death := got[1]
	if death.Type != EvtSnakeDeath || death.PlayerID != id || death.Score != 30 || death.Killer != "" || death.At.IsZero() {
		t.Errorf("unexpected death event %+v", death)
	}
}

func TestSQLiteGameEvents(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "events.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err = store.InsertGameEvents(ctx, []GameEvent{
		{Type: EvtSnakeJoin, PlayerID: "p_a", Name: "Ann", At: at},
		{Type: EvtSnakeDeath, PlayerID: "p_a", Name: "Ann", Score: 40, Killer: "p_b", At: at},
		{Type: EvtSnakeDeath, PlayerID: "p_b", Name: "Bob", Score: 90, At: at.Add(time.Second)},
		{Type: EvtSnakeDeath, PlayerID: "p_c", Name: "Cat", Score: 10, At: at},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	scores, err := store.TopScores(ctx, 2)
	if err != nil {
		t.Fatalf("top scores: %v", err)
	}
	if len(scores) != 2 || scores[0].Name != "Bob" || scores[1].Score != 40 {
		t.Errorf("unexpected scores %+v", scores)
	}
	if !scores[1].DiedAt.Equal(at) {
		t.Errorf("died_at = %v", scores[1].DiedAt)
	}
}
