package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bardlex/oreminer/pkg/log"
)

type recordingSink struct {
	name string
	mu   sync.Mutex
	got  []Event
	err  error
	gate chan struct{}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Handle(_ context.Context, e Event) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, e)
	return s.err
}

func (s *recordingSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.got...)
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("broker down")}

	f := NewFanout(8, log.Discard(), a, b)
	f.Start(context.Background())

	f.Notify(Event{Kind: KindPhase, Phase: "searching"})
	f.Notify(Event{Kind: KindSearching, Searching: true})
	f.Close()

	for _, s := range []*recordingSink{a, b} {
		got := s.events()
		if len(got) != 2 {
			t.Fatalf("sink %s got %d events, want 2", s.name, len(got))
		}
		if got[0].Kind != KindPhase || got[1].Kind != KindSearching {
			t.Errorf("sink %s got kinds %s, %s", s.name, got[0].Kind, got[1].Kind)
		}
		if got[0].Time.IsZero() {
			t.Errorf("sink %s: event time not stamped", s.name)
		}
	}
}

func TestFanout_NotifyNeverBlocks(t *testing.T) {
	slow := &recordingSink{name: "slow", gate: make(chan struct{})}

	f := NewFanout(2, log.Discard(), slow)
	f.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for range 50 {
			f.Notify(Event{Kind: KindProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a slow sink")
	}

	if f.Dropped("slow") == 0 {
		t.Error("expected dropped events for the slow sink")
	}
	if f.Dropped("missing") != 0 {
		t.Error("unknown sink should report zero drops")
	}

	close(slow.gate)
	f.Close()
}

func TestFanout_NotifyAfterClose(t *testing.T) {
	a := &recordingSink{name: "a"}

	f := NewFanout(4, log.Discard(), a)
	f.Start(context.Background())
	f.Notify(Event{Kind: KindStatus})
	f.Close()

	// must neither panic nor deliver
	f.Notify(Event{Kind: KindStatus})
	f.Close()

	if got := len(a.events()); got != 1 {
		t.Errorf("sink got %d events, want 1", got)
	}
}

func TestObserverFunc(t *testing.T) {
	var got Event
	var o Observer = ObserverFunc(func(e Event) { got = e })
	o.Notify(Event{Kind: KindSubmitted, Signature: "sig"})

	if got.Signature != "sig" {
		t.Errorf("ObserverFunc did not forward event: %+v", got)
	}

	Nop{}.Notify(Event{})
}

func TestLogSink(t *testing.T) {
	s := NewLogSink(log.Discard())
	if s.Name() != "log" {
		t.Errorf("Name() = %s, want log", s.Name())
	}
	for _, k := range []Kind{KindProgress, KindFailed, KindStatus, KindSubmitted} {
		if err := s.Handle(context.Background(), Event{Kind: k, Message: "x"}); err != nil {
			t.Errorf("Handle(%s) error = %v", k, err)
		}
	}
}
