package events

import (
	"testing"
	"time"

	"github.com/safesh/safesh/pkg/types"
)

func TestBrokerPublishAndSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("sess1", 10)
	defer b.Unsubscribe("sess1", ch)

	ev := types.Event{SessionID: "sess1", Type: "test"}
	b.Publish(ev)

	select {
	case got := <-ch:
		if got.SessionID != ev.SessionID || got.Type != ev.Type {
			t.Fatalf("event mismatch: got %+v want %+v", got, ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerFirehoseSeesAllSessions(t *testing.T) {
	b := NewBroker()
	all := b.Subscribe("", 10)
	defer b.Unsubscribe("", all)

	b.Publish(types.Event{SessionID: "sess1", Type: "test"})
	b.Publish(types.Event{SessionID: "sess2", Type: "test"})

	for _, want := range []string{"sess1", "sess2"} {
		select {
		case got := <-all:
			if got.SessionID != want {
				t.Fatalf("expected session %s, got %s", want, got.SessionID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event from %s", want)
		}
	}
}

func TestBrokerDropsWhenSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("sess1", 1)
	defer b.Unsubscribe("sess1", ch)

	ev := types.Event{SessionID: "sess1", Type: "test"}
	b.Publish(ev) // fills buffer
	b.Publish(ev) // should drop

	if n := len(ch); n != 1 {
		t.Fatalf("expected buffer length 1 after drop, got %d", n)
	}
	if b.DroppedCount() == 0 {
		t.Fatal("expected dropped count to increase")
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("sess1", 1)
	b.Unsubscribe("sess1", ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed")
		}
	default:
		t.Fatal("expected channel to be closed and readable")
	}
}
