package events

import (
	"testing"
	"time"

	"github.com/taskvine/taskvine/internal/task"
)

func TestPublishSubscribe(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	ch := p.Subscribe("proj/a")
	after := task.New("proj/a", "Task A")
	p.Publish(New(TypeCreated, "proj/a", nil, after))

	select {
	case e := <-ch:
		if e.Type != TypeCreated || e.Path != "proj/a" {
			t.Errorf("event = %+v", e)
		}
		if e.Before != nil || e.After == nil {
			t.Errorf("creation should carry only an after snapshot: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestGlobalSubscription(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	global := p.Subscribe(GlobalPath)
	p.Publish(New(TypeDeleted, "proj/x", task.New("proj/x", "X"), nil))

	select {
	case e := <-global:
		if e.Path != "proj/x" || e.Type != TypeDeleted {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("global subscriber received nothing")
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	before := task.New("proj/a", "Task A")
	e := New(TypeStatusChanged, "proj/a", before, before)

	before.Name = "mutated"
	if e.Before.Name != "Task A" || e.After.Name != "Task A" {
		t.Error("event snapshots alias the live task")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	ch := p.Subscribe("proj/a")
	p.Unsubscribe("proj/a", ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if p.SubscriberCount("proj/a") != 0 {
		t.Error("subscriber map should be cleaned up")
	}
}

func TestPublishAfterCloseIsSafe(t *testing.T) {
	p := NewMemoryPublisher()
	ch := p.Subscribe("proj/a")
	p.Close()

	p.Publish(New(TypeUpdated, "proj/a", nil, nil)) // must not panic
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
}

func TestFullBufferDoesNotBlock(t *testing.T) {
	p := NewMemoryPublisher(WithBufferSize(1))
	defer p.Close()

	p.Subscribe("proj/a")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.Publish(New(TypeUpdated, "proj/a", nil, nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
}

func TestDroppedEventsAreCounted(t *testing.T) {
	p := NewMemoryPublisher(WithBufferSize(1))
	defer p.Close()

	p.Subscribe("proj/a")
	for i := 0; i < 3; i++ {
		p.Publish(New(TypeUpdated, "proj/a", nil, nil))
	}

	// Buffer holds one; the other two publishes were lost.
	if got := p.Dropped(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
}
