package events

import (
	"context"
	"testing"
	"time"
)

func TestBus_PublishToTypeSubscriber(t *testing.T) {
	bus := NewBus(nil)
	defer func() { _ = bus.Close() }()

	ch := bus.Subscribe(EventDownloadCompleted, 1)

	e := NewDownloadCompleted(7, 3, "/downloads/Dune")
	if err := bus.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		completed, ok := got.(DownloadCompleted)
		if !ok {
			t.Fatalf("got %T, want DownloadCompleted", got)
		}
		if completed.HistoryID != 7 || completed.RequestID != 3 {
			t.Errorf("event = %+v", completed)
		}
		if completed.EntityType() != EntityDownload {
			t.Errorf("EntityType = %q", completed.EntityType())
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_TypeFilter(t *testing.T) {
	bus := NewBus(nil)
	defer func() { _ = bus.Close() }()

	ch := bus.Subscribe(EventDownloadFailed, 1)

	_ = bus.Publish(context.Background(), NewDownloadCompleted(1, 1, "/x"))

	select {
	case e := <-ch:
		t.Errorf("unexpected event delivered: %v", e.EventType())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(nil)
	defer func() { _ = bus.Close() }()

	ch := bus.SubscribeAll(4)

	_ = bus.Publish(context.Background(), NewRequestStatusChanged(1, "pending", "searching"))
	_ = bus.Publish(context.Background(), NewDownloadFailed(2, 1, "stalled"))

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestBus_FullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus(nil)
	defer func() { _ = bus.Close() }()

	_ = bus.Subscribe(EventDownloadProgressed, 1)

	// Second publish overflows the buffer; Publish must not block.
	done := make(chan struct{})
	go func() {
		_ = bus.Publish(context.Background(), NewDownloadProgressed(1, 1, 10, 0, 0))
		_ = bus.Publish(context.Background(), NewDownloadProgressed(1, 1, 20, 0, 0))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(nil)
	_ = bus.Close()

	if err := bus.Publish(context.Background(), NewOrganizeCompleted(1, "/library/Dune")); err != nil {
		t.Errorf("Publish after Close should be a no-op, got %v", err)
	}
	// Closing twice is safe.
	if err := bus.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer func() { _ = bus.Close() }()

	ch := bus.Subscribe(EventRequestStatusChanged, 1)
	bus.Unsubscribe(ch)

	// Channel is closed after unsubscribe.
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}

	_ = bus.Publish(context.Background(), NewRequestStatusChanged(1, "pending", "failed"))
}
