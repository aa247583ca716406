package progress

import (
	"testing"
	"time"
)

func TestBus_PublishReachesSubscribers(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.Subscribe()
	b.Publish(Status{Phase: PhaseScanning, Total: 10})

	select {
	case st := <-ch:
		if st.Phase != PhaseScanning || st.Total != 10 {
			t.Errorf("unexpected status: %+v", st)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the status")
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	defer b.Close()

	// Never drained; its buffer fills and further sends are skipped.
	_ = b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.Publish(Status{Phase: PhaseWriting, Done: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.Subscribe()
	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("unsubscribed channel should be closed")
	}
}

func TestBus_CloseClosesSubscribers(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after bus close")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}

	// Publishing after close is a no-op.
	b.Publish(Status{Phase: PhaseIdle})
}
