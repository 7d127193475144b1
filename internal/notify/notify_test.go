package notify

import "testing"

func TestChannelNotifierWakesSubscriber(t *testing.T) {
	n := NewChannelNotifier()
	ch, cancel := n.Subscribe("exodus-gw")
	defer cancel()

	n.Notify("exodus-gw")
	select {
	case <-ch:
	default:
		t.Fatal("expected a wake-up signal")
	}
}

func TestChannelNotifierDoesNotWakeOtherQueues(t *testing.T) {
	n := NewChannelNotifier()
	ch, cancel := n.Subscribe("exodus-gw")
	defer cancel()

	n.Notify("exodus-gw.DQ")
	select {
	case <-ch:
		t.Fatal("did not expect a wake-up signal for a different queue")
	default:
	}
}

func TestChannelNotifierNonBlockingWhenFull(t *testing.T) {
	n := NewChannelNotifier()
	_, cancel := n.Subscribe("exodus-gw")
	defer cancel()

	done := make(chan struct{})
	go func() {
		n.Notify("exodus-gw")
		n.Notify("exodus-gw") // second signal while channel already has one pending
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done // Notify must never block regardless of buffer state
}

func TestChannelNotifierCancelRemovesSubscriber(t *testing.T) {
	n := NewChannelNotifier()
	ch, cancel := n.Subscribe("exodus-gw")
	cancel()

	n.Notify("exodus-gw")
	select {
	case <-ch:
		t.Fatal("did not expect a cancelled subscriber to receive a wake-up")
	default:
	}
}

func TestChannelNotifierCloseClearsSubscribers(t *testing.T) {
	n := NewChannelNotifier()
	n.Subscribe("exodus-gw")
	if err := n.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(n.subs) != 0 {
		t.Fatalf("expected no subscribers after close, got %d", len(n.subs))
	}
}

func TestNoopNotifierNeverWakes(t *testing.T) {
	n := NewNoopNotifier()
	ch, cancel := n.Subscribe("exodus-gw")
	defer cancel()

	n.Notify("exodus-gw")
	select {
	case <-ch:
		t.Fatal("did not expect the noop notifier to ever signal")
	default:
	}
}
