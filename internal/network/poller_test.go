package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPollerDetectsDisconnectAndReconnect(t *testing.T) {
	var up atomic.Bool
	up.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	poller := NewPoller(PollerConfig{
		ProbeURL: srv.URL,
		Interval: 20 * time.Millisecond,
		Timeout:  time.Second,
	})

	transitions := make(chan bool, 8)
	poller.Subscribe(func(connected bool) { transitions <- connected })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Run(ctx)

	if !waitForState(t, poller, true) {
		t.Fatal("expected poller to report connected initially")
	}

	up.Store(false)
	select {
	case connected := <-transitions:
		if connected {
			t.Fatal("expected a disconnect transition")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect transition")
	}

	up.Store(true)
	select {
	case connected := <-transitions:
		if !connected {
			t.Fatal("expected a reconnect transition")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect transition")
	}
}

func waitForState(t *testing.T, p *Poller, want bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.IsConnected() == want {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
