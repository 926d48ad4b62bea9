package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestIncrDecr(t *testing.T) {
	m := New()

	m.Incr("websockets", 3)
	m.Decr("websockets", 1)

	if got := m.Count("websockets"); got != 2 {
		t.Fatal("Expectation: 2, Received:", got)
	}
	if got := m.Count("never.touched"); got != 0 {
		t.Fatal("Expectation: 0, Received:", got)
	}
}

func TestNilMetricsDiscards(t *testing.T) {
	var m *Metrics

	m.Incr("conn.recv", 1)
	m.Decr("conn.recv", 1)
	m.WriteOnce(&bytes.Buffer{})
	m.Report(context.Background(), time.Millisecond, &bytes.Buffer{})

	if got := m.Count("conn.recv"); got != 0 {
		t.Fatal("Expectation: 0, Received:", got)
	}
}

func TestWriteOnce(t *testing.T) {
	m := New()
	m.Incr("conn.recv", 5)

	var buf bytes.Buffer
	m.WriteOnce(&buf)

	var out map[string]map[string]int64
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if out["conn.recv"]["count"] != 5 {
		t.Fatalf("conn.recv count: got %v, want 5", out["conn.recv"])
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestReportStopsOnCancel(t *testing.T) {
	m := New()
	m.Incr("conn.send", 1)

	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Report(ctx, 5*time.Millisecond, out)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for out.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if out.Len() == 0 {
		t.Fatal("Report wrote nothing")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report did not return after cancel")
	}
}

func TestReportDisabled(t *testing.T) {
	done := make(chan struct{})
	go func() {
		New().Report(context.Background(), 0, &bytes.Buffer{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report with zero interval should return immediately")
	}
}
