package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	hists    map[string][]float64
	flushed  int
}

func newRecorder() *recorder {
	return &recorder{counters: map[string]float64{}, hists: map[string][]float64{}}
}

func key(name string, l Labels) string {
	return name + "|" + l["step"] + "|" + l["status"] + "|" + l["kind"]
}

func (r *recorder) IncCounter(name string, delta float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[key(name, l)] += delta
}

func (r *recorder) ObserveHistogram(name string, v float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists[key(name, l)] = append(r.hists[key(name, l)], v)
}

func (r *recorder) Flush() error {
	r.flushed++
	return nil
}

// Tests here swap the process backend, so they do not run in parallel.

func TestHelpersRouteToBackend(t *testing.T) {
	r := newRecorder()
	SetBackend(r)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("insert", "ok", 250*time.Millisecond)
	RecordRows("committed", 3)
	RecordRows("committed", 0)
	RecordLoad("ok")

	if got := r.counters[key(StepTotal, Labels{"step": "insert", "status": "ok"})]; got != 1 {
		t.Fatalf("step counter = %v, want 1", got)
	}
	if got := r.hists[key(StepDuration, Labels{"step": "insert", "status": "ok"})]; len(got) != 1 || got[0] != 0.25 {
		t.Fatalf("step duration = %v", got)
	}
	if got := r.counters[key(RowsTotal, Labels{"kind": "committed"})]; got != 3 {
		t.Fatalf("rows counter = %v, want 3", got)
	}
	if got := r.counters[key(LoadsTotal, Labels{"status": "ok"})]; got != 1 {
		t.Fatalf("loads counter = %v, want 1", got)
	}

	if err := Flush(); err != nil || r.flushed != 1 {
		t.Fatalf("Flush err=%v flushed=%d", err, r.flushed)
	}
}

func TestRecordHTTP_ErrorsAndUnknownStatus(t *testing.T) {
	r := newRecorder()
	SetBackend(r)
	t.Cleanup(func() { SetBackend(nil) })

	RecordHTTP("statsapi", 200, nil, time.Second, 512)
	RecordHTTP("statsapi", 0, errors.New("dial"), time.Second, 0)
	RecordHTTP("statsapi", 503, nil, time.Second, 10)

	if got := r.counters[key(HTTPRequests, Labels{"status": "200"})]; got != 1 {
		t.Fatalf("200 requests = %v", got)
	}
	if got := r.counters[key(HTTPErrors, Labels{"status": "200"})]; got != 0 {
		t.Fatalf("200 should not count as error, got %v", got)
	}
	if got := r.counters[key(HTTPErrors, Labels{"status": "unknown"})]; got != 1 {
		t.Fatalf("unknown errors = %v", got)
	}
	if got := r.counters[key(HTTPErrors, Labels{"status": "503"})]; got != 1 {
		t.Fatalf("503 errors = %v", got)
	}
	if got := r.hists[key(HTTPDownloadLen, Labels{"status": "unknown"})]; len(got) != 0 {
		t.Fatalf("zero-byte download should not be observed: %v", got)
	}
}

func TestNopDefault(t *testing.T) {
	SetBackend(nil)
	IncCounter("anything", 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush: %v", err)
	}
}
