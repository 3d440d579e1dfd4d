// Package metrics is the process-wide metrics facade.
//
// Core code records through the package-level helpers; cmd/ binaries pick a
// Backend at startup (Datadog, or the default no-op).
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions. Backends decide which keys they keep.
type Labels map[string]string

// Backend receives raw observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer.
type Flusher interface {
	Flush() error
}

// Metric names.
const (
	StepTotal       = "statsync_step_total"
	StepDuration    = "statsync_step_duration_seconds"
	RowsTotal       = "statsync_rows_total"
	LoadsTotal      = "statsync_loads_total"
	HTTPRequests    = "statsync_http_requests_total"
	HTTPErrors      = "statsync_http_errors_total"
	HTTPDuration    = "statsync_http_request_duration_seconds"
	HTTPDownloadLen = "statsync_http_download_bytes"
)

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend swaps the process backend. A nil b restores the no-op.
func SetBackend(b Backend) {
	if b == nil {
		b = nop{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep counts one pipeline step (acquire, create, insert, commit,
// fetch) and its duration.
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordRows adds n to the rows counter for kind ("attempted", "committed").
func RecordRows(kind string, n int64) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"kind": kind})
}

// RecordLoad counts one finished load call.
func RecordLoad(status string) {
	IncCounter(LoadsTotal, 1, Labels{"status": status})
}

// RecordHTTP records one source request. A status of 0 means the request
// never got a response.
func RecordHTTP(source string, status int, err error, d time.Duration, bytes int64) {
	s := "unknown"
	if status > 0 {
		s = strconv.Itoa(status)
	}
	l := Labels{"source": source, "status": s}
	IncCounter(HTTPRequests, 1, l)
	if err != nil || status >= 400 || status == 0 {
		IncCounter(HTTPErrors, 1, l)
	}
	ObserveHistogram(HTTPDuration, d.Seconds(), l)
	if bytes > 0 {
		ObserveHistogram(HTTPDownloadLen, float64(bytes), l)
	}
}
