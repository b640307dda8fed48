// Package collector records what a local Measurement-Protocol look-alike
// receives, so hosts can be developed and tested without the real
// collector.
package collector

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filipexyz/beacon/internal/event"
)

// DefaultMaxEvents bounds the recorder.
const DefaultMaxEvents = 1000

// Record is one payload received on the collection endpoint.
type Record struct {
	ID            string         `json:"id"`
	ReceivedAt    time.Time      `json:"received_at"`
	MeasurementID string         `json:"measurement_id"`
	Valid         bool           `json:"valid"`
	Errors        []string       `json:"errors,omitempty"`
	Payload       *event.Payload `json:"payload"`
}

// Query filters List.
type Query struct {
	// Name matches records containing an event with this name.
	Name string
	// MeasurementID matches the stream the payload was sent to.
	MeasurementID string
	// Limit caps the result to the newest entries. Zero means no cap.
	Limit int
}

// Recorder keeps the most recent payloads in memory. It can also be told
// to fail upcoming requests, to exercise client retry paths.
type Recorder struct {
	mu      sync.RWMutex
	records []Record
	max     int

	failStatus int
	failLeft   int
	received   int
}

// NewRecorder creates a recorder keeping at most max records.
func NewRecorder(max int) *Recorder {
	if max <= 0 {
		max = DefaultMaxEvents
	}
	return &Recorder{max: max}
}

// Add stores a payload and returns the stored record.
func (r *Recorder) Add(measurementID string, p *event.Payload, res *event.ValidationResult) Record {
	rec := Record{
		ID:            uuid.NewString(),
		ReceivedAt:    time.Now().UTC(),
		MeasurementID: measurementID,
		Valid:         res == nil || res.Valid,
		Payload:       p,
	}
	if res != nil {
		rec.Errors = res.Messages()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if over := len(r.records) - r.max; over > 0 {
		r.records = append(r.records[:0], r.records[over:]...)
	}
	return rec
}

// List returns matching records, oldest first.
func (r *Recorder) List(q Query) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if q.MeasurementID != "" && rec.MeasurementID != q.MeasurementID {
			continue
		}
		if q.Name != "" && !hasEvent(rec.Payload, q.Name) {
			continue
		}
		out = append(out, rec)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

func hasEvent(p *event.Payload, name string) bool {
	if p == nil {
		return false
	}
	for _, ev := range p.Events {
		if ev.Name == name {
			return true
		}
	}
	return false
}

// Len returns the number of stored records.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Clear drops every record and returns how many were dropped.
func (r *Recorder) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.records)
	r.records = nil
	return n
}

// InjectFailures makes the next n collection requests answer status.
func (r *Recorder) InjectFailures(status, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failStatus = status
	r.failLeft = n
}

// NextFailure consumes one injected failure, returning its status or 0.
// Every call counts as a received request.
func (r *Recorder) NextFailure() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received++
	if r.failLeft <= 0 {
		return 0
	}
	r.failLeft--
	return r.failStatus
}

// Received returns how many collection requests arrived, including
// failed ones.
func (r *Recorder) Received() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.received
}
