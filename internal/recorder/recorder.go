// Package recorder captures limiter events so a session can be exported and
// replayed later.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
)

// Record is one captured limiter event.
type Record struct {
	ID string `json:"id"`
	limiter.Event
}

// Recorder keeps every observed event in memory and, optionally, streams
// each one to a writer as newline-delimited JSON. It implements
// limiter.Observer and is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	records  []Record
	writer   io.Writer
	writeErr error
}

// New creates a Recorder. w may be nil.
func New(w io.Writer) *Recorder {
	return &Recorder{writer: w}
}

// Observe records ev under a fresh ID. Stream write failures are kept and
// reported by Err; the event is still recorded in memory.
func (r *Recorder) Observe(ev limiter.Event) {
	_, _ = r.Record(ev)
}

// Record stores ev and returns the stored record.
func (r *Recorder) Record(ev limiter.Event) (Record, error) {
	rec := Record{ID: uuid.NewString(), Event: ev}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, rec)
	if r.writer == nil {
		return rec, nil
	}
	if err := json.NewEncoder(r.writer).Encode(rec); err != nil {
		err = fmt.Errorf("streaming record %s: %w", rec.ID, err)
		if r.writeErr == nil {
			r.writeErr = err
		}
		return rec, err
	}
	return rec, nil
}

// Err returns the first stream write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeErr
}

// Records returns a copy of everything recorded so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ExportJSON writes all records as an indented JSON array.
func (r *Recorder) ExportJSON(w io.Writer) error {
	records := r.Records()
	if records == nil {
		records = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// ExportFile writes all records to path as a JSON array.
func (r *Recorder) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.ExportJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadJSON reads records from a JSON array as written by ExportJSON.
func LoadJSON(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}

// LoadFile reads records from a file written by ExportFile.
func LoadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadJSON(f)
}
