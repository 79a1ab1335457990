package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrReportNotFound signals that the source published nothing for the
// requested date. Callers treat it as a soft skip, not a failure.
var ErrReportNotFound = errors.New("report not found")

// Bundle is the opaque STIX report document fetched from the source.
// Only the discriminator and the object list are inspected; everything
// else passes through to the platform untouched.
type Bundle map[string]any

// Validate performs the minimal structural check on a STIX 2.x bundle.
func (b Bundle) Validate() error {
	if b == nil {
		return fmt.Errorf("bundle is empty")
	}
	if t, _ := b["type"].(string); t != "bundle" {
		return fmt.Errorf("discriminator is %q, want \"bundle\"", b["type"])
	}
	objects, ok := b["objects"]
	if !ok {
		return fmt.Errorf("bundle has no objects field")
	}
	if _, ok := objects.([]any); !ok {
		return fmt.Errorf("objects field is not a list")
	}
	return nil
}

// ObjectCount returns the number of content objects in the bundle.
func (b Bundle) ObjectCount() int {
	if objects, ok := b["objects"].([]any); ok {
		return len(objects)
	}
	return 0
}

// Serialize renders the bundle back to JSON for the platform ingest call.
func (b Bundle) Serialize() ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}
	return raw, nil
}

// State field names as persisted in the watermark mapping.
const (
	StateLastProcessedDate = "last_processed_date"
	StateLastRun           = "last_run"
)

// Watermark marks the most recently considered report date. It never
// moves backward.
type Watermark struct {
	LastProcessedDate time.Time
	LastRun           time.Time
}

// ParseWatermark interprets a persisted state mapping. A missing or
// unparseable last_processed_date yields nil, which callers treat the
// same as a first run.
func ParseWatermark(state map[string]string) *Watermark {
	raw, ok := state[StateLastProcessedDate]
	if !ok {
		return nil
	}
	date, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	wm := &Watermark{LastProcessedDate: date.UTC()}
	if lastRun, err := time.Parse(time.RFC3339, state[StateLastRun]); err == nil {
		wm.LastRun = lastRun.UTC()
	}
	return wm
}

// StateMap renders the watermark as the persisted mapping.
func (w Watermark) StateMap() map[string]string {
	return map[string]string{
		StateLastProcessedDate: w.LastProcessedDate.UTC().Format(time.RFC3339),
		StateLastRun:           w.LastRun.UTC().Format(time.RFC3339),
	}
}

// PassSummary aggregates the per-date outcomes of one ingestion pass.
type PassSummary struct {
	Total    int
	Imported int
	Skipped  int
	Errors   int
}

// Message formats the summary the way the platform work log expects it.
func (s PassSummary) Message() string {
	return fmt.Sprintf("%d imported, %d skipped, %d errors (out of %d dates)",
		s.Imported, s.Skipped, s.Errors, s.Total)
}
