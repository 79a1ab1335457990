package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"vigilintel/internal/domain"
)

type fakeSource struct {
	bundles map[string]domain.Bundle
	errs    map[string]error
	fetched []string
}

func (f *fakeSource) FetchBundle(ctx context.Context, day time.Time) (domain.Bundle, error) {
	key := day.Format("2006-01-02")
	f.fetched = append(f.fetched, key)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if bundle, ok := f.bundles[key]; ok {
		return bundle, nil
	}
	return nil, fmt.Errorf("%s: %w", key, domain.ErrReportNotFound)
}

type fakeSink struct {
	initiateErr error
	sendErr     error
	workID      string
	sent        []domain.Bundle
	finished    string
}

func (f *fakeSink) InitiateWork(ctx context.Context, friendlyName string) (string, error) {
	if f.initiateErr != nil {
		return "", f.initiateErr
	}
	if f.workID == "" {
		f.workID = "work--test"
	}
	return f.workID, nil
}

func (f *fakeSink) SendBundle(ctx context.Context, workID string, bundle domain.Bundle) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, bundle)
	return nil
}

func (f *fakeSink) FinishWork(ctx context.Context, workID, message string) error {
	f.finished = message
	return nil
}

type fakeStore struct {
	state    map[string]string
	setCalls int
}

func (f *fakeStore) Get(ctx context.Context) (map[string]string, error) {
	if f.state == nil {
		return map[string]string{}, nil
	}
	return f.state, nil
}

func (f *fakeStore) Set(ctx context.Context, state map[string]string) error {
	f.state = state
	f.setCalls++
	return nil
}

func validBundle(objects int) domain.Bundle {
	list := make([]any, objects)
	for i := range list {
		list[i] = map[string]any{"type": "report"}
	}
	return domain.Bundle{"type": "bundle", "objects": list}
}

func newPipeline(src *fakeSource, sink *fakeSink, store *fakeStore, lookback int) *Pipeline {
	return NewPipeline(PipelineDeps{
		Source:       src,
		Sink:         sink,
		State:        store,
		LookbackDays: lookback,
	})
}

// Mirrors the reference scenario: three pending dates where the first is
// missing upstream, the second imports five objects, and the third hits a
// transport error. The watermark must still land on the last visited date.
func TestRunPassMixedOutcomes(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 10, 6, 0, 0, 0, time.UTC)
	src := &fakeSource{
		bundles: map[string]domain.Bundle{
			"2024-03-09": validBundle(5),
		},
		errs: map[string]error{
			"2024-03-10": errors.New("connection reset"),
		},
	}
	sink := &fakeSink{}
	store := &fakeStore{}

	if err := newPipeline(src, sink, store, 2).RunPass(context.Background(), now); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}

	if len(src.fetched) != 3 {
		t.Fatalf("expected 3 fetches, got %v", src.fetched)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected 1 forwarded bundle, got %d", len(sink.sent))
	}
	if sink.finished != "1 imported, 1 skipped, 1 errors (out of 3 dates)" {
		t.Fatalf("unexpected summary %q", sink.finished)
	}

	wm := domain.ParseWatermark(store.state)
	if wm == nil {
		t.Fatal("expected persisted watermark")
	}
	if got := wm.LastProcessedDate.Format("2006-01-02"); got != "2024-03-10" {
		t.Fatalf("watermark should advance to last visited date, got %s", got)
	}
	if !wm.LastRun.Equal(now) {
		t.Fatalf("unexpected last run %s", wm.LastRun)
	}
}

func TestRunPassNoWorkWhenUpToDate(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 10, 6, 0, 0, 0, time.UTC)
	src := &fakeSource{}
	sink := &fakeSink{initiateErr: errors.New("must not initiate work")}
	store := &fakeStore{state: domain.Watermark{
		LastProcessedDate: time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC),
		LastRun:           now,
	}.StateMap()}

	if err := newPipeline(src, sink, store, 7).RunPass(context.Background(), now); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if len(src.fetched) != 0 {
		t.Fatalf("expected no fetches, got %v", src.fetched)
	}
	if store.setCalls != 0 {
		t.Fatal("watermark must not be rewritten on an empty pass")
	}
}

// Running a second pass right after a successful one finds nothing to do.
func TestRunPassIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 10, 6, 0, 0, 0, time.UTC)
	src := &fakeSource{bundles: map[string]domain.Bundle{
		"2024-03-09": validBundle(1),
		"2024-03-10": validBundle(2),
	}}
	sink := &fakeSink{}
	store := &fakeStore{}
	pipeline := newPipeline(src, sink, store, 1)

	if err := pipeline.RunPass(context.Background(), now); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	fetchedOnce := len(src.fetched)

	if err := pipeline.RunPass(context.Background(), now.Add(time.Minute)); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(src.fetched) != fetchedOnce {
		t.Fatalf("second pass fetched again: %v", src.fetched)
	}
	if store.setCalls != 1 {
		t.Fatalf("expected a single state write, got %d", store.setCalls)
	}
}

func TestRunPassInvalidBundleNeverForwarded(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 10, 6, 0, 0, 0, time.UTC)
	src := &fakeSource{bundles: map[string]domain.Bundle{
		"2024-03-09": {"type": "report", "objects": []any{}},
		"2024-03-10": {"type": "bundle", "objects": "not-a-list"},
	}}
	sink := &fakeSink{}
	store := &fakeStore{}

	if err := newPipeline(src, sink, store, 1).RunPass(context.Background(), now); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if len(sink.sent) != 0 {
		t.Fatalf("invalid bundles must not reach the sink, got %d", len(sink.sent))
	}
	if sink.finished != "0 imported, 0 skipped, 2 errors (out of 2 dates)" {
		t.Fatalf("unexpected summary %q", sink.finished)
	}
}

func TestRunPassZeroImportsKeepsWatermark(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 10, 6, 0, 0, 0, time.UTC)
	prior := domain.Watermark{
		LastProcessedDate: time.Date(2024, time.March, 7, 0, 0, 0, 0, time.UTC),
		LastRun:           now.AddDate(0, 0, -1),
	}.StateMap()
	src := &fakeSource{errs: map[string]error{
		"2024-03-08": errors.New("timeout"),
		"2024-03-09": errors.New("timeout"),
		"2024-03-10": errors.New("timeout"),
	}}
	sink := &fakeSink{}
	store := &fakeStore{state: prior}

	if err := newPipeline(src, sink, store, 7).RunPass(context.Background(), now); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if store.setCalls != 0 {
		t.Fatal("fully failed pass must leave the watermark unchanged")
	}

	wm := domain.ParseWatermark(store.state)
	if got := wm.LastProcessedDate.Format("2006-01-02"); got != "2024-03-07" {
		t.Fatalf("prior watermark lost, got %s", got)
	}
}

func TestRunPassAllSkippedKeepsWatermark(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 10, 6, 0, 0, 0, time.UTC)
	src := &fakeSource{} // every date 404s
	sink := &fakeSink{}
	store := &fakeStore{}

	if err := newPipeline(src, sink, store, 2).RunPass(context.Background(), now); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if store.setCalls != 0 {
		t.Fatal("pass with zero imports must not persist state")
	}
	if sink.finished != "0 imported, 3 skipped, 0 errors (out of 3 dates)" {
		t.Fatalf("unexpected summary %q", sink.finished)
	}
}

func TestRunPassSkippedDateStillAdvancesWatermark(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 10, 6, 0, 0, 0, time.UTC)
	// 03-09 imports, 03-10 is missing upstream; the skip is folded into
	// the advancing candidate.
	src := &fakeSource{bundles: map[string]domain.Bundle{
		"2024-03-09": validBundle(3),
	}}
	sink := &fakeSink{}
	store := &fakeStore{}

	if err := newPipeline(src, sink, store, 1).RunPass(context.Background(), now); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}

	wm := domain.ParseWatermark(store.state)
	if wm == nil {
		t.Fatal("expected persisted watermark")
	}
	if got := wm.LastProcessedDate.Format("2006-01-02"); got != "2024-03-10" {
		t.Fatalf("skipped date should advance the watermark, got %s", got)
	}
}

func TestRunPassForwardFailureCounts(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 10, 6, 0, 0, 0, time.UTC)
	src := &fakeSource{bundles: map[string]domain.Bundle{
		"2024-03-10": validBundle(4),
	}}
	sink := &fakeSink{sendErr: errors.New("ingest queue full")}
	store := &fakeStore{}

	if err := newPipeline(src, sink, store, 0).RunPass(context.Background(), now); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if store.setCalls != 0 {
		t.Fatal("forwarding failure with zero imports must not persist state")
	}
	if sink.finished != "0 imported, 0 skipped, 1 errors (out of 1 dates)" {
		t.Fatalf("unexpected summary %q", sink.finished)
	}
}

func TestRunPassInitiateWorkFailureAborts(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 10, 6, 0, 0, 0, time.UTC)
	src := &fakeSource{}
	sink := &fakeSink{initiateErr: errors.New("platform down")}
	store := &fakeStore{}

	err := newPipeline(src, sink, store, 2).RunPass(context.Background(), now)
	if err == nil {
		t.Fatal("expected error when work cannot be initiated")
	}
	if len(src.fetched) != 0 {
		t.Fatalf("no date should be fetched without a work, got %v", src.fetched)
	}
	if store.setCalls != 0 {
		t.Fatal("state must not change on an aborted pass")
	}
}
