package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/serenalabs/breath-engine/internal/database"
	"github.com/serenalabs/breath-engine/internal/model"
)

// fakeSource serves pre-built pages newest first, the way ListSignals does.
type fakeSource struct {
	records []database.StoredSignal
	err     error
	calls   int
}

func (f *fakeSource) ListSignals(_ context.Context, filter database.SignalFilter) ([]database.StoredSignal, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if filter.Offset >= len(f.records) {
		return nil, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(f.records) {
		end = len(f.records)
	}
	return f.records[filter.Offset:end], nil
}

func storedRecord(ts int64) database.StoredSignal {
	return database.StoredSignal{
		SignalRecord: model.SignalRecord{
			DeviceID:  "H10A",
			SessionID: "sess-1",
			Signal:    model.SignalMarker,
			TS:        ts,
		},
	}
}

func newTestArchiver(source SignalSource) *Archiver {
	return &Archiver{
		bucket: "breath-archive",
		prefix: "sessions",
		source: source,
		log:    zerolog.Nop(),
	}
}

func TestExportNDJSON(t *testing.T) {
	// newest first, as the store returns them
	src := &fakeSource{records: []database.StoredSignal{
		storedRecord(3000),
		storedRecord(2000),
		storedRecord(1000),
	}}
	a := newTestArchiver(src)

	buf, total, err := a.exportNDJSON(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("exportNDJSON: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}

	var got []int64
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec model.SignalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		got = append(got, rec.TS)
	}
	want := []int64{1000, 2000, 3000}
	if len(got) != len(want) {
		t.Fatalf("lines = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d ts = %d, want %d (chronological order)", i, got[i], want[i])
		}
	}
}

func TestExportNDJSONEmptySession(t *testing.T) {
	a := newTestArchiver(&fakeSource{})

	buf, total, err := a.exportNDJSON(context.Background(), "sess-empty")
	if err != nil {
		t.Fatalf("exportNDJSON: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if buf.Len() != 0 {
		t.Errorf("buffer not empty: %q", buf.String())
	}
}

func TestExportNDJSONSourceError(t *testing.T) {
	wantErr := errors.New("connection refused")
	a := newTestArchiver(&fakeSource{err: wantErr})

	_, _, err := a.exportNDJSON(context.Background(), "sess-1")
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestObjectKey(t *testing.T) {
	cases := []struct {
		name   string
		prefix string
		want   string
	}{
		{"with_prefix", "sessions", "sessions/sess-1.ndjson"},
		{"no_prefix", "", "sess-1.ndjson"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &Archiver{prefix: tc.prefix}
			if got := a.objectKey("sess-1"); got != tc.want {
				t.Errorf("objectKey = %q, want %q", got, tc.want)
			}
		})
	}
}
