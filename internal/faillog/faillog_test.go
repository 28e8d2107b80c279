package faillog

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "publish_errors.log")
	l, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	if err := l.Append(Entry{Time: at, Unit: "/nm/d", Name: "d", Version: "1.0.0", Stage: "resolve", Kind: "NotFound", Detail: "d@1.0.0"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(Entry{Unit: "/nm/x", Stage: "publish", Kind: "Rejected"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 2 || l.Count() != 2 {
		t.Fatalf("got %d entries, count %d; want 2", len(entries), l.Count())
	}
	if !entries[0].Time.Equal(at) || entries[0].Time.Location() != time.UTC {
		t.Errorf("Time = %v, want %v in UTC", entries[0].Time, at)
	}
	if entries[0].Kind != "NotFound" || entries[0].Name != "d" {
		t.Errorf("entry = %+v", entries[0])
	}
	if entries[1].Time.IsZero() {
		t.Error("zero time was not filled in")
	}
}

func TestAppendKeepsPreviousRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.log")
	for run := range 2 {
		l, err := New(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := l.Append(Entry{Unit: fmt.Sprintf("/run/%d", run), Stage: "build", Kind: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := Read(path)
	if err != nil || len(entries) != 2 {
		t.Fatalf("Read = %d entries, %v; want 2", len(entries), err)
	}
}

func TestConcurrentAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.log")
	l, err := New(path)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(Entry{Unit: fmt.Sprintf("/nm/%d", i), Stage: "publish", Kind: "Rejected"})
		}()
	}
	wg.Wait()

	entries, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 50 {
		t.Errorf("got %d entries, want 50", len(entries))
	}
}

func TestNilLog(t *testing.T) {
	var l *Log
	if err := l.Append(Entry{Unit: "x"}); err != nil {
		t.Errorf("nil Append = %v", err)
	}
	if l.Path() != "" || l.Count() != 0 {
		t.Error("nil log should be empty")
	}
}

func TestReadMissing(t *testing.T) {
	entries, err := Read(filepath.Join(t.TempDir(), "none.log"))
	if err != nil || entries != nil {
		t.Errorf("Read(missing) = %v, %v", entries, err)
	}
}
