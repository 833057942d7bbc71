package contentfile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testOptions(dir string, maxSize int64) Options {
	return Options{Dir: dir, Prefix: "doc_raw_", Suffix: ".bin", MaxSize: maxSize}
}

func TestAppendRecordLayout(t *testing.T) {
	got := AppendRecord(nil, 7, []byte("<p>hi</p>"))

	want := []byte("doc_7")
	want = append(want, 0x1F, 0, 0, 0, 0, 0, 0, 0, 9, 0x1F)
	want = append(want, "<p>hi</p>"...)
	want = append(want, 0x1E)

	if !bytes.Equal(got, want) {
		t.Errorf("AppendRecord() = %v, want %v", got, want)
	}
	if RecordSize(7, 9) != len(want) {
		t.Errorf("RecordSize() = %d, want %d", RecordSize(7, 9), len(want))
	}
}

func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(testOptions(dir, 1<<20))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	bodies := map[uint64]string{
		1: "<html><title>one</title></html>",
		2: strings.Repeat("x", 300), // longer than a single byte length could express
		3: "binary \x1e\x1f\x17 inside",
	}
	for id := uint64(1); id <= 3; id++ {
		if _, err := w.Append(id, []byte(bodies[id])); err != nil {
			t.Fatalf("Append(%d) error = %v", id, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	records, err := ReadFile(filepath.Join(dir, "doc_raw_0.bin"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for _, rec := range records {
		if string(rec.Body) != bodies[rec.ID] {
			t.Errorf("record %d body mismatch", rec.ID)
		}
	}
}

func TestWriterRotation(t *testing.T) {
	dir := t.TempDir()
	body := []byte(strings.Repeat("a", 100))
	recordSize := int64(RecordSize(10, len(body)))
	maxSize := recordSize*3 + 10

	w, err := Open(testOptions(dir, maxSize))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	rotations := 0
	for id := uint64(10); id < 20; id++ {
		res, err := w.Append(id, body)
		if err != nil {
			t.Fatalf("Append(%d) error = %v", id, err)
		}
		if res.Rotated {
			rotations++
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// 10 records at three per file
	if rotations != 3 {
		t.Errorf("rotations = %d, want 3", rotations)
	}

	total := 0
	for i := 0; i < 4; i++ {
		path := filepath.Join(dir, "doc_raw_"+string(rune('0'+i))+".bin")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if data[len(data)-1] != Terminator {
			t.Errorf("%s does not end with terminator", path)
		}
		if int64(len(data)-1) > maxSize {
			t.Errorf("%s payload %d exceeds max %d", path, len(data)-1, maxSize)
		}
		records, err := ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", path, err)
		}
		total += len(records)
	}
	if total != 10 {
		t.Errorf("total records = %d, want 10", total)
	}
}

func TestWriterOversizedRecordGetsOwnFile(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(testOptions(dir, 16))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w.Close()

	first, err := w.Append(1, []byte(strings.Repeat("b", 64)))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if first.Rotated {
		t.Error("first record into an empty file must not rotate")
	}
	second, err := w.Append(2, []byte("c"))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if !second.Rotated || second.Path == first.Path {
		t.Errorf("second record should land in a new file, got %+v", second)
	}
}

func TestWriterResumesAfterExistingFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"doc_raw_0.bin", "doc_raw_4.bin", "other_9.bin", "doc_raw_x.bin"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{Terminator}, 0600); err != nil {
			t.Fatal(err)
		}
	}

	w, err := Open(testOptions(dir, 1024))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w.Close()

	if w.Index() != 5 {
		t.Errorf("Index() = %d, want 5", w.Index())
	}
	if filepath.Base(w.Path()) != "doc_raw_5.bin" {
		t.Errorf("Path() = %s", w.Path())
	}
}

func TestWriterClosed(t *testing.T) {
	w, err := Open(testOptions(t.TempDir(), 1024))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := w.Append(1, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close error = %v, want ErrClosed", err)
	}
}

func TestOpenRejectsZeroMaxSize(t *testing.T) {
	if _, err := Open(testOptions(t.TempDir(), 0)); err == nil {
		t.Error("expected error for zero max size")
	}
}
