package changelog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestFileWriter_Append(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(dir, "wbsync.jsonl")
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}

	e1 := Event{SRID: "srid-1", GNumber: "g-1", LastChange: 100, TS: 1}
	e2 := Event{SRID: "srid-2", LastChange: 200, Cancelled: true, TS: 2}
	if err := w.Append(e1); err != nil {
		t.Fatalf("append1: %v", err)
	}
	if err := w.Append(e2); err != nil {
		t.Fatalf("append2: %v", err)
	}

	fpath := filepath.Join(dir, "wbsync.jsonl")
	f, err := os.Open(fpath)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	var got []Event
	for s.Scan() {
		var e Event
		if err := json.Unmarshal(s.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, e)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 lines, got %d", len(got))
	}
	if got[0] != e1 || got[1] != e2 {
		t.Fatalf("mismatch: %+v vs %+v,%+v", got, e1, e2)
	}
}

// fakeKafkaWriter implements kafkaMessageWriter for tests
type fakeKafkaWriter struct {
	msgs []kafka.Message
	fail bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("fail")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaWriter_Append_Success(t *testing.T) {
	fk := &fakeKafkaWriter{}
	kw := NewKafkaWriterWith(fk)
	e := Event{SRID: "srid-1", LastChange: 100, TS: 1}
	if err := kw.Append(e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(fk.msgs) != 1 {
		t.Fatalf("want 1 msg, got %d", len(fk.msgs))
	}
	if string(fk.msgs[0].Key) != e.SRID {
		t.Fatalf("bad key: %s", string(fk.msgs[0].Key))
	}
}

func TestKafkaWriter_Append_Fail(t *testing.T) {
	fk := &fakeKafkaWriter{fail: true}
	kw := NewKafkaWriterWith(fk)
	if err := kw.Append(Event{SRID: "srid-1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMultiWriter_FanOut(t *testing.T) {
	fk1 := &fakeKafkaWriter{}
	fk2 := &fakeKafkaWriter{}
	mw := NewMultiWriter(NewKafkaWriterWith(fk1), NewKafkaWriterWith(fk2))
	if err := mw.Append(Event{SRID: "srid-1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(fk1.msgs) != 1 || len(fk2.msgs) != 1 {
		t.Fatalf("fan out failed: %d, %d", len(fk1.msgs), len(fk2.msgs))
	}
}
