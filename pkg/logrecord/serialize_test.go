package logrecord

import (
	"bytes"
	"testing"

	"github.com/junjiexh/rookiedb/pkg/primitives"
	"github.com/junjiexh/rookiedb/pkg/txn"
)

// roundTrip serializes r, deserializes the result, and copies r.LSN onto
// the decoded record since Serialize/Deserialize never carries the LSN
// through the payload (the log store assigns it from position).
func roundTrip(t *testing.T, r *Record) *Record {
	t.Helper()
	payload, err := r.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Deserialize(payload)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	got.LSN = r.LSN
	return got
}

func TestSerializeRoundTripUpdatePage(t *testing.T) {
	before := []byte{1, 2, 3, 4}
	after := []byte{5, 6, 7, 8}
	r, err := NewUpdatePage(42, 100, primitives.PageNum(3), 16, before, after)
	if err != nil {
		t.Fatalf("NewUpdatePage: %v", err)
	}
	r.LSN = 200

	got := roundTrip(t, r)
	if got.Type != UpdatePage || got.TransNum != 42 || got.PrevLSN != 100 ||
		got.PageNum != 3 || got.PageOffset != 16 {
		t.Fatalf("round trip header mismatch: %+v", got)
	}
	if !bytes.Equal(got.Before, before) {
		t.Errorf("Before = %v, want %v", got.Before, before)
	}
	if !bytes.Equal(got.After, after) {
		t.Errorf("After = %v, want %v", got.After, after)
	}
}

func TestSerializeRoundTripUndoUpdatePage(t *testing.T) {
	r := &Record{
		Type:        UndoUpdatePage,
		TransNum:    7,
		PrevLSN:     300,
		PageNum:     primitives.PageNum(9),
		PageOffset:  4,
		UndoNextLSN: 150,
		After:       []byte{0xAA, 0xBB},
	}
	got := roundTrip(t, r)
	if got.PageNum != 9 || got.PageOffset != 4 || got.UndoNextLSN != 150 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !bytes.Equal(got.After, r.After) {
		t.Errorf("After = %v, want %v", got.After, r.After)
	}
}

func TestSerializeRoundTripAllocFreePart(t *testing.T) {
	for _, typ := range []Type{AllocPart, FreePart} {
		r := &Record{Type: typ, TransNum: 1, PrevLSN: 10, PageNum: primitives.InvalidPageNum, PartitionNum: primitives.PartitionNum(5)}
		got := roundTrip(t, r)
		if got.Type != typ || got.PartitionNum != 5 {
			t.Errorf("%s round trip mismatch: %+v", typ, got)
		}
	}
}

func TestSerializeRoundTripUndoAllocFreePart(t *testing.T) {
	for _, typ := range []Type{UndoAllocPart, UndoFreePart} {
		r := &Record{Type: typ, TransNum: 1, PrevLSN: 10, PageNum: primitives.InvalidPageNum, PartitionNum: primitives.PartitionNum(5), UndoNextLSN: 2}
		got := roundTrip(t, r)
		if got.Type != typ || got.PartitionNum != 5 || got.UndoNextLSN != 2 {
			t.Errorf("%s round trip mismatch: %+v", typ, got)
		}
	}
}

func TestSerializeRoundTripAllocFreePage(t *testing.T) {
	for _, typ := range []Type{AllocPage, FreePage} {
		r := &Record{Type: typ, TransNum: 1, PrevLSN: 10, PageNum: primitives.PageNum(8)}
		got := roundTrip(t, r)
		if got.Type != typ || got.PageNum != 8 {
			t.Errorf("%s round trip mismatch: %+v", typ, got)
		}
	}
}

func TestSerializeRoundTripStatusRecords(t *testing.T) {
	for _, typ := range []Type{CommitTransaction, AbortTransaction, EndTransaction} {
		r := &Record{Type: typ, TransNum: 3, PrevLSN: 20, PageNum: primitives.InvalidPageNum}
		got := roundTrip(t, r)
		if got.Type != typ || got.TransNum != 3 || got.PrevLSN != 20 {
			t.Errorf("%s round trip mismatch: %+v", typ, got)
		}
	}
}

func TestSerializeRoundTripMaster(t *testing.T) {
	r := NewMaster(primitives.LSN(555))
	got := roundTrip(t, r)
	if got.Type != Master || got.MasterLastCheckpointLSN != 555 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestSerializeRoundTripBeginCheckpoint(t *testing.T) {
	r := NewBeginCheckpoint()
	got := roundTrip(t, r)
	if got.Type != BeginCheckpoint {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestSerializeRoundTripEndCheckpoint(t *testing.T) {
	dpt := []DPTEntry{
		{PageNum: primitives.PageNum(1), RecLSN: 10},
		{PageNum: primitives.PageNum(2), RecLSN: 20},
	}
	txns := []TxnEntry{
		{TransNum: 1, Status: txn.Running, LastLSN: 30},
		{TransNum: 2, Status: txn.Committing, LastLSN: 40},
	}
	r := NewEndCheckpoint(dpt, txns)
	got := roundTrip(t, r)
	if len(got.DPT) != 2 || got.DPT[0] != dpt[0] || got.DPT[1] != dpt[1] {
		t.Fatalf("DPT round trip mismatch: %+v", got.DPT)
	}
	if len(got.Txns) != 2 || got.Txns[0] != txns[0] || got.Txns[1] != txns[1] {
		t.Fatalf("Txns round trip mismatch: %+v", got.Txns)
	}
}

func TestSerializeRoundTripEndCheckpointEmpty(t *testing.T) {
	r := NewEndCheckpoint(nil, nil)
	got := roundTrip(t, r)
	if len(got.DPT) != 0 || len(got.Txns) != 0 {
		t.Fatalf("expected empty DPT/Txns, got %+v", got)
	}
}

func TestDeserializeUnknownTypeFails(t *testing.T) {
	_, err := Deserialize([]byte{255, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	if err == nil {
		t.Fatal("expected error deserializing an unknown type tag")
	}
}
