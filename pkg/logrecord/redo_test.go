package logrecord_test

import (
	"testing"

	"github.com/junjiexh/rookiedb/internal/fakebuffer"
	"github.com/junjiexh/rookiedb/internal/fakedisk"
	"github.com/junjiexh/rookiedb/pkg/logrecord"
	"github.com/junjiexh/rookiedb/pkg/primitives"
)

func TestRedoUpdatePageWritesAndBumpsPageLSN(t *testing.T) {
	disk := fakedisk.New()
	part, err := disk.AllocPart()
	if err != nil {
		t.Fatalf("AllocPart: %v", err)
	}
	pageNum, err := disk.AllocPage(part)
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	store := fakebuffer.NewDiskStore()
	bm := fakebuffer.New(store)

	r, err := logrecord.NewUpdatePage(1, 0, pageNum, 0, []byte{0, 0}, []byte{0xCA, 0xFE})
	if err != nil {
		t.Fatalf("NewUpdatePage: %v", err)
	}
	r.LSN = 123

	if err := r.Redo(disk, bm); err != nil {
		t.Fatalf("Redo: %v", err)
	}

	page, err := bm.FetchPage(pageNum)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	defer page.Unpin()

	if page.PageLSN() != 123 {
		t.Errorf("PageLSN = %d, want 123", page.PageLSN())
	}
	if page.Data()[0] != 0xCA || page.Data()[1] != 0xFE {
		t.Errorf("page data = %v, want written after-image at offset 0", page.Data()[:2])
	}
}

func TestRedoAllocPartIsIdempotent(t *testing.T) {
	disk := fakedisk.New()
	r := &logrecord.Record{Type: logrecord.AllocPart, PartitionNum: primitives.PartitionNum(7), PageNum: primitives.InvalidPageNum}

	if err := r.Redo(disk, nil); err != nil {
		t.Fatalf("first Redo: %v", err)
	}
	if err := r.Redo(disk, nil); err != nil {
		t.Fatalf("second Redo (idempotent replay): %v", err)
	}
	if !disk.PartitionExists(primitives.PartitionNum(7)) {
		t.Error("partition 7 should exist after redoing ALLOC_PART")
	}
}
