package logrecord

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/junjiexh/rookiedb/pkg/dberr"
	"github.com/junjiexh/rookiedb/pkg/primitives"
	"github.com/junjiexh/rookiedb/pkg/txn"
)

// Serialize encodes r into its big-endian binary layout. LSN is never
// written: it is assigned by the log store's Append and, on the read side,
// recovered from the record's position rather than round-tripped through
// the payload.
func (r *Record) Serialize() ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.BigEndian, byte(r.Type)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, int64(r.TransNum)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint64(r.PrevLSN)); err != nil {
		return nil, err
	}

	var err error
	switch r.Type {
	case Master:
		err = binary.Write(&buf, binary.BigEndian, uint64(r.MasterLastCheckpointLSN))
	case UpdatePage:
		err = writeUpdatePage(&buf, r)
	case UndoUpdatePage:
		err = writeUndoUpdatePage(&buf, r)
	case AllocPart, FreePart:
		err = binary.Write(&buf, binary.BigEndian, int64(r.PartitionNum))
	case UndoAllocPart, UndoFreePart:
		if err = binary.Write(&buf, binary.BigEndian, int64(r.PartitionNum)); err == nil {
			err = binary.Write(&buf, binary.BigEndian, uint64(r.UndoNextLSN))
		}
	case AllocPage, FreePage:
		err = binary.Write(&buf, binary.BigEndian, int64(r.PageNum))
	case UndoAllocPage, UndoFreePage:
		if err = binary.Write(&buf, binary.BigEndian, int64(r.PageNum)); err == nil {
			err = binary.Write(&buf, binary.BigEndian, uint64(r.UndoNextLSN))
		}
	case CommitTransaction, AbortTransaction, EndTransaction, BeginCheckpoint:
		// no type-specific payload
	case EndCheckpoint:
		err = writeEndCheckpoint(&buf, r)
	default:
		return nil, dberr.ErrAssertion.WithDetail(fmt.Sprintf("serialize: unknown log record type %d", r.Type))
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeUpdatePage(buf *bytes.Buffer, r *Record) error {
	if err := binary.Write(buf, binary.BigEndian, int64(r.PageNum)); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, int32(r.PageOffset)); err != nil {
		return err
	}
	if err := writeBlob(buf, r.Before); err != nil {
		return err
	}
	return writeBlob(buf, r.After)
}

func writeUndoUpdatePage(buf *bytes.Buffer, r *Record) error {
	if err := binary.Write(buf, binary.BigEndian, int64(r.PageNum)); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, int32(r.PageOffset)); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, uint64(r.UndoNextLSN)); err != nil {
		return err
	}
	return writeBlob(buf, r.After)
}

func writeBlob(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

func writeEndCheckpoint(buf *bytes.Buffer, r *Record) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(r.DPT))); err != nil {
		return err
	}
	for _, e := range r.DPT {
		if err := binary.Write(buf, binary.BigEndian, int64(e.PageNum)); err != nil {
			return err
		}
		if err := binary.Write(buf, binary.BigEndian, uint64(e.RecLSN)); err != nil {
			return err
		}
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(r.Txns))); err != nil {
		return err
	}
	for _, e := range r.Txns {
		if err := binary.Write(buf, binary.BigEndian, int64(e.TransNum)); err != nil {
			return err
		}
		if err := binary.Write(buf, binary.BigEndian, byte(e.Status)); err != nil {
			return err
		}
		if err := binary.Write(buf, binary.BigEndian, uint64(e.LastLSN)); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes payload (as produced by Serialize) into a Record. The
// caller is responsible for setting the returned record's LSN from its
// position in the log. An unrecognized type tag is a fatal parse error:
// restart cannot make progress without knowing a record's shape.
func Deserialize(payload []byte) (*Record, error) {
	r := bytes.NewReader(payload)

	var typByte byte
	if err := binary.Read(r, binary.BigEndian, &typByte); err != nil {
		return nil, dberr.Wrap(err, dberr.CodeIllegalState, "Deserialize", "logrecord")
	}
	typ := Type(typByte)

	var transNum int64
	if err := binary.Read(r, binary.BigEndian, &transNum); err != nil {
		return nil, dberr.Wrap(err, dberr.CodeIllegalState, "Deserialize", "logrecord")
	}
	var prevLSN uint64
	if err := binary.Read(r, binary.BigEndian, &prevLSN); err != nil {
		return nil, dberr.Wrap(err, dberr.CodeIllegalState, "Deserialize", "logrecord")
	}

	rec := &Record{
		Type:     typ,
		TransNum: primitives.TransactionNum(transNum),
		PrevLSN:  primitives.LSN(prevLSN),
		PageNum:  primitives.InvalidPageNum,
	}

	var err error
	switch typ {
	case Master:
		var v uint64
		err = binary.Read(r, binary.BigEndian, &v)
		rec.MasterLastCheckpointLSN = primitives.LSN(v)
	case UpdatePage:
		err = readUpdatePage(r, rec)
	case UndoUpdatePage:
		err = readUndoUpdatePage(r, rec)
	case AllocPart, FreePart:
		var v int64
		err = binary.Read(r, binary.BigEndian, &v)
		rec.PartitionNum = primitives.PartitionNum(v)
	case UndoAllocPart, UndoFreePart:
		var v int64
		if err = binary.Read(r, binary.BigEndian, &v); err == nil {
			rec.PartitionNum = primitives.PartitionNum(v)
			var u uint64
			err = binary.Read(r, binary.BigEndian, &u)
			rec.UndoNextLSN = primitives.LSN(u)
		}
	case AllocPage, FreePage:
		var v int64
		err = binary.Read(r, binary.BigEndian, &v)
		rec.PageNum = primitives.PageNum(v)
	case UndoAllocPage, UndoFreePage:
		var v int64
		if err = binary.Read(r, binary.BigEndian, &v); err == nil {
			rec.PageNum = primitives.PageNum(v)
			var u uint64
			err = binary.Read(r, binary.BigEndian, &u)
			rec.UndoNextLSN = primitives.LSN(u)
		}
	case CommitTransaction, AbortTransaction, EndTransaction, BeginCheckpoint:
		// no type-specific payload
	case EndCheckpoint:
		err = readEndCheckpoint(r, rec)
	default:
		return nil, dberr.ErrIllegalState.WithDetail(fmt.Sprintf("unknown log record type %d", typByte))
	}
	if err != nil {
		return nil, dberr.Wrap(err, dberr.CodeIllegalState, "Deserialize", "logrecord")
	}
	return rec, nil
}

func readUpdatePage(r *bytes.Reader, rec *Record) error {
	var pageNum int64
	if err := binary.Read(r, binary.BigEndian, &pageNum); err != nil {
		return err
	}
	rec.PageNum = primitives.PageNum(pageNum)

	var offset int32
	if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
		return err
	}
	rec.PageOffset = int(offset)

	before, err := readBlob(r)
	if err != nil {
		return err
	}
	rec.Before = before

	after, err := readBlob(r)
	if err != nil {
		return err
	}
	rec.After = after
	return nil
}

func readUndoUpdatePage(r *bytes.Reader, rec *Record) error {
	var pageNum int64
	if err := binary.Read(r, binary.BigEndian, &pageNum); err != nil {
		return err
	}
	rec.PageNum = primitives.PageNum(pageNum)

	var offset int32
	if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
		return err
	}
	rec.PageOffset = int(offset)

	var undoNext uint64
	if err := binary.Read(r, binary.BigEndian, &undoNext); err != nil {
		return err
	}
	rec.UndoNextLSN = primitives.LSN(undoNext)

	after, err := readBlob(r)
	if err != nil {
		return err
	}
	rec.After = after
	return nil
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readEndCheckpoint(r *bytes.Reader, rec *Record) error {
	var dptCount uint32
	if err := binary.Read(r, binary.BigEndian, &dptCount); err != nil {
		return err
	}
	rec.DPT = make([]DPTEntry, dptCount)
	for i := range rec.DPT {
		var pageNum int64
		if err := binary.Read(r, binary.BigEndian, &pageNum); err != nil {
			return err
		}
		var recLSN uint64
		if err := binary.Read(r, binary.BigEndian, &recLSN); err != nil {
			return err
		}
		rec.DPT[i] = DPTEntry{PageNum: primitives.PageNum(pageNum), RecLSN: primitives.LSN(recLSN)}
	}

	var txnCount uint32
	if err := binary.Read(r, binary.BigEndian, &txnCount); err != nil {
		return err
	}
	rec.Txns = make([]TxnEntry, txnCount)
	for i := range rec.Txns {
		var transNum int64
		if err := binary.Read(r, binary.BigEndian, &transNum); err != nil {
			return err
		}
		var status byte
		if err := binary.Read(r, binary.BigEndian, &status); err != nil {
			return err
		}
		var lastLSN uint64
		if err := binary.Read(r, binary.BigEndian, &lastLSN); err != nil {
			return err
		}
		rec.Txns[i] = TxnEntry{TransNum: primitives.TransactionNum(transNum), Status: txn.Status(status), LastLSN: primitives.LSN(lastLSN)}
	}
	return nil
}
