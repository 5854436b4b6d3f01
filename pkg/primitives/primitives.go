// Package primitives defines the small scalar types shared across the lock
// and recovery subsystems, so that neither package needs to import the other
// just to agree on what an LSN or a page number is.
package primitives

import "fmt"

// LSN is a Log Sequence Number: a monotonically assigned, 64-bit identifier
// for a log record. LSN 0 is reserved for the master record and is never
// assigned to a transaction's own record.
type LSN uint64

// MasterLSN is the fixed LSN of the master record.
const MasterLSN LSN = 0

// InvalidLSN is returned by logging routines for an operation against the
// reserved log partition, which is never actually logged. LSN is unsigned,
// so this is the bit pattern conventionally written -1 in the ARIES
// literature: all-ones, larger than any real LSN the log will ever assign.
const InvalidLSN LSN = ^LSN(0)

// PageNum identifies a page within the database, unique across partitions.
type PageNum int64

// InvalidPageNum marks the absence of a page number on a record that doesn't
// carry one (e.g. a status record).
const InvalidPageNum PageNum = -1

// PartitionNum identifies a partition. Partition 0 is reserved for the log.
type PartitionNum int64

// LogPartition is the partition reserved for the write-ahead log itself;
// the disk space manager's AllocPart never hands it out, and logging
// routines return InvalidLSN (the unsigned stand-in for -1) for operations
// against it.
const LogPartition PartitionNum = 0

// TransactionNum identifies a transaction across its lifetime.
type TransactionNum int64

// InvalidTransactionNum marks the absence of a transaction number on a
// record that doesn't carry one (e.g. a checkpoint record).
const InvalidTransactionNum TransactionNum = -1

func (n TransactionNum) String() string {
	return fmt.Sprintf("txn#%d", int64(n))
}
