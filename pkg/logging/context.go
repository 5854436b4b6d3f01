package logging

import (
	"log/slog"
)

// WithTxn creates a logger with transaction context.
// Use this to automatically include the transaction number in all logs.
//
// Example:
//
//	log := logging.WithTxn(txnNum)
//	log.Info("starting operation")
//	log.Debug("rollback", "target_lsn", targetLSN)
func WithTxn(txnNum int64) *slog.Logger {
	return GetLogger().With("txn", txnNum)
}

// WithResource creates a logger with resource context.
// Use this for lock manager and lock context operations.
//
// Example:
//
//	log := logging.WithResource(name.String())
//	log.Info("lock granted", "mode", mode)
func WithResource(resourceName string) *slog.Logger {
	return GetLogger().With("resource", resourceName)
}

// WithTxnResource creates a logger with both transaction and resource context.
//
// Example:
//
//	log := logging.WithTxnResource(txnNum, name.String())
//	log.Info("acquire", "mode", mode)
func WithTxnResource(txnNum int64, resourceName string) *slog.Logger {
	return GetLogger().With("txn", txnNum, "resource", resourceName)
}

// WithLSN creates a logger with log-sequence-number context.
// Useful for recovery manager operations.
//
// Example:
//
//	log := logging.WithLSN(lsn)
//	log.Debug("appended update record")
func WithLSN(lsn uint64) *slog.Logger {
	return GetLogger().With("lsn", lsn)
}

// WithComponent creates a logger with component/subsystem context.
//
// Example:
//
//	log := logging.WithComponent("recovery")
//	log.Info("restart beginning")
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// WithError creates a logger with error context.
// Use this when logging errors to include the error in structured format.
//
// Example:
//
//	log := logging.WithError(err)
//	log.Error("rollback failed", "operation", "undo")
func WithError(err error) *slog.Logger {
	return GetLogger().With("error", err.Error())
}
