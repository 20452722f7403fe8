package msmcp

import "github.com/sqlctx/mssql-mcp/internal/sqlerr"

// Error is the structured error type every engine operation returns.
// Callers dispatch on Kind; Error() carries server messages verbatim.
type Error = sqlerr.Error

// ErrorKind classifies an engine Error.
type ErrorKind = sqlerr.Kind

// The engine's error taxonomy.
const (
	KindConnection                = sqlerr.KindConnection
	KindDatabaseNotFoundOrOffline = sqlerr.KindDatabaseNotFoundOrOffline
	KindValidation                = sqlerr.KindValidation
	KindQueryExecution            = sqlerr.KindQueryExecution
	KindObjectNotFound            = sqlerr.KindObjectNotFound
	KindPermissionDenied          = sqlerr.KindPermissionDenied
	KindTimeoutExceeded           = sqlerr.KindTimeoutExceeded
	KindSessionNotFound           = sqlerr.KindSessionNotFound
	KindSessionNotReady           = sqlerr.KindSessionNotReady
	KindCapabilityUnsupported     = sqlerr.KindCapabilityUnsupported
)

// ErrorKindOf returns the kind of err, or the zero ErrorKind if err was not
// produced by this engine.
func ErrorKindOf(err error) ErrorKind {
	return sqlerr.KindOf(err)
}
