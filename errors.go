package caskdb

import "github.com/caskdb/caskdb/pkg/caskerr"

// Re-exported so callers can write errors.Is(err, caskdb.ErrKeyNotFound)
// without importing pkg/caskerr directly for the common cases.
var (
	ErrKeyNotFound      = caskerr.ErrKeyNotFound
	ErrLocked           = caskerr.ErrLocked
	ErrChecksumMismatch = caskerr.ErrChecksumMismatch
	ErrCorruptIndex     = caskerr.ErrCorruptIndex
)

// OpenError, SetError, GetError, RemoveError and MergeError are caskdb's
// per-operation error types; see pkg/caskerr for their Code() accessor.
type (
	OpenError   = caskerr.OpenError
	SetError    = caskerr.SetError
	GetError    = caskerr.GetError
	RemoveError = caskerr.RemoveError
	MergeError  = caskerr.MergeError
)
