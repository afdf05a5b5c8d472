package caskerr

// Code categorizes the underlying cause of a caskdb error so callers can
// branch on failure class without parsing messages or the wrapped chain.
type Code string

const (
	// CodeIO covers failures in the filesystem calls caskdb depends on:
	// opening, reading, writing, syncing or removing segment and manifest
	// files.
	CodeIO Code = "IO_ERROR"

	// CodeNotDirectory is returned when the database path exists but is
	// not a directory.
	CodeNotDirectory Code = "NOT_A_DIRECTORY"

	// CodeLocked is returned when another process (or another open
	// handle in this one) already holds the directory's exclusivity
	// lock.
	CodeLocked Code = "DIRECTORY_LOCKED"

	// CodeCorrupt is returned when a segment's framing is readable but
	// its checksum does not match its payload, or an unknown record tag
	// is encountered outside of a legitimate truncated tail.
	CodeCorrupt Code = "SEGMENT_CORRUPT"

	// CodeKeyNotFound is returned by Get and Remove when the key has no
	// live entry in the keydir.
	CodeKeyNotFound Code = "KEY_NOT_FOUND"

	// CodeInvariant is returned when an internal consistency check
	// fails, e.g. the keydir points at a Tombstone instead of a Put.
	// This should never happen in a correctly operating engine; seeing
	// it means the keydir and the log have diverged.
	CodeInvariant Code = "INVARIANT_VIOLATION"
)
