// Package record implements caskdb's on-disk record framing: encoding and
// decoding the length-prefixed, checksummed binary unit that every segment
// is a sequence of.
package record

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"

	"github.com/caskdb/caskdb/pkg/caskerr"
)

// Kind distinguishes a live write from a deletion marker.
type Kind uint8

const (
	// KindTombstone marks a key as deleted. Its Value is always empty.
	KindTombstone Kind = iota
	// KindPut writes a live key/value mapping.
	KindPut
)

// HeaderLen is the fixed size of a record header:
// 8-byte xxh3 checksum, 4-byte key length, 4-byte value length, 1-byte
// kind tag, 1-byte reserved (kept zero, ignored on read).
const HeaderLen = 18

const checksumLen = 8

// Record is one decoded Put or Tombstone entry together with the byte
// range it occupied on disk.
type Record struct {
	Kind   Kind
	Key    []byte
	Value  []byte
	Offset int64 // start offset of the record within its segment
	Length int64 // total encoded length, header included
}

// ErrCorrupt is returned when a record's framing parses but its checksum
// does not match its payload. Unlike running off the end of the file
// (a legitimate truncated tail), this always indicates damage to a record
// that was fully written and acknowledged. It wraps
// caskerr.ErrChecksumMismatch, so callers of the engine can match it with
// errors.Is.
var ErrCorrupt = fmt.Errorf("record: %w", caskerr.ErrChecksumMismatch)

// Encode serializes kind/key/value into caskdb's wire format and returns
// the full byte slice ready to append to a segment.
func Encode(kind Kind, key, value []byte) []byte {
	total := HeaderLen + len(key) + len(value)
	buf := make([]byte, total)

	body := buf[checksumLen:]
	binary.LittleEndian.PutUint32(body, uint32(len(key)))
	binary.LittleEndian.PutUint32(body[4:], uint32(len(value)))
	body[8] = byte(kind)
	body[9] = 0 // reserved

	n := copy(body[HeaderLen-checksumLen:], key)
	copy(body[HeaderLen-checksumLen+n:], value)

	checksum := xxh3.Hash(buf[checksumLen:])
	binary.LittleEndian.PutUint64(buf, checksum)

	return buf
}

// DecodeAt reads and decodes a single record at off from r, verifying its
// checksum when verify is true. It performs exactly two reads: the fixed
// header, then the key+value payload whose length the header names.
func DecodeAt(r io.ReaderAt, off int64, verify bool) (Record, error) {
	var hdr [HeaderLen]byte
	if _, err := r.ReadAt(hdr[:], off); err != nil {
		return Record{}, fmt.Errorf("read header at %d: %w", off, err)
	}

	checksum, keyLen, valLen, kind := parseHeader(hdr)
	total := HeaderLen + keyLen + valLen

	buf := make([]byte, total)
	copy(buf, hdr[:])
	if _, err := r.ReadAt(buf[HeaderLen:], off+HeaderLen); err != nil {
		return Record{}, fmt.Errorf("read payload at %d: %w", off+HeaderLen, err)
	}

	if verify {
		if computed := xxh3.Hash(buf[checksumLen:]); computed != checksum {
			return Record{}, fmt.Errorf("%w: offset %d: expected %x, got %x", ErrCorrupt, off, checksum, computed)
		}
	}

	rec := Record{
		Kind:   kind,
		Key:    buf[HeaderLen : HeaderLen+keyLen],
		Value:  buf[HeaderLen+keyLen:],
		Offset: off,
		Length: int64(total),
	}
	return rec, nil
}

func parseHeader(hdr [HeaderLen]byte) (checksum uint64, keyLen, valLen int, kind Kind) {
	checksum = binary.LittleEndian.Uint64(hdr[:checksumLen])
	keyLen = int(binary.LittleEndian.Uint32(hdr[checksumLen:]))
	valLen = int(binary.LittleEndian.Uint32(hdr[checksumLen+4:]))
	kind = Kind(hdr[checksumLen+8])
	return
}

// Scanner sequentially decodes records from the start of a segment,
// stopping cleanly at a truncated tail (a partial record left by a crash
// mid-append) and failing on a corrupted one found before the tail.
//
// A Scanner owns a private bufio.Reader over an io.SectionReader, so two
// Scanners over the same segment never share a cursor.
type Scanner struct {
	r       *bufio.Reader
	verify  bool
	end     int64 // offset just past the last successfully scanned record
	current Record
	err     error
}

// NewScanner returns a Scanner that reads sequentially from r starting at
// offset 0.
func NewScanner(r io.ReaderAt, verify bool) *Scanner {
	const maxInt64 = 1<<63 - 1
	sr := io.NewSectionReader(r, 0, maxInt64)
	return &Scanner{r: bufio.NewReader(sr), verify: verify}
}

// Scan advances to the next record, returning false at a clean end of
// stream or on the first error. Callers must check Err after Scan returns
// false to distinguish "no more records" from "a corrupt record appeared
// mid-segment".
func (s *Scanner) Scan() bool {
	if s.err != nil {
		return false
	}

	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
		if !isTruncation(err) {
			s.err = fmt.Errorf("read header: %w", err)
		}
		return false
	}

	checksum, keyLen, valLen, kind := parseHeader(hdr)
	total := HeaderLen + keyLen + valLen

	buf := make([]byte, total)
	copy(buf, hdr[:])
	if _, err := io.ReadFull(s.r, buf[HeaderLen:]); err != nil {
		if !isTruncation(err) {
			s.err = fmt.Errorf("read payload: %w", err)
		}
		// A short read here means a key or value that was never fully
		// written: a legitimate crash tail, not corruption.
		return false
	}

	if s.verify {
		if computed := xxh3.Hash(buf[checksumLen:]); computed != checksum {
			s.err = fmt.Errorf("%w: offset %d: expected %x, got %x", ErrCorrupt, s.end, checksum, computed)
			return false
		}
	}
	if kind != KindPut && kind != KindTombstone {
		s.err = fmt.Errorf("unknown record kind %d at offset %d", kind, s.end)
		return false
	}

	s.current = Record{
		Kind:   kind,
		Key:    buf[HeaderLen : HeaderLen+keyLen],
		Value:  buf[HeaderLen+keyLen:],
		Offset: s.end,
		Length: int64(total),
	}
	s.end += int64(total)

	return true
}

// Record returns the record produced by the most recent successful Scan.
func (s *Scanner) Record() Record { return s.current }

// End returns the offset just past the last successfully scanned record,
// i.e. where a truncated tail (if any) begins. Segment recovery truncates
// the file to this offset to discard a partial crash-time write.
func (s *Scanner) End() int64 { return s.end }

// Err returns the first non-truncation error encountered, or nil if Scan
// stopped because it reached a clean or truncated end of stream.
func (s *Scanner) Err() error { return s.err }

func isTruncation(err error) bool {
	return err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF)
}
