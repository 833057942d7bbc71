// Package contentfile implements the binary content file that page bodies are
// appended to.
//
// A file is a sequence of records followed by a single terminator byte:
//
//	record     = "doc_" id US length US body RS
//	id         = decimal document id, UTF-8
//	length     = byte length of body, 8-byte big-endian unsigned integer
//	body       = page HTML, UTF-8
//	US = 0x1F, RS = 0x1E, terminator = 0x17
//
// The length field is fixed width, so readers locate the end of a record from
// the length and then verify the RS byte. Bodies may contain any byte value.
package contentfile

import (
	"encoding/binary"
	"errors"
	"strconv"
)

const (
	// FieldSeparator separates the id, length and body of a record
	FieldSeparator byte = 0x1F
	// RecordSeparator ends every record
	RecordSeparator byte = 0x1E
	// Terminator is written once when a file is closed or rotated
	Terminator byte = 0x17

	idPrefix    = "doc_"
	lengthWidth = 8
)

var (
	// ErrClosed is returned by Append after Close
	ErrClosed = errors.New("content file writer is closed")
	// ErrCorrupt is returned when a record does not match the file format
	ErrCorrupt = errors.New("corrupt content file record")
	// ErrUnterminated is returned when a file ends without the terminator byte
	ErrUnterminated = errors.New("content file is not terminated")
)

// RecordSize returns the encoded size of a record for id with a body of n bytes
func RecordSize(id uint64, n int) int {
	return len(idPrefix) + len(strconv.FormatUint(id, 10)) + 1 + lengthWidth + 1 + n + 1
}

// AppendRecord appends the encoded record to dst and returns the extended slice
func AppendRecord(dst []byte, id uint64, body []byte) []byte {
	dst = append(dst, idPrefix...)
	dst = strconv.AppendUint(dst, id, 10)
	dst = append(dst, FieldSeparator)
	dst = binary.BigEndian.AppendUint64(dst, uint64(len(body)))
	dst = append(dst, FieldSeparator)
	dst = append(dst, body...)
	dst = append(dst, RecordSeparator)
	return dst
}
