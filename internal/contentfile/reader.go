package contentfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

const maxBodySize = 1 << 31

// Record is one decoded entry of a content file
type Record struct {
	ID   uint64
	Body []byte
}

// Reader decodes records sequentially
type Reader struct {
	r    *bufio.Reader
	done bool
}

// NewReader returns a Reader over r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next record. It returns io.EOF once the terminator has
// been read, ErrUnterminated if the input ends before it, and ErrCorrupt for
// anything that is not a well formed record.
func (r *Reader) Next() (Record, error) {
	if r.done {
		return Record{}, io.EOF
	}

	first, err := r.r.ReadByte()
	if err == io.EOF {
		return Record{}, ErrUnterminated
	}
	if err != nil {
		return Record{}, err
	}
	if first == Terminator {
		r.done = true
		if _, err := r.r.ReadByte(); err != io.EOF {
			return Record{}, fmt.Errorf("%w: data after terminator", ErrCorrupt)
		}
		return Record{}, io.EOF
	}
	if err := r.r.UnreadByte(); err != nil {
		return Record{}, err
	}

	header, err := r.r.ReadSlice(FieldSeparator)
	if err != nil {
		return Record{}, r.truncated(err)
	}
	label := string(header[:len(header)-1])
	if len(label) <= len(idPrefix) || label[:len(idPrefix)] != idPrefix {
		return Record{}, fmt.Errorf("%w: bad id field %q", ErrCorrupt, label)
	}
	id, err := strconv.ParseUint(label[len(idPrefix):], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad id field %q", ErrCorrupt, label)
	}

	var lengthField [lengthWidth + 1]byte
	if _, err := io.ReadFull(r.r, lengthField[:]); err != nil {
		return Record{}, r.truncated(err)
	}
	if lengthField[lengthWidth] != FieldSeparator {
		return Record{}, fmt.Errorf("%w: missing separator after length of doc_%d", ErrCorrupt, id)
	}
	length := binary.BigEndian.Uint64(lengthField[:lengthWidth])
	if length > maxBodySize {
		return Record{}, fmt.Errorf("%w: length %d of doc_%d out of range", ErrCorrupt, length, id)
	}

	body := make([]byte, length+1)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return Record{}, r.truncated(err)
	}
	if body[length] != RecordSeparator {
		return Record{}, fmt.Errorf("%w: missing record separator for doc_%d", ErrCorrupt, id)
	}

	return Record{ID: id, Body: body[:length]}, nil
}

func (r *Reader) truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrUnterminated
	}
	return err
}

// ReadFile decodes every record of a terminated file
func ReadFile(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open content file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var records []Record
	reader := NewReader(file)
	for {
		record, err := reader.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("%s: %w", path, err)
		}
		records = append(records, record)
	}
}
