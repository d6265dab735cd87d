package broadcast

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
	"github.com/pickme-go/errors"
	mjErrors "github.com/pickme-go/mapjoin/errors"
)

var magic = []byte(`MJB1`)

// Writer frames encoded key value pairs into a broadcast blob. Frames keep the order
// in which they were appended.
type Writer struct {
	buf     *bytes.Buffer
	entries int
	data    int64
	budget  int64
	scratch [binary.MaxVarintLen64]byte
}

// NewWriter creates a Writer. A budget > 0 caps the key and value bytes of the blob.
// Frame headers are not charged, the same rule the index applies when it decodes.
func NewWriter(budget int64) *Writer {
	return &Writer{buf: new(bytes.Buffer), budget: budget}
}

func (w *Writer) Append(key, value []byte) error {
	size := Charge(key, value)
	if w.budget > 0 && w.data+size > w.budget {
		return mjErrors.New(mjErrors.ResourceExhausted, `broadcast.Writer`,
			errors.New(fmt.Sprintf(`broadcast side exceeds memory budget of %d bytes after %d entries`, w.budget, w.entries)))
	}

	w.putBytes(key)
	w.putBytes(value)
	w.data += size
	w.entries++

	return nil
}

// Charge is what a key value frame costs against a memory budget.
func Charge(key, value []byte) int64 {
	return int64(len(key) + len(value))
}

func (w *Writer) putBytes(b []byte) {
	n := binary.PutUvarint(w.scratch[:], uint64(len(b)))
	w.buf.Write(w.scratch[:n])
	w.buf.Write(b)
}

func (w *Writer) Entries() int {
	return w.entries
}

// Data is the number of key and value bytes appended so far.
func (w *Writer) Data() int64 {
	return w.data
}

// Size is the uncompressed size of the framed pairs.
func (w *Writer) Size() int {
	return w.buf.Len()
}

// Blob returns the snappy compressed blob.
func (w *Writer) Blob() []byte {
	header := make([]byte, len(magic)+binary.MaxVarintLen64)
	copy(header, magic)
	n := binary.PutUvarint(header[len(magic):], uint64(w.entries))

	raw := make([]byte, 0, len(magic)+n+w.buf.Len())
	raw = append(raw, header[:len(magic)+n]...)
	raw = append(raw, w.buf.Bytes()...)

	return snappy.Encode(nil, raw)
}

// Decode calls fn for every frame of blob in the order they were written. The slices
// passed to fn alias the decoded buffer and must be copied if retained.
func Decode(blob []byte, fn func(key, value []byte) error) error {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return errors.WithPrevious(err, `broadcast blob decompression failed`)
	}

	if !bytes.HasPrefix(raw, magic) {
		return errors.New(`invalid broadcast blob header`)
	}
	raw = raw[len(magic):]

	entries, n := binary.Uvarint(raw)
	if n <= 0 {
		return errors.New(`invalid broadcast blob entry count`)
	}
	raw = raw[n:]

	for i := uint64(0); i < entries; i++ {
		var key, value []byte
		if key, raw, err = readBytes(raw); err != nil {
			return errors.WithPrevious(err, fmt.Sprintf(`corrupted key at frame %d`, i))
		}
		if value, raw, err = readBytes(raw); err != nil {
			return errors.WithPrevious(err, fmt.Sprintf(`corrupted value at frame %d`, i))
		}

		if err := fn(key, value); err != nil {
			return err
		}
	}

	if len(raw) != 0 {
		return errors.New(fmt.Sprintf(`%d trailing bytes in broadcast blob`, len(raw)))
	}

	return nil
}

func readBytes(raw []byte) ([]byte, []byte, error) {
	l, n := binary.Uvarint(raw)
	if n <= 0 {
		return nil, nil, errors.New(`invalid frame length`)
	}
	raw = raw[n:]

	if uint64(len(raw)) < l {
		return nil, nil, errors.New(`short frame`)
	}

	return raw[:l], raw[l:], nil
}
