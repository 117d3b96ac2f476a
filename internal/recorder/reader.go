package recorder

import (
	"bufio"
	"bytes"
	"io"
)

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	MaxLineSize int
}

// Reader decodes segment lines sequentially.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader wraps an io.Reader with line decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	maxLine := opts.MaxLineSize
	if maxLine <= 0 {
		maxLine = defaultMaxLineSize
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Reader{sc: sc}
}

// Next returns the next record. Blank lines are skipped.
// The message is only valid until the next call to Next.
func (r *Reader) Next() (Record, error) {
	for r.sc.Scan() {
		r.line++
		line := bytes.TrimSpace(r.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		return decodeRecord(line)
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

// Line returns the 1-based number of the line last read.
func (r *Reader) Line() int {
	return r.line
}
