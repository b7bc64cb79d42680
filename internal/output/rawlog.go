// Package output writes the raw capture of relayed producer messages and
// reads it back for inspection.
package output

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const rawLogMagic = "MAZERAW1"

// maxRecord bounds a single record so a corrupt length cannot exhaust memory.
const maxRecord = 64 << 20

var (
	ErrBadMagic  = errors.New("raw log: bad magic")
	ErrTruncated = errors.New("raw log: truncated record")
)

// RawLogWriter appends [u64 unix nanos][u32 length][payload] records, little endian.
type RawLogWriter struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
	now  func() time.Time
	n    uint64
}

func NewRawLogWriter(outputDir string, prefix string) (*RawLogWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.bin", timestamp, prefix))
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(rawLogMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &RawLogWriter{
		f:    f,
		w:    w,
		path: filename,
		now:  time.Now,
	}, nil
}

func (r *RawLogWriter) Path() string { return r.path }

// Records returns how many records were written.
func (r *RawLogWriter) Records() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Record appends one message and flushes it.
func (r *RawLogWriter) Record(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("raw log writer is closed")
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(r.now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	r.n++
	return r.w.Flush()
}

func (r *RawLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		r.w = nil
		return err
	}
	err := r.f.Close()
	r.w = nil
	return err
}

// Entry is one captured message.
type Entry struct {
	Time    time.Time
	Payload []byte
}

type RawLogReader struct {
	r *bufio.Reader
}

// NewRawLogReader checks the magic and positions the reader at the first record.
func NewRawLogReader(src io.Reader) (*RawLogReader, error) {
	br := bufio.NewReader(src)
	magic := make([]byte, len(rawLogMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(magic) != rawLogMagic {
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, magic)
	}
	return &RawLogReader{r: br}, nil
}

// Next returns the next record, or io.EOF after the last complete one.
func (r *RawLogReader) Next() (Entry, error) {
	var header [12]byte
	n, err := io.ReadFull(r.r, header[:])
	if err == io.EOF && n == 0 {
		return Entry{}, io.EOF
	}
	if err != nil {
		return Entry{}, ErrTruncated
	}
	ts := int64(binary.LittleEndian.Uint64(header[:8]))
	size := binary.LittleEndian.Uint32(header[8:12])
	if size > maxRecord {
		return Entry{}, fmt.Errorf("%w: record of %d bytes", ErrTruncated, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return Entry{}, ErrTruncated
	}
	return Entry{Time: time.Unix(0, ts), Payload: payload}, nil
}

// ReadRawLog loads every record of the capture at path.
func ReadRawLog(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := NewRawLogReader(f)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for {
		e, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}
