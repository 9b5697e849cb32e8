package capture

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

	"github.com/fxamacker/cbor/v2"
)

// JournalMagic opens every journal file.
const JournalMagic = "CARJRNL1"

// JournalFile is the journal name inside a session directory.
const JournalFile = "journal.cbor"

// Entry describes one persisted frame.
type Entry struct {
	Seq       uint64  `cbor:"seq" json:"seq"`
	File      string  `cbor:"file" json:"file"`
	Steering  float64 `cbor:"steering" json:"steering"`
	Throttle  float64 `cbor:"throttle" json:"throttle"`
	UnixNanos int64   `cbor:"unix_nanos" json:"unix_nanos"`
}

// Journal appends CBOR encoded entries, each framed by a 12 byte header:
// little endian uint64 unix nanos followed by uint32 payload length.
type Journal struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func OpenJournal(dir string) (*Journal, error) {
	f, err := os.OpenFile(filepath.Join(dir, JournalFile), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 64*1024)
	if _, err := w.WriteString(JournalMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Journal{f: f, w: w}, nil
}

func (j *Journal) Record(entry Entry) error {
	payload, err := cbor.Marshal(entry)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return fmt.Errorf("journal is closed")
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := j.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := j.w.Write(payload); err != nil {
		return err
	}
	return j.w.Flush()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return nil
	}
	if err := j.w.Flush(); err != nil {
		_ = j.f.Close()
		j.w = nil
		return err
	}
	err := j.f.Close()
	j.w = nil
	return err
}

// ReadJournal decodes entries from r, calling fn for each until fn returns
// false or the input ends. A truncated trailing record ends the read quietly.
func ReadJournal(r io.Reader, fn func(recorded time.Time, entry Entry) bool) error {
	header := make([]byte, len(JournalMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(header) != JournalMagic {
		return fmt.Errorf("unexpected journal magic %q", string(header))
	}
	for {
		var meta [12]byte
		if _, err := io.ReadFull(r, meta[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read record header: %w", err)
		}
		ts := int64(binary.LittleEndian.Uint64(meta[:8]))
		size := binary.LittleEndian.Uint32(meta[8:12])
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read payload: %w", err)
		}
		var entry Entry
		if err := cbor.Unmarshal(payload, &entry); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		if !fn(time.Unix(0, ts), entry) {
			return nil
		}
	}
}
