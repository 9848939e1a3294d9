// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

// Package capture records CAN traffic to files of CBOR records and reads
// them back for replay.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/rmctl/motorstat/pkg/can"
)

// Direction says whether a frame was received or sent by the host
type Direction uint8

const (
	Rx Direction = 0
	Tx Direction = 1
)

func (d Direction) String() string {
	if d == Tx {
		return "tx"
	}
	return "rx"
}

// Record is one captured frame, encoded as a CBOR map with integer keys
type Record struct {
	Timestamp int64     `cbor:"0,keyasint"` // unix nanoseconds
	ID        uint32    `cbor:"1,keyasint"`
	Data      []byte    `cbor:"2,keyasint"`
	Direction Direction `cbor:"3,keyasint"`
	Extended  bool      `cbor:"4,keyasint,omitempty"`
}

// NewRecord captures frame at the given time
func NewRecord(at time.Time, frame can.Frame, dir Direction) Record {
	data := make([]byte, frame.Len)
	copy(data, frame.Payload())
	return Record{
		Timestamp: at.UnixNano(),
		ID:        frame.ID,
		Data:      data,
		Direction: dir,
		Extended:  frame.Extended,
	}
}

// Time returns the capture time
func (r Record) Time() time.Time {
	return time.Unix(0, r.Timestamp)
}

// Frame rebuilds the captured frame
func (r Record) Frame() (can.Frame, error) {
	if len(r.Data) > can.MaxDataLen {
		return can.Frame{}, fmt.Errorf("%w: %d bytes", can.ErrInvalidLen, len(r.Data))
	}
	frame := can.NewFrame(r.ID, r.Data)
	frame.Extended = r.Extended
	if err := frame.Validate(); err != nil {
		return can.Frame{}, err
	}
	return frame, nil
}

// Writer appends records to a stream. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	bw     *bufio.Writer
	enc    *cbor.Encoder
	closer io.Closer
	count  int
}

// NewWriter writes records to w. Call Flush or Close when done.
func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	return &Writer{bw: bw, enc: cbor.NewEncoder(bw)}
}

// Create creates or truncates a capture file
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture %s: %w", path, err)
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// Write appends one record
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	w.count++
	return nil
}

// WriteFrame captures frame now
func (w *Writer) WriteFrame(frame can.Frame, dir Direction) error {
	return w.Write(NewRecord(time.Now(), frame, dir))
}

// Count returns the number of records written
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Flush writes buffered records to the underlying writer
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bw.Flush()
}

// Close flushes and closes the file opened by Create
func (w *Writer) Close() error {
	err := w.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader reads records from a stream
type Reader struct {
	dec    *cbor.Decoder
	closer io.Closer
}

// NewReader reads records from r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(bufio.NewReader(r))}
}

// Open opens a capture file
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

// Next returns the next record, or io.EOF after the last one
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	if len(rec.Data) > can.MaxDataLen {
		return Record{}, fmt.Errorf("record 0x%03X: %w", rec.ID, can.ErrInvalidLen)
	}
	return rec, nil
}

// Close closes the file opened by Open
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
