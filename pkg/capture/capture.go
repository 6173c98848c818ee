// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records raw inverter traffic as a sequence of CBOR records
// so sessions can be replayed and decoded offline.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a captured chunk
type Direction uint8

const (
	DirectionRx Direction = iota // inverter to client
	DirectionTx                  // client to inverter
)

// String returns "rx" or "tx"
func (d Direction) String() string {
	switch d {
	case DirectionRx:
		return "rx"
	case DirectionTx:
		return "tx"
	default:
		return fmt.Sprintf("dir(%d)", uint8(d))
	}
}

// Record is one chunk of bytes as it crossed the transport
type Record struct {
	TimestampNs int64     `cbor:"0,keyasint"`
	Direction   Direction `cbor:"1,keyasint"`
	Data        []byte    `cbor:"2,keyasint"`
}

// Time returns the capture time of the record
func (r Record) Time() time.Time {
	return time.Unix(0, r.TimestampNs)
}

// Writer appends records to an io.Writer. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	now func() time.Time
}

// NewWriter creates a capture writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: cbor.NewEncoder(w), now: time.Now}
}

// Write records data with the current time
func (w *Writer) Write(dir Direction, data []byte) error {
	rec := Record{
		TimestampNs: w.now().UnixNano(),
		Direction:   dir,
		Data:        append([]byte(nil), data...),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write capture record: %w", err)
	}
	return nil
}

// Reader reads records written by a Writer
type Reader struct {
	dec *cbor.Decoder
}

// NewReader creates a capture reader
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF after the last one
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read capture record: %w", err)
	}
	return rec, nil
}

// ReadAll returns every record in r
func ReadAll(r io.Reader) ([]Record, error) {
	reader := NewReader(r)
	var records []Record
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}

// Stream concatenates the data of all records in one direction
func Stream(records []Record, dir Direction) []byte {
	var out []byte
	for _, rec := range records {
		if rec.Direction == dir {
			out = append(out, rec.Data...)
		}
	}
	return out
}

// Tap records everything read from and written to the wrapped connection
type Tap struct {
	rw io.ReadWriter
	w  *Writer
}

// NewTap wraps rw so that its traffic is recorded to w
func NewTap(rw io.ReadWriter, w *Writer) *Tap {
	return &Tap{rw: rw, w: w}
}

// Read implements io.Reader
func (t *Tap) Read(p []byte) (int, error) {
	n, err := t.rw.Read(p)
	if n > 0 {
		if werr := t.w.Write(DirectionRx, p[:n]); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

// Write implements io.Writer
func (t *Tap) Write(p []byte) (int, error) {
	n, err := t.rw.Write(p)
	if n > 0 {
		if werr := t.w.Write(DirectionTx, p[:n]); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

// SetReadDeadline forwards to the wrapped connection when it supports deadlines
func (t *Tap) SetReadDeadline(deadline time.Time) error {
	if d, ok := t.rw.(interface{ SetReadDeadline(time.Time) error }); ok {
		return d.SetReadDeadline(deadline)
	}
	return errors.ErrUnsupported
}

// Close closes the wrapped connection if it is an io.Closer
func (t *Tap) Close() error {
	if c, ok := t.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
