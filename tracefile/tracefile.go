// Package tracefile implements the capture output file: a self-contained
// binary container of named, two-dimensional datasets with attached string
// attributes, indexed for keyed random access.
//
// A capture file holds one samples matrix per scope channel plus per-event
// vectors of scale, offset and trigger timing values, keyed like
// "c1_samples", "c1_trig_time". The scope settings snapshot is stored as
// file attributes and each samples dataset carries its waveform descriptor
// fields as dataset attributes.
package tracefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// File format constants.
const (
	magicHeader   = int64(0x53435452) // "SCTR"
	magicFooter   = int64(0x454E4452) // "ENDR"
	formatVersion = int64(1)
)

// DType identifies the element type of a dataset.
type DType uint8

const (
	Int8 DType = iota + 1
	Int16
	Float64
)

func (t DType) Size() int {
	switch t {
	case Int8:
		return 1
	case Int16:
		return 2
	case Float64:
		return 8
	default:
		return 0
	}
}

func (t DType) String() string {
	switch t {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(t))
	}
}

// Errors returned by trace file operations.
var (
	ErrClosed         = errors.New("tracefile: file already closed")
	ErrCorrupt        = errors.New("tracefile: corrupted file")
	ErrNoDataset      = errors.New("tracefile: no such dataset")
	ErrDatasetExists  = errors.New("tracefile: dataset already exists")
	ErrWrongType      = errors.New("tracefile: dataset has different element type")
	ErrRowRange       = errors.New("tracefile: row index out of range")
	ErrRowTooWide     = errors.New("tracefile: row wider than dataset")
	ErrUnknownVersion = errors.New("tracefile: unknown format version")
)

var int64Size = int64(binary.Size(int64(0)))

// binaryWriter writes the little-endian primitives of the index encoding.
type binaryWriter struct {
	w io.Writer
}

func (bw binaryWriter) writeInt64(v int64) error {
	return binary.Write(bw.w, binary.LittleEndian, v)
}

func (bw binaryWriter) writeString(s string) error {
	if err := binary.Write(bw.w, binary.LittleEndian, uint64(len(s))); err != nil {
		return fmt.Errorf("error writing string length: %w", err)
	}
	if _, err := bw.w.Write([]byte(s)); err != nil {
		return fmt.Errorf("error writing string content: %w", err)
	}
	return nil
}

func (bw binaryWriter) writeAttrs(attrs map[string]string, order []string) error {
	if err := binary.Write(bw.w, binary.LittleEndian, uint64(len(order))); err != nil {
		return err
	}
	for _, k := range order {
		if err := bw.writeString(k); err != nil {
			return err
		}
		if err := bw.writeString(attrs[k]); err != nil {
			return err
		}
	}
	return nil
}

type binaryReader struct {
	r io.Reader
}

func (br binaryReader) readInt64() (int64, error) {
	var v int64
	err := binary.Read(br.r, binary.LittleEndian, &v)
	return v, err
}

func (br binaryReader) readString() (string, error) {
	var length uint64
	if err := binary.Read(br.r, binary.LittleEndian, &length); err != nil {
		return "", fmt.Errorf("error reading string length: %w", err)
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(br.r, b); err != nil {
		return "", fmt.Errorf("error reading string content: %w", err)
	}
	return string(b), nil
}

func (br binaryReader) readAttrs() (map[string]string, []string, error) {
	var n uint64
	if err := binary.Read(br.r, binary.LittleEndian, &n); err != nil {
		return nil, nil, err
	}
	attrs := make(map[string]string, n)
	order := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		k, err := br.readString()
		if err != nil {
			return nil, nil, err
		}
		v, err := br.readString()
		if err != nil {
			return nil, nil, err
		}
		attrs[k] = v
		order = append(order, k)
	}
	return attrs, order, nil
}

// dataset is the shared index entry of a dataset.
type dataset struct {
	name      string
	dtype     DType
	rows      int64
	cols      int64
	attrs     map[string]string
	attrOrder []string

	// rowOffsets holds the absolute file offset of each written row,
	// 0 for rows never written (read back as zeros).
	rowOffsets []int64
}
