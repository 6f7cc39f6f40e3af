package tracefile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

const defaultBufSize = 64 * 1024

// Writer creates a trace file. Datasets are declared up front with a fixed
// row count; rows may then be written in any order and may grow the column
// count of their dataset before being stored. The index and footer are
// written on Close.
type Writer struct {
	f      *os.File
	buf    *bufio.Writer
	offset int64
	closed bool

	attrs     map[string]string
	attrOrder []string
	datasets  map[string]*dataset
	names     []string
}

// Create opens path for writing and writes the file header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		f:        f,
		buf:      bufio.NewWriterSize(f, defaultBufSize),
		attrs:    make(map[string]string),
		datasets: make(map[string]*dataset),
	}

	bw := binaryWriter{w.buf}
	if err := bw.writeInt64(magicHeader); err != nil {
		f.Close()
		return nil, err
	}
	if err := bw.writeInt64(formatVersion); err != nil {
		f.Close()
		return nil, err
	}
	w.offset = 2 * int64Size

	return w, nil
}

// SetAttr stores a file-level attribute, e.g. one scope setting.
func (w *Writer) SetAttr(key, value string) {
	if _, ok := w.attrs[key]; !ok {
		w.attrOrder = append(w.attrOrder, key)
	}
	w.attrs[key] = value
}

// CreateDataset declares a rows x cols dataset. Attributes may be nil.
func (w *Writer) CreateDataset(name string, dtype DType, rows, cols int, attrs map[string]string) error {
	if w.closed {
		return ErrClosed
	}
	if _, ok := w.datasets[name]; ok {
		return fmt.Errorf("%w: %s", ErrDatasetExists, name)
	}
	if dtype.Size() == 0 {
		return fmt.Errorf("tracefile: invalid dtype %d", dtype)
	}
	if rows < 0 || cols < 0 {
		return fmt.Errorf("tracefile: invalid shape %dx%d for %s", rows, cols, name)
	}

	ds := &dataset{
		name:       name,
		dtype:      dtype,
		rows:       int64(rows),
		cols:       int64(cols),
		attrs:      make(map[string]string, len(attrs)),
		rowOffsets: make([]int64, rows),
	}
	for k, v := range attrs {
		ds.attrs[k] = v
		ds.attrOrder = append(ds.attrOrder, k)
	}
	sort.Strings(ds.attrOrder)

	w.datasets[name] = ds
	w.names = append(w.names, name)
	return nil
}

// Resize grows the column count of a dataset. Rows stored before the
// resize read back zero-padded to the new width.
func (w *Writer) Resize(name string, cols int) error {
	ds, ok := w.datasets[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDataset, name)
	}
	if int64(cols) > ds.cols {
		ds.cols = int64(cols)
	}
	return nil
}

func (w *Writer) beginRow(name string, row, n int, want DType) (*dataset, error) {
	if w.closed {
		return nil, ErrClosed
	}
	ds, ok := w.datasets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDataset, name)
	}
	if ds.dtype != want {
		return nil, fmt.Errorf("%w: %s is %v", ErrWrongType, name, ds.dtype)
	}
	if row < 0 || int64(row) >= ds.rows {
		return nil, fmt.Errorf("%w: row %d of %s (%d rows)", ErrRowRange, row, name, ds.rows)
	}
	if int64(n) > ds.cols {
		return nil, fmt.Errorf("%w: %d values into %s (%d cols)", ErrRowTooWide, n, name, ds.cols)
	}

	ds.rowOffsets[row] = w.offset
	if err := binary.Write(w.buf, binary.LittleEndian, uint32(n)); err != nil {
		return nil, err
	}
	w.offset += 4
	return ds, nil
}

// WriteRowInt16 stores one row of an Int16 dataset. Shorter rows read back
// zero-padded to the dataset width.
func (w *Writer) WriteRowInt16(name string, row int, values []int16) error {
	ds, err := w.beginRow(name, row, len(values), Int16)
	if err != nil {
		return err
	}
	if err := binary.Write(w.buf, binary.LittleEndian, values); err != nil {
		return err
	}
	w.offset += int64(len(values)) * int64(ds.dtype.Size())
	return nil
}

// WriteRowInt8 stores one row of an Int8 dataset.
func (w *Writer) WriteRowInt8(name string, row int, values []int8) error {
	ds, err := w.beginRow(name, row, len(values), Int8)
	if err != nil {
		return err
	}
	if err := binary.Write(w.buf, binary.LittleEndian, values); err != nil {
		return err
	}
	w.offset += int64(len(values)) * int64(ds.dtype.Size())
	return nil
}

// WriteRowFloat64 stores one row of a Float64 dataset.
func (w *Writer) WriteRowFloat64(name string, row int, values []float64) error {
	ds, err := w.beginRow(name, row, len(values), Float64)
	if err != nil {
		return err
	}
	if err := binary.Write(w.buf, binary.LittleEndian, values); err != nil {
		return err
	}
	w.offset += int64(len(values)) * int64(ds.dtype.Size())
	return nil
}

// WriteValue stores a single value of a one-column Float64 dataset row.
func (w *Writer) WriteValue(name string, row int, value float64) error {
	return w.WriteRowFloat64(name, row, []float64{value})
}

// Close writes the index and footer and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true

	indexOffset := w.offset
	bw := binaryWriter{w.buf}

	if err := bw.writeAttrs(w.attrs, w.attrOrder); err != nil {
		w.f.Close()
		return err
	}

	if err := binary.Write(w.buf, binary.LittleEndian, uint64(len(w.names))); err != nil {
		w.f.Close()
		return err
	}
	for _, name := range w.names {
		ds := w.datasets[name]
		if err := bw.writeString(ds.name); err != nil {
			w.f.Close()
			return err
		}
		if err := binary.Write(w.buf, binary.LittleEndian, uint8(ds.dtype)); err != nil {
			w.f.Close()
			return err
		}
		if err := bw.writeInt64(ds.rows); err != nil {
			w.f.Close()
			return err
		}
		if err := bw.writeInt64(ds.cols); err != nil {
			w.f.Close()
			return err
		}
		if err := bw.writeAttrs(ds.attrs, ds.attrOrder); err != nil {
			w.f.Close()
			return err
		}
		if err := binary.Write(w.buf, binary.LittleEndian, ds.rowOffsets); err != nil {
			w.f.Close()
			return err
		}
	}

	if err := bw.writeInt64(indexOffset); err != nil {
		w.f.Close()
		return err
	}
	if err := bw.writeInt64(magicFooter); err != nil {
		w.f.Close()
		return err
	}

	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// BytesWritten reports how much sample data has been stored so far.
func (w *Writer) BytesWritten() int64 {
	return w.offset
}
