package tracefile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Reader provides keyed random access to a trace file written by Writer.
type Reader struct {
	f        *os.File
	attrs    map[string]string
	datasets map[string]*Dataset
	names    []string
}

// Dataset is one named matrix of a trace file.
type Dataset struct {
	r  *Reader
	ds *dataset
}

// Open reads the index of a trace file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := &Reader{f: f, datasets: make(map[string]*Dataset)}
	if err := r.readIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readIndex() error {
	// Header check.
	hdr := make([]byte, 2*int64Size)
	if _, err := io.ReadFull(r.f, hdr); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if int64(binary.LittleEndian.Uint64(hdr)) != magicHeader {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := int64(binary.LittleEndian.Uint64(hdr[int64Size:])); v != formatVersion {
		return fmt.Errorf("%w: %d", ErrUnknownVersion, v)
	}

	// Footer: index offset then footer magic.
	end, err := r.f.Seek(-2*int64Size, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	ftr := make([]byte, 2*int64Size)
	if _, err := io.ReadFull(r.f, ftr); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if int64(binary.LittleEndian.Uint64(ftr[int64Size:])) != magicFooter {
		return fmt.Errorf("%w: bad footer", ErrCorrupt)
	}
	indexOffset := int64(binary.LittleEndian.Uint64(ftr))
	if indexOffset < 2*int64Size || indexOffset >= end {
		return fmt.Errorf("%w: index offset %d", ErrCorrupt, indexOffset)
	}

	if _, err := r.f.Seek(indexOffset, io.SeekStart); err != nil {
		return err
	}
	br := binaryReader{bufio.NewReader(io.LimitReader(r.f, end-indexOffset))}

	attrs, _, err := br.readAttrs()
	if err != nil {
		return fmt.Errorf("%w: reading file attrs: %v", ErrCorrupt, err)
	}
	r.attrs = attrs

	var n uint64
	if err := binary.Read(br.r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("%w: reading dataset count: %v", ErrCorrupt, err)
	}

	for i := uint64(0); i < n; i++ {
		ds := &dataset{}
		if ds.name, err = br.readString(); err != nil {
			return fmt.Errorf("%w: dataset name: %v", ErrCorrupt, err)
		}
		var dt uint8
		if err := binary.Read(br.r, binary.LittleEndian, &dt); err != nil {
			return fmt.Errorf("%w: dataset dtype: %v", ErrCorrupt, err)
		}
		ds.dtype = DType(dt)
		if ds.dtype.Size() == 0 {
			return fmt.Errorf("%w: dataset %s dtype %d", ErrCorrupt, ds.name, dt)
		}
		if ds.rows, err = br.readInt64(); err != nil {
			return fmt.Errorf("%w: dataset rows: %v", ErrCorrupt, err)
		}
		if ds.cols, err = br.readInt64(); err != nil {
			return fmt.Errorf("%w: dataset cols: %v", ErrCorrupt, err)
		}
		// The row index (8 bytes per row) must fit in the index region;
		// this also catches negative or absurd shapes before allocation.
		if ds.rows < 0 || ds.cols < 0 || ds.rows > (end-indexOffset)/int64Size {
			return fmt.Errorf("%w: dataset %s shape %dx%d", ErrCorrupt, ds.name, ds.rows, ds.cols)
		}
		if ds.attrs, ds.attrOrder, err = br.readAttrs(); err != nil {
			return fmt.Errorf("%w: dataset attrs: %v", ErrCorrupt, err)
		}
		ds.rowOffsets = make([]int64, ds.rows)
		if err := binary.Read(br.r, binary.LittleEndian, ds.rowOffsets); err != nil {
			return fmt.Errorf("%w: dataset row index: %v", ErrCorrupt, err)
		}

		r.datasets[ds.name] = &Dataset{r: r, ds: ds}
		r.names = append(r.names, ds.name)
	}

	return nil
}

func (r *Reader) Close() error {
	return r.f.Close()
}

// Attrs returns the file attributes (the scope settings snapshot).
func (r *Reader) Attrs() map[string]string {
	return r.attrs
}

// Datasets lists dataset names in creation order.
func (r *Reader) Datasets() []string {
	return r.names
}

// Dataset looks up a dataset by key.
func (r *Reader) Dataset(name string) (*Dataset, error) {
	ds, ok := r.datasets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDataset, name)
	}
	return ds, nil
}

func (d *Dataset) Name() string { return d.ds.name }
func (d *Dataset) DType() DType { return d.ds.dtype }
func (d *Dataset) Rows() int    { return int(d.ds.rows) }
func (d *Dataset) Cols() int    { return int(d.ds.cols) }

// Attrs returns the dataset attributes (the waveform descriptor fields for
// samples datasets).
func (d *Dataset) Attrs() map[string]string {
	return d.ds.attrs
}

// readRow fetches the stored values of a row. Rows never written, or
// written shorter than the dataset width, are zero-padded by the callers.
func (d *Dataset) readRow(row int) ([]byte, int, error) {
	if row < 0 || int64(row) >= d.ds.rows {
		return nil, 0, fmt.Errorf("%w: row %d of %s (%d rows)", ErrRowRange, row, d.ds.name, d.ds.rows)
	}

	off := d.ds.rowOffsets[row]
	if off == 0 {
		return nil, 0, nil
	}

	var nbuf [4]byte
	if _, err := d.r.f.ReadAt(nbuf[:], off); err != nil {
		return nil, 0, fmt.Errorf("%w: row %d of %s: %v", ErrCorrupt, row, d.ds.name, err)
	}
	n := int(binary.LittleEndian.Uint32(nbuf[:]))
	if int64(n) > d.ds.cols {
		return nil, 0, fmt.Errorf("%w: row %d of %s has %d values", ErrCorrupt, row, d.ds.name, n)
	}

	buf := make([]byte, n*d.ds.dtype.Size())
	if _, err := d.r.f.ReadAt(buf, off+4); err != nil {
		return nil, 0, fmt.Errorf("%w: row %d of %s: %v", ErrCorrupt, row, d.ds.name, err)
	}
	return buf, n, nil
}

// RowInt16 returns one row of an Int8 or Int16 dataset, zero-padded to
// the dataset width. Int8 values are widened.
func (d *Dataset) RowInt16(row int) ([]int16, error) {
	if d.ds.dtype != Int16 && d.ds.dtype != Int8 {
		return nil, fmt.Errorf("%w: %s is %v", ErrWrongType, d.ds.name, d.ds.dtype)
	}

	buf, n, err := d.readRow(row)
	if err != nil {
		return nil, err
	}

	out := make([]int16, d.ds.cols)
	if d.ds.dtype == Int8 {
		for i := 0; i < n; i++ {
			out[i] = int16(int8(buf[i]))
		}
	} else {
		for i := 0; i < n; i++ {
			out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
		}
	}
	return out, nil
}

// RowFloat64 returns one row of a Float64 dataset, zero-padded to the
// dataset width.
func (d *Dataset) RowFloat64(row int) ([]float64, error) {
	if d.ds.dtype != Float64 {
		return nil, fmt.Errorf("%w: %s is %v", ErrWrongType, d.ds.name, d.ds.dtype)
	}

	buf, n, err := d.readRow(row)
	if err != nil {
		return nil, err
	}

	out := make([]float64, d.ds.cols)
	for i := 0; i < n; i++ {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

// Value returns the single value of a one-column Float64 dataset row.
func (d *Dataset) Value(row int) (float64, error) {
	vals, err := d.RowFloat64(row)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, nil
	}
	return vals[0], nil
}
