package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/RoanBrand/ScopeCapture/acquire"
	"github.com/RoanBrand/ScopeCapture/tracefile"
)

const usage = `usage: ScopeCaptureRead <file.trc> [flags]

Displays the attributes and datasets of a trace file.
`

func main() {
	dataset := flag.String("d", "", "print rows of this dataset")
	limit := flag.Int("limit", 10, "limit number of rows to display")
	showAttrs := flag.Bool("attrs", false, "also print dataset attributes")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := display(flag.Arg(0), *dataset, *limit, *showAttrs); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func display(path, dataset string, limit int, showAttrs bool) error {
	r, err := tracefile.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	fmt.Printf("File: %s (%s)\n\n", path, acquire.HumanBytes(fi.Size()))

	fmt.Println("Scope settings:")
	attrs := r.Attrs()
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("\t%-16s %s\n", k, attrs[k])
	}

	fmt.Println("\nDatasets:")
	for _, name := range r.Datasets() {
		ds, err := r.Dataset(name)
		if err != nil {
			return err
		}
		fmt.Printf("\t%-20s %7s  %d x %d\n", name, ds.DType(), ds.Rows(), ds.Cols())

		if showAttrs && len(ds.Attrs()) > 0 {
			dsAttrs := ds.Attrs()
			akeys := make([]string, 0, len(dsAttrs))
			for k := range dsAttrs {
				akeys = append(akeys, k)
			}
			sort.Strings(akeys)
			for _, k := range akeys {
				fmt.Printf("\t\t%-16s %s\n", k, dsAttrs[k])
			}
		}
	}

	if dataset == "" {
		return nil
	}

	ds, err := r.Dataset(dataset)
	if err != nil {
		return err
	}

	rows := ds.Rows()
	if rows > limit {
		rows = limit
	}

	fmt.Printf("\nFirst %d rows of %s:\n", rows, dataset)
	for i := 0; i < rows; i++ {
		switch ds.DType() {
		case tracefile.Float64:
			vals, err := ds.RowFloat64(i)
			if err != nil {
				return err
			}
			printRow(i, vals)
		default:
			vals, err := ds.RowInt16(i)
			if err != nil {
				return err
			}
			fvals := make([]float64, len(vals))
			for j, v := range vals {
				fvals[j] = float64(v)
			}
			printRow(i, fvals)
		}
	}
	return nil
}

const maxRowValues = 8

func printRow(i int, vals []float64) {
	fmt.Printf("\t[%d]", i)
	for j, v := range vals {
		if j == maxRowValues {
			fmt.Printf(" ... (%d values)", len(vals))
			break
		}
		fmt.Printf(" %g", v)
	}
	fmt.Println()
}
