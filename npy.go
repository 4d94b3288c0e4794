// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/kshedden/gonpy"
)

// zopen opens fnm for reading, transparently decompressing the
// input if fnm ends with ".gz".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := os.Open(fnm)
	if err != nil || !strings.HasSuffix(fnm, ".gz") {
		return f, err
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, err
	}
	return gzipr{rdr, f}, nil
}

// gzipr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// npyArray is a float64 array read from a .npy file, converted to
// row-major order.
type npyArray struct {
	Shape []int
	Data  []float64
}

func (a *npyArray) rows() int { return a.Shape[0] }

func (a *npyArray) cols() int {
	if len(a.Shape) < 2 {
		return 1
	}
	return a.Shape[1]
}

// readNpy reads a 1- or 2-dimensional numeric array from a .npy or
// .npy.gz file.
func readNpy(fnm string) (*npyArray, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	if len(npy.Shape) < 1 || len(npy.Shape) > 2 {
		return nil, fmt.Errorf("%s: cannot use array with shape %v", fnm, npy.Shape)
	}
	data, err := npyFloat64(npy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	arr := &npyArray{Shape: npy.Shape, Data: data}
	if npy.ColumnMajor && len(arr.Shape) == 2 {
		rows, cols := arr.rows(), arr.cols()
		rowMajor := make([]float64, len(data))
		for j := 0; j < cols; j++ {
			for i := 0; i < rows; i++ {
				rowMajor[i*cols+j] = data[j*rows+i]
			}
		}
		arr.Data = rowMajor
	}
	return arr, f.Close()
}

func npyFloat64(npy *gonpy.NpyReader) ([]float64, error) {
	var out []float64
	convert := func(n int, at func(int) float64) {
		out = make([]float64, n)
		for i := range out {
			out[i] = at(i)
		}
	}
	switch strings.TrimLeft(npy.Dtype, "<>|=") {
	case "f4":
		data, err := npy.GetFloat32()
		convert(len(data), func(i int) float64 { return float64(data[i]) })
		return out, err
	case "i8":
		data, err := npy.GetInt64()
		convert(len(data), func(i int) float64 { return float64(data[i]) })
		return out, err
	case "i4":
		data, err := npy.GetInt32()
		convert(len(data), func(i int) float64 { return float64(data[i]) })
		return out, err
	case "i2":
		data, err := npy.GetInt16()
		convert(len(data), func(i int) float64 { return float64(data[i]) })
		return out, err
	case "i1":
		data, err := npy.GetInt8()
		convert(len(data), func(i int) float64 { return float64(data[i]) })
		return out, err
	case "u1":
		data, err := npy.GetUint8()
		convert(len(data), func(i int) float64 { return float64(data[i]) })
		return out, err
	}
	return npy.GetFloat64()
}

// writeNpy writes a rows×cols row-major float64 array to fnm ("-"
// for stdout).
func writeNpy(fnm string, stdout io.Writer, rows, cols int, data []float64) error {
	var output io.WriteCloser
	if fnm == "-" {
		output = nopCloser{stdout}
	} else {
		f, err := os.OpenFile(fnm, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
		if err != nil {
			return err
		}
		defer f.Close()
		output = f
	}
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return fmt.Errorf("gonpy.NewWriter: %w", err)
	}
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(data)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}
