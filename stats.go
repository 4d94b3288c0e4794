// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type colstats struct{}

func (cmd *colstats) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "", "input .npy or .npy.gz `file` (rows are observations)")
	weightsFilename := flags.String("weights", "", "optional .npy `file` with observation weights")
	outputFilename := flags.String("o", "-", "output `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if *inputFilename == "" {
		err = fmt.Errorf("%s: -i is required", prog)
		return 2
	}

	arr, err := readNpy(*inputFilename)
	if err != nil {
		return 1
	}
	var weights []float64
	if *weightsFilename != "" {
		var warr *npyArray
		warr, err = readNpy(*weightsFilename)
		if err != nil {
			return 1
		}
		if len(warr.Data) != arr.rows() {
			err = fmt.Errorf("%s has %d entries, expected %d", *weightsFilename, len(warr.Data), arr.rows())
			return 1
		}
		weights = warr.Data
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	err = json.NewEncoder(bufw).Encode(columnStats(arr, weights))
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

type columnSummary struct {
	Rows    int
	Columns int
	Means   []float64
	// Stds are population (sum of weights) standard deviations,
	// as used for predictor scaling.
	Stds          []float64
	SumSquares    []float64
	ZeroVariance  []int `json:",omitempty"`
	NonzeroCounts []int
}

func columnStats(arr *npyArray, weights []float64) columnSummary {
	rows, cols := arr.rows(), arr.cols()
	ret := columnSummary{
		Rows:          rows,
		Columns:       cols,
		Means:         make([]float64, cols),
		Stds:          make([]float64, cols),
		SumSquares:    make([]float64, cols),
		NonzeroCounts: make([]int, cols),
	}
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		for i := range col {
			col[i] = arr.Data[i*cols+j]
			if col[i] != 0 {
				ret.NonzeroCounts[j]++
			}
		}
		mean, variance := stat.MeanVariance(col, weights)
		// MeanVariance is unbiased; convert to the population
		// variance.
		sumw := sumWeights(weights, rows)
		if sumw > 1 {
			variance *= (sumw - 1) / sumw
		} else {
			variance = 0
		}
		ret.Means[j] = mean
		ret.Stds[j] = math.Sqrt(variance)
		ret.SumSquares[j] = floats.Dot(col, col)
		if variance == 0 {
			ret.ZeroVariance = append(ret.ZeroVariance, j)
		}
	}
	return ret
}
