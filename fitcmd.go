// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

type fitcmd struct {
	xFilename        string
	yFilename        string
	weightsFilename  string
	offsetFilename   string
	clustersFilename string
	family           string
	link             string
	sparse           bool
	stdErrors        bool
	robust           bool
	expected         bool
	pathFilename     string
}

type fitOutput struct {
	Family       string
	Link         string
	Solver       string
	InputDigest  string
	FitIntercept bool
	Intercept    float64
	Coef         []float64
	Alpha        float64
	L1Ratio      float64
	Alphas       []float64 `json:",omitempty"`
	NumIter      int
	Converged    bool
	StdErrors    []*float64 `json:",omitempty"`
	PValues      []*float64 `json:",omitempty"`
	Diagnostics  []Diagnostic
}

func (cmd *fitcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	cfg := DefaultConfig()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	flags.StringVar(&cmd.xFilename, "x", "", "design matrix .npy or .npy.gz `file` (rows are observations)")
	flags.StringVar(&cmd.yFilename, "y", "", "response .npy `file`")
	flags.StringVar(&cmd.weightsFilename, "weights", "", "optional observation weights .npy `file`")
	flags.StringVar(&cmd.offsetFilename, "offset", "", "optional offset .npy `file`")
	flags.StringVar(&cmd.clustersFilename, "clusters", "", "optional cluster ids .npy `file` for clustered standard errors")
	flags.StringVar(&cmd.family, "family", "normal", "distribution `name`, e.g. poisson, binomial, tweedie(1.5), negative.binomial(2)")
	flags.StringVar(&cmd.link, "link", "auto", "link `name`: auto, identity, log, logit, cloglog, tweedie(p)")
	flags.BoolVar(&cmd.sparse, "sparse", false, "store the design matrix in compressed sparse column format")
	flags.BoolVar(&cmd.stdErrors, "std-errors", false, "report standard errors and p-values")
	flags.BoolVar(&cmd.robust, "robust", false, "use HC1 (or, with -clusters, cluster-robust) standard errors")
	flags.BoolVar(&cmd.expected, "expected-information", false, "use the expected information in robust standard errors")
	flags.StringVar(&cmd.pathFilename, "path-npy", "", "write the coefficient path (one row per alpha, intercept first) to .npy `file`")
	flags.Float64Var(&cfg.Alpha, "alpha", 0, "penalty strength")
	flags.Float64Var(&cfg.L1Ratio, "l1-ratio", 0, "elastic net mixing `ratio` (1 is lasso, 0 is ridge)")
	flags.BoolVar(&cfg.FitIntercept, "fit-intercept", true, "fit an intercept")
	flags.BoolVar(&cfg.ScalePredictors, "scale-predictors", false, "penalize standardized coefficients")
	flags.BoolVar(&cfg.AlphaSearch, "alpha-search", false, "fit a regularization path")
	flags.IntVar(&cfg.NAlphas, "n-alphas", cfg.NAlphas, "number of penalty strengths on the path")
	flags.Float64Var(&cfg.MinAlphaRatio, "min-alpha-ratio", 0, "smallest path alpha relative to alpha_max (default 1e-6)")
	flags.Float64Var(&cfg.MinAlpha, "min-alpha", 0, "smallest path alpha")
	flags.StringVar(&cfg.Solver, "solver", cfg.Solver, "solver: auto, irls-ls, irls-cd, lbfgs, trust-constr")
	flags.IntVar(&cfg.MaxIter, "max-iter", cfg.MaxIter, "maximum outer iterations")
	flags.IntVar(&cfg.MaxInnerIter, "max-inner-iter", cfg.MaxInnerIter, "maximum coordinate descent cycles per iteration")
	flags.Float64Var(&cfg.GradientTol, "gradient-tol", 0, "convergence tolerance on the subgradient (default depends on solver)")
	flags.Float64Var(&cfg.StepSizeTol, "step-size-tol", 0, "convergence tolerance on the step size (0 disables)")
	flags.StringVar(&cfg.Selection, "selection", cfg.Selection, "coordinate order: cyclic or random")
	flags.Uint64Var(&cfg.RandomSeed, "seed", 0, "random seed for random coordinate selection")
	outputFilename := flags.String("o", "-", "output `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.xFilename == "" || cmd.yFilename == "" {
		err = errors.New("-x and -y are required")
		return 2
	}
	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	logger := log.New()
	logger.Out = stderr
	logger.Formatter = log.StandardLogger().Formatter
	logger.SetLevel(lvl)
	cfg.Logger = logger

	cfg.Family, err = ParseFamily(cmd.family)
	if err != nil {
		return 2
	}
	link, err := ParseLink(cmd.link, cfg.Family)
	if err != nil {
		return 2
	}
	cfg.Link = &link

	data, clusters, digest, err := cmd.loadData()
	if err != nil {
		return 1
	}
	result, err := Fit(data, cfg)
	if err != nil {
		return 1
	}
	out := fitOutput{
		Family:       cfg.Family.String(),
		Link:         link.String(),
		Solver:       result.Solver,
		InputDigest:  digest,
		FitIntercept: result.FitIntercept,
		Intercept:    result.Intercept,
		Coef:         result.Coef,
		Alpha:        result.Alpha,
		L1Ratio:      result.L1Ratio,
		NumIter:      result.NumIter,
		Converged:    result.Converged,
		Diagnostics:  result.Diagnostics,
	}
	if len(result.Alphas) > 1 {
		out.Alphas = result.Alphas
	}
	if cmd.stdErrors {
		var se []float64
		se, err = result.StdErrors(data, &CovarianceOptions{
			Robust:              cmd.robust,
			Clusters:            clusters,
			ExpectedInformation: cmd.expected,
			Logger:              logger,
		})
		if err != nil {
			return 1
		}
		out.StdErrors = finiteOrNull(se)
		out.PValues = finiteOrNull(result.PValues(se))
	}
	if cmd.pathFilename != "" {
		err = cmd.writePath(result, stdout)
		if err != nil {
			return 1
		}
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
	enc := json.NewEncoder(bufw)
	enc.SetIndent("", "  ")
	err = enc.Encode(out)
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

// loadData reads the input files and returns the fit data, cluster
// ids (nil if not given), and a blake2b digest of the inputs.
func (cmd *fitcmd) loadData() (data Data, clusters []int, digest string, err error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return
	}
	read := func(fnm string) (*npyArray, error) {
		arr, err := readNpy(fnm)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(h, "%s %v\n", fnm, arr.Shape)
		for _, x := range arr.Data {
			fmt.Fprintf(h, "%x\n", math.Float64bits(x))
		}
		return arr, nil
	}
	x, err := read(cmd.xFilename)
	if err != nil {
		return
	}
	if len(x.Shape) != 2 {
		err = fmt.Errorf("%s: expected a 2-dimensional array, got shape %v", cmd.xFilename, x.Shape)
		return
	}
	rows := x.rows()
	vector := func(fnm string) ([]float64, error) {
		if fnm == "" {
			return nil, nil
		}
		arr, err := read(fnm)
		if err != nil {
			return nil, err
		}
		if len(arr.Data) != rows {
			return nil, fmt.Errorf("%s has %d entries, expected %d", fnm, len(arr.Data), rows)
		}
		return arr.Data, nil
	}
	if data.Y, err = vector(cmd.yFilename); err != nil {
		return
	}
	if data.Weights, err = vector(cmd.weightsFilename); err != nil {
		return
	}
	if data.Offset, err = vector(cmd.offsetFilename); err != nil {
		return
	}
	ids, err := vector(cmd.clustersFilename)
	if err != nil {
		return
	}
	if ids != nil {
		clusters = make([]int, len(ids))
		for i, id := range ids {
			clusters[i] = int(id)
		}
	}
	if cmd.sparse {
		data.X = SparseMatrixFromDense(rows, x.cols(), x.Data)
	} else {
		data.X = NewDenseMatrix(rows, x.cols(), x.Data)
	}
	digest = fmt.Sprintf("%x", h.Sum(nil))
	return
}

func (cmd *fitcmd) writePath(result *Result, stdout io.Writer) error {
	rows := len(result.CoefPath)
	cols := len(result.Coef)
	if result.FitIntercept {
		cols++
	}
	data := make([]float64, 0, rows*cols)
	for i, coef := range result.CoefPath {
		if result.FitIntercept {
			data = append(data, result.InterceptPath[i])
		}
		data = append(data, coef...)
	}
	return writeNpy(cmd.pathFilename, stdout, rows, cols, data)
}

// finiteOrNull converts NaN and infinite values (which JSON cannot
// represent) to null.
func finiteOrNull(v []float64) []*float64 {
	out := make([]*float64, len(v))
	for i := range v {
		if !math.IsNaN(v[i]) && !math.IsInf(v[i], 0) {
			out[i] = &v[i]
		}
	}
	return out
}
