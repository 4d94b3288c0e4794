// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package penglm

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"math"
	"os"

	"github.com/klauspost/pgzip"
	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type fitcmdSuite struct{}

var _ = check.Suite(&fitcmdSuite{})

// writeTestNpy writes data to fnm, gzipped if gz is true.
func writeTestNpy(c *check.C, fnm string, rows, cols int, data []float64, gz bool) {
	if !gz {
		c.Assert(writeNpy(fnm, nil, rows, cols, data), check.IsNil)
		return
	}
	var buf bytes.Buffer
	c.Assert(writeNpy("-", &buf, rows, cols, data), check.IsNil)
	f, err := os.Create(fnm)
	c.Assert(err, check.IsNil)
	zw := pgzip.NewWriter(f)
	_, err = zw.Write(buf.Bytes())
	c.Assert(err, check.IsNil)
	c.Assert(zw.Close(), check.IsNil)
	c.Assert(f.Close(), check.IsNil)
}

func (s *fitcmdSuite) TestFitPoisson(c *check.C) {
	tmpdir := c.MkDir()
	const n, p = 80, 3
	x, y := poissonData(51, n, p)
	writeTestNpy(c, tmpdir+"/x.npy.gz", n, p, x, true)
	writeTestNpy(c, tmpdir+"/y.npy", n, 1, y, false)

	var stdout, stderr bytes.Buffer
	exited := (&fitcmd{}).RunCommand("fit", []string{
		"-x", tmpdir + "/x.npy.gz",
		"-y", tmpdir + "/y.npy",
		"-family", "poisson",
		"-alpha", "0.01",
		"-l1-ratio", "0.5",
		"-gradient-tol", "1e-8",
		"-std-errors",
		"-robust",
		"-loglevel", "error",
	}, nil, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	c.Logf("%s", stdout.String())

	var out fitOutput
	c.Assert(json.Unmarshal(stdout.Bytes(), &out), check.IsNil)
	c.Check(out.Family, check.Equals, "poisson")
	c.Check(out.Link, check.Equals, "log")
	c.Check(out.Solver, check.Equals, SolverIRLSCD)
	c.Check(out.InputDigest, check.HasLen, 64)
	c.Check(out.Converged, check.Equals, true)
	c.Check(out.StdErrors, check.HasLen, p+1)
	c.Check(out.PValues, check.HasLen, p+1)

	cfg := DefaultConfig()
	cfg.Family = Poisson
	cfg.Alpha = 0.01
	cfg.L1Ratio = 0.5
	cfg.GradientTol = 1e-8
	want, err := Fit(Data{X: NewDenseMatrix(n, p, x), Y: y}, cfg)
	c.Assert(err, check.IsNil)
	c.Check(maxAbsDiff(out.Coef, want.Coef) < 1e-12, check.Equals, true)
	c.Check(math.Abs(out.Intercept-want.Intercept) < 1e-12, check.Equals, true)

	// Same inputs, same digest; sparse storage gives the same fit.
	var stdout2 bytes.Buffer
	exited = (&fitcmd{}).RunCommand("fit", []string{
		"-x", tmpdir + "/x.npy.gz",
		"-y", tmpdir + "/y.npy",
		"-family", "poisson",
		"-alpha", "0.01",
		"-l1-ratio", "0.5",
		"-gradient-tol", "1e-8",
		"-sparse",
		"-o", tmpdir + "/out.json",
		"-loglevel", "error",
	}, nil, &stdout2, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	c.Check(stdout2.Len(), check.Equals, 0)
	buf, err := ioutil.ReadFile(tmpdir + "/out.json")
	c.Assert(err, check.IsNil)
	var out2 fitOutput
	c.Assert(json.Unmarshal(buf, &out2), check.IsNil)
	c.Check(out2.InputDigest, check.Equals, out.InputDigest)
	c.Check(maxAbsDiff(out2.Coef, out.Coef) < 1e-8, check.Equals, true)
	c.Check(out2.StdErrors, check.IsNil)
}

func (s *fitcmdSuite) TestPathAndClusters(c *check.C) {
	tmpdir := c.MkDir()
	const n, p = 60, 2
	x, y := linearData(52, n, p)
	writeTestNpy(c, tmpdir+"/x.npy", n, p, x, false)
	writeTestNpy(c, tmpdir+"/y.npy", n, 1, y, false)
	ids := make([]int32, n)
	for i := range ids {
		ids[i] = int32(i % 5)
	}
	f, err := os.Create(tmpdir + "/clusters.npy")
	c.Assert(err, check.IsNil)
	npw, err := gonpy.NewWriter(f)
	c.Assert(err, check.IsNil)
	npw.Shape = []int{n}
	c.Assert(npw.WriteInt32(ids), check.IsNil)

	var stdout, stderr bytes.Buffer
	exited := (&fitcmd{}).RunCommand("fit", []string{
		"-x", tmpdir + "/x.npy",
		"-y", tmpdir + "/y.npy",
		"-clusters", tmpdir + "/clusters.npy",
		"-std-errors",
		"-alpha-search",
		"-l1-ratio", "1",
		"-n-alphas", "5",
		"-scale-predictors",
		"-path-npy", tmpdir + "/path.npy",
		"-loglevel", "error",
	}, nil, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	var out fitOutput
	c.Assert(json.Unmarshal(stdout.Bytes(), &out), check.IsNil)
	c.Check(out.Alphas, check.HasLen, 5)
	c.Check(out.StdErrors, check.HasLen, p+1)

	path, err := readNpy(tmpdir + "/path.npy")
	c.Assert(err, check.IsNil)
	c.Check(path.Shape, check.DeepEquals, []int{5, p + 1})
	// The first row is the intercept-only model.
	c.Check(path.Data[1:p+1], check.DeepEquals, make([]float64, p))
	c.Check(path.Data[4*(p+1)+1:], check.DeepEquals, out.Coef)
}

func (s *fitcmdSuite) TestUsageErrors(c *check.C) {
	tmpdir := c.MkDir()
	writeTestNpy(c, tmpdir+"/x.npy", 3, 1, []float64{1, 2, 3}, false)
	writeTestNpy(c, tmpdir+"/y.npy", 2, 1, []float64{1, 2}, false)
	for _, trial := range []struct {
		args []string
		code int
	}{
		{[]string{"-y", tmpdir + "/y.npy"}, 2},
		{[]string{"-x", tmpdir + "/x.npy", "-y", tmpdir + "/y.npy", "-family", "cauchy"}, 2},
		{[]string{"-x", tmpdir + "/x.npy", "-y", tmpdir + "/y.npy", "-loglevel", "loud"}, 2},
		{[]string{"-x", tmpdir + "/x.npy", "-y", tmpdir + "/y.npy"}, 1},
		{[]string{"-x", tmpdir + "/missing.npy", "-y", tmpdir + "/y.npy"}, 1},
		{[]string{"-no-such-flag"}, 2},
	} {
		var stderr bytes.Buffer
		exited := (&fitcmd{}).RunCommand("fit", trial.args, nil, ioutil.Discard, &stderr)
		c.Check(exited, check.Equals, trial.code, check.Commentf("%v: %s", trial.args, stderr.String()))
		c.Check(stderr.Len() > 0, check.Equals, true)
	}
}

func (s *fitcmdSuite) TestColstats(c *check.C) {
	tmpdir := c.MkDir()
	writeTestNpy(c, tmpdir+"/x.npy", 4, 2, []float64{
		1, 5,
		2, 5,
		3, 5,
		6, 5,
	}, false)
	writeTestNpy(c, tmpdir+"/w.npy", 4, 1, []float64{1, 1, 1, 1}, false)
	var stdout, stderr bytes.Buffer
	exited := (&colstats{}).RunCommand("colstats", []string{"-i", tmpdir + "/x.npy", "-weights", tmpdir + "/w.npy"}, nil, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	var summary columnSummary
	c.Assert(json.Unmarshal(stdout.Bytes(), &summary), check.IsNil)
	c.Check(summary.Rows, check.Equals, 4)
	c.Check(summary.Columns, check.Equals, 2)
	c.Check(summary.Means, check.DeepEquals, []float64{3, 5})
	c.Check(math.Abs(summary.Stds[0]-math.Sqrt(3.5)) < 1e-12, check.Equals, true)
	c.Check(summary.Stds[1], check.Equals, 0.0)
	c.Check(summary.SumSquares, check.DeepEquals, []float64{50, 100})
	c.Check(summary.ZeroVariance, check.DeepEquals, []int{1})
	c.Check(summary.NonzeroCounts, check.DeepEquals, []int{4, 4})

	// The standardized view uses the same statistics.
	view := Standardize(NewDenseMatrix(4, 2, []float64{1, 5, 2, 5, 3, 5, 6, 5}), nil, true, true)
	c.Check(math.Abs(view.Stds[0]-summary.Stds[0]) < 1e-12, check.Equals, true)

	exited = (&colstats{}).RunCommand("colstats", nil, nil, &stdout, &stderr)
	c.Check(exited, check.Equals, 2)
}
