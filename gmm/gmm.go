// Package gmm fits a two-dimensional Gaussian mixture model to per-read
// signal statistics, separating read populations (for example modified
// from unmodified bases) at one reference position.
package gmm

import (
	"math"
	"math/rand"

	"github.com/genometechlab/currentview/sigstat"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

var (
	// ErrInsufficientData is returned when there are fewer points than
	// mixture components.
	ErrInsufficientData = errors.New("insufficient data for mixture fit")
	// ErrNonConvergence is returned together with the last iterate when EM
	// hits MaxIter before the log-likelihood gain drops below Tol.
	ErrNonConvergence = errors.New("mixture fit did not converge")
)

// CovarianceType selects the covariance structure of the components.
type CovarianceType int

const (
	// Full fits an unconstrained 2x2 covariance per component.
	Full CovarianceType = iota
	// Diagonal constrains each component covariance to its diagonal.
	Diagonal
)

// Config holds the mixture fit parameters.
type Config struct {
	// Components is the number of mixture components.
	Components int
	// Covariance selects full or diagonal component covariances.
	Covariance CovarianceType
	// MaxIter bounds the number of EM iterations.
	MaxIter int
	// Tol stops EM when the mean log-likelihood gain drops below it.
	Tol float64
	// RegCovar is added to covariance diagonals for numerical stability.
	RegCovar float64
	// Seed makes initialization, and hence the fit, deterministic.
	Seed int64
}

// DefaultConfig is the default mixture fit parameters.
var DefaultConfig = Config{
	Components: 2,
	Covariance: Full,
	MaxIter:    100,
	Tol:        1e-3,
	RegCovar:   1e-6,
	Seed:       1,
}

// Preprocess selects feature preprocessing applied before the fit.
type Preprocess struct {
	// Standardize scales each feature to zero mean and unit variance over
	// the pooled points before fitting.  Reported means and covariances
	// are mapped back to data units.
	Standardize bool
	// OutlierZ, when positive, drops points whose distance from the pooled
	// mean exceeds OutlierZ standard deviations in either feature before
	// fitting.  Dropped points get no cluster assignment.
	OutlierZ float64
}

// PointKey identifies one fitted point by condition label and read.
type PointKey struct {
	Label  string
	ReadID string
}

// Standardization records the per-feature affine transform applied when
// Preprocess.Standardize is set.
type Standardization struct {
	Mean [2]float64
	Std  [2]float64
}

// Result is a fitted mixture.  Means and Covariances are in data units;
// LogLikelihood and BIC are computed in the fitted (possibly
// standardized) space.
type Result struct {
	Weights       []float64
	Means         [][2]float64
	Covariances   []*mat.SymDense
	LogLikelihood float64
	// BIC is the Bayesian information criterion of the fit; lower is
	// better.  Comparable across fits of the same points and
	// preprocessing.
	BIC        float64
	Iterations int
	Converged  bool

	Standardization *Standardization
	// Assignments maps each fitted point to its most responsible
	// component.
	Assignments map[PointKey]int
}

// Fit pools one (stat1, stat2) point per valid read across the named
// conditions, each statistic reduced over a centered sub-window of k
// window positions (k=0 selects the whole window), and fits a Gaussian
// mixture by EM.  Reads lacking either statistic are skipped.  On
// ErrNonConvergence the returned result is the last EM iterate and still
// usable.
func Fit(agg *sigstat.Aggregator, labels []string, stat1, stat2 sigstat.Reducer, k int, cfg Config, pp Preprocess) (*Result, error) {
	cfg = cfg.withDefaults()
	points, keys, err := gatherPoints(agg, labels, stat1, stat2, k)
	if err != nil {
		return nil, err
	}
	if pp.OutlierZ > 0 {
		points, keys = dropOutliers(points, keys, pp.OutlierZ)
	}
	if len(points) < cfg.Components {
		return nil, errors.Wrapf(ErrInsufficientData, "%d points for %d components", len(points), cfg.Components)
	}
	var std *Standardization
	if pp.Standardize {
		std = standardize(points)
	}
	res, err := run(points, keys, cfg)
	if err != nil {
		return nil, err
	}
	res.Standardization = std
	if std != nil {
		destandardize(res, std)
	}
	var emErr error
	if !res.Converged {
		emErr = errors.Wrapf(ErrNonConvergence, "after %d iterations", res.Iterations)
		log.Error.Printf("gmm: %v", emErr)
	} else {
		log.Printf("gmm: converged after %d iterations, mean log-likelihood %.4f",
			res.Iterations, res.LogLikelihood)
	}
	return res, emErr
}

// SelectComponents fits the mixture once per component count in
// [minComponents, maxComponents] and returns the fit with the lowest BIC.
// Non-convergent fits still compete; counts with fewer points than
// components are skipped.  cfg.Components is ignored.
func SelectComponents(agg *sigstat.Aggregator, labels []string, stat1, stat2 sigstat.Reducer, k int, minComponents, maxComponents int, cfg Config, pp Preprocess) (*Result, error) {
	if minComponents < 1 || maxComponents < minComponents {
		return nil, errors.Errorf("gmm: bad component range [%d, %d]", minComponents, maxComponents)
	}
	var best *Result
	for c := minComponents; c <= maxComponents; c++ {
		cfg.Components = c
		res, err := Fit(agg, labels, stat1, stat2, k, cfg, pp)
		if err != nil && !errors.Is(err, ErrNonConvergence) {
			if errors.Is(err, ErrInsufficientData) {
				break
			}
			return nil, err
		}
		log.Debug.Printf("gmm: %d components, BIC %.2f", c, res.BIC)
		if best == nil || res.BIC < best.BIC {
			best = res
		}
	}
	if best == nil {
		return nil, errors.Wrapf(ErrInsufficientData, "no component count in [%d, %d] could be fitted",
			minComponents, maxComponents)
	}
	log.Printf("gmm: selected %d components (BIC %.2f)", len(best.Weights), best.BIC)
	return best, nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig
	if c.Components <= 0 {
		c.Components = d.Components
	}
	if c.MaxIter <= 0 {
		c.MaxIter = d.MaxIter
	}
	if c.Tol <= 0 {
		c.Tol = d.Tol
	}
	if c.RegCovar <= 0 {
		c.RegCovar = d.RegCovar
	}
	return c
}

// gatherPoints joins the two per-read statistics on read identity within
// each condition.
func gatherPoints(agg *sigstat.Aggregator, labels []string, stat1, stat2 sigstat.Reducer, k int) ([][2]float64, []PointKey, error) {
	var points [][2]float64
	var keys []PointKey
	for _, label := range labels {
		v1, err := agg.WindowPerRead(label, stat1, k)
		if err != nil {
			return nil, nil, err
		}
		v2, err := agg.WindowPerRead(label, stat2, k)
		if err != nil {
			return nil, nil, err
		}
		second := make(map[string]float64, len(v2))
		for _, v := range v2 {
			second[v.ReadID] = v.V
		}
		for _, v := range v1 {
			y, ok := second[v.ReadID]
			if !ok {
				continue
			}
			points = append(points, [2]float64{v.V, y})
			keys = append(keys, PointKey{Label: label, ReadID: v.ReadID})
		}
	}
	return points, keys, nil
}

// dropOutliers removes points more than maxZ pooled standard deviations
// from the mean in either feature.  A constant feature never rejects.
func dropOutliers(points [][2]float64, keys []PointKey, maxZ float64) ([][2]float64, []PointKey) {
	n := float64(len(points))
	if n == 0 {
		return points, keys
	}
	var mean, sd [2]float64
	for d := 0; d < 2; d++ {
		sum := 0.0
		for _, p := range points {
			sum += p[d]
		}
		mean[d] = sum / n
		ss := 0.0
		for _, p := range points {
			diff := p[d] - mean[d]
			ss += diff * diff
		}
		sd[d] = math.Sqrt(ss / n)
	}
	keptPoints := points[:0]
	keptKeys := keys[:0]
	for i, p := range points {
		keep := true
		for d := 0; d < 2; d++ {
			if sd[d] > 0 && math.Abs(p[d]-mean[d]) > maxZ*sd[d] {
				keep = false
				break
			}
		}
		if keep {
			keptPoints = append(keptPoints, p)
			keptKeys = append(keptKeys, keys[i])
		}
	}
	if dropped := len(points) - len(keptPoints); dropped > 0 {
		log.Printf("gmm: dropped %d outlier points beyond %.1f standard deviations", dropped, maxZ)
	}
	return keptPoints, keptKeys
}

// standardize rescales points in place to zero mean and unit variance per
// feature and returns the applied transform.  A constant feature keeps
// unit scale so the transform stays invertible.
func standardize(points [][2]float64) *Standardization {
	n := float64(len(points))
	var s Standardization
	for d := 0; d < 2; d++ {
		sum := 0.0
		for _, p := range points {
			sum += p[d]
		}
		mean := sum / n
		ss := 0.0
		for _, p := range points {
			diff := p[d] - mean
			ss += diff * diff
		}
		sd := math.Sqrt(ss / n)
		if sd == 0 {
			sd = 1
		}
		s.Mean[d], s.Std[d] = mean, sd
	}
	for i := range points {
		for d := 0; d < 2; d++ {
			points[i][d] = (points[i][d] - s.Mean[d]) / s.Std[d]
		}
	}
	return &s
}

// destandardize maps fitted means and covariances back to data units.
func destandardize(res *Result, s *Standardization) {
	for k := range res.Means {
		for d := 0; d < 2; d++ {
			res.Means[k][d] = res.Means[k][d]*s.Std[d] + s.Mean[d]
		}
		cov := res.Covariances[k]
		for r := 0; r < 2; r++ {
			for c := r; c < 2; c++ {
				cov.SetSym(r, c, cov.At(r, c)*s.Std[r]*s.Std[c])
			}
		}
	}
}

// run is the EM loop over standardized (or raw) points.
func run(points [][2]float64, keys []PointKey, cfg Config) (*Result, error) {
	n := len(points)
	kk := cfg.Components
	rng := rand.New(rand.NewSource(cfg.Seed))

	means := initMeans(points, kk, rng)
	weights := make([]float64, kk)
	covs := make([]*mat.SymDense, kk)
	v0, v1 := featureVariances(points)
	for k := 0; k < kk; k++ {
		weights[k] = 1 / float64(kk)
		covs[k] = mat.NewSymDense(2, []float64{
			v0 + cfg.RegCovar, 0,
			0, v1 + cfg.RegCovar,
		})
	}

	resp := make([][]float64, n)
	for i := range resp {
		resp[i] = make([]float64, kk)
	}
	logw := make([]float64, kk)
	prevLL := math.Inf(-1)
	meanLL := math.Inf(-1)
	converged := false
	iter := 0
	for ; iter < cfg.MaxIter; iter++ {
		// E-step.
		dists := make([]*distmv.Normal, kk)
		for k := 0; k < kk; k++ {
			d, ok := distmv.NewNormal(means[k][:], covs[k], nil)
			if !ok {
				// Not positive definite despite the ridge.
				return nil, errors.Errorf("gmm: singular covariance for component %d at iteration %d", k, iter)
			}
			dists[k] = d
			logw[k] = math.Log(weights[k])
		}
		total := 0.0
		for i, p := range points {
			lse := math.Inf(-1)
			for k := 0; k < kk; k++ {
				resp[i][k] = logw[k] + dists[k].LogProb(p[:])
				lse = logSumExp(lse, resp[i][k])
			}
			for k := 0; k < kk; k++ {
				resp[i][k] = math.Exp(resp[i][k] - lse)
			}
			total += lse
		}
		meanLL = total / float64(n)
		if meanLL-prevLL < cfg.Tol && iter > 0 {
			converged = true
			iter++
			break
		}
		prevLL = meanLL

		// M-step.
		for k := 0; k < kk; k++ {
			nk := 0.0
			var mu [2]float64
			for i, p := range points {
				r := resp[i][k]
				nk += r
				mu[0] += r * p[0]
				mu[1] += r * p[1]
			}
			if nk < 1e-12 {
				nk = 1e-12
			}
			mu[0] /= nk
			mu[1] /= nk
			var c00, c01, c11 float64
			for i, p := range points {
				r := resp[i][k]
				d0, d1 := p[0]-mu[0], p[1]-mu[1]
				c00 += r * d0 * d0
				c01 += r * d0 * d1
				c11 += r * d1 * d1
			}
			c00 = c00/nk + cfg.RegCovar
			c11 = c11/nk + cfg.RegCovar
			c01 /= nk
			if cfg.Covariance == Diagonal {
				c01 = 0
			}
			weights[k] = nk / float64(n)
			means[k] = mu
			covs[k] = mat.NewSymDense(2, []float64{c00, c01, c01, c11})
		}
	}

	assign := make(map[PointKey]int, n)
	for i := range points {
		best, bestR := 0, resp[i][0]
		for k := 1; k < kk; k++ {
			if resp[i][k] > bestR {
				best, bestR = k, resp[i][k]
			}
		}
		assign[keys[i]] = best
	}
	// Free parameters: component weights (kk-1), means (2 each), and the
	// covariance entries the covariance type allows.
	params := (kk - 1) + 2*kk
	if cfg.Covariance == Full {
		params += 3 * kk
	} else {
		params += 2 * kk
	}
	bic := float64(params)*math.Log(float64(n)) - 2*meanLL*float64(n)

	return &Result{
		Weights:       weights,
		Means:         means,
		Covariances:   covs,
		LogLikelihood: meanLL,
		BIC:           bic,
		Iterations:    iter,
		Converged:     converged,
		Assignments:   assign,
	}, nil
}

// initMeans seeds component means with farthest-point sampling: a random
// first point, then points maximizing the distance to the nearest chosen
// mean.
func initMeans(points [][2]float64, kk int, rng *rand.Rand) [][2]float64 {
	means := make([][2]float64, 0, kk)
	means = append(means, points[rng.Intn(len(points))])
	for len(means) < kk {
		bestIdx, bestDist := 0, -1.0
		for i, p := range points {
			nearest := math.Inf(1)
			for _, m := range means {
				if d := sqDist(p, m); d < nearest {
					nearest = d
				}
			}
			if nearest > bestDist {
				bestIdx, bestDist = i, nearest
			}
		}
		means = append(means, points[bestIdx])
	}
	return means
}

func featureVariances(points [][2]float64) (float64, float64) {
	n := float64(len(points))
	var m0, m1 float64
	for _, p := range points {
		m0 += p[0]
		m1 += p[1]
	}
	m0 /= n
	m1 /= n
	var v0, v1 float64
	for _, p := range points {
		v0 += (p[0] - m0) * (p[0] - m0)
		v1 += (p[1] - m1) * (p[1] - m1)
	}
	return v0 / n, v1 / n
}

func sqDist(a, b [2]float64) float64 {
	d0, d1 := a[0]-b[0], a[1]-b[1]
	return d0*d0 + d1*d1
}

func logSumExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}
