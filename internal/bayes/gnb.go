package bayes

import (
	"fmt"
	"math"
)

// GNB is a two-class Gaussian Naive Bayes model with parameters estimated
// from the sample vectors embedded in a profile.
type GNB struct {
	features  int
	priorCred float64
	priorUn   float64
	meanCred  []float64
	meanUn    []float64
	varCred   []float64
	varUn     []float64
}

// Fit estimates priors, means and variances from the profile's samples.
// Variances are floored at the profile's _min_variance.
func Fit(p *Profile) (*GNB, error) {
	n := len(p.FeatureNames)
	cred, un := p.Samples.Credible, p.Samples.Untrusted
	if len(cred) == 0 || len(un) == 0 {
		return nil, fmt.Errorf("profile has no samples for both classes")
	}
	for _, s := range append(append([][]float64{}, cred...), un...) {
		if len(s) != n {
			return nil, fmt.Errorf("sample length %d does not match %d features", len(s), n)
		}
	}

	model := &GNB{features: n}
	switch p.PriorsMode {
	case "empirical":
		total := float64(len(cred) + len(un))
		model.priorCred = float64(len(cred)) / total
		model.priorUn = float64(len(un)) / total
	default: // uniform
		model.priorCred, model.priorUn = 0.5, 0.5
	}
	model.meanCred, model.varCred = meanVar(cred, n, p.MinVariance)
	model.meanUn, model.varUn = meanVar(un, n, p.MinVariance)
	return model, nil
}

func meanVar(samples [][]float64, n int, minVar float64) ([]float64, []float64) {
	mean := make([]float64, n)
	for _, s := range samples {
		for i, v := range s {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(samples))
	}
	variance := make([]float64, n)
	for _, s := range samples {
		for i, v := range s {
			d := v - mean[i]
			variance[i] += d * d
		}
	}
	for i := range variance {
		variance[i] /= float64(len(samples))
		if variance[i] < minVar {
			variance[i] = minVar
		}
	}
	return mean, variance
}

// PredictCredible returns P(credible | x) in [0,1]. The input vector must
// match the profile's feature count.
func (m *GNB) PredictCredible(x []float64) (float64, error) {
	if len(x) != m.features {
		return 0, fmt.Errorf("vector length %d does not match %d features", len(x), m.features)
	}
	logCred := math.Log(m.priorCred)
	logUn := math.Log(m.priorUn)
	for i, v := range x {
		logCred += gaussianLogPDF(v, m.meanCred[i], m.varCred[i])
		logUn += gaussianLogPDF(v, m.meanUn[i], m.varUn[i])
	}
	// Normalize in log space to avoid underflow.
	maxLog := math.Max(logCred, logUn)
	pc := math.Exp(logCred - maxLog)
	pu := math.Exp(logUn - maxLog)
	return pc / (pc + pu), nil
}

func gaussianLogPDF(x, mean, variance float64) float64 {
	return -0.5*math.Log(2*math.Pi*variance) - (x-mean)*(x-mean)/(2*variance)
}
