package traffic

import (
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// ArrivalSampler generates inter-arrival gaps for one lane.
type ArrivalSampler interface {
	// SampleGap returns the next inter-arrival gap in seconds. Always > 0.
	SampleGap(rng *rand.Rand) float64
}

// minGap keeps two arrivals on one lane from sharing an instant.
const minGap = 1e-3

// PoissonSampler generates exponentially-distributed gaps (CV=1).
type PoissonSampler struct {
	rate float64 // vehicles per second
}

func (s *PoissonSampler) SampleGap(rng *rand.Rand) float64 {
	return math.Max(minGap, rng.ExpFloat64()/s.rate)
}

// GammaSampler generates Gamma-distributed gaps. CV > 1 produces platoons,
// as released by an upstream signal.
type GammaSampler struct {
	shape float64 // 1/CV²
	scale float64 // CV²/rate
}

func (s *GammaSampler) SampleGap(rng *rand.Rand) float64 {
	return math.Max(minGap, gammaRand(rng, s.shape, s.scale))
}

// UniformSampler releases vehicles at a fixed headway. Used for scripted
// scenarios where randomness would obscure the behavior under test.
type UniformSampler struct {
	gap float64
}

func (s *UniformSampler) SampleGap(_ *rand.Rand) float64 {
	return s.gap
}

// gammaRand samples from Gamma(shape, scale) using Marsaglia-Tsang's method.
// For shape < 1: Gamma(shape) = Gamma(shape+1) * U^(1/shape).
func gammaRand(rng *rand.Rand, shape, scale float64) float64 {
	if shape < 1.0 {
		u := rng.Float64()
		return gammaRand(rng, shape+1.0, scale) * math.Pow(u, 1.0/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()

		// Squeeze test
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// NewArrivalSampler creates an ArrivalSampler for a lane.
// Returns nil when rate is zero: the lane receives no arrivals.
func NewArrivalSampler(spec ArrivalSpec, rate float64) ArrivalSampler {
	if rate <= 0 {
		return nil
	}
	switch spec.Process {
	case "gamma":
		cv := 1.0
		if spec.CV != nil && *spec.CV > 0 {
			cv = *spec.CV
		}
		shape := 1.0 / (cv * cv)
		if shape < 0.01 {
			logrus.Warnf("Gamma shape %.4f (CV=%.1f) is very small; falling back to Poisson", shape, cv)
			return &PoissonSampler{rate: rate}
		}
		return &GammaSampler{shape: shape, scale: cv * cv / rate}
	case "uniform":
		return &UniformSampler{gap: 1.0 / rate}
	default:
		return &PoissonSampler{rate: rate}
	}
}
