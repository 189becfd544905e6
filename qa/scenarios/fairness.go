package scenarios

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// JainIndex measures how evenly the sessions are served, each one weighted
// by the power its vehicle accepts. It ranges from 1/n to 1 and is 1 when no
// session is active.
func JainIndex(allocated, demand []float64) float64 {
	ratios := satisfaction(allocated, demand)
	if len(ratios) == 0 {
		return 1
	}
	sq := floats.Dot(ratios, ratios)
	if sq == 0 {
		return 1
	}
	sum := floats.Sum(ratios)
	return sum * sum / (float64(len(ratios)) * sq)
}

// MeanSatisfaction is the average share of its vehicle maximum a session
// receives.
func MeanSatisfaction(allocated, demand []float64) float64 {
	ratios := satisfaction(allocated, demand)
	if len(ratios) == 0 {
		return 1
	}
	return stat.Mean(ratios, nil)
}

func satisfaction(allocated, demand []float64) []float64 {
	out := make([]float64, 0, len(allocated))
	for i, a := range allocated {
		if i >= len(demand) || demand[i] <= 0 {
			continue
		}
		out = append(out, a/demand[i])
	}
	return out
}
