package deliberate

// ConsensusThreshold is the convergence score at or above which consensus
// counts as emerging.
const ConsensusThreshold = 0.8

// ConvergenceScore measures pairwise direction agreement across a round,
// each pair weighted by its mean confidence, normalized to [0, 1]. A lone
// opinion trivially agrees with itself; an empty round scores zero.
func ConvergenceScore(ops []Opinion) float64 {
	if len(ops) == 0 {
		return 0
	}
	if len(ops) == 1 {
		return 1
	}

	var agree, total float64
	for i := 0; i < len(ops); i++ {
		for j := i + 1; j < len(ops); j++ {
			w := (ops[i].Confidence + ops[j].Confidence) / 2
			total += w
			if ops[i].Direction == ops[j].Direction {
				agree += w
			}
		}
	}
	if total == 0 {
		return 0
	}
	return agree / total
}

// MeanConfidence averages opinion confidence; an empty round averages zero.
func MeanConfidence(ops []Opinion) float64 {
	if len(ops) == 0 {
		return 0
	}
	sum := 0.0
	for _, op := range ops {
		sum += op.Confidence
	}
	return sum / float64(len(ops))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
