package deliberate

import (
	"time"

	"github.com/troika-ai/troika/internal/provider"
	"github.com/troika-ai/troika/internal/signal"
)

// Decide applies the voting strategy to final-round opinions. It returns
// the decision and the winning direction's opinions; a no-consensus outcome
// has no winners.
func Decide(strategy Strategy, ops []Opinion) (string, []Opinion) {
	if len(ops) == 0 {
		return NoConsensus, nil
	}
	switch strategy {
	case Unanimous:
		first := ops[0].Direction
		for _, op := range ops[1:] {
			if op.Direction != first {
				return NoConsensus, nil
			}
		}
		return string(first), ops
	case Supermajority:
		winner, winning := plurality(ops)
		need := (2*len(ops) + 2) / 3
		if len(winning) < need {
			return NoConsensus, nil
		}
		return string(winner), winning
	case Weighted:
		winner, winning := weightedWinner(ops)
		return string(winner), winning
	default:
		winner, winning := plurality(ops)
		return string(winner), winning
	}
}

// plurality picks the direction with the most opinions. Count ties go to
// the higher summed confidence, exact ties to direction name order for a
// stable result.
func plurality(ops []Opinion) (signal.Direction, []Opinion) {
	var winner signal.Direction
	var won []Opinion
	for dir, group := range groupByDirection(ops) {
		if won == nil {
			winner, won = dir, group
			continue
		}
		if len(group) != len(won) {
			if len(group) > len(won) {
				winner, won = dir, group
			}
			continue
		}
		cs, ws := confidenceSum(group), confidenceSum(won)
		if cs > ws || (cs == ws && dir < winner) {
			winner, won = dir, group
		}
	}
	return winner, won
}

// weightedWinner scores each direction by summed confidence times the
// agent's domain priority and takes the maximum. Ties fall back to the
// plurality tie rules.
func weightedWinner(ops []Opinion) (signal.Direction, []Opinion) {
	var winner signal.Direction
	var won []Opinion
	best := -1.0
	for dir, group := range groupByDirection(ops) {
		score := 0.0
		for _, op := range group {
			score += op.Confidence * float64(signalTypeFor(op.Agent).Priority())
		}
		switch {
		case won == nil || score > best:
			best, winner, won = score, dir, group
		case score == best:
			cs, ws := confidenceSum(group), confidenceSum(won)
			if cs > ws || (cs == ws && dir < winner) {
				winner, won = dir, group
			}
		}
	}
	return winner, won
}

func groupByDirection(ops []Opinion) map[signal.Direction][]Opinion {
	groups := make(map[signal.Direction][]Opinion, 3)
	for _, op := range ops {
		groups[op.Direction] = append(groups[op.Direction], op)
	}
	return groups
}

func confidenceSum(ops []Opinion) float64 {
	sum := 0.0
	for _, op := range ops {
		sum += op.Confidence
	}
	return sum
}

// AggregateConfidence is the mean winning confidence scaled by how far the
// final round actually converged.
func AggregateConfidence(winning []Opinion, convergence float64) float64 {
	if len(winning) == 0 {
		return 0
	}
	return clamp01(MeanConfidence(winning) * convergence)
}

// Dissenting returns every opinion not on the decided direction. A
// no-consensus decision matches nothing, so all positions are dissents.
func Dissenting(ops []Opinion, decision string) []Opinion {
	var out []Opinion
	for _, op := range ops {
		if string(op.Direction) != decision {
			out = append(out, op)
		}
	}
	return out
}

// VotesFrom projects opinions into their recorded vote form.
func VotesFrom(ops []Opinion) []Vote {
	votes := make([]Vote, 0, len(ops))
	for _, op := range ops {
		votes = append(votes, Vote{
			Agent:      op.Agent,
			Confidence: op.Confidence,
			Position:   op.Direction,
			Reasoning:  op.Reasoning,
		})
	}
	return votes
}

// signalTypeFor maps agent identity to the analytical domain it speaks
// for: the reasoner argues from quantitative evidence, the technical agent
// from structure, the research agent from sentiment and news.
func signalTypeFor(agent string) signal.Type {
	switch agent {
	case provider.Reasoner.Name():
		return signal.Quantitative
	case provider.Technical.Name():
		return signal.Technical
	case provider.Research.Name():
		return signal.Sentiment
	default:
		return ""
	}
}

// SignalsFrom converts opinions to agent signals for cross-validation.
func SignalsFrom(ops []Opinion, at time.Time) []signal.AgentSignal {
	out := make([]signal.AgentSignal, 0, len(ops))
	for _, op := range ops {
		out = append(out, signal.AgentSignal{
			Agent:      op.Agent,
			SignalType: signalTypeFor(op.Agent),
			Direction:  op.Direction,
			Confidence: op.Confidence,
			Reasoning:  op.Reasoning,
			Timestamp:  at,
		})
	}
	return out
}
