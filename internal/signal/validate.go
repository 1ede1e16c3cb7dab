package signal

import (
	"fmt"
	"sort"
)

// CrossValidate audits a set of signals for direction conflicts: it scores
// agreement, enumerates every disagreeing pair with a classified type, and
// proposes a resolution. Pure function; conflicts come out in a canonical
// order so the result does not depend on input order.
func CrossValidate(signals []AgentSignal) CrossValidationResult {
	if len(signals) < 2 {
		return CrossValidationResult{
			AgentsAgree:    true,
			AgreementScore: 1.0,
			Resolution:     "fewer than two signals; nothing to cross-validate",
			Signals:        signals,
		}
	}

	counts := make(map[Direction]int, 3)
	for _, s := range signals {
		counts[s.Direction]++
	}

	if len(counts) == 1 {
		return CrossValidationResult{
			AgentsAgree:    true,
			AgreementScore: unanimousScore(signals),
			Resolution:     fmt.Sprintf("all agents agree on %s", signals[0].Direction),
			Signals:        signals,
		}
	}

	majority, majorityCount := topDirection(counts)
	score := clamp01(float64(majorityCount) / float64(len(signals)) * 0.6)
	lead := leadSignal(signals)

	var resolution string
	if majorityCount*2 > len(signals) {
		resolution = fmt.Sprintf(
			"follow the %s majority with reduced position sizing; lead signal [%s] %s (conf=%.0f%%)",
			majority, lead.Agent, lead.Direction, lead.Confidence*100)
	} else {
		resolution = fmt.Sprintf(
			"no clear majority; defer with reduced position sizing; highest-priority signal [%s] suggests %s (conf=%.0f%%)",
			lead.Agent, lead.Direction, lead.Confidence*100)
	}

	return CrossValidationResult{
		AgentsAgree:    false,
		AgreementScore: score,
		Conflicts:      enumerateConflicts(signals),
		Resolution:     resolution,
		Signals:        signals,
	}
}

// unanimousScore rewards tight confidence bands: mean confidence scaled
// down by half the confidence spread.
func unanimousScore(signals []AgentSignal) float64 {
	minC, maxC, sum := signals[0].Confidence, signals[0].Confidence, 0.0
	for _, s := range signals {
		sum += s.Confidence
		if s.Confidence < minC {
			minC = s.Confidence
		}
		if s.Confidence > maxC {
			maxC = s.Confidence
		}
	}
	mean := sum / float64(len(signals))
	return clamp01(mean * (1 - 0.5*(maxC-minC)))
}

func topDirection(counts map[Direction]int) (Direction, int) {
	var top Direction
	var n int
	for dir, c := range counts {
		if c > n || (c == n && dir < top) {
			top, n = dir, c
		}
	}
	return top, n
}

// leadSignal picks the signal with the highest (domain priority, confidence)
// pair, breaking exact ties by agent name for a stable result.
func leadSignal(signals []AgentSignal) AgentSignal {
	lead := signals[0]
	for _, s := range signals[1:] {
		if outranks(s, lead) {
			lead = s
		}
	}
	return lead
}

func outranks(a, b AgentSignal) bool {
	pa, pb := a.SignalType.Priority(), b.SignalType.Priority()
	if pa != pb {
		return pa > pb
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Agent < b.Agent
}

func enumerateConflicts(signals []AgentSignal) []Conflict {
	var conflicts []Conflict
	for i := 0; i < len(signals); i++ {
		for j := i + 1; j < len(signals); j++ {
			a, b := signals[i], signals[j]
			if a.Direction == b.Direction {
				continue
			}
			if b.Agent < a.Agent {
				a, b = b, a
			}
			conflicts = append(conflicts, Conflict{
				Agents:     [2]string{a.Agent, b.Agent},
				Directions: [2]Direction{a.Direction, b.Direction},
				Type:       classifyConflict(a.SignalType, b.SignalType),
			})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Agents[0] != conflicts[j].Agents[0] {
			return conflicts[i].Agents[0] < conflicts[j].Agents[0]
		}
		return conflicts[i].Agents[1] < conflicts[j].Agents[1]
	})
	return conflicts
}

func classifyConflict(a, b Type) ConflictType {
	switch {
	case a == b:
		return SameDomainDisagreement
	case pairIs(a, b, Technical, Sentiment):
		return TechnicalVsSentiment
	case pairIs(a, b, Quantitative, Sentiment):
		return QuantitativeVsSentiment
	case pairIs(a, b, Quantitative, Technical):
		return QuantitativeVsTechnical
	default:
		return GeneralDisagreement
	}
}

func pairIs(a, b, x, y Type) bool {
	return (a == x && b == y) || (a == y && b == x)
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
