package enrich

import "strings"

// Mode controls when enrichment runs.
type Mode string

const (
	// ModeAuto routes on task keywords.
	ModeAuto Mode = "auto"
	// ModeAlways enriches every request.
	ModeAlways Mode = "always"
	// ModeNever disables enrichment.
	ModeNever Mode = "never"
)

// ModeFromString parses a mode name, defaulting to ModeAuto.
func ModeFromString(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModeAlways):
		return ModeAlways
	case string(ModeNever):
		return ModeNever
	default:
		return ModeAuto
	}
}

// Tasks that run against historical data or pure computation gain nothing
// from live market context.
var skipKeywords = []string{
	"backtest",
	"historical",
	"calculate",
	"compute",
	"rsi",
	"macd",
	"moving average",
	"sharpe_ratio",
	"drawdown",
	"unit test",
}

// Tasks that reference current conditions want fresh context.
var triggerKeywords = []string{
	"sentiment",
	"news",
	"macro",
	"fed",
	"etf",
	"whale",
	"regulation",
	"current",
	"today",
	"latest",
	"right now",
}

// ShouldConsult decides whether a task warrants a research consultation.
// Skip-keywords mark historical or computational work, trigger-keywords mark
// anything touching live conditions. Two or more skips with no trigger keep
// the task local; any trigger sends it to research; everything else stays
// local.
func (e *Enricher) ShouldConsult(task string) bool {
	switch e.mode {
	case ModeAlways:
		return true
	case ModeNever:
		return false
	}

	lower := strings.ToLower(task)
	skip := countKeywords(lower, skipKeywords)
	trigger := countKeywords(lower, triggerKeywords)

	if skip >= 2 && trigger == 0 {
		return false
	}
	return trigger >= 1
}

// countKeywords counts distinct keywords present in the lowercased text.
func countKeywords(lower string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}
