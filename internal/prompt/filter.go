package prompt

import "github.com/troika-ai/troika/internal/provider"

// universalMetrics are kept for every provider.
var universalMetrics = map[string]bool{
	"net_profit":       true,
	"net_profit_pct":   true,
	"total_trades":     true,
	"win_rate":         true,
	"max_drawdown_pct": true,
	"sharpe_ratio":     true,
}

// allowLists holds the per-provider metric names worth sending, on top of
// the universal set. The reasoner gets risk and return shape, the technical
// model gets indicator values, the research model gets sentiment context.
var allowLists = map[provider.Kind]map[string]bool{
	provider.Reasoner: {
		"profit_factor": true,
		"sortino_ratio": true,
		"calmar_ratio":  true,
		"expectancy":    true,
		"avg_win":       true,
		"avg_loss":      true,
		"volatility":    true,
		"var_95":        true,
	},
	provider.Technical: {
		"rsi":             true,
		"macd":            true,
		"ema_fast":        true,
		"ema_slow":        true,
		"atr":             true,
		"adx":             true,
		"bollinger_upper": true,
		"bollinger_lower": true,
		"stochastic_k":    true,
		"volume_sma":      true,
	},
	provider.Research: {
		"sentiment_score":  true,
		"news_count":       true,
		"social_volume":    true,
		"fear_greed_index": true,
		"funding_rate":     true,
		"open_interest":    true,
	},
}

// FilterMetrics projects m down to the provider's allow-list plus the
// universal set. Pure projection: no renaming, no recomputation, and the
// result never has more keys than the input.
func FilterMetrics(kind provider.Kind, m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	allowed := allowLists[kind]
	out := make(map[string]any)
	for k, v := range m {
		if universalMetrics[k] || allowed[k] {
			out[k] = v
		}
	}
	return out
}
