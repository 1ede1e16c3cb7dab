package credential

import (
	"math"
	"time"

	"github.com/troika-ai/troika/internal/provider"
)

// Health classifies a credential's recent error profile.
type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "degraded"
	Disabled Health = "disabled"
)

// Error-count thresholds for health transitions.
const (
	degradedAt   = 5  // error_count >= 5: degraded
	disabledAt   = 10 // error_count >= 10: disabled
	healthyBelow = 3  // on success, error_count < 3 promotes back to healthy
)

const maxCooldownLevel = 10

// Credential is one API key slot for a provider. Provider, Index and
// SecretName are fixed at pool construction and safe to read anywhere;
// every other field is guarded by the owning pool's mutex. The secret
// itself never leaves the secret store.
type Credential struct {
	Provider   provider.Kind
	Index      int
	SecretName string

	Health         Health
	ErrorCount     int
	RequestCount   int64
	CoolingEvents  int64
	CooldownLevel  int
	LastUsed       time.Time
	LastErrorAt    time.Time
	CooldownUntil  time.Time
	CooldownReason string
}

// Usable reports whether the credential may be handed out: not disabled
// and not inside a cooldown window.
func (c *Credential) Usable(now time.Time) bool {
	if c.Health == Disabled {
		return false
	}
	return c.CooldownUntil.IsZero() || !c.CooldownUntil.After(now)
}

func (c *Credential) cooling(now time.Time) bool {
	return !c.CooldownUntil.IsZero() && c.CooldownUntil.After(now)
}

func healthFactor(h Health) float64 {
	switch h {
	case Healthy:
		return 3.0
	case Degraded:
		return 1.5
	default:
		return 0.0
	}
}

// SelectionWeight computes the sampling weight for one credential. Pure
// function over the credential's current state: healthy beats degraded,
// lightly used beats busy, error-free beats error-prone, and credentials
// that have sat idle earn a recency bonus. Usable credentials are floored
// at 0.001 so nothing starves outright.
func SelectionWeight(c *Credential, now time.Time) float64 {
	hf := healthFactor(c.Health)
	if hf == 0 {
		return 0
	}

	bonus := 1.2
	if !c.LastUsed.IsZero() {
		idle := now.Sub(c.LastUsed).Seconds()
		bonus = 0.2 + idle/30.0
		if bonus < 0.2 {
			bonus = 0.2
		} else if bonus > 1.2 {
			bonus = 1.2
		}
	}

	w := hf *
		(1.0 / (1.0 + float64(c.RequestCount)/25.0)) *
		(1.0 / (1.0 + float64(c.ErrorCount))) *
		math.Pow(0.5, float64(c.CooldownLevel)) *
		bonus

	if w < 0.001 {
		w = 0.001
	}
	return w
}
