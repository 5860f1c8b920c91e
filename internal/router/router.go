// Package router decides, once per image, which extraction path to take.
package router

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/trade-ingest/constants"
)

// DefaultTrustThreshold is the lowest quality score that is routed to the fast parser.
const DefaultTrustThreshold = 0.80

// Override reasons recorded on the extraction attempt.
const (
	OverrideCaller          = "caller_force_cheap"
	OverrideBudgetExhausted = "fallback_budget_exhausted"
)

// Input is the typed policy input for one image.
type Input struct {
	QualityScore   float64
	Override       bool   // budget protection: force the cheap route
	OverrideReason string // why Override is set; defaults to OverrideCaller
	PreferFallback bool   // caller-approved escalation
	BatchSize      int
	MultiRegion    bool
}

// Decision is the chosen route plus what the caller must show the user.
type Decision struct {
	Route                constants.Route
	OverrideApplied      bool
	OverrideReason       string
	LowConfidenceWarning bool
	Reason               string
}

// Router applies the trust threshold. A nil guard never throttles fallback.
type Router struct {
	threshold float64
	guard     *BudgetGuard
	logger    *slog.Logger
}

func New(threshold float64, guard *BudgetGuard, logger *slog.Logger) *Router {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultTrustThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{threshold: threshold, guard: guard, logger: logger}
}

// Threshold returns the trust threshold in use.
func (r *Router) Threshold() float64 { return r.threshold }

// Decide never re-routes: the result is final for this image.
func (r *Router) Decide(in Input) Decision {
	d := r.decide(in)
	r.logger.Debug("router.decide",
		"score", in.QualityScore,
		"threshold", r.threshold,
		"route", d.Route,
		"override_applied", d.OverrideApplied,
		"override_reason", d.OverrideReason,
		"reason", d.Reason,
		"batch_size", in.BatchSize,
		"multi_region", in.MultiRegion,
	)
	return d
}

func (r *Router) decide(in Input) Decision {
	trusted := in.QualityScore >= r.threshold
	if in.Override {
		reason := in.OverrideReason
		if reason == "" {
			reason = OverrideCaller
		}
		return r.forcedFast(reason, trusted)
	}
	if trusted && !in.PreferFallback {
		return Decision{Route: constants.RouteFast, Reason: "trusted"}
	}
	if !r.guard.AllowFallback() {
		return r.forcedFast(OverrideBudgetExhausted, trusted)
	}
	if trusted {
		return Decision{Route: constants.RouteFallback, Reason: "caller_escalation"}
	}
	return Decision{Route: constants.RouteFallback, Reason: "low_quality"}
}

func (r *Router) forcedFast(reason string, trusted bool) Decision {
	return Decision{
		Route:                constants.RouteFast,
		OverrideApplied:      true,
		OverrideReason:       reason,
		LowConfidenceWarning: !trusted,
		Reason:               "budget_override",
	}
}

// BudgetGuard is a token bucket over fallback extractions.
type BudgetGuard struct {
	limiter *rate.Limiter
}

// NewBudgetGuard allows perMinute fallback calls with the given burst. perMinute <= 0 disables the guard.
func NewBudgetGuard(perMinute, burst int) *BudgetGuard {
	if perMinute <= 0 {
		return &BudgetGuard{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &BudgetGuard{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)}
}

// AllowFallback consumes one token if available.
func (g *BudgetGuard) AllowFallback() bool {
	if g == nil {
		return true
	}
	return g.limiter.Allow()
}
