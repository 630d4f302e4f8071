package errorhandler

import (
	"context"
)

// ErrorPhase is the stage of the record pipeline a failure came from
type ErrorPhase int

const (
	PhaseUnknown ErrorPhase = iota
	PhaseSerde
	PhaseProcessing
	PhaseProduction
)

var phaseNames = [...]string{
	PhaseUnknown:    "unknown",
	PhaseSerde:      "serde",
	PhaseProcessing: "processing",
	PhaseProduction: "production",
}

func (p ErrorPhase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return phaseNames[PhaseUnknown]
	}
	return phaseNames[p]
}

// ParsePhase returns the phase named s, as printed by String
func ParsePhase(s string) (ErrorPhase, bool) {
	for p, name := range phaseNames {
		if name == s && ErrorPhase(p) != PhaseUnknown {
			return ErrorPhase(p), true
		}
	}
	return PhaseUnknown, false
}

type RouteOption func(*PhaseRouter)

// OnPhase handles failures of phase with h instead of the fallback. A nil h is ignored.
func OnPhase(phase ErrorPhase, h Handler) RouteOption {
	return func(r *PhaseRouter) {
		if h != nil {
			r.routes[phase] = h
		}
	}
}

func OnSerde(h Handler) RouteOption {
	return OnPhase(PhaseSerde, h)
}

func OnProcessing(h Handler) RouteOption {
	return OnPhase(PhaseProcessing, h)
}

func OnProduction(h Handler) RouteOption {
	return OnPhase(PhaseProduction, h)
}

var _ Handler = (*PhaseRouter)(nil)

// PhaseRouter picks a handler by the phase of the failure
type PhaseRouter struct {
	fallback Handler
	routes   map[ErrorPhase]Handler
}

// ByPhase routes failures to the handler registered for their phase and everything else
// to fallback. A nil fallback fails the task without logging.
func ByPhase(fallback Handler, opts ...RouteOption) *PhaseRouter {
	if fallback == nil {
		fallback = SilentFail()
	}

	r := &PhaseRouter{fallback: fallback, routes: make(map[ErrorPhase]Handler)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *PhaseRouter) Handle(ctx context.Context, ec ErrorContext) Action {
	if h, ok := r.routes[ec.Phase]; ok {
		return h.Handle(ctx, ec)
	}
	return r.fallback.Handle(ctx, ec)
}
