package context

import (
	"wbbaudit/pkg/config"
	"wbbaudit/pkg/crypto"
	"wbbaudit/pkg/metrics"
)

// OperationContext holds the read-only state shared by every verifier in a run.
type OperationContext struct {
	Config   *config.Config    // The run configuration
	Params   *crypto.Params    // Curve and pairing parameters, fixed for the process lifetime
	Recorder *metrics.Recorder // The metrics recorder for the current run.
}

// NewContext creates a new OperationContext.
func NewContext(config *config.Config, params *crypto.Params, rec *metrics.Recorder) *OperationContext {
	return &OperationContext{
		Config:   config,
		Params:   params,
		Recorder: rec,
	}
}
