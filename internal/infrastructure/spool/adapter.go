package spool

// Adapter exposes the spool as the pipeline's OutputSpooler contract.
type Adapter struct {
	cfg Config
}

// NewAdapter creates a pipeline-facing spool adapter.
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// SpoolIfLarge writes content to the session spool when it meets the
// threshold and returns the agent-facing replacement (preview + pointer).
// Below threshold the content passes through unchanged.
func (a *Adapter) SpoolIfLarge(content, toolName string) (string, bool, error) {
	result, err := SpoolLargeOutput(content, toolName, a.cfg)
	if err != nil {
		return "", false, err
	}
	if result == nil {
		return content, false, nil
	}
	response, err := result.ToAgentResponse()
	if err != nil {
		return "", false, err
	}
	return response, true, nil
}
