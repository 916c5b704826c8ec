package dispatch

// Phase is a state in the per-call state machine. A call moves strictly
// forward through the phases and may leave for PhaseFailed from any phase
// after PhaseReceived.
type Phase string

const (
	PhaseReceived        Phase = "received"
	PhaseInputValidated  Phase = "input_validated"
	PhaseExecuting       Phase = "executing"
	PhaseOutputSplit     Phase = "output_split"
	PhaseOutputValidated Phase = "output_validated"
	PhaseResponded       Phase = "responded"
	PhaseFailed          Phase = "failed"
)
