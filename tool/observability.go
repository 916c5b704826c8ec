package tool

import "sync"

// ExecutionObservation captures one worker execution.
type ExecutionObservation struct {
	ToolName   string
	Category   string
	Outcome    OutcomeKind
	ExitCode   int
	PID        int
	DurationMS int64
}

// Observer receives worker-level observability events.
type Observer interface {
	ObserveExecution(observation ExecutionObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveExecution(ExecutionObservation) {}

var (
	observerMu     sync.RWMutex
	activeObserver Observer = noopObserver{}
)

// SetObserver sets the process-wide worker observer. Passing nil restores the
// no-op observer.
func SetObserver(observer Observer) {
	observerMu.Lock()
	defer observerMu.Unlock()
	if observer == nil {
		activeObserver = noopObserver{}
		return
	}
	activeObserver = observer
}

func emitExecutionObservation(observation ExecutionObservation) {
	observerMu.RLock()
	observer := activeObserver
	observerMu.RUnlock()
	observer.ObserveExecution(observation)
}
