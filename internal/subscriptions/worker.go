package subscriptions

import (
	"context"

	"github.com/riverqueue/river"
)

// QueueName is the dedicated queue for subscription cycles. It runs with a
// single worker so cycles never overlap.
const QueueName = "subscriptions"

type CheckCycleArgs struct{}

func (CheckCycleArgs) Kind() string { return "subscription_check_cycle" }

// CheckCycleWorker runs one engine cycle per periodic job. Errors inside a
// cycle are already logged and contained by the engine; a cycle that returns
// an error is not retried, the next tick covers it.
type CheckCycleWorker struct {
	river.WorkerDefaults[CheckCycleArgs]
	engine *Engine
}

func NewCheckCycleWorker(engine *Engine) *CheckCycleWorker {
	return &CheckCycleWorker{engine: engine}
}

func (w *CheckCycleWorker) Work(ctx context.Context, job *river.Job[CheckCycleArgs]) error {
	return w.engine.RunCycle(ctx)
}
