package core

import (
	"github.com/actionforge/flowrun/utils"
)

// RunObserver is notified about the progress of a run. All calls for
// one run happen from the goroutine that called Scheduler.Run.
type RunObserver interface {
	RunStarted(run *RunState)
	NodeStarted(run *RunState, req ExecutionRequest)
	NodeFinished(run *RunState, result NodeResult)
	RunFinished(run *RunState)
}

type NopObserver struct{}

func (NopObserver) RunStarted(*RunState)                    {}
func (NopObserver) NodeStarted(*RunState, ExecutionRequest) {}
func (NopObserver) NodeFinished(*RunState, NodeResult)      {}
func (NopObserver) RunFinished(*RunState)                   {}

// Observers fans out every notification in order.
type Observers []RunObserver

func (o Observers) RunStarted(run *RunState) {
	for _, obs := range o {
		obs.RunStarted(run)
	}
}

func (o Observers) NodeStarted(run *RunState, req ExecutionRequest) {
	for _, obs := range o {
		obs.NodeStarted(run, req)
	}
}

func (o Observers) NodeFinished(run *RunState, result NodeResult) {
	for _, obs := range o {
		obs.NodeFinished(run, result)
	}
}

func (o Observers) RunFinished(run *RunState) {
	for _, obs := range o {
		obs.RunFinished(run)
	}
}

// LogObserver writes node transitions to the debug log and a summary
// line per run to the regular log.
type LogObserver struct{}

func (LogObserver) RunStarted(run *RunState) {
	utils.LogOut.Debugf("run %s started (%s, %d nodes)\n", run.Id, run.Scope, len(run.NodeStatus))
}

func (LogObserver) NodeStarted(run *RunState, req ExecutionRequest) {
	utils.LogOut.Debugf("  ▶ %s (%s)\n", req.NodeId, req.Kind)
}

func (LogObserver) NodeFinished(run *RunState, result NodeResult) {
	if result.Status == NodeStatusFailed {
		utils.LogErr.Errorf("  ✗ %s\n", result)
		return
	}
	utils.LogOut.Debugf("  ✓ %s\n", result)
}

func (LogObserver) RunFinished(run *RunState) {
	utils.LogOut.Infof("run %s finished: %s in %s\n", run.Id, run.Status, run.Duration)
}
