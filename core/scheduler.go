package core

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/actionforge/flowrun/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusFailed  NodeStatus = "failed"
)

type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

type RunScope string

const (
	RunScopeFull       RunScope = "full"
	RunScopePartial    RunScope = "partial"
	RunScopeSingleNode RunScope = "single_node"
)

// ExecutionRequest is everything a node executor gets to see.
type ExecutionRequest struct {
	NodeId string
	Kind   NodeKind
	Data   map[string]any
	Inputs map[PortId]any
}

// NodeExecutor computes the output of a single node. The scheduler calls
// it at most once per node and run. Timeouts and retries are its concern.
type NodeExecutor interface {
	ExecuteNode(ctx context.Context, req ExecutionRequest) (any, error)
}

type NodeExecutorFunc func(ctx context.Context, req ExecutionRequest) (any, error)

func (f NodeExecutorFunc) ExecuteNode(ctx context.Context, req ExecutionRequest) (any, error) {
	return f(ctx, req)
}

type NodeResult struct {
	NodeId     string         `json:"nodeId"`
	Kind       NodeKind       `json:"kind"`
	Status     NodeStatus     `json:"status"`
	Inputs     map[PortId]any `json:"inputs,omitempty"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Duration   time.Duration  `json:"durationNs"`

	Err error `json:"-"`
}

// RunState is owned by the caller of Scheduler.Run. Nothing else
// writes to it, so concurrent runs never share state.
type RunState struct {
	Id         string                `json:"id"`
	Scope      RunScope              `json:"scope"`
	Status     RunStatus             `json:"status"`
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt time.Time             `json:"finishedAt"`
	Duration   time.Duration         `json:"durationNs"`
	Results    []NodeResult          `json:"results"`
	NodeStatus map[string]NodeStatus `json:"nodeStatus"`
	Error      string                `json:"error,omitempty"`
}

func (s *RunState) Result(nodeId string) (NodeResult, bool) {
	for _, r := range s.Results {
		if r.NodeId == nodeId {
			return r, true
		}
	}
	return NodeResult{}, false
}

// Outputs returns the outputs of all successful nodes, usable as
// RunOpts.UpstreamOutputs of a later partial run.
func (s *RunState) Outputs() map[string]any {
	outputs := map[string]any{}
	for _, r := range s.Results {
		if r.Status == NodeStatusSuccess {
			outputs[r.NodeId] = r.Output
		}
	}
	return outputs
}

func (s *RunState) Failure() (NodeResult, bool) {
	for _, r := range s.Results {
		if r.Status == NodeStatusFailed {
			return r, true
		}
	}
	return NodeResult{}, false
}

type RunOpts struct {
	// Subset restricts the run to these node ids. Empty runs everything.
	Subset []string
	// UpstreamOutputs provides outputs of nodes outside the subset,
	// keyed by node id, e.g. from an earlier run.
	UpstreamOutputs map[string]any
}

type SchedulerOpts struct {
	Observer RunObserver
	// MaxParallel bounds how many independent nodes execute at once.
	// Values below 2 execute strictly in topological order.
	MaxParallel int
}

type Scheduler struct {
	executor    NodeExecutor
	observer    RunObserver
	maxParallel int
}

func NewScheduler(executor NodeExecutor, opts SchedulerOpts) *Scheduler {
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	return &Scheduler{
		executor:    executor,
		observer:    observer,
		maxParallel: opts.MaxParallel,
	}
}

func RunScopeOf(subset []string) RunScope {
	switch len(subset) {
	case 0:
		return RunScopeFull
	case 1:
		return RunScopeSingleNode
	default:
		return RunScopePartial
	}
}

type runPlan struct {
	graph    *WorkflowGraph
	order    []string
	position map[string]int
	selected map[string]bool
	nodes    map[string]GraphNode
	upstream map[string]any
}

// Run executes the graph in topological order. A failing node stops the
// run, its result is the last one in the returned state. Node failures
// are not returned as error, only an impossible order or a bad subset is.
func (s *Scheduler) Run(ctx context.Context, g *WorkflowGraph, opts RunOpts) (*RunState, error) {
	if g.registry == nil {
		return nil, CreateErr(nil, "graph has no registry").SetHint(HINT_INTERNAL_ERROR)
	}

	order, err := TopologicalSort(g.Nodes, g.Edges)
	if err != nil {
		return nil, err
	}

	plan := &runPlan{
		graph:    g,
		order:    order,
		position: make(map[string]int, len(order)),
		nodes:    make(map[string]GraphNode, len(g.Nodes)),
		upstream: opts.UpstreamOutputs,
	}
	for i, id := range order {
		plan.position[id] = i
	}
	for _, node := range g.Nodes {
		if _, exists := plan.nodes[node.Id]; !exists {
			plan.nodes[node.Id] = node
		}
	}

	if len(opts.Subset) > 0 {
		plan.selected = make(map[string]bool, len(opts.Subset))
		for _, id := range opts.Subset {
			if _, ok := plan.nodes[id]; !ok {
				return nil, CreateErr(ErrUnknownNode, "node '%s' is not part of the workflow", id)
			}
			plan.selected[id] = true
		}
	}

	state := &RunState{
		Id:         uuid.NewString(),
		Scope:      RunScopeOf(opts.Subset),
		Status:     RunStatusPending,
		Results:    []NodeResult{},
		NodeStatus: map[string]NodeStatus{},
	}
	for _, id := range order {
		if plan.isSelected(id) {
			state.NodeStatus[id] = NodeStatusPending
		}
	}

	state.Status = RunStatusRunning
	state.StartedAt = time.Now()
	s.observer.RunStarted(state)

	if s.maxParallel > 1 {
		s.runConcurrent(ctx, plan, state)
	} else {
		s.runSequential(ctx, plan, state)
	}

	state.FinishedAt = time.Now()
	state.Duration = state.FinishedAt.Sub(state.StartedAt)
	if state.Status == RunStatusRunning {
		state.Status = RunStatusSuccess
	}
	s.observer.RunFinished(state)

	return state, nil
}

func (p *runPlan) isSelected(id string) bool {
	return p.selected == nil || p.selected[id]
}

func (s *Scheduler) runSequential(ctx context.Context, plan *runPlan, state *RunState) {
	outputs := map[string]any{}

	for _, id := range plan.order {
		if !plan.isSelected(id) {
			continue
		}

		if err := ctx.Err(); err != nil {
			s.cancel(state, err)
			return
		}

		req := plan.request(id, outputs)
		state.NodeStatus[id] = NodeStatusRunning
		s.observer.NodeStarted(state, req)

		result := s.execute(ctx, req)
		s.record(state, result)

		if result.Status == NodeStatusFailed {
			state.Status = RunStatusFailed
			state.Error = result.Error
			return
		}
		outputs[id] = result.Output
	}
}

func (s *Scheduler) runConcurrent(ctx context.Context, plan *runPlan, state *RunState) {
	// only dependencies inside the run gate a node, outputs of
	// nodes outside of it come from the upstream outputs
	waiting := map[string]int{}
	dependents := map[string][]string{}
	for _, id := range plan.order {
		if !plan.isSelected(id) {
			continue
		}
		seen := map[string]bool{}
		for _, e := range IncomingEdges(id, plan.graph.Edges) {
			if _, ok := plan.nodes[e.Source]; !ok || !plan.isSelected(e.Source) || seen[e.Source] {
				continue
			}
			seen[e.Source] = true
			waiting[id]++
			dependents[e.Source] = append(dependents[e.Source], id)
		}
	}

	var ready []string
	for _, id := range plan.order {
		if plan.isSelected(id) && waiting[id] == 0 {
			ready = append(ready, id)
		}
	}

	outputs := map[string]any{}
	done := make(chan NodeResult, len(state.NodeStatus))

	var eg errgroup.Group
	eg.SetLimit(s.maxParallel)

	var (
		running int
		failure *NodeResult
		ctxErr  error
	)

	for {
		for failure == nil && ctxErr == nil && len(ready) > 0 && running < s.maxParallel {
			if err := ctx.Err(); err != nil {
				ctxErr = err
				break
			}

			id := ready[0]
			ready = ready[1:]

			req := plan.request(id, outputs)
			state.NodeStatus[id] = NodeStatusRunning
			s.observer.NodeStarted(state, req)

			running++
			eg.Go(func() error {
				done <- s.execute(ctx, req)
				return nil
			})
		}

		if running == 0 {
			break
		}

		result := <-done
		running--

		if result.Status == NodeStatusFailed {
			if failure == nil {
				failure = &result
				state.NodeStatus[result.NodeId] = result.Status
				continue
			}
			// dispatched siblings may fail after the first failure
			s.record(state, result)
			continue
		}

		s.record(state, result)
		outputs[result.NodeId] = result.Output

		for _, next := range dependents[result.NodeId] {
			waiting[next]--
			if waiting[next] == 0 {
				ready = append(ready, next)
			}
		}
		slices.SortFunc(ready, func(a, b string) int {
			return plan.position[a] - plan.position[b]
		})
	}

	_ = eg.Wait()

	if failure != nil {
		s.record(state, *failure)
		state.Status = RunStatusFailed
		state.Error = failure.Error
		return
	}

	if ctxErr != nil {
		s.cancel(state, ctxErr)
	}
}

func (s *Scheduler) cancel(state *RunState, err error) {
	utils.LogOut.Debugf("run %s cancelled: %v\n", state.Id, err)
	state.Status = RunStatusFailed
	state.Error = err.Error()
}

func (s *Scheduler) record(state *RunState, result NodeResult) {
	state.Results = append(state.Results, result)
	state.NodeStatus[result.NodeId] = result.Status
	s.observer.NodeFinished(state, result)
}

func (s *Scheduler) execute(ctx context.Context, req ExecutionRequest) (result NodeResult) {
	result = NodeResult{
		NodeId:    req.NodeId,
		Kind:      req.Kind,
		Inputs:    req.Inputs,
		StartedAt: time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			result.Err = CreateErr(nil, "node executor panicked: %v", r).SetNode(req.NodeId)
		}

		result.FinishedAt = time.Now()
		result.Duration = result.FinishedAt.Sub(result.StartedAt)

		if result.Err != nil {
			result.Status = NodeStatusFailed
			result.Error = result.Err.Error()
			result.Output = nil
		} else {
			result.Status = NodeStatusSuccess
		}
	}()

	utils.LogOut.Debugf("executing node '%s' (%s)\n", req.NodeId, req.Kind)
	result.Output, result.Err = s.executor.ExecuteNode(ctx, req)
	return result
}

// request resolves the inputs of a node from the outputs produced so
// far. Ports without an incoming edge, or whose upstream produced no
// output, are absent. Multiple ports collect non-nil outputs in edge order.
func (p *runPlan) request(id string, outputs map[string]any) ExecutionRequest {
	node := p.nodes[id]
	inputs := map[PortId]any{}

	lookup := func(source string) (any, bool) {
		if v, ok := outputs[source]; ok {
			return v, true
		}
		if !p.isSelected(source) {
			v, ok := p.upstream[source]
			return v, ok
		}
		return nil, false
	}

	incoming := IncomingEdges(id, p.graph.Edges)

	for _, port := range p.graph.registry.Ports(node.Kind, PortInput) {
		var connected []GraphEdge
		for _, e := range incoming {
			if e.TargetHandle == port.Id {
				connected = append(connected, e)
			}
		}
		if len(connected) == 0 {
			continue
		}

		if port.Multiple {
			values := []any{}
			for _, e := range connected {
				if v, ok := lookup(e.Source); ok && v != nil {
					values = append(values, v)
				}
			}
			if len(values) > 0 {
				inputs[port.Id] = values
			}
		} else if v, ok := lookup(connected[0].Source); ok {
			inputs[port.Id] = v
		}
	}

	return ExecutionRequest{
		NodeId: id,
		Kind:   node.Kind,
		Data:   cloneData(node.Data),
		Inputs: inputs,
	}
}

func (r NodeResult) String() string {
	if r.Status == NodeStatusFailed {
		return fmt.Sprintf("%s (%s): %s after %s: %s", r.NodeId, r.Kind, r.Status, r.Duration, r.Error)
	}
	return fmt.Sprintf("%s (%s): %s after %s", r.NodeId, r.Kind, r.Status, r.Duration)
}
