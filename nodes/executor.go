package nodes

import (
	"context"
	"time"

	"github.com/actionforge/flowrun/core"

	"github.com/tmc/langchaingo/llms"
)

// LlmFactory creates the model client used by llm nodes.
type LlmFactory func(ctx context.Context, model string) (llms.Model, error)

type ExecutorOpts struct {
	// LlmApiKey is handed to the provider picked by the model name.
	// Without key and factory, llm nodes answer with a local echo.
	LlmApiKey  string
	LlmFactory LlmFactory

	// NodeTimeout bounds a single node execution, zero means no limit.
	NodeTimeout time.Duration
}

// Executor dispatches node executions to the implementation of their kind.
type Executor struct {
	opts ExecutorOpts
}

func NewExecutor(opts ExecutorOpts) *Executor {
	return &Executor{
		opts: opts,
	}
}

func (e *Executor) ExecuteNode(ctx context.Context, req core.ExecutionRequest) (any, error) {
	fn, ok := lookupExecute(req.Kind)
	if !ok {
		return nil, core.CreateErr(&core.UnknownNodeKindError{Kind: string(req.Kind)}, "unhandled node type").SetNode(req.NodeId)
	}

	if e.opts.NodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.NodeTimeout)
		defer cancel()
	}

	output, err := fn(ctx, e, req)
	if err != nil {
		return nil, core.CreateErr(err).SetNode(req.NodeId)
	}
	return output, nil
}

func (e *Executor) llmClient(ctx context.Context, model string) (llms.Model, error) {
	if e.opts.LlmFactory != nil {
		return e.opts.LlmFactory(ctx, model)
	}
	if e.opts.LlmApiKey == "" {
		return nil, nil
	}
	return createLlmClient(ctx, model, e.opts.LlmApiKey)
}
