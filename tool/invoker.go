// Package tool implements tool call execution against the tool server pool:
// batch invocation with order-preserving results and isolated failures,
// pluggable result shaping, and the relevance filter that narrows the tool
// set offered to the inference engine.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/logging"
)

// Separator splits a tool identifier into (serverId, toolName).
const Separator = "@"

// SplitToolName parses a "serverId@toolName" identifier.
func SplitToolName(id string) (serverID, toolName string, err error) {
	serverID, toolName, ok := strings.Cut(id, Separator)
	if !ok || serverID == "" || toolName == "" {
		return "", "", fmt.Errorf("malformed tool identifier %q (want serverId%stoolName)", id, Separator)
	}
	return serverID, toolName, nil
}

// InvokerOptions configures an Invoker.
type InvokerOptions struct {
	// MaxParallel bounds concurrent calls within one batch. <=0 means the
	// batch size.
	MaxParallel int
	// CallTimeout bounds each individual tool call.
	CallTimeout time.Duration
	// Shapers holds the per-tool result shaping registry. Defaults to a
	// registry with the standard truncation policy.
	Shapers *ShaperRegistry
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Invoker resolves tool identifiers to pool calls and executes batches.
//
// Contract: exactly one ToolResult per input call, in input order; one
// call's failure never aborts its siblings; unresolved or malformed
// identifiers yield an error result, not a panic or an aborted batch.
type Invoker struct {
	pool        core.ToolServerPool
	maxParallel int
	callTimeout time.Duration
	shapers     *ShaperRegistry
	logger      logging.Logger
}

// NewInvoker constructs an Invoker bound to a pool.
func NewInvoker(pool core.ToolServerPool, optFns ...func(o *InvokerOptions)) *Invoker {
	opts := InvokerOptions{
		MaxParallel: 4,
		CallTimeout: 60 * time.Second,
		Shapers:     NewShaperRegistry(),
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Invoker{
		pool:        pool,
		maxParallel: opts.MaxParallel,
		callTimeout: opts.CallTimeout,
		shapers:     opts.Shapers,
		logger:      opts.Logger,
	}
}

// Shapers exposes the registry so hosts can register bespoke per-tool
// post-processors.
func (i *Invoker) Shapers() *ShaperRegistry { return i.shapers }

// Execute runs all calls and returns one result per call, order preserved.
func (i *Invoker) Execute(ctx context.Context, calls []core.ToolCallRequest) []core.ToolResult {
	n := len(calls)
	if n == 0 {
		return nil
	}

	// Fast path: single call, execute inline.
	if n == 1 {
		return []core.ToolResult{i.executeOne(ctx, calls[0])}
	}

	maxPar := i.maxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	results := make([]core.ToolResult, n)
	sem := make(chan struct{}, maxPar)
	var wg sync.WaitGroup

	batchStart := time.Now()
	for idx := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, call core.ToolCallRequest) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = i.executeOne(ctx, call)
		}(idx, calls[idx])
	}
	wg.Wait()

	i.logger.Debug("invoker.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return results
}

func (i *Invoker) executeOne(ctx context.Context, call core.ToolCallRequest) (res core.ToolResult) {
	res = core.ToolResult{ToolCallID: call.ID, ToolName: call.ToolName}

	// Panic safety: a misbehaving pool implementation must not take the
	// batch down.
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("invoker.call.panic", "tool", call.ToolName, "recover", fmt.Sprintf("%v", r))
			i.logger.Debug("invoker.call.panic.stack", "stack", string(debug.Stack()))
			res.Result = nil
			res.Error = NewToolError(call.ToolName, fmt.Sprintf("tool panicked: %v", r), CodePanic).Error()
		}
	}()

	serverID, toolName, err := SplitToolName(call.ToolName)
	if err != nil {
		res.Error = NewToolError(call.ToolName, err.Error(), CodeInvalidIdentifier).Error()
		return res
	}

	var params map[string]any
	if len(call.Parameters) > 0 {
		if err := json.Unmarshal(call.Parameters, &params); err != nil {
			res.Error = NewToolError(call.ToolName, fmt.Sprintf("invalid tool parameters: %v", err), CodeValidationError).Error()
			return res
		}
	}
	if params == nil {
		params = map[string]any{}
	}

	callCtx := ctx
	if i.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, i.callTimeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := i.pool.CallMethod(callCtx, serverID, toolName, params)
	dur := time.Since(start)

	i.logger.Info("invoker.call.executed",
		"tool", call.ToolName,
		"duration_ms", dur.Milliseconds(),
		"error", err != nil,
	)

	if err != nil {
		res.Error = NewToolError(call.ToolName, err.Error(), CodeExecutionError).Error()
		return res
	}
	res.Result = i.shapers.Shape(call.ToolName, raw)
	return res
}
