package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sweetpotato0/mcp-bridge/dispatch"
	bridgeerrors "github.com/sweetpotato0/mcp-bridge/errors"
	"github.com/sweetpotato0/mcp-bridge/message"
	"github.com/sweetpotato0/mcp-bridge/tool"
	"github.com/sweetpotato0/mcp-bridge/transcript"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// CreateCompletion runs one bridged completion: submit, execute any tool
// calls, resubmit, until the model answers without tool calls or a budget
// runs out. The caller always gets back either a final answer with the full
// transcript or the transcript up to the abort point with a structured
// abort error, never a partial conversation.
func (b *Bridge) CreateCompletion(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, fmt.Errorf("bridge: request cannot be nil")
	}

	if b.cfg.InvocationBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, b.cfg.InvocationBudget,
			fmt.Errorf("%w after %s", bridgeerrors.ErrInvocationBudget, b.cfg.InvocationBudget))
		defer cancel()
	}

	ctx, span := b.tracer.Start(ctx, "bridge.create_completion",
		trace.WithAttributes(attribute.String("completion.model", req.Model)))
	started := time.Now()

	res, err := b.run(ctx, req)
	span.SetAttributes(
		attribute.Int("bridge.turns", res.Turns),
		attribute.String("bridge.state", res.State.String()),
	)
	b.saveTranscript(req, res, err, started)

	if err != nil {
		span.RecordError(err)
	}
	span.End()
	return res, err
}

// run drives the invocation state machine. The conversation is owned by this
// invocation alone and only ever appended to.
func (b *Bridge) run(ctx context.Context, req *Request) (*Result, error) {
	conv := message.CloneMessages(req.Messages)
	state := StateAwaitingCompletion
	turns := 0

	var (
		snap    *tool.Snapshot
		pending []message.ToolCall
		final   *message.Message
		abort   error
	)

	for {
		switch state {
		case StateAwaitingCompletion:
			if err := b.checkBudgets(ctx, conv); err != nil {
				state, abort = StateAborted, err
				continue
			}

			// Each request/response pair reads one consistent snapshot;
			// subscription updates only show up on the next turn.
			snap = b.registry.Snapshot()

			resp, err := b.complete(ctx, req, conv, snap)
			if err != nil {
				if ctxErr := contextAbort(ctx); ctxErr != nil {
					state, abort = StateAborted, ctxErr
					continue
				}
				state, abort = StateAborted, fmt.Errorf("%w: %v", bridgeerrors.ErrCompletion, err)
				continue
			}

			if len(resp.Message.ToolCalls) == 0 {
				conv = append(conv, resp.Message)
				final = resp.Message
				state = StateDone
				continue
			}
			if turns >= b.cfg.MaxIterations {
				// The assistant turn requesting another round is dropped: the
				// surfaced transcript must not end with unanswered tool calls.
				state, abort = StateAborted, fmt.Errorf("%w: max %d rounds", bridgeerrors.ErrIterationBudget, b.cfg.MaxIterations)
				continue
			}
			conv = append(conv, resp.Message)
			pending = resp.Message.ToolCalls
			state = StateAwaitingToolResults

		case StateAwaitingToolResults:
			results := b.dispatchTurn(ctx, snap, pending)
			// Append in request order, not completion order, so replayed
			// transcripts are deterministic.
			for _, res := range results {
				conv = append(conv, res.Message())
			}
			turns++
			pending = nil
			state = StateAwaitingCompletion

		case StateDone:
			return &Result{
				Message:    final,
				Transcript: conv,
				Turns:      turns,
				State:      StateDone,
			}, nil

		case StateAborted:
			b.logger.Warn("invocation aborted", "turns", turns, "reason", abort)
			return &Result{
				Transcript: conv,
				Turns:      turns,
				State:      StateAborted,
			}, abort
		}
	}
}

// complete submits one completion request with the snapshot's tool schemas.
func (b *Bridge) complete(ctx context.Context, req *Request, conv []*message.Message, snap *tool.Snapshot) (*Response, error) {
	turnReq := &Request{
		Model:       req.Model,
		Messages:    conv,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		ToolChoice:  req.ToolChoice,
	}
	for _, desc := range snap.Tools() {
		turnReq.Tools = append(turnReq.Tools, ToolSchema{
			Name:        desc.Name,
			Description: desc.Description,
			Parameters:  desc.Parameters,
		})
	}
	if len(turnReq.Tools) > 0 && turnReq.ToolChoice == "" {
		turnReq.ToolChoice = "auto"
	}

	resp, err := b.client.Complete(ctx, turnReq)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Message == nil {
		return nil, fmt.Errorf("completion returned no message")
	}
	return resp, nil
}

// dispatchTurn executes one turn's tool calls, concurrently up to the
// configured ceiling. Results land at their request's index regardless of
// completion order.
func (b *Bridge) dispatchTurn(ctx context.Context, snap *tool.Snapshot, calls []message.ToolCall) []dispatch.Result {
	results := make([]dispatch.Result, len(calls))

	var g errgroup.Group
	g.SetLimit(b.cfg.Concurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = b.dispatcher.Invoke(ctx, snap, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// checkBudgets enforces the wall-clock and optional token budgets before
// submitting another completion request.
func (b *Bridge) checkBudgets(ctx context.Context, conv []*message.Message) error {
	if err := contextAbort(ctx); err != nil {
		return err
	}
	if b.tokenCounter != nil && b.tokenBudget > 0 {
		total := 0
		for _, msg := range conv {
			total += b.tokenCounter.CountTokens(msg.Content)
		}
		if total > b.tokenBudget {
			return fmt.Errorf("%w: conversation at %d tokens, budget %d", bridgeerrors.ErrInvocationBudget, total, b.tokenBudget)
		}
	}
	return nil
}

// contextAbort reports why the invocation context ended: the budget timer's
// cause when it fired, the caller's own cancellation otherwise.
func contextAbort(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); errors.Is(cause, bridgeerrors.ErrInvocationBudget) {
		return cause
	}
	return ctx.Err()
}

func (b *Bridge) saveTranscript(req *Request, res *Result, abort error, started time.Time) {
	if b.store == nil || res == nil {
		return
	}

	outcome := res.State.String()
	if abort != nil {
		outcome = fmt.Sprintf("aborted: %v", abort)
	}
	rec := &transcript.Transcript{
		ID:          uuid.NewString(),
		Model:       req.Model,
		Messages:    res.Transcript,
		Turns:       res.Turns,
		Outcome:     outcome,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.Save(saveCtx, rec); err != nil {
		b.logger.Warn("transcript save failed", "id", rec.ID, "error", err)
	}
}
