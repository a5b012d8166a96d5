package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/zkfold/internal/engine"
	"github.com/roach88/zkfold/internal/kv/leveldbkv"
	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/store"
	"github.com/roach88/zkfold/internal/testutil"
)

// Harness runs one scenario against a fresh in-memory store.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.DeterministicClock
	logger *slog.Logger

	msgs   map[string]message.Message
	proofs map[string]message.Proof
	labels map[message.Hash]string
}

// rootMap resolves Merkle roots from the scenario's groups table.
type rootMap map[string]string

func (m rootMap) ResolveRoot(_ context.Context, root, hint string) (string, bool, error) {
	group, ok := m[root]
	if !ok || (hint != "" && hint != group) {
		return "", false, nil
	}
	return group, true, nil
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger sets the logger handed to the engine.
// Default: logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each run gets a fresh in-memory store and a deterministic clock, so the
// same scenario always produces the same hashes and the same trace. A
// returned error means the run itself broke (store failure); failed
// expectations are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	st := store.New(leveldbkv.NewMem())
	defer st.Close()

	h := &Harness{
		store:  st,
		clock:  testutil.NewDeterministicClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		msgs:   map[string]message.Message{},
		proofs: map[string]message.Proof{},
		labels: map[message.Hash]string{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.engine = engine.New(st, rootMap(scenario.Groups), engine.WithLogger(h.logger))

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{
		Ctx:    ctx,
		Store:  st,
		Result: result,
		labels: h.labels,
		msgs:   h.msgs,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	snap, err := snapshot(ctx, scenario.Name, result, actx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	result.snapshot = snap
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	var (
		msg   message.Message
		proof message.Proof
		label = step.Label
	)
	if step.Repeat != "" {
		msg, proof = h.msgs[step.Repeat], h.proofs[step.Repeat]
		label = step.Repeat
	} else {
		var err error
		msg, proof, err = buildStep(step, h.clock.Next().UnixMilli(), h.msgs)
		if err != nil {
			return fmt.Errorf("build message: %w", err)
		}
	}

	outcome, err := h.engine.InsertMessage(ctx, msg, proof)
	if err != nil {
		return err
	}

	if step.Label != "" {
		h.msgs[step.Label] = msg
		h.proofs[step.Label] = proof
		h.labels[message.MustHash(msg)] = step.Label
	}

	result.AddStep(TraceEvent{
		Label:   label,
		Type:    string(msg.MessageType()),
		Subtype: msg.MessageSubtype(),
		Outcome: outcome.String(),
	})
	if step.Expect != "" && step.Expect != outcome.String() {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s, got %s", i, label, step.Expect, outcome))
	}
	return nil
}
