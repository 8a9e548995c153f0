package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Stage is one named step. Run enriches state or returns an error that
// aborts the remaining stages.
type Stage[S any] struct {
	Name string
	Run  func(ctx context.Context, state *S) error
}

// Outcome is handed to the finalizer after the chain stops.
type Outcome struct {
	// Stage names the stage that failed, or is empty on success.
	Stage     string
	Err       error
	Cancelled bool
	Duration  time.Duration
}

// Failed reports whether any stage aborted the chain.
func (o Outcome) Failed() bool { return o.Err != nil }

// Finalizer runs exactly once per Run, whatever the outcome.
type Finalizer[S any] func(ctx context.Context, state *S, out Outcome)

// Chain runs stages strictly in order.
type Chain[S any] struct {
	name   string
	stages []Stage[S]
	tracer trace.Tracer
}

// New builds a chain. A nil tracer disables spans.
func New[S any](name string, tracer trace.Tracer, stages ...Stage[S]) *Chain[S] {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Chain[S]{name: name, stages: append([]Stage[S](nil), stages...), tracer: tracer}
}

// With returns a copy of the chain with extra stages appended.
func (c *Chain[S]) With(stages ...Stage[S]) *Chain[S] {
	cp := *c
	cp.stages = append(append([]Stage[S](nil), c.stages...), stages...)
	return &cp
}

// Names lists the stage names in execution order.
func (c *Chain[S]) Names() []string {
	out := make([]string, len(c.stages))
	for i, s := range c.stages {
		out[i] = s.Name
	}
	return out
}

// Run executes the stages and then fin. Cancellation is checked before each
// stage; a cancelled chain still finalizes. A panicking stage is finalized
// as a failure and the panic is re-raised.
func (c *Chain[S]) Run(ctx context.Context, state *S, fin Finalizer[S]) (err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, c.name)
	defer span.End()

	var out Outcome
	defer func() {
		r := recover()
		if r != nil {
			out.Err = fmt.Errorf("pipeline: panic in stage %s: %v", out.Stage, r)
		}
		out.Duration = time.Since(start)
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Stage)
		}
		if fin != nil {
			fin(ctx, state, out)
		}
		if r != nil {
			panic(r)
		}
	}()

	for _, stage := range c.stages {
		out.Stage = stage.Name
		if cerr := ctx.Err(); cerr != nil {
			out.Err = cerr
			out.Cancelled = true
			return cerr
		}
		if serr := c.runStage(ctx, stage, state); serr != nil {
			out.Err = serr
			out.Cancelled = ctx.Err() != nil
			return serr
		}
	}
	out.Stage = ""
	return nil
}

func (c *Chain[S]) runStage(ctx context.Context, stage Stage[S], state *S) error {
	ctx, span := c.tracer.Start(ctx, c.name+"."+stage.Name,
		trace.WithAttributes(attribute.String("pipeline.stage", stage.Name)))
	defer span.End()

	if err := stage.Run(ctx, state); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
