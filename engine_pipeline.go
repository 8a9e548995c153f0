package authcore

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrEthical07/authcore/internal/ids"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/pipeline"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/tenant"
)

// Pipeline stage names, in execution order.
const (
	StageRateLimit    = "rate_limit"
	StageAuthenticate = "authenticate"
	StageTenant       = "tenant"
	StageAuthorize    = "authorize"
	StageHandler      = "handler"
)

// Operation describes a privileged call guarded by RunPipeline.
type Operation struct {
	// Name is recorded as the audit action.
	Name string
	// Class selects the rate limit budget; empty means ClassDefault.
	Class string
	// Capabilities must all be held by the resolved role. An empty set with
	// RequireTenant unset skips authorization.
	Capabilities []string
	// RequireTenant demands an organization scope. Global administrators
	// are unscoped and always pass.
	RequireTenant bool
	// Limit overrides the class budget.
	Limit *RateLimit
}

// Request is the state built by the pipeline and handed to the handler.
type Request struct {
	Operation Operation
	RequestID string
	Principal Principal
	Session   *session.Session
	Tenant    tenant.Context
	// Metadata set by the handler is copied into the audit entry.
	Metadata map[string]string
}

// Handler runs after every check has passed.
type Handler func(ctx context.Context, req *Request) error

type requestState struct {
	carrier session.Carrier
	handler Handler
	req     Request
}

// RunPipeline runs rate limiting, authentication, tenant resolution and role
// authorization, then h. The first failing stage aborts the rest. One audit
// entry is written for every invocation, cancelled ones included.
func (e *Engine) RunPipeline(ctx context.Context, op Operation, c session.Carrier, h Handler) error {
	if op.Name == "" {
		return configError("operation name required")
	}
	if h == nil {
		return configError("operation %s has no handler", op.Name)
	}
	reqID := RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = ids.RequestID()
		ctx = WithRequestID(ctx, reqID)
	}
	st := &requestState{
		carrier: c,
		handler: h,
		req:     Request{Operation: op, RequestID: reqID},
	}
	return e.chain.Run(ctx, st, e.finishRequest)
}

// PipelineStages lists the stage names in execution order.
func (e *Engine) PipelineStages() []string {
	return e.chain.Names()
}

func (e *Engine) newChain(tracer trace.Tracer) *pipeline.Chain[requestState] {
	return pipeline.New("authcore.pipeline", tracer,
		pipeline.Stage[requestState]{Name: StageRateLimit, Run: e.stageRateLimit},
		pipeline.Stage[requestState]{Name: StageAuthenticate, Run: e.stageAuthenticate},
		pipeline.Stage[requestState]{Name: StageTenant, Run: e.stageTenant},
		pipeline.Stage[requestState]{Name: StageAuthorize, Run: e.stageAuthorize},
		pipeline.Stage[requestState]{Name: StageHandler, Run: e.stageHandler},
	)
}

// stageRateLimit keys the budget on the presented session only when the
// carrier proves it was issued here (signed value or verified bearer).
// Anything else, including unsigned tokens that have not been looked up
// yet, is charged to the client IP so rotating junk tokens gains nothing.
func (e *Engine) stageRateLimit(ctx context.Context, st *requestState) error {
	class := st.req.Operation.Class
	if class == "" {
		class = ClassDefault
	}
	limit := e.config.RateLimits.For(class)
	if st.req.Operation.Limit != nil {
		limit = *st.req.Operation.Limit
	}
	actor := "anonymous"
	if id, ok := e.resolver.Extractor().Verified(st.carrier); ok {
		actor = "s:" + id
	} else if ip := clientIPFromContext(ctx); ip != "" {
		actor = "ip:" + ip
	}
	return e.checkLimit(ctx, class, actor, limit)
}

func (e *Engine) stageAuthenticate(ctx context.Context, st *requestState) error {
	id, err := e.ResolveSession(ctx, st.carrier)
	if err != nil {
		return err
	}
	st.req.Principal = id.Principal
	st.req.Session = id.Session
	return nil
}

func (e *Engine) stageTenant(ctx context.Context, st *requestState) error {
	tc, err := e.ResolveTenantContext(ctx, st.req.Principal)
	if err != nil {
		return err
	}
	st.req.Tenant = tc
	if st.req.Operation.RequireTenant && !tc.Scoped() && !tc.GlobalAdmin {
		e.metricInc(MetricTenantRequired)
		return ErrTenantRequired
	}
	return nil
}

func (e *Engine) stageAuthorize(_ context.Context, st *requestState) error {
	op := st.req.Operation
	if len(op.Capabilities) == 0 && !op.RequireTenant {
		return nil
	}
	if err := e.authorizer.Authorize(st.req.Tenant.Role, op.Capabilities); err != nil {
		e.metricInc(MetricForbidden)
		if errors.Is(err, permission.ErrForbidden) {
			return newError(ErrAuthorization, ReasonForbidden, err)
		}
		return err
	}
	return nil
}

func (e *Engine) stageHandler(ctx context.Context, st *requestState) error {
	return st.handler(ctx, &st.req)
}

func (e *Engine) finishRequest(ctx context.Context, st *requestState, out pipeline.Outcome) {
	switch {
	case out.Cancelled:
		e.metricInc(MetricPipelineCancelled)
	case out.Failed():
		e.metricInc(MetricPipelineFailure)
	default:
		e.metricInc(MetricPipelineSuccess)
	}
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricPipelineLatency, out.Duration)
	}

	md := make(map[string]string, len(st.req.Metadata)+2)
	for k, v := range st.req.Metadata {
		md[k] = v
	}
	if len(st.req.Operation.Capabilities) > 0 {
		md["capabilities"] = strings.Join(st.req.Operation.Capabilities, ",")
	}
	if out.Cancelled {
		md["cancelled"] = "true"
	}
	if len(md) == 0 {
		md = nil
	}

	sessionID := ""
	if st.req.Session != nil {
		sessionID = st.req.Session.ID
	}
	if out.Failed() {
		e.logger.DebugContext(ctx, "pipeline aborted",
			"operation", st.req.Operation.Name, "stage", out.Stage,
			"request_id", st.req.RequestID, "reason", auditReason(out.Err))
	}
	e.record(ctx, auditEvent{
		action:    st.req.Operation.Name,
		actorID:   st.req.Principal.ID,
		orgID:     st.req.Tenant.OrganizationID,
		stage:     out.Stage,
		sessionID: sessionID,
		err:       out.Err,
		metadata:  md,
	})
}
