package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed logins."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Logins refused by lockout."},
	{ID: authcore.MetricSecondFactorRequired, Name: "authcore_second_factor_required_total", Help: "Logins answered with a second-factor demand."},
	{ID: authcore.MetricTOTPSuccess, Name: "authcore_totp_success_total", Help: "Accepted TOTP codes."},
	{ID: authcore.MetricTOTPFailure, Name: "authcore_totp_failure_total", Help: "Rejected TOTP codes."},
	{ID: authcore.MetricTOTPReplay, Name: "authcore_totp_replay_total", Help: "Rejected reuse of an accepted TOTP step."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Consumed backup codes."},
	{ID: authcore.MetricBackupCodeFailed, Name: "authcore_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: authcore.MetricBackupCodeRegenerated, Name: "authcore_backup_code_regenerated_total", Help: "Backup code set regenerations."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordRejected, Name: "authcore_password_rejected_total", Help: "Candidates rejected by password policy."},
	{ID: authcore.MetricPasswordHistoryUnavailable, Name: "authcore_password_history_unavailable_total", Help: "Policy checks that skipped reuse because history was unreadable."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricSessionResolveFailure, Name: "authcore_session_resolve_failure_total", Help: "Failed session resolutions."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Rate-limit checks that denied a request."},
	{ID: authcore.MetricPipelineSuccess, Name: "authcore_pipeline_success_total", Help: "Pipeline runs that reached and passed the handler."},
	{ID: authcore.MetricPipelineFailure, Name: "authcore_pipeline_failure_total", Help: "Pipeline runs aborted by a stage."},
	{ID: authcore.MetricPipelineCancelled, Name: "authcore_pipeline_cancelled_total", Help: "Pipeline runs aborted by cancellation."},
	{ID: authcore.MetricForbidden, Name: "authcore_forbidden_total", Help: "Requests refused for missing capabilities."},
	{ID: authcore.MetricTenantRequired, Name: "authcore_tenant_required_total", Help: "Requests refused for missing organization scope."},
	{ID: authcore.MetricAuditFailure, Name: "authcore_audit_failure_total", Help: "Audit entries that could not be stored."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricPipelineLatency, Name: "authcore_pipeline_latency_seconds", Help: "Request pipeline latency."},
}

// UpperBounds are the engine's finite latency bounds in seconds; the
// engine keeps an eighth overflow bucket.
var UpperBounds = upperBounds()

// HistogramBoundSuffix names each bucket, overflow included, for backends
// that cannot carry an le label: 0.005 becomes "0_005".
var HistogramBoundSuffix = boundSuffixes()

func upperBounds() []float64 {
	out := make([]float64, len(authcore.LatencyBuckets))
	for i, d := range authcore.LatencyBuckets {
		out[i] = d.Seconds()
	}
	return out
}

func boundSuffixes() []string {
	out := make([]string, 0, len(UpperBounds)+1)
	for _, b := range UpperBounds {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(b, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
