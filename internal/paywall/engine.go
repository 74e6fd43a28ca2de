package paywall

import (
	"time"

	"github.com/google/uuid"

	"paywall_gateway/internal/logging"
	"paywall_gateway/internal/metrics"
	"paywall_gateway/internal/models"
	"paywall_gateway/internal/utils"
)

// denial is a guard's verdict against a request.
type denial struct {
	kind   string
	reason string
}

// guard inspects a request and returns a denial, or nil to pass it on.
type guard func(req Request, cost int64) *denial

// guards run in order; the first denial wins, so a missing identity masks
// every balance check.
var guards = []guard{
	requireIdentity,
	requireBalance,
	requireCredits,
}

func requireIdentity(req Request, cost int64) *denial {
	if req.UserID == "" || req.User == nil {
		return &denial{kind: KindUnauthenticated, reason: ReasonNoUser}
	}
	return nil
}

func requireBalance(req Request, cost int64) *denial {
	if req.User.CreditBalance == nil {
		return &denial{kind: KindBalanceUnavailable, reason: ReasonBalanceUnavailable}
	}
	return nil
}

func requireCredits(req Request, cost int64) *denial {
	if balance := *req.User.CreditBalance; balance < cost {
		return &denial{kind: KindInsufficientCredits, reason: InsufficientCreditsReason(cost, balance)}
	}
	return nil
}

// Evaluate decides a request without side effects. Identical requests give
// identical decisions.
func Evaluate(req Request) *Decision {
	cost := EstimatedCost(req.EstimatedTokens)

	for _, g := range guards {
		if d := g(req, cost); d != nil {
			return previewDecision(req.FullContent, cost, d)
		}
	}

	d := &Decision{
		Granted:          true,
		DeliveredContent: req.FullContent,
		PreviewPercent:   FullPercent,
		Kind:             KindGranted,
		EstimatedCost:    cost,
	}
	d.Metadata = metadata(d)
	return d
}

func previewDecision(full string, cost int64, den *denial) *Decision {
	preview := Preview(full)
	d := &Decision{
		IsPreview:        true,
		DeliveredContent: preview + UpsellNotice,
		PreviewContent:   preview,
		PreviewPercent:   PreviewPercent,
		DenialReason:     den.reason,
		LockMessage:      UpsellNotice,
		Kind:             den.kind,
		EstimatedCost:    cost,
	}
	d.Metadata = metadata(d)
	return d
}

// Engine evaluates requests and reports every decision to the audit sink,
// the metrics and the log. Reporting failures never change a decision.
type Engine struct {
	sink    logging.Sink
	metrics metrics.Metrics
	logger  *utils.Logger
	now     func() time.Time

	// metricEndpoints bounds the endpoint metric label; nil passes every
	// endpoint through.
	metricEndpoints map[string]struct{}
}

// EndpointOther is the metric label for endpoints outside the allowlist.
const EndpointOther = "other"

// NewEngine builds an engine. Nil collaborators are replaced with no-ops.
func NewEngine(sink logging.Sink, m metrics.Metrics, logger *utils.Logger) *Engine {
	if sink == nil {
		sink = logging.NewNoopSink()
	}
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	if logger == nil {
		logger = utils.NewLogger("paywall")
	}
	return &Engine{
		sink:    sink,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// SetMetricEndpoints restricts the endpoint metric label to the given
// values. Other endpoints are counted as EndpointOther; audit records keep
// the raw endpoint. Call before the engine serves requests.
func (e *Engine) SetMetricEndpoints(endpoints ...string) {
	e.metricEndpoints = make(map[string]struct{}, len(endpoints))
	for _, ep := range endpoints {
		if ep != "" {
			e.metricEndpoints[ep] = struct{}{}
		}
	}
}

func (e *Engine) endpointLabel(endpoint string) string {
	if e.metricEndpoints == nil {
		return endpoint
	}
	if _, ok := e.metricEndpoints[endpoint]; ok {
		return endpoint
	}
	return EndpointOther
}

// Decide evaluates req and emits its audit record.
func (e *Engine) Decide(req Request) *Decision {
	d := Evaluate(req)

	if d.Granted {
		e.logger.Info("PAYWALL: Full access granted",
			"userId", req.UserID,
			"balance", req.User.Balance(),
			"cost", d.EstimatedCost,
			"endpoint", req.Endpoint,
		)
	} else {
		e.logger.Info("PAYWALL: Forcing preview",
			"userId", req.UserID,
			"reason", d.DenialReason,
			"endpoint", req.Endpoint,
		)
	}

	rec := e.auditRecord(req, d)
	if err := e.sink.Enqueue(rec); err != nil {
		e.logger.Warn("Failed to emit audit record", "endpoint", req.Endpoint, "error", err)
	}
	e.metrics.ObserveDecision(e.endpointLabel(req.Endpoint), string(d.AccessLevel()), d.Kind, rec.OriginalBytes, rec.SentBytes)

	return d
}

func (e *Engine) auditRecord(req Request, d *Decision) *models.AuditRecord {
	return &models.AuditRecord{
		ID:             uuid.New(),
		Timestamp:      e.now().UTC(),
		Authenticated:  req.UserID != "" && req.User != nil,
		Endpoint:       req.Endpoint,
		IsPreview:      d.IsPreview,
		PreviewPercent: d.PreviewPercent,
		OriginalBytes:  len(req.FullContent),
		SentBytes:      len(d.DeliveredContent),
		Reason:         d.DenialReason,
	}
}
