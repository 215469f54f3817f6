package zerotrust

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/secops-platform/secops-core/pkg/errors"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// AuditSink receives one record per evaluation, including fail-secure
// denials.
type AuditSink interface {
	RecordAccessDecision(ctx context.Context, rec *AuditRecord)
}

// BaselineRefresher is invoked on the baseline refresh interval so
// behavioral models can be retrained from accumulated observations.
type BaselineRefresher interface {
	Retrain()
}

// Config holds engine tunables.
type Config struct {
	DefaultDecision      string // "allow" or "deny" when no policy matches
	TrustRefreshInterval time.Duration
	BaselineRefresh      time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultDecision:      "allow",
		TrustRefreshInterval: time.Minute,
		BaselineRefresh:      time.Hour,
	}
}

// Stats counts evaluation outcomes.
type Stats struct {
	Evaluations   uint64 `json:"evaluations"`
	Allowed       uint64 `json:"allowed"`
	Denied        uint64 `json:"denied"`
	Challenged    uint64 `json:"challenged"`
	Quarantined   uint64 `json:"quarantined"`
	DefaultPath   uint64 `json:"default_path"`
	FailedSecure  uint64 `json:"failed_secure"`
	CacheHits     uint64 `json:"cache_hits"`
}

// Engine evaluates access requests. Every call returns a decision:
// internal failures are converted to a deny with reason
// evaluation_error rather than propagated.
type Engine struct {
	cfg      Config
	policies *PolicyStore
	profiles ProfileProvider
	cache    TrustCache
	geo      *GeoResolver
	audit    AuditSink
	baseline BaselineRefresher
	log      *logger.Logger

	evaluations  atomic.Uint64
	allowed      atomic.Uint64
	denied       atomic.Uint64
	challenged   atomic.Uint64
	quarantined  atomic.Uint64
	defaultPath  atomic.Uint64
	failedSecure atomic.Uint64
	cacheHits    atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(cfg Config, policies *PolicyStore, profiles ProfileProvider, cache TrustCache, log *logger.Logger) *Engine {
	if cfg.TrustRefreshInterval <= 0 {
		cfg.TrustRefreshInterval = time.Minute
	}
	if cfg.BaselineRefresh <= 0 {
		cfg.BaselineRefresh = time.Hour
	}
	if cfg.DefaultDecision != "deny" {
		cfg.DefaultDecision = "allow"
	}
	if policies == nil {
		policies = NewPolicyStore()
	}
	if profiles == nil {
		profiles = NewStaticProfiles()
	}
	if cache == nil {
		cache = NewMemoryTrustCache(cfg.TrustRefreshInterval)
	}
	return &Engine{
		cfg:      cfg,
		policies: policies,
		profiles: profiles,
		cache:    cache,
		log:      log.WithComponent("zerotrust-engine"),
	}
}

// SetGeoResolver attaches optional GeoIP enrichment.
func (e *Engine) SetGeoResolver(geo *GeoResolver) { e.geo = geo }

// SetAuditSink attaches the decision audit trail.
func (e *Engine) SetAuditSink(sink AuditSink) { e.audit = sink }

// SetBaselineRefresher attaches the behavioral model retrain hook.
func (e *Engine) SetBaselineRefresher(r BaselineRefresher) { e.baseline = r }

// Policies exposes the policy store for management endpoints.
func (e *Engine) Policies() *PolicyStore { return e.policies }

// Start launches the trust and baseline refresh loops.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.refreshLoop()
	e.log.Info("zero trust engine started",
		"default_decision", e.cfg.DefaultDecision,
		"trust_refresh", e.cfg.TrustRefreshInterval.String(),
		"baseline_refresh", e.cfg.BaselineRefresh.String())
}

// Stop halts the refresh loops.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) refreshLoop() {
	defer e.wg.Done()
	trustTick := time.NewTicker(e.cfg.TrustRefreshInterval)
	baselineTick := time.NewTicker(e.cfg.BaselineRefresh)
	defer trustTick.Stop()
	defer baselineTick.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-trustTick.C:
			if mc, ok := e.cache.(*MemoryTrustCache); ok {
				mc.Purge(now)
			}
		case <-baselineTick.C:
			if e.baseline != nil {
				e.baseline.Retrain()
				e.log.Debug("behavioral baselines retrained")
			}
		}
	}
}

// Evaluate renders a decision for one access request. The returned
// error is non-nil only for invalid input; evaluation failures yield a
// fail-secure deny decision and a nil error.
func (e *Engine) Evaluate(ctx context.Context, req *AccessRequest) (*Decision, error) {
	if req == nil || req.UserID == "" || req.Resource == "" {
		return nil, apperrors.Validation("access request requires user_id and resource")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	e.evaluations.Add(1)

	decision, err := e.evaluate(ctx, req)
	if err != nil {
		e.failedSecure.Add(1)
		e.log.Error("evaluation failed, denying access",
			"request_id", req.ID, "user_id", req.UserID, "error", err)
		decision = &Decision{
			RequestID: req.ID,
			Decision:  "deny",
			Reason:    ReasonEvaluationError,
			Actions:   []string{"log_incident", "notify_security_team"},
			Timestamp: time.Now().UTC(),
		}
	}

	e.count(decision.Decision)
	e.recordAudit(ctx, req, decision)
	return decision, nil
}

func (e *Engine) evaluate(ctx context.Context, req *AccessRequest) (*Decision, error) {
	if e.geo != nil {
		e.geo.Resolve(&req.Context)
	}

	trust, hit := e.cache.Get(ctx, req.UserID, req.DeviceID)
	if hit {
		e.cacheHits.Add(1)
	} else {
		user, err := e.profiles.UserProfile(ctx, req.UserID)
		if err != nil {
			return nil, apperrors.TrustEval(err)
		}
		device, err := e.profiles.DeviceProfile(ctx, req.DeviceID)
		if err != nil {
			return nil, apperrors.TrustEval(err)
		}
		trust = ComputeTrustScore(user, device, req)
		e.cache.Set(ctx, req.UserID, req.DeviceID, trust)
	}

	risk := AssessRisk(req, trust)
	feat := buildFeatures(req, trust, risk)

	for _, p := range e.policies.All() {
		if !p.Matches(feat) {
			continue
		}
		actions := append([]string(nil), p.Actions...)
		return &Decision{
			RequestID:  req.ID,
			Decision:   decisionFromAction(actions[0]),
			Reason:     ReasonPolicyMatched,
			PolicyID:   p.ID,
			Actions:    actions,
			TrustScore: trust,
			Risk:       risk,
			Timestamp:  time.Now().UTC(),
		}, nil
	}

	e.defaultPath.Add(1)
	return &Decision{
		RequestID:  req.ID,
		Decision:   e.cfg.DefaultDecision,
		Reason:     ReasonNoPoliciesMatched,
		Actions:    []string{"log_access"},
		TrustScore: trust,
		Risk:       risk,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// decisionFromAction maps a policy's leading action to the rendered
// decision verb.
func decisionFromAction(action string) string {
	switch action {
	case "allow", "deny", "challenge", "quarantine", "monitor":
		return action
	case "block":
		return "deny"
	default:
		return "challenge"
	}
}

func (e *Engine) count(decision string) {
	switch decision {
	case "allow", "monitor":
		e.allowed.Add(1)
	case "deny":
		e.denied.Add(1)
	case "challenge":
		e.challenged.Add(1)
	case "quarantine":
		e.quarantined.Add(1)
	}
}

func (e *Engine) recordAudit(ctx context.Context, req *AccessRequest, d *Decision) {
	rec := &AuditRecord{
		RequestID: req.ID,
		UserID:    req.UserID,
		DeviceID:  req.DeviceID,
		Resource:  req.Resource,
		Action:    req.Action,
		Decision:  d.Decision,
		Reason:    d.Reason,
		PolicyID:  d.PolicyID,
		SourceIP:  req.Context.SourceIP,
		Timestamp: d.Timestamp,
	}
	if d.TrustScore != nil {
		rec.TrustScore = d.TrustScore.Overall
	}
	if d.Risk != nil {
		rec.RiskScore = d.Risk.OverallRisk
	}
	e.log.Info("access decision",
		"request_id", rec.RequestID,
		"user_id", rec.UserID,
		"resource", rec.Resource,
		"decision", rec.Decision,
		"reason", rec.Reason,
		"trust_score", rec.TrustScore,
		"risk_score", rec.RiskScore)
	if e.audit != nil {
		e.audit.RecordAccessDecision(ctx, rec)
	}
}

// Stats returns a snapshot of evaluation counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Evaluations:  e.evaluations.Load(),
		Allowed:      e.allowed.Load(),
		Denied:       e.denied.Load(),
		Challenged:   e.challenged.Load(),
		Quarantined:  e.quarantined.Load(),
		DefaultPath:  e.defaultPath.Load(),
		FailedSecure: e.failedSecure.Load(),
		CacheHits:    e.cacheHits.Load(),
	}
}
