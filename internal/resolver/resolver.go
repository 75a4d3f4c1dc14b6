package resolver

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"unlocker/internal/config"
	"unlocker/internal/domain"
	"unlocker/internal/gate"
	"unlocker/internal/identity"
	"unlocker/internal/monitoring"
	"unlocker/internal/session"
)

// Resolver drives one locked link through the resolution state machine:
//
//	Unresolved -> SessionEstablished -> ChallengeParsed ->
//	StepsSimulated -> TokenExchanged -> Resolved
//
// with Failed reachable from any non-terminal state. One attempt gets one
// fresh session; the resolver never recovers across components — a failed
// step fails the attempt, and retries are whole fresh runs owned by the
// orchestrator.
type Resolver struct {
	cfg       *config.Config
	identity  *identity.Manager
	limiter   session.Limiter
	cooldowns session.CooldownStore
	metrics   *monitoring.Metrics
	logger    *zap.Logger
}

func New(cfg *config.Config, ids *identity.Manager, limiter session.Limiter, cooldowns session.CooldownStore, m *monitoring.Metrics, l *zap.Logger) *Resolver {
	if l == nil {
		l = zap.NewNop()
	}
	return &Resolver{
		cfg:       cfg,
		identity:  ids,
		limiter:   limiter,
		cooldowns: cooldowns,
		metrics:   m,
		logger:    l,
	}
}

// Resolve runs one resolution attempt under the task's wall-clock budget and
// leaves the task in a terminal state.
func (r *Resolver) Resolve(ctx context.Context, task *domain.LinkTask) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TaskBudget())
	defer cancel()

	resolvedURL, err := r.run(ctx, task)
	if err != nil {
		kind := domain.KindOf(err)
		// The budget expiring mid-request classifies as Timeout even when
		// it surfaced through a network call.
		if ctx.Err() == context.DeadlineExceeded && kind == domain.KindNetworkError {
			kind = domain.KindTimeout
		}
		task.Fail(kind, err.Error())
		r.logger.Warn("resolution failed",
			zap.String("url", task.SourceURL),
			zap.String("state", string(task.State)),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return
	}

	task.Resolve(resolvedURL)
	r.logger.Info("link resolved",
		zap.String("url", task.SourceURL),
		zap.String("resolved", resolvedURL))
}

func (r *Resolver) run(ctx context.Context, task *domain.LinkTask) (string, error) {
	sess := domain.NewSession(r.identity.Headers())
	client, err := session.NewClient(sess, session.Options{
		Timeout:    time.Duration(r.cfg.RequestTimeout) * time.Second,
		MaxRetries: r.cfg.MaxRetries,
		ProxyURL:   r.identity.Proxy(),
		Limiter:    r.limiter,
		Cooldowns:  r.cooldowns,
		Logger:     r.logger,
	})
	if err != nil {
		return "", domain.NewResolveError(domain.KindNetworkError, err)
	}

	// Fetching the locked page follows shortener redirects, so the session
	// lands on the gate's real host before anything is parsed.
	page, err := client.Fetch(ctx, http.MethodGet, task.SourceURL, nil)
	if err != nil {
		return "", err
	}
	if page.StatusCode < 200 || page.StatusCode >= 300 {
		return "", domain.Errorf(domain.KindNetworkError, "gate page answered %d", page.StatusCode)
	}
	task.ExpandedURL = page.FinalURL.String()
	task.State = domain.StateSessionEstablished
	challengeStart := time.Now()

	challenge, err := gate.Parse(page.FinalURL, string(page.Body))
	if err != nil {
		return "", err
	}
	task.State = domain.StateChallengeParsed
	r.logger.Debug("challenge parsed",
		zap.String("url", task.ExpandedURL),
		zap.Int("steps", len(challenge.Steps)),
		zap.Duration("min_wait", challenge.MinWait))

	sim := gate.NewSimulator(client, r.logger)
	proofs := make([]domain.StepProof, 0, len(challenge.Steps))
	for i := range challenge.Steps {
		proof, err := sim.Execute(ctx, challenge, i, challengeStart)
		if err != nil {
			return "", err
		}
		r.metrics.IncSteps(string(challenge.Steps[i].Kind))
		proofs = append(proofs, proof)
	}
	task.State = domain.StateStepsSimulated

	resolvedURL, err := gate.NewFinalizer(client, r.logger).Finalize(ctx, challenge, proofs)
	if err != nil {
		return "", err
	}
	task.State = domain.StateTokenExchanged

	return resolvedURL, nil
}
