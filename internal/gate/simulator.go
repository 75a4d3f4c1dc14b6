package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"unlocker/internal/domain"
	"unlocker/internal/session"
)

// stepResponse is what action endpoints answer with on success.
type stepResponse struct {
	Evidence string `json:"evidence"`
}

// stepRequest is the payload action endpoints expect.
type stepRequest struct {
	Token  string            `json:"token"`
	Params map[string]string `json:"params,omitempty"`
}

// Simulator executes gate-completion steps in gate order, producing the
// evidence proofs the unlock endpoint later verifies.
type Simulator struct {
	client *session.Client
	logger *zap.Logger
}

func NewSimulator(client *session.Client, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{client: client, logger: logger}
}

// Execute runs the step at index. startedAt is when the challenge page was
// fetched; timer steps wait out whatever remains of the gate's minimum so
// waits already spent on earlier steps are not duplicated.
func (s *Simulator) Execute(ctx context.Context, ch *domain.GateChallenge, index int, startedAt time.Time) (domain.StepProof, error) {
	step := ch.Steps[index]
	switch step.Kind {
	case domain.StepTimer:
		return s.waitTimer(ctx, ch, index, startedAt)
	case domain.StepSubscribe:
		return s.action(ctx, ch, index, http.MethodPost)
	case domain.StepVisit:
		return s.action(ctx, ch, index, http.MethodGet)
	default:
		return domain.StepProof{}, domain.Errorf(domain.KindStepFailed, "step %d: unhandled kind %q", index, step.Kind)
	}
}

// waitTimer suspends until the gate's minimum wait has elapsed since the
// challenge started. The server rejects early submissions, so the remaining
// wait is a floor; it is never padded beyond the minimum.
func (s *Simulator) waitTimer(ctx context.Context, ch *domain.GateChallenge, index int, startedAt time.Time) (domain.StepProof, error) {
	remaining := ch.MinWait - time.Since(startedAt)
	if remaining > 0 {
		s.logger.Debug("waiting out gate timer",
			zap.Int("step", index),
			zap.Duration("remaining", remaining))
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return domain.StepProof{}, ctxKind(ctx.Err())
		}
	}
	elapsed := time.Since(startedAt)
	return domain.StepProof{
		Index:    index,
		Evidence: strconv.FormatInt(elapsed.Milliseconds(), 10),
	}, nil
}

// action issues the one HTTP call the real UI would issue on completing the
// step and extracts the evidence token from the answer.
func (s *Simulator) action(ctx context.Context, ch *domain.GateChallenge, index int, method string) (domain.StepProof, error) {
	step := ch.Steps[index]

	var resp *session.Response
	var err error
	switch method {
	case http.MethodGet:
		endpoint, qerr := withQueryParams(step.Endpoint, ch.Token, step.Params)
		if qerr != nil {
			return domain.StepProof{}, domain.Errorf(domain.KindStepFailed, "step %d: %w", index, qerr)
		}
		resp, err = s.client.Fetch(ctx, http.MethodGet, endpoint, nil)
	default:
		body, merr := json.Marshal(stepRequest{Token: ch.Token, Params: step.Params})
		if merr != nil {
			return domain.StepProof{}, domain.Errorf(domain.KindStepFailed, "step %d: encode request: %w", index, merr)
		}
		resp, err = s.client.Fetch(ctx, method, step.Endpoint, body)
	}
	if err != nil {
		return domain.StepProof{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.StepProof{}, domain.Errorf(domain.KindStepFailed,
			"step %d (%s): endpoint answered %d", index, step.Kind, resp.StatusCode)
	}

	var sr stepResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil || sr.Evidence == "" {
		return domain.StepProof{}, domain.Errorf(domain.KindStepFailed,
			"step %d (%s): no evidence token in response", index, step.Kind)
	}

	return domain.StepProof{Index: index, Evidence: sr.Evidence}, nil
}

func withQueryParams(endpoint, token string, params map[string]string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func ctxKind(err error) error {
	if err == context.DeadlineExceeded {
		return domain.NewResolveError(domain.KindTimeout, err)
	}
	return domain.NewResolveError(domain.KindCancelled, err)
}
