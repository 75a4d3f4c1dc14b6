package gate

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"unlocker/internal/domain"
	"unlocker/internal/session"
)

// unlockRequest exchanges accumulated proofs for the destination URL.
type unlockRequest struct {
	Token  string             `json:"token"`
	Proofs []domain.StepProof `json:"proofs"`
}

type unlockResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Finalizer submits the completed-step proofs and extracts the final URL.
type Finalizer struct {
	client *session.Client
	logger *zap.Logger
}

func NewFinalizer(client *session.Client, logger *zap.Logger) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{client: client, logger: logger}
}

// Finalize posts the proof set in step order. The gate answers either with a
// redirect to the destination or a JSON body carrying it. A refusal (the
// proof set is incomplete, out of order, or a step result expired) surfaces
// as UnlockRejected.
func (f *Finalizer) Finalize(ctx context.Context, ch *domain.GateChallenge, proofs []domain.StepProof) (string, error) {
	body, err := json.Marshal(unlockRequest{Token: ch.Token, Proofs: proofs})
	if err != nil {
		return "", domain.Errorf(domain.KindUnlockRejected, "encode unlock request: %w", err)
	}

	resp, err := f.client.FetchNoRedirect(ctx, http.MethodPost, ch.UnlockURL, body)
	if err != nil {
		return "", err
	}

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return "", domain.Errorf(domain.KindUnlockRejected, "unlock redirect without location")
		}
		abs, err := resp.FinalURL.Parse(loc)
		if err != nil {
			return "", domain.Errorf(domain.KindUnlockRejected, "unlock redirect location: %w", err)
		}
		return abs.String(), nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var ur unlockResponse
		if err := json.Unmarshal(resp.Body, &ur); err != nil {
			return "", domain.Errorf(domain.KindUnlockRejected, "malformed unlock response: %w", err)
		}
		if ur.URL == "" {
			f.logger.Debug("unlock refused", zap.String("reason", ur.Error))
			return "", domain.Errorf(domain.KindUnlockRejected, "gate refused proof set: %s", ur.Error)
		}
		return ur.URL, nil

	default:
		return "", domain.Errorf(domain.KindUnlockRejected,
			"unlock endpoint answered %d", resp.StatusCode)
	}
}
