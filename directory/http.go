// Package directory resolves chat sessions against the platform's session
// directory, the read-only source of truth for conversation membership.
package directory

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"tarot-live/contract"
	"tarot-live/domain"
	"tarot-live/errors"
)

// HTTPDirectory calls the platform's internal session endpoint.
// Callers are expected to bound the context; deadline overruns surface as
// ErrUpstreamTimeout so a slow directory never blocks a connection forever.
type HTTPDirectory struct {
	baseURL      string
	serviceToken string
	client       *http.Client
	log          *slog.Logger
}

var _ contract.SessionDirectory = (*HTTPDirectory)(nil)

func NewHTTPDirectory(baseURL, serviceToken string, timeout time.Duration, log *slog.Logger) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		client:       &http.Client{Timeout: timeout},
		log:          log,
	}
}

type sessionPayload struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	Status       string   `json:"status"`
}

func (d *HTTPDirectory) Lookup(ctx context.Context, id domain.SessionID) (domain.ChatSession, error) {
	endpoint := fmt.Sprintf("%s/internal/chat-sessions/%s", d.baseURL, url.PathEscape(string(id)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("%w: %v", errors.ErrInternal, err)
	}
	req.Header.Set("Authorization", "Bearer "+d.serviceToken)

	resp, err := d.client.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return domain.ChatSession{}, errors.ErrUpstreamTimeout
		}
		var urlErr *url.Error
		if stderrors.As(err, &urlErr) && urlErr.Timeout() {
			return domain.ChatSession{}, errors.ErrUpstreamTimeout
		}
		return domain.ChatSession{}, fmt.Errorf("%w: %v", errors.ErrInternal, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.ChatSession{}, errors.ErrSessionNotFound
	default:
		d.log.Warn("Directory returned unexpected status", "session_id", id, "status", resp.StatusCode)
		return domain.ChatSession{}, fmt.Errorf("%w: directory status %d", errors.ErrInternal, resp.StatusCode)
	}

	var payload sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.ChatSession{}, fmt.Errorf("%w: %v", errors.ErrInternal, err)
	}

	return domain.ChatSession{
		ID:           domain.SessionID(payload.ID),
		Participants: payload.Participants,
		Status:       domain.SessionStatus(payload.Status),
	}, nil
}
