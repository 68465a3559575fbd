package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MegaGrindStone/roundtable/internal/models"
)

// Discussion is a client for the moderated discussion service. It covers the session configuration,
// the event feed, and the fire-and-forget typing and input notifications, plus the thin lifecycle
// calls the web interface needs around them.
type Discussion struct {
	baseURL string

	client  *http.Client
	timeout time.Duration

	logger *slog.Logger
}

type sessionConfigResponse struct {
	AITravelers    []models.Role `json:"ai_travelers"`
	HumanTravelers []models.Role `json:"human_travelers"`

	// The camel-cased names are accepted as well, some deployments expose them.
	AutomatedRoles []models.Role `json:"automatedRoles"`
	HumanRoles     []models.Role `json:"humanRoles"`
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

type typingRequest struct {
	SessionID string      `json:"session_id"`
	Who       models.Role `json:"who"`
	Active    bool        `json:"active"`
}

type inputRequest struct {
	SessionID string      `json:"session_id"`
	Who       models.Role `json:"who"`
	Text      string      `json:"text"`
}

// ErrUnexpectedStatus is returned, wrapped, when the service answers with a non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected status")

// DefaultRequestTimeout bounds every call to the service except the event feed.
const DefaultRequestTimeout = 10 * time.Second

// NewDiscussion creates a new Discussion client for the service reachable at baseURL. A nil client
// falls back to a plain http.Client without timeout, since the event feed is long-lived; the other
// calls are each bounded by timeout instead. A non-positive timeout means DefaultRequestTimeout.
func NewDiscussion(baseURL string, client *http.Client, timeout time.Duration, logger *slog.Logger) Discussion {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return Discussion{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: timeout,
		logger:  logger.With(slog.String("module", "discussion")),
	}
}

// SessionConfig fetches the role partition of the session. Callers are expected to fall back to a
// default assignment on any error.
func (d Discussion) SessionConfig(ctx context.Context, sessionID string) (models.RoleAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.get(ctx, "/session/config", sessionID)
	if err != nil {
		return models.RoleAssignment{}, err
	}
	defer resp.Body.Close()

	var res sessionConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return models.RoleAssignment{}, fmt.Errorf("failed to decode session config: %w", err)
	}

	if res.AITravelers == nil && res.HumanTravelers == nil {
		return models.RoleAssignment{
			AutomatedRoles: res.AutomatedRoles,
			HumanRoles:     res.HumanRoles,
		}, nil
	}
	return models.RoleAssignment{
		AutomatedRoles: res.AITravelers,
		HumanRoles:     res.HumanTravelers,
	}, nil
}

// Stream opens the server-to-client event feed of the session. The returned body must be closed by
// the caller; closing it is how the connection is released. The feed lives as long as ctx and is not
// bounded by the request timeout.
func (d Discussion) Stream(ctx context.Context, sessionID string) (io.ReadCloser, error) {
	resp, err := d.get(ctx, "/session/stream", sessionID)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Typing notifies the service that who started or stopped composing a message.
func (d Discussion) Typing(ctx context.Context, sessionID string, who models.Role, active bool) error {
	return d.post(ctx, "/session/typing", typingRequest{
		SessionID: sessionID,
		Who:       who,
		Active:    active,
	})
}

// Input submits a message on behalf of who. The authoritative copy comes back through the feed.
func (d Discussion) Input(ctx context.Context, sessionID string, who models.Role, text string) error {
	return d.post(ctx, "/session/input", inputRequest{
		SessionID: sessionID,
		Who:       who,
		Text:      text,
	})
}

// CreateSession asks the service to start a discussion under sessionID. Starting an already running
// session is accepted by the service and is not an error.
func (d Discussion) CreateSession(ctx context.Context, sessionID string) error {
	return d.post(ctx, "/session/create", createSessionRequest{SessionID: sessionID})
}

// LogURL returns the address of the Markdown log of the session. It is only ever used as a link.
func (d Discussion) LogURL(sessionID string) string {
	return d.baseURL + "/session/log?" + url.Values{"session_id": {sessionID}}.Encode()
}

func (d Discussion) get(ctx context.Context, path, sessionID string) (*http.Response, error) {
	u := d.baseURL + path + "?" + url.Values{"session_id": {sessionID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w %d from %s: %s", ErrUnexpectedStatus, resp.StatusCode, path, string(body))
	}
	return resp, nil
}

func (d Discussion) post(ctx context.Context, path string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	d.logger.Debug("Posting to service",
		slog.String("path", path),
		slog.String("body", string(body)),
	)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w %d from %s: %s", ErrUnexpectedStatus, resp.StatusCode, path, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
