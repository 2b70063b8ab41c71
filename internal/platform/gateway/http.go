package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPGateway dispatches commands to a remote communications provider over
// JSON HTTP. A non-2xx, non-422 response is a transport error; 422 means the
// provider rejected the command (bad number, unreachable line) and the reason
// is surfaced in the Result.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPGateway creates a gateway client for the given provider base URL.
func NewHTTPGateway(baseURL string, timeout time.Duration, logger zerolog.Logger) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (g *HTTPGateway) post(ctx context.Context, path string, cmd Command) (Result, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return Result{}, fmt.Errorf("marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return Result{}, fmt.Errorf("decode provider response: %w", err)
		}
		result.Accepted = true
		g.logger.Debug().
			Str("path", path).
			Str("communication_id", cmd.CommunicationID.String()).
			Str("provider_ref", result.ProviderRef).
			Msg("gateway command accepted")
		return result, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		var result Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return Result{}, fmt.Errorf("decode provider rejection: %w", err)
		}
		result.Accepted = false
		g.logger.Warn().
			Str("path", path).
			Str("communication_id", cmd.CommunicationID.String()).
			Str("reason", result.Reason).
			Msg("gateway command rejected")
		return result, nil
	default:
		return Result{}, fmt.Errorf("provider returned status %d for %s", resp.StatusCode, path)
	}
}

func (g *HTTPGateway) SendFax(ctx context.Context, cmd Command) (Result, error) {
	return g.post(ctx, "/fax", cmd)
}

func (g *HTTPGateway) PlaceVoiceCall(ctx context.Context, cmd Command) (Result, error) {
	return g.post(ctx, "/voice", cmd)
}

func (g *HTTPGateway) SendEmail(ctx context.Context, cmd Command) (Result, error) {
	return g.post(ctx, "/email", cmd)
}
