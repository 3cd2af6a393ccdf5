package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"campus_call/native/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pion/logging"
)

const registerPath = "/video-call/register"

type registerRequest struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
}

type registerResponse struct {
	Result int                 `json:"result"`
	Msg    string              `json:"msg"`
	Data   domain.Registration `json:"data"`
}

// Client registers participants with the platform's video-call API.
// It implements domain.Registrar.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     logging.LeveledLogger
	now     func() time.Time
}

// NewClient creates an API client for baseURL authenticating with token.
func NewClient(baseURL, token string, lf logging.LoggerFactory) *Client {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     lf.NewLogger("api"),
		now:     time.Now,
	}
}

// Register associates id with the signaling relay and returns the relay
// credentials and ICE servers. Every failure wraps domain.ErrRegistration.
func (c *Client) Register(ctx context.Context, id domain.ParticipantID) (*domain.Registration, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: invalid participant id %q", domain.ErrRegistration, id)
	}

	body, err := json.Marshal(registerRequest{ParticipantID: id})
	if err != nil {
		return nil, fmt.Errorf("marshal register request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+registerPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %v", domain.ErrRegistration, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrRegistration, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d: %s", domain.ErrRegistration, resp.StatusCode, string(respBody))
	}

	var regResp registerResponse
	if err := json.Unmarshal(respBody, &regResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrRegistration, err)
	}

	if regResp.Result != 0 {
		return nil, fmt.Errorf("%w: API error (result=%d): %s", domain.ErrRegistration, regResp.Result, regResp.Msg)
	}

	reg := regResp.Data
	if reg.ParticipantID == "" {
		reg.ParticipantID = id
	}
	if reg.ParticipantID != id {
		return nil, fmt.Errorf("%w: registered as %s, requested %s", domain.ErrRegistration, reg.ParticipantID, id)
	}

	if reg.RelayToken != "" {
		exp, err := c.checkRelayToken(reg.RelayToken, id)
		if err != nil {
			return nil, err
		}
		reg.ExpiresAt = exp
	}

	c.log.Infof("registered %s (%d ICE servers)", id, len(reg.ICEServers))
	return &reg, nil
}

// checkRelayToken inspects the relay token's claims. The relay verifies
// the signature; the client only checks that the token is addressed to id
// and still valid, and returns its expiry.
func (c *Client) checkRelayToken(token string, id domain.ParticipantID) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: relay token: %v", domain.ErrRegistration, err)
	}

	if claims.Subject != string(id) {
		return time.Time{}, fmt.Errorf("%w: relay token subject %q does not match %s", domain.ErrRegistration, claims.Subject, id)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	exp := claims.ExpiresAt.Time
	if !exp.After(c.now()) {
		return time.Time{}, fmt.Errorf("%w: relay token expired at %s", domain.ErrRegistration, exp.Format(time.RFC3339))
	}
	return exp, nil
}
