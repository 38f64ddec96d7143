package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/api"
	"github.com/dmitrijs2005/sharekeeper/internal/httpsig"
)

// maxErrorBody bounds how much of an error reply is read.
const maxErrorBody = 64 << 10

// HTTPClient talks to the sharekeeper server over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	signer *httpsig.Signer
}

// NewHTTPClient returns a client for the server at baseURL, e.g.
// "http://127.0.0.1:8080".
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) SetSession(handshakeID string, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signer = httpsig.NewSigner(handshakeID, key)
}

func (c *HTTPClient) ClearSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signer = nil
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// do sends in as JSON and decodes a 2xx reply into out. Either may be nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	signer := c.signer
	c.mu.RUnlock()
	if signer != nil {
		if err := signer.Sign(req, body); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &api.Error{}
	if err := json.Unmarshal(raw, e); err != nil || e.Code == "" {
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
		}
		e = &api.Error{Code: api.CodeInternal, Message: resp.Status}
	}
	e.Status = resp.StatusCode
	return e
}

func esc(s string) string {
	return url.PathEscape(s)
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil)
}

func (c *HTTPClient) Register(ctx context.Context, req *api.RegisterRequest) (*api.Account, error) {
	var out api.Account
	if err := c.do(ctx, http.MethodPost, "/api/accounts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) StartHandshake(ctx context.Context, req *api.HandshakeStartRequest) (*api.HandshakeStartResponse, error) {
	var out api.HandshakeStartResponse
	if err := c.do(ctx, http.MethodPost, "/api/handshakes", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) FinishHandshake(ctx context.Context, id string, req *api.HandshakeFinishRequest) (*api.HandshakeFinishResponse, error) {
	var out api.HandshakeFinishResponse
	if err := c.do(ctx, http.MethodPost, "/api/handshakes/"+esc(id)+"/finish", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Session(ctx context.Context) (*api.Session, error) {
	var out api.Session
	if err := c.do(ctx, http.MethodGet, "/api/session", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/session", nil, nil)
}

func (c *HTTPClient) Account(ctx context.Context) (*api.Account, error) {
	var out api.Account
	if err := c.do(ctx, http.MethodGet, "/api/account", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ChangePassword(ctx context.Context, creds *api.Credentials) error {
	return c.do(ctx, http.MethodPut, "/api/account/password", creds, nil)
}

func (c *HTTPClient) Connections(ctx context.Context) ([]api.Connection, error) {
	var out []api.Connection
	if err := c.do(ctx, http.MethodGet, "/api/connections", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ListSecrets(ctx context.Context) ([]api.Secret, error) {
	var out []api.Secret
	if err := c.do(ctx, http.MethodGet, "/api/secrets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateSecret(ctx context.Context, req *api.CreateSecretRequest) (*api.Secret, error) {
	var out api.Secret
	if err := c.do(ctx, http.MethodPost, "/api/secrets", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetSecret(ctx context.Context, id string) (*api.Secret, error) {
	var out api.Secret
	if err := c.do(ctx, http.MethodGet, "/api/secrets/"+esc(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UpdateSecret(ctx context.Context, id string, req *api.UpdateSecretRequest) (*api.Secret, error) {
	var out api.Secret
	if err := c.do(ctx, http.MethodPut, "/api/secrets/"+esc(id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) DeleteSecret(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/secrets/"+esc(id), nil, nil)
}

func (c *HTTPClient) ListAccess(ctx context.Context, id string) ([]*api.AccessRecord, error) {
	var out api.RecordsResponse
	if err := c.do(ctx, http.MethodGet, "/api/secrets/"+esc(id)+"/access", nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *HTTPClient) GrantPreview(ctx context.Context, secretID string, g *api.PreviewGrant) (*api.AccessRecord, error) {
	var out api.TransitionResponse
	if err := c.do(ctx, http.MethodPost, "/api/secrets/"+esc(secretID)+"/recipients", g, &out); err != nil {
		return nil, err
	}
	return out.Record, nil
}

func recipientPath(secretID string, r api.Recipient) string {
	return "/api/secrets/" + esc(secretID) + "/recipients/" + esc(r.Kind) + "/" + esc(r.ID)
}

func (c *HTTPClient) OwnerAction(ctx context.Context, secretID string, r api.Recipient, action string, req *api.TransitionRequest) (*api.AccessRecord, error) {
	var in any
	if req != nil {
		in = req
	}
	var out api.TransitionResponse
	if err := c.do(ctx, http.MethodPost, recipientPath(secretID, r)+"/"+esc(action), in, &out); err != nil {
		return nil, err
	}
	return out.Record, nil
}

func (c *HTTPClient) Revoke(ctx context.Context, secretID string, r api.Recipient) error {
	return c.do(ctx, http.MethodDelete, recipientPath(secretID, r), nil, nil)
}

func (c *HTTPClient) SelfAction(ctx context.Context, secretID, action string) (*api.AccessRecord, error) {
	var out api.TransitionResponse
	if err := c.do(ctx, http.MethodPost, "/api/secrets/"+esc(secretID)+"/"+esc(action), nil, &out); err != nil {
		return nil, err
	}
	return out.Record, nil
}

func (c *HTTPClient) UploadURL(ctx context.Context, secretID string) (string, error) {
	var out api.URLResponse
	if err := c.do(ctx, http.MethodPost, "/api/secrets/"+esc(secretID)+"/attachment", nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *HTTPClient) MarkUploaded(ctx context.Context, secretID string) error {
	return c.do(ctx, http.MethodPut, "/api/secrets/"+esc(secretID)+"/attachment", nil, nil)
}

func (c *HTTPClient) DownloadURL(ctx context.Context, secretID string) (string, error) {
	var out api.URLResponse
	if err := c.do(ctx, http.MethodGet, "/api/secrets/"+esc(secretID)+"/attachment", nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *HTTPClient) CreateInvite(ctx context.Context, contact string) (*api.CreateInviteResponse, error) {
	var out api.CreateInviteResponse
	if err := c.do(ctx, http.MethodPost, "/api/invites", &api.CreateInviteRequest{Contact: contact}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListInvites(ctx context.Context) ([]api.Invite, error) {
	var out []api.Invite
	if err := c.do(ctx, http.MethodGet, "/api/invites", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) LookupInvite(ctx context.Context, token string) (*api.LookupInviteResponse, error) {
	var out api.LookupInviteResponse
	if err := c.do(ctx, http.MethodPost, "/api/invites/lookup", &api.TokenRequest{Token: token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ClaimInvite(ctx context.Context, req *api.ClaimInviteRequest) ([]*api.AccessRecord, error) {
	var out api.RecordsResponse
	if err := c.do(ctx, http.MethodPost, "/api/invites/claim", req, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *HTTPClient) ExpireInvite(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/invites/"+esc(id), nil, nil)
}

var _ Client = (*HTTPClient)(nil)
