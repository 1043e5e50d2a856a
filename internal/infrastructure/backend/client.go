// Package backend implements the hosted-provider client: access-code sign in,
// PostgREST-style collection reads and sign out, with oauth2 token refresh.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	gosync "sync"
	"time"

	"golang.org/x/oauth2"

	"companion/internal/errs"
	"companion/internal/ports"
)

const defaultTimeout = 15 * time.Second

// Config points the client at one hosted project.
type Config struct {
	// BaseURL is the project root, e.g. https://abcdefghij.supabase.co.
	BaseURL string
	// APIKey is the publishable (anon) key sent on every request.
	APIKey string
	// ServiceRoleKey authorizes elevated reads that bypass row-level
	// security. Empty disables elevated fetches.
	ServiceRoleKey string
	// ProjectRef overrides the ref derived from BaseURL's host.
	ProjectRef string
	Timeout    time.Duration
}

// Client talks to the hosted backend. It implements ports.Backend.
type Client struct {
	cfg  Config
	http *http.Client

	mu     gosync.Mutex
	source oauth2.TokenSource
}

var _ ports.Backend = (*Client)(nil)

// NewClient builds a client. An empty BaseURL yields an unconfigured client
// whose network operations fail; local-only commands still work.
func NewClient(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ProjectRef == "" && cfg.BaseURL != "" {
		ref, err := refFromBaseURL(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		cfg.ProjectRef = ref
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) configured() error {
	if c.cfg.BaseURL == "" {
		return errors.New("backend base url is not configured")
	}
	if c.cfg.APIKey == "" {
		return errors.New("backend api key is not configured")
	}
	return nil
}

func refFromBaseURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errs.Wrap(err, "parse backend base url")
	}
	host := u.Hostname()
	ref, _, _ := strings.Cut(host, ".")
	if ref == "" {
		return "", fmt.Errorf("cannot derive project ref from host %q", host)
	}
	return ref, nil
}

type signInRequest struct {
	AccessCode string `json:"access_code"`
}

type signInResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID       string `json:"id"`
		Metadata struct {
			DisplayName string `json:"display_name"`
			Role        string `json:"role"`
		} `json:"user_metadata"`
	} `json:"user"`
}

// SignIn exchanges a printed access code for a provider session and arms the
// refreshing token source for subsequent authenticated reads.
func (c *Client) SignIn(ctx context.Context, accessCode string) (ports.ProviderSession, error) {
	accessCode = strings.TrimSpace(accessCode)
	if accessCode == "" {
		return ports.ProviderSession{}, errors.New("access code is required")
	}
	if err := c.configured(); err != nil {
		return ports.ProviderSession{}, err
	}

	body, err := json.Marshal(signInRequest{AccessCode: accessCode})
	if err != nil {
		return ports.ProviderSession{}, errs.Wrap(err, "encode sign-in request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/auth/v1/token?grant_type=access_code", bytes.NewReader(body))
	if err != nil {
		return ports.ProviderSession{}, errs.Wrap(err, "build sign-in request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.ProviderSession{}, errs.Wrap(err, "sign in")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return ports.ProviderSession{}, statusError("sign in", resp)
	}

	var out signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ports.ProviderSession{}, errs.Wrap(err, "decode sign-in response")
	}
	if out.AccessToken == "" {
		return ports.ProviderSession{}, errors.New("sign-in response carried no access token")
	}

	expiry := time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	c.setToken(&oauth2.Token{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		Expiry:       expiry,
	})

	return ports.ProviderSession{
		AttendeeID:   out.User.ID,
		DisplayName:  out.User.Metadata.DisplayName,
		Role:         out.User.Metadata.Role,
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    expiry,
		ProjectRef:   c.cfg.ProjectRef,
	}, nil
}

// Resume re-arms the token source from a persisted session, so reads work
// across restarts without a fresh sign in.
func (c *Client) Resume(sess ports.ProviderSession) {
	if sess.AccessToken == "" {
		return
	}
	c.setToken(&oauth2.Token{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		Expiry:       sess.ExpiresAt,
	})
}

func (c *Client) setToken(token *oauth2.Token) {
	conf := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.cfg.BaseURL + "/auth/v1/token?grant_type=refresh_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	c.mu.Lock()
	c.source = conf.TokenSource(context.Background(), token)
	c.mu.Unlock()
}

// bearer returns the current access token, refreshing through the oauth2
// source when expired. Falls back to the anon key when signed out.
func (c *Client) bearer() (string, error) {
	c.mu.Lock()
	source := c.source
	c.mu.Unlock()

	if source == nil {
		return c.cfg.APIKey, nil
	}
	token, err := source.Token()
	if err != nil {
		return "", errs.Wrap(err, "refresh access token")
	}
	return token.AccessToken, nil
}

// SignOut revokes the provider session and drops the token source. A network
// failure still drops the local token.
func (c *Client) SignOut(ctx context.Context) error {
	bearer, err := c.bearer()

	c.mu.Lock()
	c.source = nil
	c.mu.Unlock()

	if err != nil || bearer == c.cfg.APIKey {
		// No live session to revoke.
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/v1/logout", nil)
	if err != nil {
		return errs.Wrap(err, "build sign-out request")
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(err, "sign out")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError("sign out", resp)
	}
	return nil
}

// FetchCollection reads all rows of one collection. elevated reads use the
// service-role key and bypass row-level security.
func (c *Client) FetchCollection(ctx context.Context, collection string, elevated bool) ([]ports.Record, error) {
	if collection == "" {
		return nil, errors.New("collection name is required")
	}
	if err := c.configured(); err != nil {
		return nil, err
	}

	bearer, err := c.bearer()
	if err != nil {
		return nil, err
	}
	apikey := c.cfg.APIKey
	if elevated {
		if c.cfg.ServiceRoleKey == "" {
			return nil, errors.New("elevated read requested without a service-role key")
		}
		bearer = c.cfg.ServiceRoleKey
		apikey = c.cfg.ServiceRoleKey
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?select=*", c.cfg.BaseURL, url.PathEscape(collection))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.Wrap(err, "build fetch request")
	}
	req.Header.Set("apikey", apikey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrapf(err, "fetch collection %s", collection)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("fetch "+collection, resp)
	}

	var rows []ports.Record
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, errs.Wrapf(err, "decode collection %s", collection)
	}
	return rows, nil
}

func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: backend returned %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
