package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/common"
	"github.com/avelt/photovault/internal/logging"
	"github.com/avelt/photovault/internal/netx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
)

// tokenRefreshSkew is how close to expiry an access token may get before we
// refresh it proactively instead of waiting for a 401.
const tokenRefreshSkew = 30 * time.Second

// HTTPClient talks to the photovault backend. It owns the access/refresh
// token pair and transparently refreshes the access token when it is about
// to expire or the server rejects it.
type HTTPClient struct {
	baseURL      string
	hc           *http.Client
	log          logging.Logger
	accessToken  string
	refreshToken string
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string, log logging.Logger) *HTTPClient {
	if log == nil {
		log = logging.Discard()
	}
	return &HTTPClient{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 5 * time.Minute},
		log:     log,
	}
}

// SetTokens installs the token pair obtained at login.
func (c *HTTPClient) SetTokens(access, refresh string) {
	c.accessToken = access
	c.refreshToken = refresh
}

// tokenExpiringSoon inspects the unverified exp claim of the access token.
// Verification is the server's job; we only want the timestamp.
func (c *HTTPClient) tokenExpiringSoon() bool {
	if c.accessToken == "" {
		return false
	}
	token, _, err := jwt.NewParser().ParseUnverified(c.accessToken, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < tokenRefreshSkew
}

func (c *HTTPClient) refresh(ctx context.Context) error {
	if c.refreshToken == "" {
		return common.ErrSessionExpired
	}
	body, _ := json.Marshal(map[string]string{"refreshToken": c.refreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return common.ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh token: %w: status %d", common.ErrRequestFailed, resp.StatusCode)
	}

	var tokens struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	c.accessToken = tokens.AccessToken
	c.refreshToken = tokens.RefreshToken
	return nil
}

// postJSON performs an unauthenticated POST, used by the pre-login
// endpoints.
func (c *HTTPClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return common.ErrCancelled
		}
		return fmt.Errorf("%w: %w", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return common.ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d", common.ErrRequestFailed, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetSalt returns the account's key-derivation salt.
func (c *HTTPClient) GetSalt(ctx context.Context, email string) ([]byte, error) {
	var out struct {
		Salt []byte `json:"salt"`
	}
	if err := c.postJSON(ctx, "/users/salt", map[string]string{"email": email}, &out); err != nil {
		return nil, err
	}
	return out.Salt, nil
}

// Login exchanges email + verifier for a session and installs the tokens.
func (c *HTTPClient) Login(ctx context.Context, email string, verifier []byte) (*models.Session, error) {
	var s models.Session
	in := map[string]any{"email": email, "verifier": verifier}
	if err := c.postJSON(ctx, "/users/login", in, &s); err != nil {
		return nil, err
	}
	c.SetTokens(s.AccessToken, s.RefreshToken)
	return &s, nil
}

// Register creates an account.
func (c *HTTPClient) Register(ctx context.Context, email string, salt, verifier []byte, ka models.KeyAttributes) error {
	in := map[string]any{
		"email":         email,
		"salt":          salt,
		"verifier":      verifier,
		"keyAttributes": ka,
	}
	return c.postJSON(ctx, "/users/register", in, nil)
}

// do performs an authenticated GET with retry-with-backoff on transient
// failures. A 401 triggers one token refresh followed by a single replay.
func (c *HTTPClient) do(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	if c.accessToken == "" {
		return nil, common.ErrTokenMissing
	}
	if c.tokenExpiringSoon() {
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var resp *http.Response
	backoff := retry.WithMaxRetries(3, retry.NewExponential(250*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set(common.AccessTokenHeaderName, c.accessToken)

		r, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return common.ErrCancelled
			}
			return retry.RetryableError(err)
		}

		switch {
		case r.StatusCode == http.StatusUnauthorized:
			_ = r.Body.Close()
			if rerr := c.refresh(ctx); rerr != nil {
				return rerr
			}
			return retry.RetryableError(fmt.Errorf("unauthorized, token refreshed"))
		case r.StatusCode >= 500:
			_ = r.Body.Close()
			return retry.RetryableError(fmt.Errorf("%w: status %d", common.ErrRequestFailed, r.StatusCode))
		case r.StatusCode != http.StatusOK:
			_ = r.Body.Close()
			return fmt.Errorf("%w: status %d", common.ErrRequestFailed, r.StatusCode)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// getJSON GETs path and decodes the response body into out.
func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return common.ErrRequestFailed
	}
	return json.Unmarshal(body, out)
}

func (c *HTTPClient) GetCollections(ctx context.Context, sinceTime int64) ([]models.Collection, error) {
	var out struct {
		Collections []models.Collection `json:"collections"`
	}
	q := url.Values{"sinceTime": {strconv.FormatInt(sinceTime, 10)}}
	if err := c.getJSON(ctx, "/collections", q, &out); err != nil {
		return nil, err
	}
	return out.Collections, nil
}

func (c *HTTPClient) GetCollection(ctx context.Context, id int64) (*models.Collection, error) {
	var out struct {
		Collection models.Collection `json:"collection"`
	}
	if err := c.getJSON(ctx, "/collections/"+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out.Collection, nil
}

func (c *HTTPClient) GetCollectionDiff(ctx context.Context, collectionID, sinceTime int64, limit int) ([]models.MediaFile, error) {
	var out struct {
		Diff []models.MediaFile `json:"diff"`
	}
	q := url.Values{
		"collectionID": {strconv.FormatInt(collectionID, 10)},
		"sinceTime":    {strconv.FormatInt(sinceTime, 10)},
		"limit":        {strconv.Itoa(limit)},
	}
	if err := c.getJSON(ctx, "/files/diff", q, &out); err != nil {
		return nil, err
	}
	return out.Diff, nil
}

func (c *HTTPClient) GetTrashDiff(ctx context.Context, sinceTime int64) ([]models.TrashItem, bool, error) {
	var out struct {
		Diff    []models.TrashItem `json:"diff"`
		HasMore bool               `json:"hasMore"`
	}
	q := url.Values{"sinceTime": {strconv.FormatInt(sinceTime, 10)}}
	if err := c.getJSON(ctx, "/trash/v2/diff", q, &out); err != nil {
		return nil, false, err
	}
	return out.Diff, out.HasMore, nil
}

func (c *HTTPClient) GetEntityKey(ctx context.Context, t models.EntityType) (*models.EntityKey, error) {
	var out models.EntityKey
	q := url.Values{"type": {string(t)}}
	if err := c.getJSON(ctx, "/user-entity/key", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetEntityDiff(ctx context.Context, t models.EntityType, sinceTime int64, limit int) ([]models.EntityRecord, error) {
	var out struct {
		Diff []models.EntityRecord `json:"diff"`
	}
	q := url.Values{
		"type":      {string(t)},
		"sinceTime": {strconv.FormatInt(sinceTime, 10)},
		"limit":     {strconv.Itoa(limit)},
	}
	if err := c.getJSON(ctx, "/user-entity/entity/diff", q, &out); err != nil {
		return nil, err
	}
	return out.Diff, nil
}

func (c *HTTPClient) GetEmbeddingDiff(ctx context.Context, sinceTime int64, limit int) ([]models.RemoteEmbedding, error) {
	var out struct {
		Diff []models.RemoteEmbedding `json:"diff"`
	}
	q := url.Values{
		"sinceTime": {strconv.FormatInt(sinceTime, 10)},
		"limit":     {strconv.Itoa(limit)},
	}
	if err := c.getJSON(ctx, "/embeddings/diff", q, &out); err != nil {
		return nil, err
	}
	return out.Diff, nil
}

// DownloadFile streams a file's encrypted content. Deployments that offload
// blob serving answer with a JSON body holding a presigned URL instead of
// the bytes; the client follows it transparently.
func (c *HTTPClient) DownloadFile(ctx context.Context, fileID int64) (io.ReadCloser, error) {
	resp, err := c.do(ctx, "/files/download/"+strconv.FormatInt(fileID, 10), nil)
	if err != nil {
		return nil, err
	}
	if ct := resp.Header.Get("Content-Type"); ct == "application/json" {
		defer resp.Body.Close()
		var redirect struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&redirect); err != nil || redirect.URL == "" {
			return nil, fmt.Errorf("%w: bad presigned redirect", common.ErrRequestFailed)
		}
		return netx.DownloadFromPresignedURL(ctx, c.hc, redirect.URL)
	}
	return resp.Body, nil
}

func (c *HTTPClient) DownloadThumbnail(ctx context.Context, fileID int64) ([]byte, error) {
	resp, err := c.do(ctx, "/files/preview/"+strconv.FormatInt(fileID, 10), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, common.ErrRequestFailed
	}
	return body, nil
}
