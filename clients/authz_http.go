package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	vodErrs "github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/metrics"
)

const authzRequestTimeout = 30 * time.Second

// AuthZClient talks to the upstream authorization service over HTTP. Requests
// are retried on transport errors and 5xx responses; anything slower than the
// request timeout surfaces as ErrUpstreamTimeout.
type AuthZClient struct {
	httpClient *retryablehttp.Client
	baseURL    string
	token      string
}

func NewAuthZClient(baseURL, token string) *AuthZClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2                          // Retry a maximum of this+1 times
	client.RetryWaitMin = 200 * time.Millisecond // Wait at least this long between retries
	client.RetryWaitMax = 1 * time.Second        // Wait at most this long between retries (exponential backoff)
	client.HTTPClient = &http.Client{
		Timeout: authzRequestTimeout, // Give up on requests that take more than this long
	}
	client.Logger = log.NewRetryableHTTPLogger()
	client.RequestLogHook = metrics.TrackRetries
	// Transport errors and 5xx responses get the retry budget; a request
	// that ran into the timeout does not, so upload-path callers see
	// ErrUpstreamTimeout after a single attempt.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if isTimeout(err) {
			return false, err
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return &AuthZClient{
		httpClient: client,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
	}
}

func (c *AuthZClient) GetUser(ctx context.Context, token string) (User, error) {
	var body struct {
		Data User `json:"data"`
	}
	if err := c.doJSON(ctx, "get_user", http.MethodGet, fmt.Sprintf("/user/%s/", token), nil, &body); err != nil {
		return User{}, err
	}
	if body.Data.ID == "" {
		return User{}, fmt.Errorf("authorization service returned no user: %w", vodErrs.ErrForbidden)
	}
	return body.Data, nil
}

func (c *AuthZClient) GetCompanyUser(ctx context.Context, userID, companyID string) (CompanyUser, error) {
	var body struct {
		Data CompanyUser `json:"data"`
	}
	path := fmt.Sprintf("/company/%s/user/%s/", companyID, userID)
	if err := c.doJSON(ctx, "get_company_user", http.MethodGet, path, nil, &body); err != nil {
		return CompanyUser{}, err
	}
	if body.Data.ID == "" {
		return CompanyUser{}, fmt.Errorf("user %s is not a member of company %s: %w", userID, companyID, vodErrs.ErrForbidden)
	}
	return body.Data, nil
}

func (c *AuthZClient) CheckUploadPermission(ctx context.Context, companyUserID string) error {
	var body struct {
		HasPermission bool `json:"has_permission"`
	}
	path := fmt.Sprintf("/resource/check-upload-permission/%s/", companyUserID)
	if err := c.doJSON(ctx, "check_upload_permission", http.MethodGet, path, nil, &body); err != nil {
		return err
	}
	if !body.HasPermission {
		return fmt.Errorf("user may not upload videos: %w", vodErrs.ErrForbidden)
	}
	return nil
}

func (c *AuthZClient) CheckStorageLimit(ctx context.Context, companyUserID string, fileSize int64) error {
	var body struct {
		HasStorage bool `json:"has_storage"`
	}
	path := fmt.Sprintf("/resource/check-storage/%s/?file_size=%d", companyUserID, fileSize)
	if err := c.doJSON(ctx, "check_storage_limit", http.MethodGet, path, nil, &body); err != nil {
		return err
	}
	if !body.HasStorage {
		return fmt.Errorf("upload of %d bytes exceeds the storage limit: %w", fileSize, vodErrs.ErrQuotaExceeded)
	}
	return nil
}

func (c *AuthZClient) CheckVideoAccess(ctx context.Context, companyUserID, videoID string) error {
	var body struct {
		HasAccess bool `json:"has_access"`
	}
	path := fmt.Sprintf("/resource/check-video-access/%s/%s/", companyUserID, videoID)
	if err := c.doJSON(ctx, "check_video_access", http.MethodGet, path, nil, &body); err != nil {
		return err
	}
	if !body.HasAccess {
		return fmt.Errorf("user may not access video %s: %w", videoID, vodErrs.ErrForbidden)
	}
	return nil
}

func (c *AuthZClient) UpdateVideoMetadata(ctx context.Context, videoID string, fields map[string]interface{}) error {
	var body struct {
		Success bool `json:"success"`
	}
	path := fmt.Sprintf("/resource/video/%s/", videoID)
	if err := c.doJSON(ctx, "update_video_metadata", http.MethodPatch, path, fields, &body); err != nil {
		return err
	}
	if !body.Success {
		return fmt.Errorf("authorization service rejected metadata update for video %s", videoID)
	}
	return nil
}

func (c *AuthZClient) NotifyVideoReady(ctx context.Context, videoID, userID string) error {
	payload := map[string]interface{}{
		"type":     "video_ready",
		"video_id": videoID,
		"user_id":  userID,
	}
	var body struct {
		Success bool `json:"success"`
	}
	if err := c.doJSON(ctx, "notify_video_ready", http.MethodPost, "/notification/send/", payload, &body); err != nil {
		return err
	}
	if !body.Success {
		return fmt.Errorf("authorization service did not accept the ready notification for video %s", videoID)
	}
	return nil
}

func (c *AuthZClient) Health(ctx context.Context) error {
	return c.doJSON(ctx, "health", http.MethodGet, "/health/", nil, nil)
}

// doJSON runs one request cycle: marshal payload, send with retries, map
// transport timeouts onto the error taxonomy, decode the response into out.
func (c *AuthZClient) doJSON(ctx context.Context, operation, method, path string, payload interface{}, out interface{}) error {
	timer := metrics.Metrics.AuthZClient.RequestDuration.WithLabelValues(operation)
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", operation, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	ctx, retries := metrics.WithRetries(ctx)
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.Metrics.AuthZClient.FailureCount.WithLabelValues(operation, "0").Inc()
		if isTimeout(err) {
			return fmt.Errorf("authorization service %s timed out: %w", operation, vodErrs.ErrUpstreamTimeout)
		}
		return fmt.Errorf("authorization service %s failed: %w", operation, err)
	}
	defer resp.Body.Close()
	metrics.Metrics.AuthZClient.RetryCount.WithLabelValues(operation).Set(float64(retries.Count()))

	if resp.StatusCode >= 400 {
		metrics.Metrics.AuthZClient.FailureCount.WithLabelValues(operation, fmt.Sprint(resp.StatusCode)).Inc()
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("authorization service %s: %w", operation, vodErrs.ErrNotFound)
		case http.StatusForbidden, http.StatusUnauthorized:
			return fmt.Errorf("authorization service %s: %w", operation, vodErrs.ErrForbidden)
		case http.StatusGatewayTimeout:
			return fmt.Errorf("authorization service %s: %w", operation, vodErrs.ErrUpstreamTimeout)
		}
		return fmt.Errorf("authorization service %s returned HTTP %d", operation, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", operation, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
