package steps

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// CreateRequest prepares a request against the public API. The method is
// optional and defaults to GET; {video_id} in the endpoint is filled from the
// last upload ticket.
func (s *StepContext) CreateRequest(endpoint, _, method string) error {
	return s.request(method, s.BaseURL, endpoint)
}

func (s *StepContext) CreateGetRequestInternal(endpoint string) error {
	return s.request(http.MethodGet, s.BaseInternalURL, endpoint)
}

func (s *StepContext) request(method, baseURL, endpoint string) error {
	if method == "" {
		method = http.MethodGet
	}
	r, err := http.NewRequest(method, baseURL+s.expandEndpoint(endpoint), nil)
	if err != nil {
		return err
	}
	s.addAuthHeaders(r)

	s.pendingRequest = r

	return nil
}

func (s *StepContext) CreatePostRequest(endpoint, payload string) error {
	return s.postRequest(s.BaseURL, endpoint, payload)
}

func (s *StepContext) CreatePostRequestInternal(endpoint, payload string) error {
	return s.postRequest(s.BaseInternalURL, endpoint, payload)
}

func (s *StepContext) postRequest(baseURL, endpoint, payload string) error {
	body, err := s.expandPayload(payload)
	if err != nil {
		return err
	}
	r, err := http.NewRequest(http.MethodPost, baseURL+s.expandEndpoint(endpoint), strings.NewReader(body))
	if err != nil {
		return err
	}
	r.Header.Set("Content-Type", "application/json")
	s.addAuthHeaders(r)

	s.pendingRequest = r

	return nil
}

// expandPayload turns the aliases feature files use into concrete JSON.
func (s *StepContext) expandPayload(payload string) (string, error) {
	switch payload {
	case "a valid upload request":
		return DefaultUploadRequest.ToJSON()
	case "an upload request for malware.exe":
		req := DefaultUploadRequest
		req.Filename = "malware.exe"
		return req.ToJSON()
	case "an invalid upload request":
		return "{}", nil
	}
	return payload, nil
}

// expandEndpoint substitutes the {video_id} placeholder with the id from the
// last issued upload ticket.
func (s *StepContext) expandEndpoint(endpoint string) string {
	return strings.ReplaceAll(endpoint, "{video_id}", s.ticket.VideoID)
}

func (s *StepContext) SetAuthHeaders() {
	s.authHeaders = map[string]string{
		"Authorization": "Bearer " + APIToken,
		"X-User-ID":     "cucumber-user",
		"X-Company-ID":  "cucumber-company",
	}
}

// SetAuthToken swaps only the bearer credential, for scenarios probing how
// unknown tokens are treated.
func (s *StepContext) SetAuthToken(token string) {
	s.SetAuthHeaders()
	s.authHeaders["Authorization"] = "Bearer " + token
}

func (s *StepContext) ClearAuthHeaders() {
	s.authHeaders = map[string]string{}
}

func (s *StepContext) addAuthHeaders(r *http.Request) {
	for key, value := range s.authHeaders {
		r.Header.Set(key, value)
	}
}

// CallAPI sends the pending request and keeps the response plus its fully
// read body around for the assertion steps.
func (s *StepContext) CallAPI(timeoutSecs int) error {
	client := &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second}

	resp, err := client.Do(s.pendingRequest)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}

	s.latestResponse = resp
	s.latestBody = body
	s.pendingRequest = nil

	return nil
}

func (s *StepContext) CheckHTTPResponseCode(code int) error {
	if s.latestResponse.StatusCode != code {
		return fmt.Errorf("expected HTTP response code %d but got %d. Body: %s", code, s.latestResponse.StatusCode, s.latestBody)
	}
	return nil
}

func (s *StepContext) CheckHTTPResponseBodyContains(expected string) error {
	if !strings.Contains(string(s.latestBody), expected) {
		return fmt.Errorf("expected the response body to contain %q but got %q", expected, s.latestBody)
	}
	return nil
}

// CheckRecordedMetrics scrapes the internal listener and verifies the upload
// counters moved.
func (s *StepContext) CheckRecordedMetrics() error {
	resp, err := http.Get(s.BaseInternalURL + "/metrics")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	for _, metric := range []string{"chunk_upload_count", "uploads_finalized_count", "pipeline_results_count"} {
		r := regexp.MustCompile(fmt.Sprintf(`\n%s(\{[^}]*\})? [1-9]`, metric))
		if !r.Match(body) {
			return fmt.Errorf("metric %s was not recorded", metric)
		}
	}
	return nil
}
