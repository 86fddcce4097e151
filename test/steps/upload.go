package steps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	vodManifest "github.com/clipstream/vod-api/manifest"
	"github.com/clipstream/vod-api/upload"
	"github.com/clipstream/vod-api/video"
)

// SaveUploadTicket parses the ticket out of the last response so later steps
// can address the video it names.
func (s *StepContext) SaveUploadTicket() error {
	var ticket upload.Ticket
	if err := json.Unmarshal(s.latestBody, &ticket); err != nil {
		return err
	}
	if ticket.VideoID == "" || ticket.UploadEndpoint == "" {
		return fmt.Errorf("incomplete upload ticket: %s", s.latestBody)
	}
	s.ticket = ticket
	return nil
}

func (s *StepContext) UploadAllChunks(total int) error {
	return s.UploadSomeChunks(total, total)
}

// UploadSomeChunks sends the first `sent` of `total` chunks to the ticket
// endpoint in order. Each body is filled with the chunk's index byte so a
// composition order mistake would corrupt the assembled original visibly.
func (s *StepContext) UploadSomeChunks(sent, total int) error {
	for index := 0; index < sent; index++ {
		body := bytes.Repeat([]byte{byte('a' + index)}, testChunkSize/2)
		req, err := http.NewRequest(http.MethodPost, s.BaseURL+s.ticket.UploadEndpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("X-Chunk-Index", strconv.Itoa(index))
		req.Header.Set("X-Total-Chunks", strconv.Itoa(total))
		s.addAuthHeaders(req)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		payload, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("chunk %d was refused with HTTP %d: %s", index, resp.StatusCode, payload)
		}

		s.latestResponse = resp
		s.latestBody = payload
	}
	return nil
}

// WaitForVideoStatus polls the status endpoint until the video reaches the
// wanted state. Landing on error while waiting for anything else fails fast
// with the pipeline's message instead of burning the whole timeout.
func (s *StepContext) WaitForVideoStatus(status string, timeoutSecs int) error {
	deadline := time.Now().Add(time.Duration(timeoutSecs) * time.Second)
	var lastSeen string
	for time.Now().Before(deadline) {
		record, err := s.fetchVideoStatus()
		if err != nil {
			return err
		}
		lastSeen = string(record.Status)
		if lastSeen == status {
			return nil
		}
		if record.Status == video.StatusError {
			return fmt.Errorf("video failed while waiting for %q: %s", status, record.ErrorMessage)
		}
		time.Sleep(25 * time.Millisecond)
	}
	return fmt.Errorf("video never became %q within %d seconds, last status was %q", status, timeoutSecs, lastSeen)
}

func (s *StepContext) fetchVideoStatus() (*video.Record, error) {
	req, err := http.NewRequest(http.MethodGet, s.BaseURL+"/api/videos/"+s.ticket.VideoID, nil)
	if err != nil {
		return nil, err
	}
	s.addAuthHeaders(req)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status query returned HTTP %d", resp.StatusCode)
	}
	var record video.Record
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// CheckChunkProgress asserts on the progress counters of the last fetched
// record body.
func (s *StepContext) CheckChunkProgress(received, total int) error {
	var record video.Record
	if err := json.Unmarshal(s.latestBody, &record); err != nil {
		return err
	}
	if record.ChunksReceived != received || record.TotalChunks != total {
		return fmt.Errorf("expected %d of %d chunks received, got %d of %d", received, total, record.ChunksReceived, record.TotalChunks)
	}
	return nil
}

// CheckManifestServes follows the manifest URL from the last response and
// verifies something of the right format is actually served there.
func (s *StepContext) CheckManifestServes(format string) error {
	var manifest struct {
		VideoID     string `json:"video_id"`
		Format      string `json:"format"`
		ManifestURL string `json:"manifest_url"`
	}
	if err := json.Unmarshal(s.latestBody, &manifest); err != nil {
		return err
	}
	if manifest.Format != format {
		return fmt.Errorf("expected a %q manifest response, got %q", format, manifest.Format)
	}
	if manifest.ManifestURL == "" {
		return fmt.Errorf("no manifest URL in response: %s", s.latestBody)
	}

	resp, err := http.Get(s.BaseURL + manifest.ManifestURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("manifest URL %s returned HTTP %d", manifest.ManifestURL, resp.StatusCode)
	}

	if format == "dash" {
		if !bytes.Contains(payload, []byte("<MPD")) {
			return fmt.Errorf("content at %s does not look like a DASH manifest: %s", manifest.ManifestURL, payload)
		}
		return nil
	}

	variants, err := vodManifest.ParseMaster(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("content at %s is not a valid HLS master: %w", manifest.ManifestURL, err)
	}
	if len(variants) == 0 {
		return fmt.Errorf("HLS master at %s lists no renditions", manifest.ManifestURL)
	}
	return nil
}

// CheckThumbnailCount asserts the thumbnail listing of the last response.
func (s *StepContext) CheckThumbnailCount(count int) error {
	var listing struct {
		Thumbnails []string `json:"thumbnails"`
		PosterURL  string   `json:"poster_url"`
	}
	if err := json.Unmarshal(s.latestBody, &listing); err != nil {
		return err
	}
	if len(listing.Thumbnails) != count {
		return fmt.Errorf("expected %d thumbnail URLs, got %d: %s", count, len(listing.Thumbnails), s.latestBody)
	}
	if listing.PosterURL == "" {
		return fmt.Errorf("no poster URL in response: %s", s.latestBody)
	}
	return nil
}
