package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mitchellh/mapstructure"
)

const (
	cobaltSourceLabel  = "Cobalt"
	defaultVideoTitle  = "Video"
	maxCobaltBodyBytes = 1 << 20
)

type (
	// Endpoint is a single extraction backend.
	Endpoint interface {
		Name() string
		Resolve(ctx context.Context, url string) (*Video, error)
	}

	// cobaltEndpoint speaks the cobalt instance protocol: a JSON POST of the
	// target URL to the instance root, answered with either a direct link or
	// an error status.
	cobaltEndpoint struct {
		baseURL      string
		client       *http.Client
		videoQuality string
		userAgent    string
	}

	cobaltRequest struct {
		URL          string `json:"url"`
		VideoQuality string `json:"videoQuality"`
	}

	cobaltResponse struct {
		Status   string `mapstructure:"status"`
		Text     string `mapstructure:"text"`
		URL      string `mapstructure:"url"`
		Filename string `mapstructure:"filename"`
	}
)

func NewCobaltEndpoint(baseURL string, client *http.Client, videoQuality string, userAgent string) Endpoint {
	return &cobaltEndpoint{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		videoQuality: videoQuality,
		userAgent:    userAgent,
	}
}

func (c *cobaltEndpoint) Name() string { return c.baseURL }

// Resolve asks the instance to extract the URL. Transport failures and
// non-2xx statuses are returned as a *HardError, while responses which cannot
// be used (error status, malformed body, missing link) are a *SoftError.
func (c *cobaltEndpoint) Resolve(ctx context.Context, url string) (*Video, error) {
	payload, err := json.Marshal(cobaltRequest{URL: url, VideoQuality: c.videoQuality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &HardError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &HardError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxCobaltBodyBytes))
		return nil, &HardError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCobaltBodyBytes))
	if err != nil {
		return nil, &HardError{Err: err}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &SoftError{Message: "response body is not valid JSON"}
	}

	var decoded cobaltResponse
	if err := mapstructure.WeakDecode(raw, &decoded); err != nil {
		return nil, &SoftError{Message: fmt.Sprintf("response body could not be decoded: %v", err)}
	}

	if decoded.Status == "error" {
		message := decoded.Text
		if message == "" {
			message = "instance returned an error status"
		}
		return nil, &SoftError{Message: message}
	}

	if decoded.URL == "" {
		return nil, &SoftError{Message: "response did not include a url"}
	}

	title := decoded.Filename
	if title == "" {
		title = defaultVideoTitle
	}

	return &Video{Title: title, URL: decoded.URL, Thumbnail: "", Source: cobaltSourceLabel}, nil
}
