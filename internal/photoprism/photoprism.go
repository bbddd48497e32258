package photoprism

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PhotoPrism is a client for the PhotoPrism REST API. It holds the
// session access token and the download token obtained at login.
type PhotoPrism struct {
	Url       string
	parsedURL *url.URL

	token         string
	downloadToken string
	captureDir    string
}

// resolveURL builds a full URL from the base API URL and the given path segments.
// If the last segment contains a query string (e.g. "photos?count=10"), it is
// split so JoinPath only receives the path portion and the query is appended.
func (pp *PhotoPrism) resolveURL(pathSegments ...string) string {
	if len(pathSegments) == 0 {
		return pp.parsedURL.String()
	}
	last := pathSegments[len(pathSegments)-1]
	if pathPart, query, ok := strings.Cut(last, "?"); ok {
		pathSegments[len(pathSegments)-1] = pathPart
		result := pp.parsedURL.JoinPath(pathSegments...)
		result.RawQuery = query
		return result.String()
	}
	return pp.parsedURL.JoinPath(pathSegments...).String()
}

// authResponse is the PhotoPrism session response.
type authResponse struct {
	ID          string `json:"id"`
	AccessToken string `json:"access_token"`
	Config      struct {
		DownloadToken string `json:"downloadToken"`
		PreviewToken  string `json:"previewToken"`
	} `json:"config"`
}

// readErrorBody reads the response body for error messages.
// Returns a placeholder if reading fails (we're already in an error path).
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(r)
	if err != nil {
		return "(could not read error body)"
	}
	return string(body)
}

// SetCaptureDir enables API response capturing to the specified directory.
// Pass an empty string to disable capturing.
func (pp *PhotoPrism) SetCaptureDir(dir string) error {
	if dir == "" {
		pp.captureDir = ""
		return nil
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("could not create capture directory: %w", err)
	}
	pp.captureDir = dir
	return nil
}

// captureResponse saves the API response body to a file if capturing is enabled.
// The filename is derived from the endpoint name and a timestamp.
func (pp *PhotoPrism) captureResponse(endpoint string, body []byte) {
	if pp.captureDir == "" {
		return
	}

	// Sanitize endpoint for filename
	filename := strings.ReplaceAll(endpoint, "/", "_")
	filename = strings.TrimPrefix(filename, "_")
	timestamp := time.Now().Format("20060102_150405")
	filename = fmt.Sprintf("%s_%s.json", filename, timestamp)

	path := filepath.Join(pp.captureDir, filename)

	// Pretty-print JSON if possible
	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, body, "", "  "); err == nil {
		body = prettyJSON.Bytes()
	}

	// Capture failures are non-critical - warn and continue
	if err := os.WriteFile(path, body, 0600); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to capture response to %s: %v\n", path, err)
	}
}

// NewPhotoPrism creates a client and authenticates with username and password.
func NewPhotoPrism(url, username, password string) (*PhotoPrism, error) {
	return NewPhotoPrismWithCapture(url, username, password, "")
}

// NewPhotoPrismWithCapture creates an authenticated client with optional response
// capturing. Pass an empty captureDir to disable capturing.
func NewPhotoPrismWithCapture(rawURL, username, password, captureDir string) (*PhotoPrism, error) {
	apiURL := rawURL + "/api/v1"
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid PhotoPrism URL: %w", err)
	}
	pp := &PhotoPrism{Url: apiURL, parsedURL: parsed}
	if captureDir != "" {
		if err := pp.SetCaptureDir(captureDir); err != nil {
			return nil, err
		}
	}
	if err := pp.auth(username, password); err != nil {
		return nil, fmt.Errorf("could not authenticate: %w", err)
	}

	return pp, nil
}

// NewPhotoPrismFromToken creates a client from existing session tokens, skipping
// the login roundtrip. The web UI uses this with tokens stored in its session.
func NewPhotoPrismFromToken(rawURL, token, downloadToken string) (*PhotoPrism, error) {
	apiURL := rawURL + "/api/v1"
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid PhotoPrism URL: %w", err)
	}
	return &PhotoPrism{Url: apiURL, parsedURL: parsed, token: token, downloadToken: downloadToken}, nil
}

func (pp *PhotoPrism) auth(username, password string) error {
	inputBody, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("could not marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, pp.resolveURL("sessions"), bytes.NewReader(inputBody))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req) //nolint:gosec // URL constructed from validated parsedURL via resolveURL
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("session request failed with status %d: %s", resp.StatusCode, string(body))
	}

	pp.captureResponse("sessions", body)

	var result authResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("could not unmarshal response: %w", err)
	}

	pp.token = result.AccessToken
	pp.downloadToken = result.Config.DownloadToken

	return nil
}

// Logout deletes the current session. Calling it twice is a no-op.
func (pp *PhotoPrism) Logout() error {
	if pp.token == "" {
		return nil // Already logged out
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, pp.resolveURL("session"), nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+pp.token)

	resp, err := http.DefaultClient.Do(req) //nolint:gosec // URL constructed from validated parsedURL via resolveURL
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logout failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	pp.token = ""
	pp.downloadToken = ""

	return nil
}
