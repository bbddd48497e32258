// Package detector talks to the face detector sidecar. The sidecar runs an
// insightface model, finds faces in a photo and returns one L2-normalized
// embedding per face together with its bounding box and detection score.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

const (
	defaultURL   = "http://localhost:8000"
	defaultModel = "buffalo_l" // insightface model pack name, for reference only
)

// Client calls the detector sidecar over HTTP.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewClient creates a detector client. Empty arguments fall back to the
// local sidecar defaults.
func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

// Detection is a single face found in the submitted image. BBox is
// [x1, y1, x2, y2] in raw pixel coordinates of the submitted image.
type Detection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"`
	DetScore  float64   `json:"det_score"`
}

// Result is the sidecar response for one image.
type Result struct {
	FacesCount int         `json:"faces_count"`
	Faces      []Detection `json:"faces"`
	Model      string      `json:"model"`
}

// Detect submits an image and returns the detected faces. A photo without
// faces is a valid result with an empty Faces slice, not an error.
func (c *Client) Detect(ctx context.Context, imageData []byte) (*Result, error) {
	body, err := c.postMultipartImage(ctx, "/detect", imageData)
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	for _, face := range result.Faces {
		if len(face.Embedding) == 0 {
			return nil, fmt.Errorf("face %d has an empty embedding", face.FaceIndex)
		}
		if face.Dim != 0 && face.Dim != len(face.Embedding) {
			return nil, fmt.Errorf("face %d reports dim %d but carries %d values",
				face.FaceIndex, face.Dim, len(face.Embedding))
		}
	}

	return &result, nil
}

// Model returns the model name the client was configured with.
func (c *Client) Model() string {
	return c.model
}

// postMultipartImage constructs a multipart form with the image data and posts
// it to the given endpoint. The part carries an explicit Content-Type header
// based on magic byte detection so the sidecar can reject non-images early.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
