package photoprism

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// GetPhotos retrieves one page of photos. PhotoPrism caps a single page,
// so callers iterate with offset until a short page comes back.
func (pp *PhotoPrism) GetPhotos(count, offset int) ([]Photo, error) {
	endpoint := fmt.Sprintf("photos?count=%d&offset=%d", count, offset)

	result, err := doGetJSON[[]Photo](pp, endpoint)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// GetPhotoDetails retrieves the full photo record including files and markers.
// The response stays a generic map because the registry reads only a handful
// of keys out of a large document.
func (pp *PhotoPrism) GetPhotoDetails(photoUID string) (map[string]any, error) {
	result, err := doGetJSON[map[string]any](pp, "photos/"+photoUID)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// decodeFiles extracts the Files array from photo details into typed file
// records via a JSON roundtrip.
func decodeFiles(details map[string]any) []photoFile {
	raw, ok := details["Files"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var files []photoFile
	if err := json.Unmarshal(data, &files); err != nil {
		return nil
	}
	return files
}

// primaryFileHash returns the hash of the primary file, falling back to the
// first file when none is flagged primary.
func primaryFileHash(details map[string]any) string {
	files := decodeFiles(details)
	if len(files) == 0 {
		return ""
	}
	for _, f := range files {
		if f.Primary {
			return f.Hash
		}
	}
	return files[0].Hash
}

// GetPhotoDownload downloads the primary file content for a photo and returns
// the raw bytes plus the content type.
//
// Face bounding boxes are stored relative to the primary file, so detection
// must always run on the same file the markers refer to.
func (pp *PhotoPrism) GetPhotoDownload(photoUID string) ([]byte, string, error) {
	details, err := pp.GetPhotoDetails(photoUID)
	if err != nil {
		return nil, "", fmt.Errorf("could not get photo details: %w", err)
	}

	fileHash := primaryFileHash(details)
	if fileHash == "" {
		return nil, "", errors.New("could not find file hash for photo")
	}

	return pp.downloadFile(fileHash)
}

// downloadFile fetches file content by hash via the /dl/{hash} endpoint.
// The endpoint authenticates with the download token in the URL.
func (pp *PhotoPrism) downloadFile(fileHash string) ([]byte, string, error) {
	url := fmt.Sprintf("%s/dl/%s?t=%s", pp.Url, fileHash, pp.downloadToken)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("could not create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("could not read response body: %w", err)
	}

	return data, resp.Header.Get("Content-Type"), nil
}
