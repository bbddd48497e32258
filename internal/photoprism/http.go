package photoprism

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
)

// doGetJSON performs a GET request and unmarshals the JSON response into the
// result type. The endpoint is the path after the base API URL (e.g. "photos/abc").
func doGetJSON[T any](pp *PhotoPrism, endpoint string) (*T, error) {
	url := pp.resolveURL(endpoint)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+pp.token)

	resp, err := http.DefaultClient.Do(req) //nolint:gosec // URL constructed from validated parsedURL via resolveURL
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	pp.captureResponse(endpoint, body)

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}

	return &result, nil
}

// doPostJSONCreated performs a POST request that accepts either 200 OK or
// 201 Created. PhotoPrism returns 201 for newly created markers.
func doPostJSONCreated[T any](pp *PhotoPrism, endpoint string, requestBody any) (*T, error) {
	return doRequestJSON[T](pp, http.MethodPost, endpoint, requestBody, http.StatusOK, http.StatusCreated)
}

// doPutJSON performs a PUT request with a JSON body and unmarshals the JSON response.
func doPutJSON[T any](pp *PhotoPrism, endpoint string, requestBody any) (*T, error) {
	return doRequestJSON[T](pp, http.MethodPut, endpoint, requestBody, http.StatusOK)
}

// doRequestJSON performs an HTTP request with an optional JSON body and
// unmarshals the JSON response. The response status must match one of
// expectedStatuses or an error is returned.
func doRequestJSON[T any](pp *PhotoPrism, method, endpoint string, requestBody any, expectedStatuses ...int) (*T, error) {
	url := pp.resolveURL(endpoint)

	var bodyReader io.Reader
	if requestBody != nil {
		jsonBody, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("could not marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+pp.token)
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req) //nolint:gosec // URL constructed from validated parsedURL via resolveURL
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if !slices.Contains(expectedStatuses, resp.StatusCode) {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	pp.captureResponse(endpoint, body)

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}

	return &result, nil
}
