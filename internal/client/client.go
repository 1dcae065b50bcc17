// Package client talks to a running treemirror server.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type RootInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Watching bool     `json:"watching"`
	Allow    []string `json:"allow"`
	Deny     []string `json:"deny"`
	Ignore   []string `json:"ignore"`
}

type Content struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Text    string    `json:"text"`
}

// HTTPError is a non-success response. Code is the server's machine-readable
// error code when it sent one.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func FetchRoots(client *http.Client, baseURL, token string) ([]RootInfo, error) {
	var roots []RootInfo
	if err := do(client, http.MethodGet, baseURL, "/api/roots", token, &roots); err != nil {
		return nil, fmt.Errorf("roots request: %w", err)
	}
	return roots, nil
}

// FetchContent reads path, relative to the root, through the server's
// consistent read.
func FetchContent(client *http.Client, baseURL, token, rootID, path string) (Content, error) {
	rootID = strings.TrimSpace(rootID)
	if rootID == "" {
		return Content{}, errors.New("root id is required")
	}
	endpoint := "/api/roots/" + url.PathEscape(rootID) + "/content?path=" + url.QueryEscape(path)
	var content Content
	if err := do(client, http.MethodGet, baseURL, endpoint, token, &content); err != nil {
		return Content{}, fmt.Errorf("content request: %w", err)
	}
	return content, nil
}

func RefreshRoot(client *http.Client, baseURL, token, rootID string) (RootInfo, error) {
	rootID = strings.TrimSpace(rootID)
	if rootID == "" {
		return RootInfo{}, errors.New("root id is required")
	}
	var info RootInfo
	if err := do(client, http.MethodPost, baseURL, "/api/roots/"+url.PathEscape(rootID)+"/refresh", token, &info); err != nil {
		return RootInfo{}, fmt.Errorf("refresh request: %w", err)
	}
	return info, nil
}

func do(client *http.Client, method, baseURL, endpoint, token string, target any) error {
	client = ensureClient(client)
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return errors.New("base URL is required")
	}

	request, err := http.NewRequest(method, baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	addToken(request, token)

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return readError(response)
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func ensureClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return http.DefaultClient
}

func addToken(request *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	request.Header.Set("Authorization", "Bearer "+token)
}

func readError(response *http.Response) *HTTPError {
	httpErr := &HTTPError{StatusCode: response.StatusCode, Message: response.Status}
	body, _ := io.ReadAll(response.Body)
	text := strings.TrimSpace(string(body))
	if text == "" {
		return httpErr
	}
	var payload struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Message) != "" {
		httpErr.Message = payload.Message
		httpErr.Code = payload.Code
		return httpErr
	}
	httpErr.Message = text
	return httpErr
}
