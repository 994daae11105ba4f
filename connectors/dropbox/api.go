// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAPIURL is the Dropbox RPC endpoint
	DefaultAPIURL = "https://api.dropboxapi.com/2/"
	// DefaultContentURL is the Dropbox content-download endpoint
	DefaultContentURL = "https://content.dropboxapi.com/2/"
)

// APIError is a non-2xx Dropbox response. Summary carries Dropbox's
// error_summary, e.g. "path/not_found/..".
type APIError struct {
	Status     int
	Summary    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Status == http.StatusTooManyRequests {
		return fmt.Sprintf("dropbox: %d too many requests: %s", e.Status, e.Summary)
	}
	return fmt.Sprintf("dropbox: %d %s", e.Status, e.Summary)
}

// notFound reports a lookup error on a missing path
func (e *APIError) notFound() bool {
	return e.Status == http.StatusConflict && strings.Contains(e.Summary, "not_found")
}

type apiClient struct {
	http       *http.Client
	apiURL     string
	contentURL string
}

// rpc POSTs a JSON argument to an RPC route and decodes the JSON result.
// A nil arg sends the literal null some routes require.
func (a *apiClient) rpc(ctx context.Context, route string, arg, out interface{}) error {
	body := []byte("null")
	if arg != nil {
		var err error
		if body, err = json.Marshal(arg); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL+route, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", route, err)
	}
	return nil
}

// download streams a file body from the content endpoint; the argument
// travels in the Dropbox-API-Arg header.
func (a *apiClient) download(ctx context.Context, path string) (io.ReadCloser, error) {
	arg, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.contentURL+"files/download", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := a.do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (a *apiClient) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{Status: resp.StatusCode, Summary: http.StatusText(resp.StatusCode)}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Summary string `json:"error_summary"`
	}
	if json.Unmarshal(data, &body) == nil && body.Summary != "" {
		apiErr.Summary = body.Summary
	} else if text := strings.TrimSpace(string(data)); text != "" {
		apiErr.Summary = text
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return nil, apiErr
}

const userAgent = "conhub-router"

// metadata is one entry of list_folder, get_metadata or a search match.
// Tag is "file", "folder" or "deleted".
type metadata struct {
	Tag            string `json:".tag"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	PathLower      string `json:"path_lower"`
	PathDisplay    string `json:"path_display"`
	ClientModified string `json:"client_modified"`
	ServerModified string `json:"server_modified"`
	Size           int64  `json:"size"`
	Rev            string `json:"rev"`
	ContentHash    string `json:"content_hash"`
}

type listFolderArg struct {
	Path                  string `json:"path"`
	Recursive             bool   `json:"recursive,omitempty"`
	Limit                 int    `json:"limit,omitempty"`
	IncludeMountedFolders bool   `json:"include_mounted_folders"`
}

type listFolderResult struct {
	Entries []metadata `json:"entries"`
	Cursor  string     `json:"cursor"`
	HasMore bool       `json:"has_more"`
}

type searchArg struct {
	Query   string        `json:"query"`
	Options searchOptions `json:"options"`
}

type searchOptions struct {
	MaxResults   int    `json:"max_results"`
	FileStatus   string `json:"file_status"`
	FilenameOnly bool   `json:"filename_only"`
}

type searchResult struct {
	Matches []struct {
		Metadata struct {
			Tag      string   `json:".tag"`
			Metadata metadata `json:"metadata"`
		} `json:"metadata"`
	} `json:"matches"`
	HasMore bool `json:"has_more"`
}

type account struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
}
