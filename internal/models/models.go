// Package models lists the models a backend can serve and probes local
// Ollama connectivity.
package models

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultCloudModelsURL lists models available to a DeepSeek API key.
const DefaultCloudModelsURL = "https://api.deepseek.com/models"

// ProbeTimeout bounds the local connectivity probe and model listing.
const ProbeTimeout = 5 * time.Second

// Manager fetches and caches the list of available model names.
type Manager struct {
	url        string
	apiKey     string
	local      bool
	httpClient *http.Client

	mu     sync.Mutex
	cached []string
}

// NewLocalManager creates a Manager for an Ollama host.
func NewLocalManager(host string) *Manager {
	return &Manager{
		url:        strings.TrimRight(host, "/") + "/api/tags",
		local:      true,
		httpClient: &http.Client{Timeout: ProbeTimeout},
	}
}

// NewCloudManager creates a Manager for the DeepSeek /models endpoint.
func NewCloudManager(modelsURL, apiKey string) *Manager {
	if modelsURL == "" {
		modelsURL = DefaultCloudModelsURL
	}
	return &Manager{
		url:        modelsURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
		Size  int64  `json:"size"`
	} `json:"models"`
}

type modelListResponse struct {
	Data []struct {
		ID      string `json:"id"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// Connected reports whether the local server answers /api/tags with 200.
// It never returns an error; any failure means not connected.
func (m *Manager) Connected(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	resp, err := m.get(ctx)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// List returns the available model names, fetching them if not cached.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		return m.cached, nil
	}

	if m.local {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ProbeTimeout)
		defer cancel()
	}
	resp, err := m.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	names, err := m.decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	m.cached = names
	return m.cached, nil
}

// Installed lists local models, returning an empty list on any failure.
func (m *Manager) Installed(ctx context.Context) []string {
	names, err := m.List(ctx)
	if err != nil {
		return []string{}
	}
	return names
}

// Invalidate clears the cached model list.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
}

// Has reports whether the given model is in the list of available models.
// Ollama names without a tag match the ":latest" variant.
func (m *Manager) Has(ctx context.Context, model string) (bool, error) {
	names, err := m.List(ctx)
	if err != nil {
		return false, err
	}
	return m.Includes(names, model), nil
}

// Includes reports whether model is one of names, with the same tag
// matching as Has.
func (m *Manager) Includes(names []string, model string) bool {
	for _, name := range names {
		if name == model || (m.local && !strings.Contains(model, ":") && name == model+":latest") {
			return true
		}
	}
	return false
}

func (m *Manager) get(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	return m.httpClient.Do(req)
}

func (m *Manager) decode(r io.Reader) ([]string, error) {
	names := []string{}
	if m.local {
		var tags tagsResponse
		if err := json.NewDecoder(r).Decode(&tags); err != nil {
			return nil, err
		}
		for _, t := range tags.Models {
			names = append(names, t.Name)
		}
		return names, nil
	}
	var list modelListResponse
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return nil, err
	}
	for _, d := range list.Data {
		names = append(names, d.ID)
	}
	return names, nil
}
