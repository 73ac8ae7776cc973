package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pavelmac/faceshare/internal/config"
)

// Input is a model-ready face crop: a square image of Size×Size pixels with
// RGB channel values normalized into [-1, 1], laid out row-major HWC.
type Input struct {
	Size int
	Data []float32 // Size*Size*3 values
}

// Model computes a raw (unnormalized) embedding vector from a preprocessed
// face crop. Implementations must be safe for concurrent use or document
// otherwise; the reference HTTP implementation is reentrant.
type Model interface {
	Name() string
	InputSize() int
	Dim() int
	Infer(ctx context.Context, input *Input) ([]float32, error)
}

const defaultInputSize = 160

// ServerModel runs inference against a local embedding server over HTTP.
type ServerModel struct {
	baseURL string
	name    string
	dim     int
	client  *http.Client
}

// NewServerModel creates a server-backed model and verifies the server is
// reachable. Returns ErrModel when the server cannot be contacted so the
// host application can disable matching instead of crashing.
func NewServerModel(cfg config.ModelConfig) (*ServerModel, error) {
	m := &ServerModel{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		name:    cfg.Name,
		dim:     cfg.Dim,
		client:  &http.Client{Timeout: 30 * time.Second},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModel, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: server returned status %d", ErrModel, resp.StatusCode)
	}

	return m, nil
}

func (m *ServerModel) Name() string   { return m.name }
func (m *ServerModel) InputSize() int { return defaultInputSize }
func (m *ServerModel) Dim() int       { return m.dim }

type inferRequest struct {
	Model string    `json:"model"`
	Size  int       `json:"size"`
	Data  []float32 `json:"data"`
}

type inferResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// Infer posts the preprocessed crop to the embedding server.
func (m *ServerModel) Infer(ctx context.Context, input *Input) ([]float32, error) {
	body, err := json.Marshal(inferRequest{Model: m.name, Size: input.Size, Data: input.Data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/embed/face", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var embResp inferResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(embResp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}

	return embResp.Embedding, nil
}
