package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/predictx/internal/crypto"
	"github.com/alanyoungcy/predictx/internal/domain"
)

// apiClient talks to the predictx HTTP API.
type apiClient struct {
	base   string
	apiKey string
	http   *http.Client
}

func newAPIClient(base, apiKey string) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api: %s (HTTP %d)", e.Message, e.Status)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("api: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

// invokeResult is the response of POST /api/invoke.
type invokeResult struct {
	InvocationID string `json:"invocation_id"`
	Results      []struct {
		Contract string          `json:"contract"`
		Method   string          `json:"method"`
		Result   json.RawMessage `json:"result"`
	} `json:"results"`
	Events []domain.EventRecord `json:"events"`
}

// invoke signs calls with a fresh nonce and submits them as one envelope.
func (c *apiClient) invoke(ctx context.Context, signer *crypto.Signer, calls ...domain.Call) (invokeResult, error) {
	env := domain.Envelope{Nonce: uuid.NewString(), Calls: calls}
	if err := signer.SignEnvelope(&env); err != nil {
		return invokeResult{}, err
	}
	var out invokeResult
	err := c.do(ctx, http.MethodPost, "/api/invoke", env, &out)
	return out, err
}

// newCall encodes args into a domain.Call.
func newCall(contract, method string, args any) (domain.Call, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return domain.Call{}, err
	}
	return domain.Call{Contract: contract, Method: method, Args: raw}, nil
}
