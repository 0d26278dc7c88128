package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Paths on the engine server.
const (
	generatePath = "/generate_from_features"
	decodePath   = "/decode"
)

// Config contains engine client configuration
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client is the HTTP implementation of Engine and Decoder. Features are
// shipped as base64-encoded little-endian float32 data with an explicit
// shape, matching the engine server's wire format.
type Client struct {
	config     Config
	httpClient *http.Client

	// Statistics
	totalRequests   uint64
	failedRequests  uint64
	bytesSent       uint64
	lastLatency     time.Duration
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	BytesSent       uint64        `json:"bytes_sent"`
	LastLatency     time.Duration `json:"last_latency"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// generateRequest is the wire form of one inference call.
type generateRequest struct {
	Batch            string `json:"batch"`
	FeatureShape     []int  `json:"feature_shape"`
	Task             string `json:"task"`
	ReturnTimestamps bool   `json:"return_timestamps"`
}

// generateResponse carries one token sequence per batch slot.
type generateResponse struct {
	Tokens [][]int `json:"tokens"`
}

type decodeRequest struct {
	Tokens []int `json:"tokens"`
}

type decodeResponse struct {
	Text string `json:"text"`
}

// NewClient creates a new engine HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	config.Endpoint = strings.TrimRight(config.Endpoint, "/")

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Infer sends one batch of stacked features for generation. The call is
// made exactly once; any transport failure or non-2xx status is returned
// to the caller carrying the engine's own message.
func (c *Client) Infer(ctx context.Context, req *BatchRequest) (*BatchResponse, error) {
	if req == nil || len(req.Features) == 0 {
		return nil, fmt.Errorf("batch request must contain features")
	}

	encoded, shape, err := encodeFeatures(req.Features)
	if err != nil {
		return nil, err
	}

	wireReq := generateRequest{
		Batch:            encoded,
		FeatureShape:     shape,
		Task:             req.Task,
		ReturnTimestamps: req.ReturnTimestamps,
	}

	var wireResp generateResponse
	if err := c.post(ctx, generatePath, &wireReq, &wireResp); err != nil {
		return nil, err
	}

	if len(wireResp.Tokens) != len(req.Features) {
		return nil, fmt.Errorf("engine returned %d outputs for a batch of %d", len(wireResp.Tokens), len(req.Features))
	}

	resp := &BatchResponse{Outputs: make([]ChunkOutput, len(wireResp.Tokens))}
	for i, tokens := range wireResp.Tokens {
		resp.Outputs[i] = ChunkOutput{Tokens: tokens}
	}
	return resp, nil
}

// DecodeTokens asks the engine server's tokenizer to render tokens as text.
func (c *Client) DecodeTokens(ctx context.Context, tokens []int) (string, error) {
	if len(tokens) == 0 {
		return "", nil
	}

	var wireResp decodeResponse
	if err := c.post(ctx, decodePath, &decodeRequest{Tokens: tokens}, &wireResp); err != nil {
		return "", err
	}
	return wireResp.Text, nil
}

// post performs a single JSON request against the engine server.
func (c *Client) post(ctx context.Context, path string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	startTime := time.Now()
	c.recordRequest(uint64(len(body)))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("failed to read engine response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.recordFailure()
		return fmt.Errorf("engine returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		c.recordFailure()
		return fmt.Errorf("failed to parse engine response: %w", err)
	}

	c.recordLatency(time.Since(startTime))
	return nil
}

// encodeFeatures flattens a uniform [batch][mels][frames] tensor into
// base64 little-endian float32 data plus its shape.
func encodeFeatures(features [][][]float32) (string, []int, error) {
	batch := len(features)
	mels := len(features[0])
	frames := 0
	if mels > 0 {
		frames = len(features[0][0])
	}

	buf := make([]byte, 0, batch*mels*frames*4)
	scratch := make([]byte, 4)
	for i, chunkFeats := range features {
		if len(chunkFeats) != mels {
			return "", nil, fmt.Errorf("chunk %d has %d mel rows, expected %d", i, len(chunkFeats), mels)
		}
		for r, row := range chunkFeats {
			if len(row) != frames {
				return "", nil, fmt.Errorf("chunk %d row %d has %d frames, expected %d", i, r, len(row), frames)
			}
			for _, v := range row {
				binary.LittleEndian.PutUint32(scratch, math.Float32bits(v))
				buf = append(buf, scratch...)
			}
		}
	}

	return base64.StdEncoding.EncodeToString(buf), []int{batch, mels, frames}, nil
}

// Statistics methods
func (c *Client) recordRequest(bytesOut uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.bytesSent += bytesOut
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) recordLatency(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastLatency = latency
	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = latency
	} else {
		c.avgResponseTime = (c.avgResponseTime + latency) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.totalRequests-c.failedRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		BytesSent:       c.bytesSent,
		LastLatency:     c.lastLatency,
		AvgResponseTime: c.avgResponseTime,
	}
}

// Close releases idle connections held by the underlying transport.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
