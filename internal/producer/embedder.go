package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/kozaktomas/cluster-sorter/internal/coreerr"
)

const defaultEmbeddingURL = "http://localhost:8000"

// Embedder computes one embedding vector per image in a batch, in strict
// positional correspondence (§4.2, §6). Implementations must not assume
// the underlying model is safe for concurrent use; HTTPEmbedder serializes
// its per-image calls.
type Embedder interface {
	Embed(ctx context.Context, images [][]byte) ([][]float32, error)
}

// HTTPEmbedder calls an external embedding server over HTTP, grounded on
// the corpus's EmbeddingClient: a multipart POST of the raw image bytes,
// a JSON response carrying the vector.
type HTTPEmbedder struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEmbedder constructs an HTTPEmbedder against baseURL. An empty
// baseURL falls back to the local default embedding server address.
func NewHTTPEmbedder(baseURL string, client *http.Client) *HTTPEmbedder {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPEmbedder{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed posts each image in images to the embedding server's
// /embed/image endpoint, one multipart request at a time, and returns the
// resulting vectors in the same order. A failure on any image fails the
// whole batch; the caller (Producer) marks the batch's paths failed via
// Sink.MarkFailed, per the EmbedderFailure error kind.
func (e *HTTPEmbedder) Embed(ctx context.Context, images [][]byte) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, imageData := range images {
		v, err := e.embedOne(ctx, imageData)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// embedOne posts a single multipart form containing imageData's raw
// bytes under field "file", mirroring the corpus's postMultipartImage.
func (e *HTTPEmbedder) embedOne(ctx context.Context, imageData []byte) ([]float32, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create form file: %v", coreerr.ErrEmbedderFailure, err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("%w: failed to write image data: %v", coreerr.ErrEmbedderFailure, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: failed to close multipart writer: %v", coreerr.ErrEmbedderFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed/image", &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", coreerr.ErrEmbedderFailure, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", coreerr.ErrEmbedderFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", coreerr.ErrEmbedderFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: server returned status %d: %s", coreerr.ErrEmbedderFailure, resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", coreerr.ErrEmbedderFailure, err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", coreerr.ErrEmbedderFailure)
	}
	return parsed.Embedding, nil
}
