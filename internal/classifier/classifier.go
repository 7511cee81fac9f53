// Package classifier calls the external scan classification model service and
// maps its responses and failures into a normalized result. It performs no
// retries; a failed call leaves the caller free to resubmit.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"scanapi/internal/config"
)

var (
	// ErrUpstreamUnavailable means the model service could not be reached or
	// did not answer within the configured timeout.
	ErrUpstreamUnavailable = errors.New("model service unreachable or timed out")
	// ErrMalformedResponse means the model service answered 2xx but the body
	// was missing the prediction label or the confidence number.
	ErrMalformedResponse = errors.New("model service returned a malformed response")
)

// UpstreamError is a non-2xx answer from the model service. Detail carries the
// service-provided explanation when one was present in the body.
type UpstreamError struct {
	StatusCode int
	Detail     string
}

func (e *UpstreamError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("model service rejected the request (status %d): %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("model service rejected the request (status %d)", e.StatusCode)
}

// Blob is the scan payload handed to the classifier.
type Blob struct {
	Reader      io.Reader
	Filename    string
	ContentType string
}

// Result is the normalized classification outcome. Prediction and Confidence
// are returned verbatim from the model service.
type Result struct {
	Prediction string
	Confidence float64
	Message    string
	Status     string
}

// Classifier is the contract the orchestration service depends on.
type Classifier interface {
	Classify(ctx context.Context, blob Blob) (*Result, error)
}

// HTTPClassifier posts the scan as a single-part multipart payload to the
// configured predict endpoint over a traced HTTP client.
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
}

// NewHTTP builds an HTTPClassifier from config. The client timeout bounds the
// whole exchange, including body upload and response read.
func NewHTTP(cfg config.ModelAPIConfig) *HTTPClassifier {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClassifier{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

var _ Classifier = (*HTTPClassifier)(nil)

// upstreamResponse mirrors the model service's predict payload. Confidence is
// a pointer so a missing number can be told apart from a literal zero.
type upstreamResponse struct {
	Prediction string   `json:"prediction"`
	Confidence *float64 `json:"confidence"`
	Message    string   `json:"message"`
	Status     string   `json:"status"`
}

type upstreamErrorBody struct {
	Detail string `json:"detail"`
}

// Classify sends the blob and maps the outcome. Failures are one of:
// ErrUpstreamUnavailable (transport/timeout), *UpstreamError (non-2xx status),
// or ErrMalformedResponse (2xx with required fields missing).
func (c *HTTPClassifier) Classify(ctx context.Context, blob Blob) (*Result, error) {
	body, contentType, err := encodeMultipart(blob)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build model request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody upstreamErrorBody
		_ = json.Unmarshal(raw, &errBody)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Detail: errBody.Detail}
	}

	var parsed upstreamResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.Prediction == "" || parsed.Confidence == nil {
		return nil, ErrMalformedResponse
	}

	return &Result{
		Prediction: parsed.Prediction,
		Confidence: *parsed.Confidence,
		Message:    parsed.Message,
		Status:     parsed.Status,
	}, nil
}

// encodeMultipart packages the blob as a single multipart/form-data part named
// "file", preserving the original filename and content type.
func encodeMultipart(blob Blob) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, blob.Filename))
	if blob.ContentType != "" {
		h.Set("Content-Type", blob.ContentType)
	}

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := io.Copy(part, blob.Reader); err != nil {
		return nil, "", fmt.Errorf("copy scan bytes: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return buf, w.FormDataContentType(), nil
}
