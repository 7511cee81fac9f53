package classifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanapi/internal/config"
)

func testBlob() Blob {
	return Blob{
		Reader:      strings.NewReader("fake scan bytes"),
		Filename:    "scan.png",
		ContentType: "image/png",
	}
}

func newClassifier(endpoint string, timeoutSec int) *HTTPClassifier {
	return NewHTTP(config.ModelAPIConfig{Endpoint: endpoint, TimeoutSec: timeoutSec})
}

func TestHTTPClassifier_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "scan.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prediction":"Tumor Detected","confidence":0.87,"message":"The scanned brain seems to have a Tumor!","status":"positive"}`))
	}))
	defer srv.Close()

	res, err := newClassifier(srv.URL, 30).Classify(context.Background(), testBlob())

	require.NoError(t, err)
	assert.Equal(t, "Tumor Detected", res.Prediction)
	assert.Equal(t, 0.87, res.Confidence)
	assert.Equal(t, "positive", res.Status)
}

func TestHTTPClassifier_UpstreamRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"Error loading image: not an image"}`))
	}))
	defer srv.Close()

	_, err := newClassifier(srv.URL, 30).Classify(context.Background(), testBlob())

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusBadRequest, upErr.StatusCode)
	assert.Contains(t, upErr.Detail, "Error loading image")
}

func TestHTTPClassifier_RejectedWithoutDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClassifier(srv.URL, 30).Classify(context.Background(), testBlob())

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusInternalServerError, upErr.StatusCode)
	assert.Empty(t, upErr.Detail)
}

func TestHTTPClassifier_Unreachable(t *testing.T) {
	// A closed server looks like a refused connection.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newClassifier(srv.URL, 30).Classify(context.Background(), testBlob())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestHTTPClassifier_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		srv.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newClassifier(srv.URL, 30).Classify(ctx, testBlob())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.True(t, errors.Is(ctx.Err(), context.DeadlineExceeded))
}

func TestHTTPClassifier_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `prediction=Healthy`},
		{name: "missing prediction", body: `{"confidence":0.5}`},
		{name: "missing confidence", body: `{"prediction":"Healthy"}`},
		{name: "empty prediction", body: `{"prediction":"","confidence":0.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newClassifier(srv.URL, 30).Classify(context.Background(), testBlob())
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestHTTPClassifier_ZeroConfidenceIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prediction":"Healthy","confidence":0}`))
	}))
	defer srv.Close()

	res, err := newClassifier(srv.URL, 30).Classify(context.Background(), testBlob())
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Confidence)
}
