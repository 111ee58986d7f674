package detector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/stationeye/internal/settings"
)

func TestHTTPClient_Detect(t *testing.T) {
	annotated := []byte("annotated-jpeg")

	var got detectRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/detect-base64", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"detections": [
				{"class_name": "Toolbox", "confidence": 0.95, "box": {"x": 10, "y": 20, "width": 100, "height": 50}},
				{"className": "Other", "confidence": 0.76, "box": {"x": 200, "y": 40, "width": 30, "height": 30}}
			],
			"processedImage": "` + base64.StdEncoding.EncodeToString(annotated) + `",
			"processingTime": 42.5,
			"sessionId": "abc"
		}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", 5*time.Second)
	res, err := c.Detect(context.Background(), Request{
		Image:               []byte{0xff, 0xd8, 0xff},
		SessionID:           "abc",
		Classes:             []string{"Other", "Toolbox"},
		Speed:               settings.SpeedFast,
		ConfidenceThreshold: 0.5,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got.Image, "data:image/jpeg;base64,"))
	assert.Equal(t, "abc", got.SessionID)
	assert.Equal(t, []string{"Other", "Toolbox"}, got.Classes)
	assert.Equal(t, "Fast", got.Speed)
	assert.InDelta(t, 0.5, got.ConfThreshold, 1e-9)

	require.Len(t, res.Detections, 2)
	assert.Equal(t, Detection{Class: "Toolbox", Confidence: 0.95, Box: Box{X: 10, Y: 20, Width: 100, Height: 50}}, res.Detections[0])
	assert.Equal(t, "Other", res.Detections[1].Class)
	assert.Equal(t, annotated, res.AnnotatedImage)
	assert.Equal(t, 42500*time.Microsecond, res.ProcessingTime)
	assert.Equal(t, "abc", res.SessionID.String())
}

func TestHTTPClient_OmitsEmptyClassFilter(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Write([]byte(`{"detections": []}`))
	}))
	defer srv.Close()

	res, err := NewHTTPClient(srv.URL, time.Second).Detect(context.Background(), Request{Image: []byte{1}, SessionID: "s"})
	require.NoError(t, err)
	require.Empty(t, res.Detections)
	require.False(t, res.HasAnnotatedImage())

	_, hasClasses := raw["classes"]
	require.False(t, hasClasses, "an empty filter is sent as no filter")
}

func TestHTTPClient_DataURLAnnotatedImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"detections": [], "processedImage": "data:image/jpeg;base64,` +
			base64.StdEncoding.EncodeToString([]byte("img")) + `"}`))
	}))
	defer srv.Close()

	res, err := NewHTTPClient(srv.URL, time.Second).Detect(context.Background(), Request{Image: []byte{1}})
	require.NoError(t, err)
	require.Equal(t, []byte("img"), res.AnnotatedImage)
}

func TestHTTPClient_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		protocol bool
		contains string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"message": "Error processing image: model missing"}`, contains: "model missing"},
		{name: "bad request", status: http.StatusBadRequest, body: `{"message": "No base64 image data provided"}`, contains: "400"},
		{name: "malformed body", status: http.StatusOK, body: `{"detections": [`, protocol: true},
		{name: "missing detections", status: http.StatusOK, body: `{"sessionId": "abc"}`, protocol: true},
		{name: "detections not a list", status: http.StatusOK, body: `{"detections": 3}`, protocol: true},
		{name: "bad confidence", status: http.StatusOK, body: `{"detections": [{"className": "Other", "confidence": 7}]}`, protocol: true},
		{name: "no class", status: http.StatusOK, body: `{"detections": [{"confidence": 0.5}]}`, protocol: true},
		{name: "bad processed image", status: http.StatusOK, body: `{"detections": [], "processedImage": "%%%"}`, protocol: true},
		{name: "script error", status: http.StatusOK, body: `{"error": "cuda out of memory"}`, contains: "cuda out of memory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, time.Second).Detect(context.Background(), Request{Image: []byte{1}})
			require.Error(t, err)
			if tt.protocol {
				require.ErrorIs(t, err, ErrProtocol)
			}
			if tt.contains != "" {
				require.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestHTTPClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url, time.Second).Detect(context.Background(), Request{Image: []byte{1}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "detection request")
}
