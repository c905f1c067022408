package web

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleDetections(t *testing.T) {
	server, _, stream := setupTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/api/session/detections", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, stream.Draw(testFrame(t)))

	w = doRequest(t, server, http.MethodGet, "/api/session/detections", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 7, body["sequence"])
	dets := body["detections"].([]interface{})
	require.Len(t, dets, 1)
	assert.Equal(t, "person", dets[0].(map[string]interface{})["class_name"])
}

func TestHandleSingleFrame(t *testing.T) {
	server, _, stream := setupTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/api/session/frame", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, stream.Draw(testFrame(t)))
	require.Eventually(t, func() bool { return stream.Rendered() > 0 }, 2*time.Second, 10*time.Millisecond)

	w = doRequest(t, server, http.MethodGet, "/api/session/frame", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xFF, 0xD8}, w.Body.Bytes()[:2])
}

func TestHandleMJPEGStream(t *testing.T) {
	server, _, stream := setupTestServer(t)

	require.NoError(t, stream.Draw(testFrame(t)))
	require.Eventually(t, func() bool { return stream.Rendered() > 0 }, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(server.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/session/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace"))

	reader := bufio.NewReader(resp.Body)
	var sawBoundary, sawJPEG bool
	for i := 0; i < 4; i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch strings.TrimSpace(line) {
		case "--frame":
			sawBoundary = true
		case "Content-Type: image/jpeg":
			sawJPEG = true
		}
	}
	assert.True(t, sawBoundary)
	assert.True(t, sawJPEG)
	assert.Equal(t, 1, stream.ViewerCount())

	cancel()
	require.Eventually(t, func() bool { return stream.ViewerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandleMJPEGStream_ClosedSink(t *testing.T) {
	server, _, stream := setupTestServer(t)
	require.NoError(t, stream.Close())

	w := doRequest(t, server, http.MethodGet, "/api/session/stream", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
