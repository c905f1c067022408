package web

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/state"
)

func TestHandleGetSession(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	st := body["state"].(map[string]interface{})
	assert.EqualValues(t, 1, st["generation"])
	assert.Equal(t, "back", st["config"].(map[string]interface{})["facing"])
	assert.EqualValues(t, 2, body["stats"].(map[string]interface{})["dropped_busy"])
	assert.Equal(t, true, body["surface"].(map[string]interface{})["valid"])
}

func TestHandleUpdateSessionConfig(t *testing.T) {
	server, sess, _ := setupTestServer(t)

	w := doRequest(t, server, http.MethodPut, "/api/session/config", map[string]interface{}{
		"model_id": 1,
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.EqualValues(t, 2, body["generation"])
	cfg := body["config"].(map[string]interface{})
	assert.EqualValues(t, 1, cfg["model_id"])
	assert.Equal(t, "back", cfg["facing"], "omitted fields keep their value")

	w = doRequest(t, server, http.MethodPut, "/api/session/config", map[string]interface{}{
		"backend_id": 1,
		"facing":     "FRONT",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, session.Config{ModelID: 1, BackendID: 1, Facing: session.FacingFront}, sess.Snapshot().Config)
}

func TestHandleUpdateSessionConfig_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"invalid json", "{model_id:"},
		{"wrong type", map[string]interface{}{"model_id": "one"}},
		{"negative model", map[string]interface{}{"model_id": -1}},
		{"negative backend", map[string]interface{}{"backend_id": -2}},
		{"unknown facing", map[string]interface{}{"facing": "sideways"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, sess, _ := setupTestServer(t)

			w := doRequest(t, server, http.MethodPut, "/api/session/config", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, sess.applied, "no reconfiguration on bad input")
		})
	}
}

func TestHandleUpdateSessionConfig_ErrorMapping(t *testing.T) {
	cfg := session.Config{ModelID: 3, BackendID: 1, Facing: session.FacingBack}

	tests := []struct {
		name   string
		err    error
		code   int
		reason string
	}{
		{
			name:   "asset missing",
			err:    &session.BuildError{Config: cfg, Reason: session.BuildAssetMissing, Err: session.ErrAssetMissing},
			code:   http.StatusUnprocessableEntity,
			reason: "asset_missing",
		},
		{
			name:   "out of memory",
			err:    &session.BuildError{Config: cfg, Reason: session.BuildOutOfMemory, Err: session.ErrOutOfMemory},
			code:   http.StatusUnprocessableEntity,
			reason: "out_of_memory",
		},
		{
			name:   "permission required",
			err:    &session.PermissionRequiredError{Facing: session.FacingFront, Err: session.ErrPermissionDenied},
			code:   http.StatusPreconditionRequired,
			reason: "permission_required",
		},
		{
			name:   "device busy",
			err:    &session.CameraError{Facing: session.FacingBack, Reason: session.CameraDeviceBusy, Err: session.ErrDeviceBusy},
			code:   http.StatusServiceUnavailable,
			reason: "device_busy",
		},
		{
			name:   "closed",
			err:    session.ErrClosed,
			code:   http.StatusServiceUnavailable,
			reason: "closed",
		},
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			code: http.StatusGatewayTimeout,
		},
		{
			name: "unexpected",
			err:  errors.New("boom"),
			code: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, sess, _ := setupTestServer(t)
			sess.setErr = tt.err

			w := doRequest(t, server, http.MethodPut, "/api/session/config", map[string]interface{}{"model_id": 3})
			require.Equal(t, tt.code, w.Code)

			body := decodeBody(t, w)
			assert.NotEmpty(t, body["error"])
			if tt.reason != "" {
				assert.Equal(t, tt.reason, body["reason"])
			}
		})
	}
}

func TestHandleSwitchFacing(t *testing.T) {
	server, sess, _ := setupTestServer(t)

	w := doRequest(t, server, http.MethodPost, "/api/session/facing/switch", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, session.FacingFront, sess.Snapshot().Config.Facing)

	w = doRequest(t, server, http.MethodPost, "/api/session/facing/switch", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, session.FacingBack, sess.Snapshot().Config.Facing)

	sess.setErr = &session.CameraError{Facing: session.FacingFront, Reason: session.CameraFacingUnsupported, Err: session.ErrFacingUnsupported}
	w = doRequest(t, server, http.MethodPost, "/api/session/facing/switch", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "facing_unsupported", decodeBody(t, w)["reason"])
}

func TestHandlePauseResume(t *testing.T) {
	server, sess, _ := setupTestServer(t)

	w := doRequest(t, server, http.MethodPost, "/api/session/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sess.Snapshot().Paused)

	sess.resumeErr = &session.PermissionRequiredError{Facing: session.FacingBack, Err: session.ErrPermissionDenied}
	w = doRequest(t, server, http.MethodPost, "/api/session/resume", nil)
	assert.Equal(t, http.StatusPreconditionRequired, w.Code)
	assert.True(t, sess.Snapshot().Paused)

	sess.resumeErr = nil
	w = doRequest(t, server, http.MethodPost, "/api/session/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, sess.Snapshot().Paused)
	assert.Equal(t, true, decodeBody(t, w)["state"].(map[string]interface{})["camera_running"])
}

func TestHandleSurfaceLifecycle(t *testing.T) {
	server, sess, stream := setupTestServer(t)

	w := doRequest(t, server, http.MethodPost, "/api/session/surface", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Same(t, stream, sess.attached())
	assert.True(t, stream.Valid())

	w = doRequest(t, server, http.MethodDelete, "/api/session/surface", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, sess.attached())
	assert.False(t, stream.Valid())

	w = doRequest(t, server, http.MethodPost, "/api/session/surface", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, stream.Valid(), "surface is revalidated on attach")
}

func TestSessionEndpoints_Unavailable(t *testing.T) {
	server := NewServer(&config.WebConfig{}, logger.NewNopLogger())
	server.setupRoutes()

	for _, path := range []string{"/api/session", "/api/session/stream", "/api/session/detections", "/api/session/history"} {
		w := doRequest(t, server, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
	w := doRequest(t, server, http.MethodPost, "/api/session/pause", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleHistory(t *testing.T) {
	server, _, _ := setupTestServer(t)

	cfg := config.Default()
	cfg.Daemon.DataDir = t.TempDir()
	stateMgr, err := state.NewManager(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	defer stateMgr.Close()
	server.SetHistoryStore(stateMgr)

	ctx := context.Background()
	base := time.Now().Add(-time.Minute)
	for i := 1; i <= 3; i++ {
		require.NoError(t, stateMgr.RecordReconfiguration(ctx, session.HistoryEntry{
			Generation: uint64(i),
			Config:     session.Config{ModelID: i % 2},
			Outcome:    session.OutcomeApplied,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	w := doRequest(t, server, http.MethodGet, "/api/session/history?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 2, body["count"])
	first := body["history"].([]interface{})[0].(map[string]interface{})
	assert.EqualValues(t, 3, first["generation"])

	w = doRequest(t, server, http.MethodGet, "/api/session/history?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
