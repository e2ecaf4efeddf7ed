package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/calvinmclean/autostroke"
	"github.com/calvinmclean/autostroke/controller"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completeConfig = `{"bpm":60,"depth":0.5,"depth_top":true,"reversed":false,"wave_func":"thrust","sharpness":0.2,"spline_points":[0,1],"paused":false,"paused_position":0}`

func newTestController(t *testing.T) *controller.Controller {
	t.Helper()

	store, err := controller.NewConfigStore(autostroke.DefaultConfig())
	require.NoError(t, err)

	mapper, err := controller.NewPositionMapper(0, 10000)
	require.NoError(t, err)

	c, err := controller.New(store, nil, mapper, controller.Options{})
	require.NoError(t, err)
	return c
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, http.NoBody)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestConfig(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{
			"Complete",
			completeConfig,
			http.StatusOK,
			`"wave_func":"thrust"`,
		},
		{
			"Clamped",
			strings.Replace(completeConfig, `"bpm":60`, `"bpm":9000`, 1),
			http.StatusOK,
			`"bpm":500`,
		},
		{
			"Partial",
			`{"bpm":60,"paused":true}`,
			http.StatusBadRequest,
			`missing from partial config`,
		},
		{
			"UnknownWave",
			strings.Replace(completeConfig, `"thrust"`, `"square"`, 1),
			http.StatusBadRequest,
			`"status":"Bad Request"`,
		},
		{
			"SplinePointOutOfRange",
			strings.Replace(completeConfig, `[0,1]`, `[0,1.5]`, 1),
			http.StatusBadRequest,
			`spline_points[1]`,
		},
		{
			"TooLarge",
			strings.Replace(completeConfig, `"bpm":60`, `"bpm":60`+strings.Repeat(" ", MaxConfigBodySize), 1),
			http.StatusRequestEntityTooLarge,
			`request body larger than 1024 bytes`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t)
			a := New(c, nil)

			w := serve(a, http.MethodPost, "/config", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)

			if tt.expectedStatus != http.StatusOK {
				assert.Equal(t, 36.0, c.Config().BPM, "rejected config must not be installed")
			}
		})
	}

	t.Run("Get", func(t *testing.T) {
		a := New(newTestController(t), nil)

		w := serve(a, http.MethodGet, "/config", "")
		require.Equal(t, http.StatusOK, w.Code)

		var cfg autostroke.Config
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
		assert.True(t, autostroke.DefaultConfig().Equal(cfg))
	})
}

func TestPaused(t *testing.T) {
	c := newTestController(t)
	a := New(c, nil)

	tests := []struct {
		name             string
		body             string
		expectedStatus   int
		expectedPaused   bool
		expectedPosition float64
	}{
		{"PauseAtPosition", `{"paused":true,"position":0.4}`, http.StatusOK, true, 0.4},
		{"Adjust", `{"adjust":0.2}`, http.StatusOK, true, 0.6},
		{"AdjustClamped", `{"adjust":5}`, http.StatusOK, true, 1},
		{"PositionThenAdjust", `{"position":0.5,"adjust":-0.25}`, http.StatusOK, true, 0.25},
		{"Resume", `{"paused":false}`, http.StatusOK, false, 0.25},
		{"NotJSON", `paused`, http.StatusBadRequest, false, 0.25},
		{"TooLarge", `{"paused":true` + strings.Repeat(" ", MaxPauseBodySize) + `}`, http.StatusRequestEntityTooLarge, false, 0.25},
	}

	// each case builds on the previous one
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(a, http.MethodPost, "/paused", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())

			cfg := c.Config()
			assert.Equal(t, tt.expectedPaused, cfg.Paused)
			assert.InDelta(t, tt.expectedPosition, cfg.PausedPosition, 1e-9)
		})
	}
}

func TestState(t *testing.T) {
	a := New(newTestController(t), nil)

	w := serve(a, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, w.Code)

	var state autostroke.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.False(t, state.Faulted)
	assert.Equal(t, 36.0, state.Config.BPM)
}

func TestClearFault(t *testing.T) {
	a := New(newTestController(t), nil)

	w := serve(a, http.MethodPost, "/fault/clear", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNoEngine(t *testing.T) {
	a := New(nil, nil)

	for _, r := range []struct{ method, path, body string }{
		{http.MethodGet, "/config", ""},
		{http.MethodPost, "/config", completeConfig},
		{http.MethodPost, "/paused", `{"paused":true}`},
		{http.MethodGet, "/state", ""},
		{http.MethodPost, "/fault/clear", ""},
	} {
		w := serve(a, r.method, r.path, r.body)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, r.path)
		assert.Contains(t, w.Body.String(), "motor controller not initialized")
	}

	w := serve(a, http.MethodGet, "/config/schema", "")
	assert.Equal(t, http.StatusOK, w.Code)

	a.Attach(newTestController(t))
	w = serve(a, http.MethodGet, "/config", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	a := New(newTestController(t), nil)

	t.Run("Preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/paused", http.NoBody)
		r.Header.Set("Origin", "http://example.com")
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		r.Header.Set("Access-Control-Request-Headers", "Content-Type")

		w := httptest.NewRecorder()
		a.ServeHTTP(w, r)

		assert.Less(t, w.Code, 300)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})

	t.Run("Simple", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/state", http.NoBody)
		r.Header.Set("Origin", "http://example.com")

		w := httptest.NewRecorder()
		a.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestConfigSchema(t *testing.T) {
	a := New(nil, nil)

	w := serve(a, http.MethodGet, "/config/schema", "")
	require.Equal(t, http.StatusOK, w.Code)

	var schema struct {
		Type       string `json:"type"`
		Required   []string
		Properties map[string]struct {
			Type     string `json:"type"`
			Enum     []string
			MinItems *int `json:"minItems"`
		}
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &schema))

	assert.Equal(t, "object", schema.Type)
	assert.ElementsMatch(t, []string{
		"bpm", "depth", "depth_top", "reversed", "wave_func",
		"sharpness", "spline_points", "paused", "paused_position",
	}, schema.Required)
	assert.Equal(t, []string{"sine", "thrust", "spline"}, schema.Properties["wave_func"].Enum)
	assert.Equal(t, "string", schema.Properties["wave_func"].Type)
	require.NotNil(t, schema.Properties["spline_points"].MinItems)
	assert.Equal(t, 2, *schema.Properties["spline_points"].MinItems)
}
