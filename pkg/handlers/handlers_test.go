package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/config"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db/memstore"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/loader"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/notify"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/objectstore"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/orchestrator"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/services"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/synthesis"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/templates"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const introTSX = `const { AbsoluteFill } = window.Remotion;

export const durationInFrames = 150;

export default function Intro() {
  return <AbsoluteFill>Intro</AbsoluteFill>;
}
window.__REMOTION_COMPONENT = Intro;
`

type stubSynth struct {
	err error
}

func (s stubSynth) SynthesizeNew(context.Context, synthesis.NewRequest) (*synthesis.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &synthesis.Result{Code: introTSX, Duration: 150, ComponentName: "Intro", Model: "stub"}, nil
}

func (s stubSynth) SynthesizeEdit(ctx context.Context, _ synthesis.EditRequest) (*synthesis.Result, error) {
	return s.SynthesizeNew(ctx, synthesis.NewRequest{})
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

type api struct {
	server  *httptest.Server
	project uuid.UUID
	token   string
}

func newAPI(t *testing.T, synth orchestrator.Synthesizer, secret string) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var handler http.Handler
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	cfg := &config.Config{
		JwtSecret:      secret,
		StorageDriver:  "local",
		StorageDir:     t.TempDir(),
		StorageBaseURL: server.URL + "/artifacts",
		CORSOrigins:    []string{"http://localhost:3000"},
	}
	store := memstore.New()
	artifacts, err := objectstore.NewLocalStore(cfg.StorageDir, cfg.StorageBaseURL)
	require.NoError(t, err)
	catalog, err := templates.Load("")
	require.NoError(t, err)
	hub := notify.NewHub()
	t.Cleanup(hub.Close)

	orch := orchestrator.New(orchestrator.Deps{
		Store:       store,
		Synthesizer: synth,
		Artifacts:   artifacts,
		Notifier:    hub,
		Templates:   catalog,
	})
	ld := loader.New(store, loader.Options{RetryInterval: time.Millisecond})
	handler = NewRouter(NewHandlers(cfg, orch, store, ld, hub, catalog))
	return &api{server: server, project: uuid.New()}
}

func (a *api) do(t *testing.T, method, path string, body any) (int, envelope, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.server.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env envelope
	_ = json.Unmarshal(raw, &env)
	return resp.StatusCode, env, raw
}

func (a *api) projectPath(suffix string) string {
	return "/api/projects/" + a.project.String() + suffix
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type turnData struct {
	Decision struct {
		Operation string `json:"operation"`
	} `json:"decision"`
	Scene struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	} `json:"scene"`
	Iteration struct {
		ID uuid.UUID `json:"id"`
	} `json:"iteration"`
	Message struct {
		ID uuid.UUID `json:"id"`
	} `json:"message"`
	Duplicate bool `json:"duplicate"`
}

func TestHealthCheck(t *testing.T) {
	a := newAPI(t, stubSynth{}, "")
	status, _, raw := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), `"status":"ok"`)
}

func TestTurnCreatesSceneAndServesComponent(t *testing.T) {
	a := newAPI(t, stubSynth{}, "")

	status, env, _ := a.do(t, http.MethodPost, a.projectPath("/turns"), gin.H{"message": "create a 5 second intro", "correlation_id": "c-1"})
	require.Equal(t, http.StatusOK, status, env.Message)
	turn := decode[turnData](t, env.Data)
	assert.Equal(t, "create", turn.Decision.Operation)
	assert.Equal(t, "ready", turn.Scene.Status)

	status, env, _ = a.do(t, http.MethodPost, a.projectPath("/turns"), gin.H{"message": "create a 5 second intro", "correlation_id": "c-1"})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[turnData](t, env.Data).Duplicate)

	status, env, _ = a.do(t, http.MethodGet, "/api/scenes/"+turn.Scene.ID.String()+"/component", nil)
	require.Equal(t, http.StatusOK, status)
	comp := decode[struct {
		ComponentName string          `json:"component_name"`
		JS            string          `json:"js"`
		Fallback      json.RawMessage `json:"fallback"`
	}](t, env.Data)
	assert.Equal(t, "Intro", comp.ComponentName)
	assert.Contains(t, comp.JS, "window.__REMOTION_COMPONENT = Intro")
	assert.Empty(t, comp.Fallback)

	status, _, raw := a.do(t, http.MethodGet, "/api/scenes/"+turn.Scene.ID.String()+"/component?format=js&refresh=1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), "window.__REMOTION_COMPONENT = Intro")

	status, env, _ = a.do(t, http.MethodGet, a.projectPath("/scenes"), nil)
	require.Equal(t, http.StatusOK, status)
	scenes := decode[[]struct {
		Index int    `json:"index"`
		JSURL string `json:"js_url"`
	}](t, env.Data)
	require.Len(t, scenes, 1)
	assert.Equal(t, 1, scenes[0].Index)
	assert.NotEmpty(t, scenes[0].JSURL)
}

func TestComponentFallbackForUnknownScene(t *testing.T) {
	a := newAPI(t, stubSynth{}, "")

	status, env, _ := a.do(t, http.MethodGet, "/api/scenes/"+uuid.NewString()+"/component", nil)
	require.Equal(t, http.StatusOK, status)
	comp := decode[struct {
		JS       string `json:"js"`
		Fallback struct {
			Kind string `json:"kind"`
			Code string `json:"code"`
		} `json:"fallback"`
	}](t, env.Data)
	assert.Equal(t, loader.KindNotFound, comp.Fallback.Kind)
	assert.Equal(t, "not_found", comp.Fallback.Code)
	assert.Contains(t, comp.JS, "__REMOTION_COMPONENT")
}

func TestTurnErrorsCarryCodes(t *testing.T) {
	a := newAPI(t, stubSynth{err: synthesis.ErrGenerationTimeout}, "")

	status, env, _ := a.do(t, http.MethodPost, a.projectPath("/turns"), gin.H{"message": "create an intro"})
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.False(t, env.Success)
	assert.Equal(t, orchestrator.CodeTimeout, env.Code)
	assert.JSONEq(t, `{"retryable":true}`, string(env.Error))

	status, env, _ = a.do(t, http.MethodPost, "/api/projects/not-a-uuid/turns", gin.H{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, orchestrator.CodeInvalidRequest, env.Code)

	status, env, _ = a.do(t, http.MethodPost, a.projectPath("/turns"), gin.H{"message": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, orchestrator.CodeInvalidRequest, env.Code)
}

func TestHistoryAndRevert(t *testing.T) {
	a := newAPI(t, stubSynth{}, "")

	status, env, _ := a.do(t, http.MethodPost, a.projectPath("/templates"), gin.H{"template_id": "title-card"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	status, env, _ = a.do(t, http.MethodPost, a.projectPath("/turns"), gin.H{"message": "change the text of scene 1"})
	require.Equal(t, http.StatusOK, status, env.Message)
	turn := decode[turnData](t, env.Data)
	require.Equal(t, "edit", turn.Decision.Operation)

	status, env, _ = a.do(t, http.MethodGet, a.projectPath("/messages"), nil)
	require.Equal(t, http.StatusOK, status)
	msgs := decode[[]struct {
		ID            uuid.UUID `json:"id"`
		Role          string    `json:"role"`
		HasRevertible bool      `json:"has_revertible"`
	}](t, env.Data)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.True(t, msgs[0].HasRevertible)
	assert.Equal(t, "assistant", msgs[1].Role)

	status, env, _ = a.do(t, http.MethodGet, "/api/messages/"+turn.Message.ID.String()+"/iterations", nil)
	require.Equal(t, http.StatusOK, status)
	its := decode[[]struct {
		Operation  string  `json:"operation"`
		CodeBefore *string `json:"code_before"`
		Revertible bool    `json:"revertible"`
	}](t, env.Data)
	require.Len(t, its, 1)
	assert.Equal(t, "edit", its[0].Operation)
	require.NotNil(t, its[0].CodeBefore)
	assert.Contains(t, *its[0].CodeBefore, "TitleCard")
	assert.True(t, its[0].Revertible)

	status, env, _ = a.do(t, http.MethodPost, "/api/iterations/"+turn.Iteration.ID.String()+"/revert", nil)
	require.Equal(t, http.StatusOK, status, env.Message)

	status, env, _ = a.do(t, http.MethodGet, "/api/scenes/"+turn.Scene.ID.String()+"/iterations", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]json.RawMessage](t, env.Data), 3)

	status, env, _ = a.do(t, http.MethodPost, "/api/iterations/"+uuid.NewString()+"/revert", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, orchestrator.CodeNotFound, env.Code)
}

func TestTemplatesAndManualEdit(t *testing.T) {
	a := newAPI(t, stubSynth{}, "")

	status, env, _ := a.do(t, http.MethodGet, "/api/templates?format=portrait", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]json.RawMessage](t, env.Data), 2)

	status, env, _ = a.do(t, http.MethodPost, a.projectPath("/templates"), gin.H{"template_id": "end-screen"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	inserted := decode[struct {
		Scene struct {
			ID       uuid.UUID `json:"id"`
			Duration int       `json:"duration"`
			Version  int       `json:"version"`
		} `json:"scene"`
	}](t, env.Data)
	assert.Equal(t, 150, inserted.Scene.Duration)

	path := "/api/scenes/" + inserted.Scene.ID.String() + "/code"
	status, env, _ = a.do(t, http.MethodPut, path, gin.H{"code": introTSX, "expected_version": inserted.Scene.Version})
	require.Equal(t, http.StatusOK, status, env.Message)

	status, env, _ = a.do(t, http.MethodPut, path, gin.H{"code": introTSX, "expected_version": inserted.Scene.Version})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, orchestrator.CodeConflict, env.Code)

	status, env, _ = a.do(t, http.MethodPost, "/api/rebuilds", gin.H{"limit": 10})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"attempted":0,"rebuilt":0}`, string(env.Data))
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	a := newAPI(t, stubSynth{}, "s3cret")

	status, _, _ := a.do(t, http.MethodGet, "/api/templates", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	a.token = "not-a-token"
	status, _, _ = a.do(t, http.MethodGet, "/api/templates", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	token, err := services.GenerateToken("s3cret", uuid.New(), "dev@example.com", "dev", time.Hour)
	require.NoError(t, err)
	a.token = token
	status, _, _ = a.do(t, http.MethodGet, "/api/templates", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _, _ = a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
}
