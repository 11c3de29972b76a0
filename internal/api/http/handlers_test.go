package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/NexusCore/backend/internal/api/middleware"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/conduit"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/repair"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/settings"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/supervisor"
	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/version"
	"github.com/GriffinCanCode/NexusCore/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/bus"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/cloud"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/genai"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/storage"
	"github.com/GriffinCanCode/NexusCore/backend/internal/shared/testutil"
)

type fixture struct {
	router   *gin.Engine
	sup      *supervisor.Supervisor
	versions *version.Store
	settings *settings.Store
	host     *runtime.Host
	cond     *conduit.Conduit
	boundary *repair.Boundary
	gen      *testutil.MockGenerator
	bucket   *memBucket
}

type fixtureOpts struct {
	cloud  bool
	logger *zap.Logger
}

func newFixture(t *testing.T, opts ...fixtureOpts) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var o fixtureOpts
	if len(opts) > 0 {
		o = opts[0]
	}

	versions := testutil.NewVersionStore(t)
	prefs := testutil.NewSettingsStore(t)
	gen := testutil.NewMockGenerator(t)

	cond, err := conduit.New(storage.NewMemory(), bus.NewLocal())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cond.Close() })

	host := runtime.NewHost(versions, runtime.WithRelay(cond.Open(context.Background(), "tab_runtime", "")))
	t.Cleanup(host.Close)

	sup := supervisor.New(versions, gen,
		supervisor.WithConfig(supervisor.Config{
			RecoveryTimeout: time.Hour,
			RollbackDelay:   10 * time.Millisecond,
			RestoreDelay:    time.Hour,
		}),
		supervisor.WithSettings(prefs),
	)
	t.Cleanup(sup.Close)
	host.Subscribe(func(s runtime.HealthSignal) { sup.HandleHealth(s) })

	ctrl := repair.NewController(versions, sup, gen, nil)
	boundary := repair.NewBoundary(ctrl, nil,
		repair.ResetStep{Name: "versions", Run: versions.Reset},
		repair.ResetStep{Name: "conduit", Run: cond.Reset},
		repair.ResetStep{Name: "settings", Run: prefs.Reset},
		repair.ResetStep{Name: "supervisor", Run: func(context.Context) error { sup.Reset(); return nil }},
	)

	f := &fixture{
		sup:      sup,
		versions: versions,
		settings: prefs,
		host:     host,
		cond:     cond,
		boundary: boundary,
		gen:      gen,
	}

	var archiver *cloud.Archiver
	if o.cloud {
		f.bucket = newMemBucket()
		archiver = cloud.NewArchiver(f.bucket, "backups/", nil)
	}

	h := NewHandlers(Deps{
		Supervisor: sup,
		Versions:   versions,
		Host:       host,
		Conduit:    cond,
		Settings:   prefs,
		Boundary:   boundary,
		Archiver:   archiver,
		Logger:     o.logger,
	})
	f.router = gin.New()
	h.Register(f.router)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if _, raw := body.([]byte); body != nil && !raw {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// stage runs a text capture that produces a version marked marker.
func (f *fixture) stage(t *testing.T, marker string) {
	t.Helper()
	f.gen.On("Evolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(testutil.GeneratedResult(marker), nil).Once()
	w := f.do(t, http.MethodPost, "/capture/submit", map[string]string{"text": "make " + marker})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

// confirm reports a healthy render of the current epoch.
func (f *fixture) confirm(t *testing.T) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/health-check", runtime.HealthSignal{
		Type:   runtime.HealthCheckType,
		Status: runtime.HealthOK,
		Epoch:  f.host.Epoch(),
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, supervisor.StatusIdle, f.sup.Snapshot().Status)
}

type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	mod     map[string]time.Time
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}, mod: map[string]time.Time{}}
}

func (b *memBucket) Put(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	b.mod[key] = time.Now()
	return nil
}

func (b *memBucket) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, cloud.ErrNotFound
	}
	return data, nil
}

func (b *memBucket) List(_ context.Context, prefix string) ([]cloud.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []cloud.Object
	for k, v := range b.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, cloud.Object{Name: k, Size: int64(len(v)), LastModified: b.mod[k]})
		}
	}
	return out, nil
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "online", decode[map[string]any](t, w)["status"])

	w = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 100, body["integrity"])
	assert.Equal(t, string(repair.Healthy), body["boundary"])
}

func TestDiagnostics(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/diagnostics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]map[string]any](t, w)
	assert.Contains(t, body, "supervisor")
	assert.Contains(t, body["sentinel"], "runnable")
	assert.Contains(t, body, "requests")
	assert.Equal(t, f.host.Epoch(), body["runtime"]["epoch"])
	assert.Contains(t, body["runtime"], "since")
}

func TestCaptureLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/capture/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, supervisor.StatusListening, decode[supervisor.Snapshot](t, w).Status)

	w = f.do(t, http.MethodPost, "/capture/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/capture/abort", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["aborted"])
	assert.Equal(t, supervisor.StatusIdle, f.sup.Snapshot().Status)
}

func TestSubmitTextStagesVersion(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "v1")

	snap := f.sup.Snapshot()
	assert.Equal(t, supervisor.StatusReplicating, snap.Status)
	assert.Equal(t, 2, snap.Versions)
	assert.Contains(t, f.versions.Current().Code, "v1")

	// a second capture while waiting for health is refused
	w := f.do(t, http.MethodPost, "/capture/submit", map[string]string{"text": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSubmitRejectsBadText(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/capture/submit", map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/capture/submit", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitGeneratorFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.On("Evolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(genai.Result{}, genai.ErrEmptyResponse).Once()

	w := f.do(t, http.MethodPost, "/capture/submit", map[string]string{"text": "do it"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	snap := f.sup.Snapshot()
	assert.Equal(t, supervisor.StatusIdle, snap.Status)
	assert.Contains(t, snap.Error, "EVOLUTION FAILED")
	assert.Equal(t, 1, f.versions.Len())
}

func TestSubmitOutlivesClientDisconnect(t *testing.T) {
	f := newFixture(t)

	var genCtx context.Context
	f.gen.On("Evolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { genCtx = args.Get(0).(context.Context) }).
		Return(testutil.GeneratedResult("detached"), nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/capture/submit", strings.NewReader(`{"text":"add a clock"}`)).
		WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.NotNil(t, genCtx)
	assert.NoError(t, genCtx.Err())
	_, bounded := genCtx.Deadline()
	assert.True(t, bounded)
	assert.Equal(t, supervisor.StatusReplicating, f.sup.Snapshot().Status)
	assert.Empty(t, f.sup.Snapshot().Error)
}

func TestFailureLogCarriesTrace(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	f := newFixture(t, fixtureOpts{logger: zap.New(core)})
	f.gen.On("Evolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(genai.Result{}, genai.ErrEmptyResponse).Once()

	tracer := tracing.New("test", nil)
	t.Cleanup(tracer.Close)
	span, ctx := tracer.StartSpan(context.Background(), "client")

	req := httptest.NewRequest(http.MethodPost, "/capture/submit", strings.NewReader(`{"text":"do it"}`)).
		WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadGateway, w.Code)

	entries := logs.FilterMessage("request failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, tracing.FormatTrace(span.TraceID, span.SpanID), entries[0].ContextMap()["trace"])
}

func multipartAudio(t *testing.T, contentType string, data []byte, text string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="audio"; filename="capture.webm"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	if text != "" {
		require.NoError(t, mw.WriteField("text", text))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestSubmitAudio(t *testing.T) {
	f := newFixture(t)
	recording := append([]byte{0x1A, 0x45, 0xDF, 0xA3}, bytes.Repeat([]byte{0x42}, 64)...)

	f.gen.On("Evolve", mock.Anything, mock.Anything, mock.MatchedBy(func(in genai.Instruction) bool {
		return in.MIMEType == "audio/webm" && bytes.Equal(in.Audio, recording) && in.Text == "bigger"
	}), mock.Anything).Return(testutil.GeneratedResult("voice"), nil).Once()

	body, ct := multipartAudio(t, "audio/webm;codecs=opus", recording, "bigger")
	req := httptest.NewRequest(http.MethodPost, "/capture/submit", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, f.versions.Current().Code, "voice")
}

func TestSubmitAudioRejectsNonAudio(t *testing.T) {
	f := newFixture(t)

	body, ct := multipartAudio(t, "application/octet-stream", []byte{0x00, 0x01, 0x02, 0x03, 0xFF}, "")
	req := httptest.NewRequest(http.MethodPost, "/capture/submit", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, supervisor.StatusIdle, f.sup.Snapshot().Status)
}

func TestAudioType(t *testing.T) {
	ogg := append([]byte("OggS"), make([]byte, 60)...)

	tests := []struct {
		name     string
		data     []byte
		declared string
		want     string
	}{
		{name: "declared audio wins", data: []byte("xx"), declared: "audio/ogg; codecs=opus", want: "audio/ogg"},
		{name: "sniffed ogg container", data: ogg, declared: "application/octet-stream", want: "audio/ogg"},
		{name: "not audio", data: []byte("plain words"), declared: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, audioType(tt.data, tt.declared))
		})
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "v1")

	w := f.do(t, http.MethodPost, "/health-check", map[string]string{"type": "NOPE", "status": "OK"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/health-check", runtime.HealthSignal{
		Type: runtime.HealthCheckType, Status: runtime.HealthOK, Epoch: "epoch_stale",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["accepted"])
	assert.Equal(t, supervisor.StatusReplicating, f.sup.Snapshot().Status)

	f.confirm(t)
	assert.Equal(t, 100, f.sup.Snapshot().Integrity)
}

func TestHealthCheckErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "broken")

	w := f.do(t, http.MethodPost, "/health-check", runtime.HealthSignal{
		Type: runtime.HealthCheckType, Status: runtime.HealthError, Error: "ReferenceError: x", Epoch: f.host.Epoch(),
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		return f.sup.Snapshot().Status == supervisor.StatusIdle && f.versions.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Less(t, f.sup.Snapshot().Integrity, 100)
}

func TestDocument(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "page")

	w := f.do(t, http.MethodGet, "/runtime/document", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, f.host.Epoch(), w.Header().Get(EpochHeader))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "sandbox")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "page")
}

func TestInspectAndSelect(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/runtime/inspect", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/runtime/inspect", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]bool](t, w)
	assert.True(t, body["enabled"])
	assert.True(t, body["changed"])
	assert.True(t, f.host.Inspecting())

	w = f.do(t, http.MethodPost, "/runtime/select", runtime.ElementSelection{
		TagName: "button", HTML: "<button id=\"go\">Go</button>", Selector: "#go", Text: "Go",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sel, ok := f.host.Selection()
	require.True(t, ok)
	assert.Equal(t, "BUTTON", sel.TagName)

	// the selection reached other tabs through the relay
	w = f.do(t, http.MethodGet, "/conduit/messages", nil, middleware.TabHeader, "tab_b")
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode[struct {
		Messages []conduit.Message `json:"messages"`
	}](t, w).Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, conduit.ElementData, msgs[0].Type)
	assert.Equal(t, conduit.Yellow, msgs[0].Hyperbit.Color)
}

func TestImproveElement(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/runtime/improve", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "nothing selected")

	f.do(t, http.MethodPost, "/runtime/select", runtime.ElementSelection{TagName: "h1", Selector: "h1", Text: "Hi"})
	f.gen.On("ImproveElement", mock.Anything, mock.Anything, mock.MatchedBy(func(el runtime.ElementSelection) bool {
		return el.TagName == "H1"
	}), genai.DefaultImproveInstruction, mock.Anything).Return(testutil.GeneratedResult("better"), nil).Once()

	w = f.do(t, http.MethodPost, "/runtime/improve", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, supervisor.StatusReplicating, f.sup.Snapshot().Status)
}

func TestImproveElementUnknownSelector(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/runtime/improve", map[string]string{"selector": "#does-not-exist"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVersions(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "v1")

	w := f.do(t, http.MethodGet, "/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Versions []version.Version `json:"versions"`
		Head     string            `json:"head"`
	}](t, w)
	require.Len(t, list.Versions, 2)
	assert.Equal(t, list.Versions[0].ID, list.Head)

	w = f.do(t, http.MethodGet, "/versions/"+list.Head, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, list.Head, decode[version.Version](t, w).ID)

	w = f.do(t, http.MethodGet, "/versions/v_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRollback(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "v1")

	w := f.do(t, http.MethodPost, "/versions/rollback", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "refused while replicating")

	f.confirm(t)
	head := f.versions.Current().ID

	w = f.do(t, http.MethodPost, "/versions/rollback", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, true, body["rolledBack"])
	assert.Equal(t, head, body["removed"])
	assert.Equal(t, 1, f.versions.Len())

	// genesis stays
	w = f.do(t, http.MethodPost, "/versions/rollback", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["rolledBack"])
	assert.Equal(t, 1, f.versions.Len())
}

func TestExport(t *testing.T) {
	f := newFixture(t)

	t.Run("plain", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/versions/export", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Disposition"), "nexus_memory_")
		assert.Contains(t, w.Header().Get("Content-Disposition"), `.json"`)
		var vs []version.Version
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vs))
		assert.Len(t, vs, 1)
	})

	t.Run("gzip file", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/versions/export?gzip=1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), ".json.gz")
		assert.Equal(t, mustExport(t, f), gunzip(t, w.Body.Bytes()))
	})

	t.Run("gzip encoding", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/versions/export", nil, "Accept-Encoding", "gzip, deflate")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
		assert.Equal(t, mustExport(t, f), gunzip(t, w.Body.Bytes()))
	})
}

func mustExport(t *testing.T, f *fixture) []byte {
	t.Helper()
	data, err := f.versions.Export()
	require.NoError(t, err)
	return data
}

func gunzip(t *testing.T, data []byte) []byte {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return out
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func archive(description string) string {
	return `[{"id":"v_imported","timestamp":1700000000000,"description":"` + description +
		`","code":"<html><body>imported</body></html>","isStable":true}]`
}

func TestImport(t *testing.T) {
	t.Run("raw body", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, http.MethodPost, "/versions/import", []byte(archive("restored")))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "v_imported", f.versions.Current().ID)
	})

	t.Run("gzip with bom", func(t *testing.T) {
		f := newFixture(t)
		data := append([]byte{0xEF, 0xBB, 0xBF}, archive("bom")...)
		w := f.do(t, http.MethodPost, "/versions/import", gzipped(t, data))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "bom", f.versions.Current().Description)
	})

	t.Run("latin1", func(t *testing.T) {
		f := newFixture(t)
		data := []byte(archive("caf\xe9 cr\xe8me br\xfbl\xe9e for the whole fa\xe7ade"))
		require.False(t, utf8.Valid(data))
		w := f.do(t, http.MethodPost, "/versions/import", data)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		desc := f.versions.Current().Description
		assert.True(t, utf8.ValidString(desc))
		assert.True(t, strings.HasPrefix(desc, "caf"))
	})

	t.Run("multipart", func(t *testing.T) {
		f := newFixture(t)
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "nexus_memory_2024-01-01T00-00-00.json")
		require.NoError(t, err)
		_, err = part.Write([]byte(archive("uploaded")))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/versions/import", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "uploaded", f.versions.Current().Description)
	})
}

func TestImportRejects(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want int
	}{
		{name: "empty", body: []byte{}, want: http.StatusBadRequest},
		{name: "object", body: []byte(`{"code":"x"}`), want: http.StatusBadRequest},
		{name: "no code", body: []byte(`[{"id":"a"}]`), want: http.StatusBadRequest},
		{name: "png", body: []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), want: http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			head := f.versions.Current().ID
			w := f.do(t, http.MethodPost, "/versions/import", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Equal(t, head, f.versions.Current().ID)
		})
	}
}

func TestImportRefusedWhileVersionIsStaged(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "v1")
	staged := f.versions.Current().ID

	w := f.do(t, http.MethodPost, "/versions/import", []byte(archive("restored")))
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, staged, f.versions.Current().ID)

	f.confirm(t)
	w = f.do(t, http.MethodPost, "/versions/import", []byte(archive("restored")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "v_imported", f.versions.Current().ID)
}

func TestConduitMessages(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/conduit/messages", map[string]any{
		"type": "CODE_FRAGMENT", "payload": "const x = 1",
	}, middleware.TabHeader, "tab_a")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sent := decode[conduit.Message](t, w)
	assert.Equal(t, "tab_a", sent.SenderID)
	assert.Equal(t, conduit.Blue, sent.Hyperbit.Color)

	w = f.do(t, http.MethodPost, "/conduit/messages", map[string]any{
		"type": "RAW_INSTRUCTION", "payload": "hi", "hyperbit": map[string]any{"COLOR": "Red", "CONTEXT": "urgent"},
	}, middleware.TabHeader, "tab_a")
	require.Equal(t, http.StatusCreated, w.Code)
	custom := decode[conduit.Message](t, w)
	assert.Equal(t, conduit.Red, custom.Hyperbit.Color)
	assert.Equal(t, "urgent", custom.Hyperbit.Context)

	w = f.do(t, http.MethodGet, "/conduit/messages?tab=tab_b", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[struct {
		Tab      string            `json:"tab"`
		Messages []conduit.Message `json:"messages"`
	}](t, w)
	assert.Equal(t, "tab_b", view.Tab)
	require.Len(t, view.Messages, 2)

	// local remove only changes the caller's view of the shared log
	w = f.do(t, http.MethodDelete, "/conduit/messages/"+sent.ID, nil, middleware.TabHeader, "tab_b")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodDelete, "/conduit/messages", nil, middleware.TabHeader, "tab_b")
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/conduit/messages", nil, middleware.TabHeader, "tab_a")
	assert.Empty(t, decode[struct {
		Messages []conduit.Message `json:"messages"`
	}](t, w).Messages)
}

func TestConduitTabLifetime(t *testing.T) {
	f := newFixture(t)

	for _, tab := range []string{"tab_one", "tab_two", "tab_three"} {
		w := f.do(t, http.MethodGet, "/conduit/messages", nil, middleware.TabHeader, tab)
		require.Equal(t, http.StatusOK, w.Code)
		_, open := f.cond.Tab(tab)
		assert.False(t, open, tab)
	}

	w := f.do(t, http.MethodGet, "/conduit/messages", nil, middleware.TabHeader, "tab_runtime")
	require.Equal(t, http.StatusOK, w.Code)
	_, open := f.cond.Tab("tab_runtime")
	assert.True(t, open, "a tab held elsewhere stays open")

	w = f.do(t, http.MethodGet, "/conduit/messages?tab=runtime", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConduitRejects(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/conduit/messages", map[string]any{"type": "TELEPATHY", "payload": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/conduit/messages", map[string]any{"type": "CODE_FRAGMENT"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big := strings.Repeat("a", 300*1024)
	w = f.do(t, http.MethodPost, "/conduit/messages", map[string]any{"type": "CODE_FRAGMENT", "payload": big})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestShareCode(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/conduit/share-code", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	m := decode[conduit.Message](t, w)
	assert.Equal(t, conduit.CodeFragment, m.Type)
	assert.Equal(t, conduit.Blue, m.Hyperbit.Color)
	assert.Equal(t, f.versions.Current().Code, m.Payload)
	assert.Contains(t, m.Hyperbit.Context, f.versions.Current().ID)
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	f.gen.On("GenerateReport", mock.Anything, mock.Anything, mock.Anything).
		Return("<h2>Overview</h2><p>All <strong>good</strong></p>", nil).Twice()

	w := f.do(t, http.MethodPost, "/report", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Contains(t, body["html"], "<h2>Overview</h2>")
	assert.Contains(t, body["markdown"], "## Overview")
	assert.Contains(t, body["markdown"], "**good**")
	assert.NotContains(t, body, "message")

	w = f.do(t, http.MethodPost, "/report", map[string]bool{"send": true})
	require.Equal(t, http.StatusOK, w.Code)
	var sent struct {
		Message conduit.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sent))
	assert.Equal(t, conduit.SystemReport, sent.Message.Type)
	assert.Equal(t, conduit.Purple, sent.Message.Hyperbit.Color)
}

func TestReportGeneratorDown(t *testing.T) {
	f := newFixture(t)
	f.gen.On("GenerateReport", mock.Anything, mock.Anything, mock.Anything).
		Return("", context.DeadlineExceeded).Once()

	w := f.do(t, http.MethodPost, "/report", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, settings.Defaults(), decode[settings.AppSettings](t, w))

	w = f.do(t, http.MethodPut, "/settings", map[string]any{"userEmail": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, settings.Defaults(), f.settings.Get())

	w = f.do(t, http.MethodPut, "/settings", map[string]any{"userEmail": "ada@example.com", "ttsEnabled": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := f.settings.Get()
	assert.Equal(t, "ada@example.com", got.UserEmail)
	assert.False(t, got.TTSEnabled)
}

func TestBoundaryFailRetry(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/boundary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, repair.Healthy, decode[repair.View](t, w).Kind)

	w = f.do(t, http.MethodPost, "/boundary/fail", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/boundary/fail", map[string]string{"error": "TypeError: shell"})
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[repair.View](t, w)
	assert.Equal(t, repair.Failed, view.Kind)
	assert.Equal(t, "TypeError: shell", view.Error)
	assert.Equal(t, []string{"retry", "repair", "reset"}, view.Actions)

	w = f.do(t, http.MethodPost, "/boundary/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, repair.Healthy, decode[repair.View](t, w).Kind)
}

func TestBoundaryRepair(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/boundary/repair", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "nothing to repair")

	f.gen.On("Repair", mock.Anything, mock.Anything, "TypeError: shell").
		Return(testutil.GeneratedResult("fixed"), nil).Once()
	f.do(t, http.MethodPost, "/boundary/fail", map[string]string{"error": "TypeError: shell"})

	w = f.do(t, http.MethodPost, "/boundary/repair", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Version  version.Version `json:"version"`
		Boundary repair.View     `json:"boundary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Version.IsStable)
	assert.Equal(t, repair.Healthy, body.Boundary.Kind)
	assert.Equal(t, body.Version.ID, f.versions.Current().ID)
}

func TestBoundaryRepairRefusedWhileVersionIsStaged(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "v1")
	f.do(t, http.MethodPost, "/boundary/fail", map[string]string{"error": "TypeError: shell"})

	w := f.do(t, http.MethodPost, "/boundary/repair", nil)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, 2, f.versions.Len())
	assert.Equal(t, repair.Failed, f.boundary.State().Kind)
	f.gen.AssertNotCalled(t, "Repair", mock.Anything, mock.Anything, mock.Anything)
}

func TestSystemReset(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "v1")
	f.confirm(t)
	require.NoError(t, f.settings.Save(context.Background(), settings.AppSettings{UserEmail: "ada@example.com"}))
	f.do(t, http.MethodPost, "/conduit/messages", map[string]any{"type": "RAW_INSTRUCTION", "payload": "x"})
	f.do(t, http.MethodPost, "/boundary/fail", map[string]string{"error": "boom"})

	w := f.do(t, http.MethodPost, "/system/reset", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, 1, f.versions.Len())
	assert.Equal(t, settings.Defaults(), f.settings.Get())
	assert.Equal(t, repair.Healthy, f.boundary.State().Kind)
	assert.Equal(t, supervisor.StatusIdle, f.sup.Snapshot().Status)

	w = f.do(t, http.MethodGet, "/conduit/messages", nil)
	assert.Empty(t, decode[struct {
		Messages []conduit.Message `json:"messages"`
	}](t, w).Messages)
}

func TestCloudDisabled(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/cloud/backup", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/cloud/backups", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/cloud/restore/a.json", nil).Code)
}

func TestCloudBackupRestore(t *testing.T) {
	f := newFixture(t, fixtureOpts{cloud: true})
	f.stage(t, "v1")
	f.confirm(t)
	head := f.versions.Current().ID

	w := f.do(t, http.MethodPost, "/cloud/backup", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	obj := decode[cloud.Object](t, w)
	assert.True(t, strings.HasPrefix(obj.Name, "nexus_memory_"))

	w = f.do(t, http.MethodGet, "/cloud/backups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Backups []cloud.Object `json:"backups"`
	}](t, w)
	require.Len(t, list.Backups, 1)
	assert.Equal(t, obj.Name, list.Backups[0].Name)

	_, err := f.sup.Rollback(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, head, f.versions.Current().ID)

	w = f.do(t, http.MethodPost, "/cloud/restore/"+obj.Name, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, head, f.versions.Current().ID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/cloud/restore/notes.txt", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/cloud/restore/missing.json", nil).Code)
}

func TestStreamLogs(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/logs", ShellLogBatch{
		Source: "shell",
		Entries: []ShellLogEntry{
			{ID: "1", Level: "error", Message: "render failed", Context: map[string]any{"line": 3.0}},
			{ID: "2", Level: "info", Message: "mounted"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, w)["received"])

	w = f.do(t, http.MethodPost, "/logs", ShellLogBatch{Source: "elsewhere", Entries: []ShellLogEntry{{Message: "x"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/logs", ShellLogBatch{Source: "shell"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{supervisor.ErrBusy, http.StatusConflict},
		{repair.ErrRepairInProgress, http.StatusConflict},
		{version.ErrInvalidArchive, http.StatusBadRequest},
		{cloud.ErrInvalidName, http.StatusBadRequest},
		{version.ErrNotFound, http.StatusNotFound},
		{runtime.ErrNoMatch, http.StatusNotFound},
		{errTooLarge, http.StatusRequestEntityTooLarge},
		{cloud.ErrDisabled, http.StatusServiceUnavailable},
		{supervisor.ErrUnsafeCode, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{conduit.ErrTabClosed, http.StatusGone},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
