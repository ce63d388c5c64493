package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/mediavault/mediavault/internal/config"
	"github.com/mediavault/mediavault/internal/expiry"
	"github.com/mediavault/mediavault/internal/logging"
	"github.com/mediavault/mediavault/internal/media"
	"github.com/mediavault/mediavault/internal/server"
)

const songBytes = "ID3-fake-song-bytes"

type testEnv struct {
	app      *fiber.App
	runtime  *server.Runtime
	upstream *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.mp3" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(songBytes))
	}))
	t.Cleanup(upstream.Close)

	root := t.TempDir()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			StoragePath:     filepath.Join(root, "media"),
			TempDir:         filepath.Join(root, "tmp"),
			IndexBackend:    config.IndexBackendJSON,
			IndexPath:       filepath.Join(root, "data", "media-library.json"),
			VariantTTL:      config.Duration(7 * time.Minute),
			AcquireTimeout:  config.Duration(10 * time.Second),
			UpstreamTimeout: config.Duration(5 * time.Second),
			YtDlpPath:       "yt-dlp",
		},
		Backends: []config.BackendConfig{
			{Name: "direct", Type: "direct", Kinds: []string{"audio", "video"}},
		},
	}

	logger := logging.Discard()
	rt, err := server.NewRuntime(cfg, logger)
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	app, err := server.NewApp(server.AppOptions{Logger: logger})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	RegisterMediaRoutes(app, MediaDeps{
		Library:  rt.Library,
		Resolver: rt.Resolver,
		Pipeline: rt.Pipeline,
		Delivery: rt.Delivery,
		Logger:   logger,
	})
	RegisterDiagnosticRoutes(app, rt.Backends, rt.Metrics)

	return &testEnv{app: app, runtime: rt, upstream: upstream}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, "http://media.local"+target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("app.Test %s %s: %v", method, target, err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func (e *testEnv) download(t *testing.T) downloadResponse {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/media/download", map[string]string{
		"url": e.upstream.URL + "/song.mp3", "kind": "audio", "format": "mp3",
	})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("download: %d %s", resp.StatusCode, body)
	}
	var created downloadResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return created
}

func (e *testEnv) request(t *testing.T, method, target, rangeHeader string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, "http://media.local"+target, nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := e.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("app.Test %s %s: %v", method, target, err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func TestDownloadThenServeFile(t *testing.T) {
	env := newTestEnv(t)
	songURL := env.upstream.URL + "/song.mp3"

	resp, body := env.do(t, http.MethodPost, "/api/v1/media/download", map[string]string{
		"url": songURL, "kind": "audio", "format": "mp3",
	})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", resp.StatusCode, body)
	}
	var created downloadResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.MediaID == "" || created.Variant.Kind != "audio" || created.Variant.Format != "mp3" {
		t.Fatalf("unexpected download response %+v", created)
	}
	if !strings.HasSuffix(created.Variant.Path, filepath.Join("audio", created.MediaID+".mp3")) {
		t.Fatalf("unexpected variant path %s", created.Variant.Path)
	}

	resp, body = env.do(t, http.MethodGet, "/media/file/"+created.MediaID+"/audio/mp3", nil)
	if resp.StatusCode != fiber.StatusOK || string(body) != songBytes {
		t.Fatalf("unexpected file response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("content type = %s", resp.Header.Get("Content-Type"))
	}
	key := media.Variant{Kind: media.KindAudio, Format: media.FormatMP3}
	if !env.runtime.Scheduler.Pending(expiry.KeyOf(created.MediaID, key)) {
		t.Fatalf("delivery should arm the expiry timer")
	}

	resp, body = env.do(t, http.MethodPost, "/media/download", map[string]string{
		"url": songURL, "kind": "audio", "format": "mp3",
	})
	if resp.StatusCode != fiber.StatusCreated || !bytes.Contains(body, []byte(created.MediaID)) {
		t.Fatalf("repeat download should reuse the identity, got %d %s", resp.StatusCode, body)
	}
	if got := len(env.runtime.Library.All()); got != 1 {
		t.Fatalf("expected one identity, got %d", got)
	}
}

func TestDownloadValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		body    map[string]string
		message string
	}{
		{map[string]string{"kind": "audio", "format": "mp3"}, "url, kind and format are required"},
		{map[string]string{"url": "nope", "kind": "audio", "format": "mp3"}, "url must be an absolute http(s) URL"},
		{map[string]string{"url": env.upstream.URL + "/a.mp3", "kind": "image", "format": "mp3"}, "kind must be audio or video"},
		{map[string]string{"url": env.upstream.URL + "/a.mp3", "kind": "video", "format": "mp3"}, "video format must be mp4"},
	}
	for _, tc := range cases {
		resp, body := env.do(t, http.MethodPost, "/api/v1/media/download", tc.body)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", tc.body, resp.StatusCode)
		}
		if !bytes.Contains(body, []byte(tc.message)) {
			t.Fatalf("expected %q in %s", tc.message, body)
		}
	}
	if len(env.runtime.Library.All()) != 0 {
		t.Fatalf("invalid requests must not create identities")
	}
}

func TestDownloadUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodPost, "/media/download", map[string]string{
		"url": env.upstream.URL + "/broken.mp3", "kind": "audio", "format": "mp3",
	})
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte("acquisition failed")) {
		t.Fatalf("unexpected error body %s", body)
	}
}

func TestFileUnknownVariant(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/media/file/nope/audio/mp3", nil)
	if resp.StatusCode != fiber.StatusNotFound || !bytes.Contains(body, []byte("Variant not found")) {
		t.Fatalf("expected 404, got %d %s", resp.StatusCode, body)
	}
}

func TestResolveInfoAndLibrary(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/media/resolve-info", nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("missing url should be 400, got %d", resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodGet, "/media/resolve-info?url=https://vimeo.com/42", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("resolve-info: %d %s", resp.StatusCode, body)
	}
	var identity media.Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		t.Fatalf("decode identity: %v", err)
	}
	if identity.Source != "vimeo" || identity.Artist != "vimeo" || identity.Title != "Unknown title" {
		t.Fatalf("unexpected identity %+v", identity)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/media/library?source=vimeo", nil)
	if resp.StatusCode != fiber.StatusOK || !bytes.Contains(body, []byte(identity.ID)) {
		t.Fatalf("library should list the identity: %d %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodGet, "/media/library/artists", nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("missing artist should be 400, got %d", resp.StatusCode)
	}
	resp, body = env.do(t, http.MethodGet, "/media/library/artists?artist=VIMEO", nil)
	if resp.StatusCode != fiber.StatusOK || !bytes.Contains(body, []byte(identity.ID)) {
		t.Fatalf("artist lookup should be case-insensitive: %s", body)
	}

	resp, body = env.do(t, http.MethodGet, "/media/library/grouped", nil)
	var grouped map[string][]media.Identity
	if err := json.Unmarshal(body, &grouped); err != nil || len(grouped["vimeo"]) != 1 {
		t.Fatalf("unexpected grouping %d %s", resp.StatusCode, body)
	}
}

func TestDiagnosticRoutes(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/-/healthz", nil)
	if resp.StatusCode != fiber.StatusOK || !bytes.Contains(body, []byte(`"status":"ok"`)) {
		t.Fatalf("healthz: %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/-/backends", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("backends: %d", resp.StatusCode)
	}
	var payload struct {
		Types    []typePayload       `json:"types"`
		Backends []backendPayload    `json:"backends"`
		Chains   map[string][]string `json:"chains"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode backends: %v", err)
	}
	if len(payload.Backends) != 1 || payload.Backends[0].TTLSeconds != 420 {
		t.Fatalf("unexpected backends %+v", payload.Backends)
	}
	if len(payload.Chains["audio"]) != 1 || payload.Chains["audio"][0] != "direct" {
		t.Fatalf("unexpected chains %+v", payload.Chains)
	}
	if len(payload.Types) < 3 {
		t.Fatalf("expected registered types, got %+v", payload.Types)
	}

	env.do(t, http.MethodGet, "/media/file/nope/audio/mp3", nil)
	resp, body = env.do(t, http.MethodGet, "/-/metrics", nil)
	if resp.StatusCode != fiber.StatusOK || !bytes.Contains(body, []byte(`mediavault_deliveries_total{status="404"} 1`)) {
		t.Fatalf("metrics should expose delivery counters: %s", body)
	}
}

func TestFileHeadOnMountedRoute(t *testing.T) {
	env := newTestEnv(t)
	created := env.download(t)
	key := media.Variant{Kind: media.KindAudio, Format: media.FormatMP3}

	for _, prefix := range MediaPrefixes {
		resp, body := env.request(t, http.MethodHead, prefix+"/file/"+created.MediaID+"/audio/mp3", "")
		if resp.StatusCode != fiber.StatusOK || len(body) != 0 {
			t.Fatalf("%s: unexpected HEAD response %d %q", prefix, resp.StatusCode, body)
		}
		if got := resp.Header.Get("Content-Length"); got != strconv.Itoa(len(songBytes)) {
			t.Fatalf("%s: content-length = %q", prefix, got)
		}
		if resp.Header.Get("Accept-Ranges") != "bytes" {
			t.Fatalf("%s: missing Accept-Ranges", prefix)
		}
	}
	if env.runtime.Scheduler.Pending(expiry.KeyOf(created.MediaID, key)) {
		t.Fatalf("HEAD must not arm the expiry timer")
	}
}

func TestFileExpiredVariantIsRemoved(t *testing.T) {
	env := newTestEnv(t)
	created := env.download(t)

	lib := env.runtime.Library
	past := time.Now().Add(-time.Minute).UTC()
	if err := lib.RemoveVariant(created.MediaID, media.KindAudio, media.FormatMP3); err != nil {
		t.Fatalf("remove variant: %v", err)
	}
	if err := lib.AddVariant(created.MediaID, media.Variant{
		Kind:      media.KindAudio,
		Format:    media.FormatMP3,
		Path:      created.Variant.Path,
		CreatedAt: past.Add(-time.Hour),
		ExpiresAt: &past,
	}); err != nil {
		t.Fatalf("re-add expired variant: %v", err)
	}

	resp, body := env.request(t, http.MethodGet, "/media/file/"+created.MediaID+"/audio/mp3", "")
	if resp.StatusCode != fiber.StatusNotFound || !bytes.Contains(body, []byte("File expired")) {
		t.Fatalf("expected 404 File expired, got %d %s", resp.StatusCode, body)
	}
	if _, ok := lib.Variant(created.MediaID, media.KindAudio, media.FormatMP3); ok {
		t.Fatalf("expired variant record should be removed")
	}
	if _, err := os.Stat(created.Variant.Path); !os.IsNotExist(err) {
		t.Fatalf("expired variant file should be deleted, stat err=%v", err)
	}
}

func TestFileMissingOnDiskRepairsRecord(t *testing.T) {
	env := newTestEnv(t)
	created := env.download(t)
	if err := os.Remove(created.Variant.Path); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	resp, body := env.request(t, http.MethodGet, "/api/v1/media/file/"+created.MediaID+"/audio/mp3", "")
	if resp.StatusCode != fiber.StatusNotFound || !bytes.Contains(body, []byte("File not found on disk")) {
		t.Fatalf("expected 404 File not found on disk, got %d %s", resp.StatusCode, body)
	}
	if _, ok := env.runtime.Library.Variant(created.MediaID, media.KindAudio, media.FormatMP3); ok {
		t.Fatalf("record for a missing file should be removed")
	}
	if _, ok := env.runtime.Library.Get(created.MediaID); !ok {
		t.Fatalf("identity should survive variant repair")
	}
}

func TestFileRangeOnMountedRoute(t *testing.T) {
	env := newTestEnv(t)
	created := env.download(t)
	target := "/media/file/" + created.MediaID + "/audio/mp3"

	resp, body := env.request(t, http.MethodGet, target, "bytes=10-5")
	if resp.StatusCode != fiber.StatusRequestedRangeNotSatisfiable || len(body) != 0 {
		t.Fatalf("expected empty 416, got %d %q", resp.StatusCode, body)
	}

	resp, body = env.request(t, http.MethodGet, target, "bytes=0-2")
	if resp.StatusCode != fiber.StatusPartialContent || string(body) != songBytes[:3] {
		t.Fatalf("unexpected partial response %d %q", resp.StatusCode, body)
	}
	want := "bytes 0-2/" + strconv.Itoa(len(songBytes))
	if got := resp.Header.Get("Content-Range"); got != want {
		t.Fatalf("content-range = %q, want %q", got, want)
	}
}
