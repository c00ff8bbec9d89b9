package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vjranagit/keyframes/pkg/curve"
	"github.com/vjranagit/keyframes/pkg/curveset"
	"github.com/vjranagit/keyframes/pkg/storage"
	"github.com/vjranagit/keyframes/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, withArchive bool) *httptest.Server {
	t.Helper()
	logger := quietLogger()

	var archive storage.Archive
	if withArchive {
		a, err := storage.NewArchive(&storage.Config{InMemory: true, CompressionLevel: 1, Logger: logger})
		if err != nil {
			t.Fatalf("Failed to create archive: %v", err)
		}
		t.Cleanup(func() { a.Close() })
		archive = a
	}

	builder := curveset.NewBuilder(curveset.Config{Logger: logger})
	srv := NewServer(Config{Logger: logger, MaxBodyBytes: 1 << 20}, builder, archive)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func samples(values ...float64) []curve.Sample {
	out := make([]curve.Sample, len(values))
	for i, v := range values {
		out[i] = curve.Sample{Frame: i, Value: v}
	}
	return out
}

func walkClip() types.Clip {
	return types.Clip{
		Name:  "walk",
		Start: 0,
		End:   5,
		Entities: []types.EntityTrack{
			{
				Name: "Hip",
				Channels: map[string][]curve.Sample{
					"tx": samples(0, 1, 2, 2, 2, 10),
					"ty": samples(0, 0, 0, 0, 0, 0),
					"rw": samples(1, 1, 1, 1, 1, 1),
				},
			},
			{
				Name: "Spine",
				Channels: map[string][]curve.Sample{
					"rz": samples(0, 0.5, 1, 0.5, 0, 0),
				},
			},
		},
	}
}

func postClip(t *testing.T, url string, clip types.Clip) *http.Response {
	t.Helper()
	body, err := json.Marshal(clip)
	if err != nil {
		t.Fatalf("Failed to marshal clip: %v", err)
	}
	resp, err := http.Post(url+"/api/v1/clips", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)

	resp := get(t, ts.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var body map[string]any
	decode(t, resp, &body)
	if body["status"] != "healthy" || body["storage"] != false {
		t.Errorf("Unexpected health response: %v", body)
	}
}

func TestOptimizeClip(t *testing.T) {
	ts := newTestServer(t, true)

	resp := postClip(t, ts.URL, walkClip())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var got types.CurveSetResponse
	decode(t, resp, &got)

	want := types.CurveSetResponse{
		Clip: "walk",
		Channels: []types.ChannelCurve{
			{Entity: "Hip", Channel: "tx", Samples: []curve.Sample{
				{Frame: 0, Value: 0, Keyed: true},
				{Frame: 2, Value: 2, Keyed: true},
				{Frame: 4, Value: 2, Keyed: true},
				{Frame: 5, Value: 10, Keyed: true},
			}},
			{Entity: "Spine", Channel: "rz", Samples: []curve.Sample{
				{Frame: 0, Value: 0, Keyed: true},
				{Frame: 2, Value: 1, Keyed: true},
				{Frame: 4, Value: 0, Keyed: true},
				{Frame: 5, Value: 0, Keyed: true},
			}},
		},
		Stats: &types.BuildStats{
			Channels:        2,
			OmittedChannels: 2,
			InputSamples:    24,
			OutputSamples:   8,
		},
	}
	if d := cmp.Diff(want, got); d != "" {
		t.Error(d)
	}
}

func TestOptimizeStoresClip(t *testing.T) {
	ts := newTestServer(t, true)

	resp := postClip(t, ts.URL, walkClip())
	resp.Body.Close()

	resp = get(t, ts.URL+"/api/v1/clips/walk")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var got types.CurveSetResponse
	decode(t, resp, &got)
	if got.Clip != "walk" || len(got.Channels) != 2 || got.Stats != nil {
		t.Errorf("Unexpected stored clip: %+v", got)
	}

	resp = get(t, ts.URL+"/api/v1/clips/walk/info")
	var info storage.ClipInfo
	decode(t, resp, &info)
	if info.FirstFrame != 0 || info.LastFrame != 5 {
		t.Errorf("Unexpected info: %+v", info)
	}
}

func TestOptimizeWithoutStore(t *testing.T) {
	ts := newTestServer(t, true)

	body, _ := json.Marshal(walkClip())
	resp, err := http.Post(ts.URL+"/api/v1/clips?store=false", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	resp = get(t, ts.URL+"/api/v1/clips/walk")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestOptimizeBadRequests(t *testing.T) {
	ts := newTestServer(t, true)

	unknown := walkClip()
	unknown.Entities[0].Channels["sx"] = samples(1, 2)

	duplicate := walkClip()
	duplicate.Entities[1].Channels["rz"] = []curve.Sample{{Frame: 0, Value: 1}, {Frame: 0, Value: 2}}

	unnamed := walkClip()
	unnamed.Name = ""

	testCases := []struct {
		name string
		clip types.Clip
	}{
		{"unknown channel", unknown},
		{"duplicate frame", duplicate},
		{"missing name", unnamed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postClip(t, ts.URL, tc.clip)
			var body map[string]string
			decode(t, resp, &body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", resp.StatusCode)
			}
			if body["error"] == "" {
				t.Error("Expected an error message")
			}
		})
	}

	resp, err := http.Post(ts.URL+"/api/v1/clips", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Malformed body: expected 400, got %d", resp.StatusCode)
	}
}

func TestOptimizeBodyTooLarge(t *testing.T) {
	ts := newTestServer(t, false)

	clip := walkClip()
	clip.Entities[1].Channels["rz"] = samples(make([]float64, 100000)...)

	resp := postClip(t, ts.URL, clip)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestListClips(t *testing.T) {
	ts := newTestServer(t, true)

	resp := postClip(t, ts.URL, walkClip())
	resp.Body.Close()

	idle := walkClip()
	idle.Name = "idle"
	idle.Entities = idle.Entities[1:]
	resp = postClip(t, ts.URL, idle)
	resp.Body.Close()

	testCases := []struct {
		query string
		want  []string
	}{
		{"", []string{"idle", "walk"}},
		{"?entity=Hip", []string{"walk"}},
		{"?entity=Spine", []string{"idle", "walk"}},
		{"?select=Hip.tx", []string{"walk"}},
		{"?select=Hip.ty", []string{}},
		{"?entity=Knee", []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.query, func(t *testing.T) {
			resp := get(t, ts.URL+"/api/v1/clips"+tc.query)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("Expected 200, got %d", resp.StatusCode)
			}
			var body map[string][]string
			decode(t, resp, &body)
			if d := cmp.Diff(tc.want, body["clips"]); d != "" {
				t.Error(d)
			}
		})
	}

	resp = get(t, ts.URL+"/api/v1/clips?select=nodot")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad selector, got %d", resp.StatusCode)
	}
}

func TestEvaluateChannel(t *testing.T) {
	ts := newTestServer(t, true)

	resp := postClip(t, ts.URL, walkClip())
	resp.Body.Close()

	testCases := []struct {
		path   string
		status int
		value  float64
	}{
		{"/api/v1/clips/walk/channels/Hip.tx?frame=1", http.StatusOK, 1},
		{"/api/v1/clips/walk/channels/Hip.tx?frame=4.5", http.StatusOK, 6},
		{"/api/v1/clips/walk/channels/Hip.tx?frame=-3", http.StatusOK, 0},
		{"/api/v1/clips/walk/channels/Hip.tx?frame=99", http.StatusOK, 10},
		{"/api/v1/clips/walk/channels/Hip.ty?frame=1", http.StatusNotFound, 0},
		{"/api/v1/clips/run/channels/Hip.tx?frame=1", http.StatusNotFound, 0},
		{"/api/v1/clips/walk/channels/Hip.tx?frame=soon", http.StatusBadRequest, 0},
		{"/api/v1/clips/walk/channels/Hip.tx?frame=NaN", http.StatusBadRequest, 0},
		{"/api/v1/clips/walk/channels/Hip?frame=1", http.StatusBadRequest, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			resp := get(t, ts.URL+tc.path)
			var body map[string]any
			decode(t, resp, &body)
			if resp.StatusCode != tc.status {
				t.Fatalf("Expected %d, got %d (%v)", tc.status, resp.StatusCode, body)
			}
			if tc.status == http.StatusOK && body["value"] != tc.value {
				t.Errorf("Expected value %g, got %v", tc.value, body["value"])
			}
		})
	}
}

func TestDeleteClip(t *testing.T) {
	ts := newTestServer(t, true)

	resp := postClip(t, ts.URL, walkClip())
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/clips/walk", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", resp.StatusCode)
	}
}

func TestStorageDisabled(t *testing.T) {
	ts := newTestServer(t, false)

	// optimizing works without an archive, even for unnamed clips
	clip := walkClip()
	clip.Name = ""
	resp := postClip(t, ts.URL, clip)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	for _, path := range []string{"/api/v1/clips", "/api/v1/clips/walk", "/api/v1/clips/walk/channels/Hip.tx?frame=1"} {
		resp := get(t, ts.URL+path)
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, resp.StatusCode)
		}
	}
}

// brokenWriter accepts headers but fails every body write
type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestWriteJSONLogsEncodeError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv := NewServer(Config{Logger: logger}, curveset.NewBuilder(curveset.Config{Logger: logger}), nil)

	w := brokenWriter{httptest.NewRecorder()}
	srv.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 to be written, got %d", w.Code)
	}
	if !strings.Contains(logs.String(), "failed to write response") {
		t.Errorf("Expected write failure to be logged, got %q", logs.String())
	}
}
