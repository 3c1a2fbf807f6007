package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"loreanchor/internal/sessiontoken"
	"loreanchor/pkg/domain"
	"loreanchor/pkg/scan"
	"loreanchor/pkg/store"
	"loreanchor/services/patrol/internal/app"
)

type stubObjects struct{ objects map[string][]byte }

func (s *stubObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *stubObjects) Get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, 0, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *stubObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://media.local/" + key, nil
}

func (s *stubObjects) Delete(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

type stubScanner struct{ results []scan.Result }

func (s *stubScanner) Search(context.Context, string, io.Reader, []string) ([]scan.Result, error) {
	return s.results, nil
}

type stubQueue struct{}

func (stubQueue) Enqueue(context.Context, string) error { return nil }

type serverEnv struct {
	srv     *httptest.Server
	app     *app.App
	scanner *stubScanner
	token   string
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	scanner := &stubScanner{}
	a, err := app.New(app.Config{
		Store:   store.NewMemoryStore(),
		Objects: &stubObjects{objects: make(map[string][]byte)},
		Scanner: scanner,
		Queue:   stubQueue{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	tokens, err := sessiontoken.New("server-test-session-secret", time.Hour)
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	s, err := New(Config{App: a, Tokens: tokens})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	env := &serverEnv{srv: srv, app: a, scanner: scanner}
	env.token = env.login(t, "creator@example.com")
	return env
}

func (e *serverEnv) login(t *testing.T, email string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "name": "山田太郎", "plan": "pro"})
	resp, err := http.Post(e.srv.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login expected 200, got %d", resp.StatusCode)
	}
	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if parsed.Token == "" {
		t.Fatalf("login must return a token")
	}
	return parsed.Token
}

func (e *serverEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (e *serverEnv) uploadWork(t *testing.T, filename string) domain.Work {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write([]byte("media-bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	_ = mw.WriteField("autoMonitor", "true")
	_ = mw.Close()

	resp := e.do(t, http.MethodPost, "/works", &buf, mw.FormDataContentType())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload expected 201, got %d: %s", resp.StatusCode, raw)
	}
	var work domain.Work
	if err := json.NewDecoder(resp.Body).Decode(&work); err != nil {
		t.Fatalf("decode work: %v", err)
	}
	return work
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestRoutesRequireSession(t *testing.T) {
	e := newServerEnv(t)
	for _, path := range []string{"/works", "/infringements", "/stats", "/auth/me"} {
		resp, err := http.Get(e.srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s without token expected 401, got %d", path, resp.StatusCode)
		}
	}
}

func TestLoginAndMe(t *testing.T) {
	e := newServerEnv(t)
	resp := e.do(t, http.MethodGet, "/auth/me", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me expected 200, got %d", resp.StatusCode)
	}
	user := decodeJSON[domain.User](t, resp)
	if user.Email != "creator@example.com" || user.Plan != domain.PlanPro {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestWorkUploadFetchDelete(t *testing.T) {
	e := newServerEnv(t)
	work := e.uploadWork(t, "sunset.png")
	if work.Status != domain.WorkScanning || !work.AutoMonitor {
		t.Fatalf("unexpected uploaded work: %+v", work)
	}

	resp := e.do(t, http.MethodGet, "/works/"+work.ID, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get work expected 200, got %d", resp.StatusCode)
	}
	got := decodeJSON[domain.Work](t, resp)
	if got.ID != work.ID {
		t.Fatalf("got wrong work: %+v", got)
	}

	resp = e.do(t, http.MethodGet, "/works/"+work.ID+"/media", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("media expected 200, got %d", resp.StatusCode)
	}
	media := decodeJSON[map[string]string](t, resp)
	if media["url"] == "" {
		t.Fatalf("media url must be present")
	}

	resp = e.do(t, http.MethodDelete, "/works/"+work.ID, nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete expected 200, got %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodGet, "/works/"+work.ID, nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted work expected 404, got %d", resp.StatusCode)
	}
}

func TestWorkUploadRejectsUnsupportedType(t *testing.T) {
	e := newServerEnv(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "setup.exe")
	_, _ = fw.Write([]byte("x"))
	_ = mw.Close()

	resp := e.do(t, http.MethodPost, "/works", &buf, mw.FormDataContentType())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decodeJSON[map[string]string](t, resp)
	if body["code"] != "WORK_UNSUPPORTED_FILE_TYPE" {
		t.Fatalf("unexpected error code %q", body["code"])
	}
}

func TestInfringementLifecycleOverHTTP(t *testing.T) {
	e := newServerEnv(t)
	work := e.uploadWork(t, "sunset.png")
	similarity := 97.5
	e.scanner.results = []scan.Result{{
		Title:          "stolen",
		URL:            "https://illegal-gallery.net/image/1",
		Classification: "suspicious",
		Similarity:     &similarity,
	}}
	if err := e.app.RunScan(context.Background(), work.ID); err != nil {
		t.Fatalf("run scan: %v", err)
	}

	resp := e.do(t, http.MethodGet, "/works/"+work.ID+"/infringements", nil, "")
	listing := decodeJSON[struct {
		Items []domain.Infringement `json:"items"`
		Count int                   `json:"count"`
	}](t, resp)
	if listing.Count != 1 {
		t.Fatalf("expected one infringement, got %d", listing.Count)
	}
	id := listing.Items[0].ID

	body := bytes.NewReader([]byte(`{"status":"sent"}`))
	resp = e.do(t, http.MethodPatch, "/infringements/"+id, body, "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch expected 200, got %d", resp.StatusCode)
	}
	updated := decodeJSON[domain.Infringement](t, resp)
	if updated.Status != domain.InfringementSent {
		t.Fatalf("expected sent, got %s", updated.Status)
	}

	// sent -> false_positive is not a legal move.
	body = bytes.NewReader([]byte(`{"status":"false_positive"}`))
	resp = e.do(t, http.MethodPatch, "/infringements/"+id, body, "application/json")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("illegal transition expected 409, got %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodGet, "/infringements?status=sent", nil, "")
	filtered := decodeJSON[struct {
		Items []domain.Infringement    `json:"items"`
		Stats domain.InfringementStats `json:"stats"`
	}](t, resp)
	if len(filtered.Items) != 1 || filtered.Items[0].ID != id {
		t.Fatalf("status filter must return the sent record: %+v", filtered.Items)
	}
	if filtered.Stats.Sent != 1 || filtered.Stats.Total != 1 {
		t.Fatalf("embedded stats wrong: %+v", filtered.Stats)
	}

	resp = e.do(t, http.MethodGet, "/infringements/"+id+"/template", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("template expected 200, got %d", resp.StatusCode)
	}
	notice := decodeJSON[domain.TakedownNotice](t, resp)
	if notice.Subject == "" || notice.Body == "" {
		t.Fatalf("notice must carry subject and body")
	}
}

func TestStatsEndpoint(t *testing.T) {
	e := newServerEnv(t)
	e.uploadWork(t, "sunset.png")
	resp := e.do(t, http.MethodGet, "/stats", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats expected 200, got %d", resp.StatusCode)
	}
	stats := decodeJSON[domain.Stats](t, resp)
	if stats.Works.Scanning != 1 || stats.Works.Monitoring != 1 {
		t.Fatalf("unexpected stats: %+v", stats.Works)
	}
}
