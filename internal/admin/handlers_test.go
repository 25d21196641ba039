package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"api_gateway/internal/route"
)

type countingRefresher struct {
	calls int
}

func (c *countingRefresher) Refresh(ctx context.Context) error {
	c.calls++
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *countingRefresher) {
	t.Helper()
	db, err := route.Open(filepath.Join(t.TempDir(), "routes.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	refresher := &countingRefresher{}
	mux := http.NewServeMux()
	NewHandler(route.NewStore(db), refresher).Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, refresher
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeRouteBody(t *testing.T, resp *http.Response) route.Route {
	t.Helper()
	var r route.Route
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatalf("decode route: %v", err)
	}
	return r
}

func TestCreateRoute(t *testing.T) {
	server, refresher := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/routes",
		`{"path":"/api/users","targetUrl":"http://users:8080","capacity":10,"refillRatePerSecond":5}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	created := decodeRouteBody(t, resp)
	if created.ID == 0 || created.Path != "/api/users" {
		t.Fatalf("unexpected created route %+v", created)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected cache refresh after create, got %d", refresher.calls)
	}
}

func TestCreateDuplicatePathConflicts(t *testing.T) {
	server, _ := newTestServer(t)

	body := `{"path":"/api","targetUrl":"http://a:1"}`
	if resp := doJSON(t, http.MethodPost, server.URL+"/routes", body); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create: %d", resp.StatusCode)
	}
	resp := doJSON(t, http.MethodPost, server.URL+"/routes", `{"path":"/api","targetUrl":"http://b:2"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}

	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "A route with that path already exists." {
		t.Fatalf("unexpected error message %q", payload["error"])
	}
}

func TestCreateInvalidBody(t *testing.T) {
	server, refresher := newTestServer(t)

	cases := []string{
		`not json`,
		`{"path":"","targetUrl":"http://a:1"}`,
		`{"path":"no-slash","targetUrl":"http://a:1"}`,
		`{"path":"/a","targetUrl":""}`,
		`{"path":"/a","targetUrl":"not a url"}`,
		`{"path":"/a","targetUrl":"http://a:1","capacity":10}`,
		`{"path":"/a","targetUrl":"http://a:1","capacity":0,"refillRatePerSecond":5}`,
	}
	for _, body := range cases {
		resp := doJSON(t, http.MethodPost, server.URL+"/routes", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
	if refresher.calls != 0 {
		t.Fatalf("cache refreshed on rejected writes")
	}
}

func TestListRoutes(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/routes", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var routes []route.Route
	if err := json.NewDecoder(resp.Body).Decode(&routes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if routes == nil || len(routes) != 0 {
		t.Fatalf("expected empty array, got %v", routes)
	}

	doJSON(t, http.MethodPost, server.URL+"/routes", `{"path":"/a","targetUrl":"http://a:1"}`)
	doJSON(t, http.MethodPost, server.URL+"/routes", `{"path":"/b","targetUrl":"http://b:1"}`)

	resp = doJSON(t, http.MethodGet, server.URL+"/routes", "")
	if err := json.NewDecoder(resp.Body).Decode(&routes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(routes) != 2 || routes[0].Path != "/a" || routes[1].Path != "/b" {
		t.Fatalf("unexpected list %v", routes)
	}
}

func TestGetRoute(t *testing.T) {
	server, _ := newTestServer(t)

	created := decodeRouteBody(t, doJSON(t, http.MethodPost, server.URL+"/routes",
		`{"path":"/api","targetUrl":"http://a:1"}`))

	resp := doJSON(t, http.MethodGet, server.URL+"/routes/"+strconv.FormatInt(created.ID, 10), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := decodeRouteBody(t, resp); got.ID != created.ID || got.Path != "/api" {
		t.Fatalf("unexpected route %+v", got)
	}
}

func TestGetUnknownRoute(t *testing.T) {
	server, _ := newTestServer(t)

	for _, path := range []string{"/routes/42", "/routes/not-a-number", "/routes/"} {
		resp := doJSON(t, http.MethodGet, server.URL+path, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestUpdateRoute(t *testing.T) {
	server, refresher := newTestServer(t)

	created := decodeRouteBody(t, doJSON(t, http.MethodPost, server.URL+"/routes",
		`{"path":"/api","targetUrl":"http://a:1"}`))

	resp := doJSON(t, http.MethodPut, server.URL+"/routes/"+strconv.FormatInt(created.ID, 10),
		`{"path":"/api/v2","targetUrl":"http://a:2","capacity":5,"refillRatePerSecond":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	updated := decodeRouteBody(t, resp)
	if updated.Path != "/api/v2" || updated.TargetURL != "http://a:2" || !updated.RateLimited() {
		t.Fatalf("unexpected route after update %+v", updated)
	}
	if refresher.calls != 2 {
		t.Fatalf("expected refresh after create and update, got %d", refresher.calls)
	}
}

func TestUpdateUnknownRoute(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPut, server.URL+"/routes/42", `{"path":"/x","targetUrl":"http://x:1"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteRoute(t *testing.T) {
	server, refresher := newTestServer(t)

	created := decodeRouteBody(t, doJSON(t, http.MethodPost, server.URL+"/routes",
		`{"path":"/api","targetUrl":"http://a:1"}`))

	url := server.URL + "/routes/" + strconv.FormatInt(created.ID, 10)
	resp := doJSON(t, http.MethodDelete, url, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if refresher.calls != 2 {
		t.Fatalf("expected refresh after create and delete, got %d", refresher.calls)
	}

	resp = doJSON(t, http.MethodDelete, url, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPatch, server.URL+"/routes", "{}")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPatch, server.URL+"/routes/1", "{}")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
