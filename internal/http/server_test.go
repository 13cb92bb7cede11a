package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Clark-Hu/bp-ratings/internal/config"
	"github.com/Clark-Hu/bp-ratings/internal/domain"
	"github.com/Clark-Hu/bp-ratings/internal/eligibility"
	"github.com/Clark-Hu/bp-ratings/internal/memstore"
	"github.com/Clark-Hu/bp-ratings/internal/metrics"
	"github.com/Clark-Hu/bp-ratings/internal/ratings"
)

type fakeSyncer struct {
	n   int
	err error
}

func (f fakeSyncer) Sync(context.Context) (int, error) { return f.n, f.err }

type failingHealth struct{}

func (failingHealth) HealthCheck(context.Context) error { return errors.New("db down") }

func votesFor(n int) []domain.Name {
	out := make([]domain.Name, n)
	for i := range out {
		out[i] = domain.Name(i + 1)
	}
	return out
}

type testServer struct {
	*Server
	store    *memstore.Store
	registry *eligibility.MemoryRegistry
	voters   eligibility.StaticVoters
}

func buildTestServer(tb testing.TB) *testServer {
	tb.Helper()
	cfg := config.Config{
		Port:             "0",
		AuthToken:        "secret",
		AdminAccount:     domain.MustParseName("rateproducer"),
		MinScore:         1,
		MaxScore:         10,
		MinVoters:        21,
		ReadTimeoutSecs:  15,
		WriteTimeoutSecs: 15,
		IdleTimeoutSecs:  60,
	}

	registry := eligibility.NewMemoryRegistry(
		domain.Producer{Owner: domain.MustParseName("bpa"), Active: true},
		domain.Producer{Owner: domain.MustParseName("bpb"), Active: true},
	)
	voters := eligibility.StaticVoters{
		domain.MustParseName("alice"): {Owner: domain.MustParseName("alice"), Producers: votesFor(21)},
		domain.MustParseName("bob"):   {Owner: domain.MustParseName("bob"), Producers: votesFor(25)},
		domain.MustParseName("gary"):  {Owner: domain.MustParseName("gary"), Producers: votesFor(3)},
	}
	store := memstore.New()
	reg := prometheus.NewRegistry()
	engine := ratings.New(store, eligibility.New(registry, voters), cfg.AdminAccount,
		ratings.WithLimits(ratings.Limits{MinScore: cfg.MinScore, MaxScore: cfg.MaxScore, MinVoters: uint32(cfg.MinVoters)}),
		ratings.WithLogger(log.New(io.Discard, "", 0)),
		ratings.WithRecorder(metrics.NewCollector(reg)),
	)

	srv := New(cfg, store, engine, fakeSyncer{n: 2}, registry, reg, log.New(io.Discard, "", 0))
	// Replace chi router to avoid default middleware noise.
	srv.router = chi.NewRouter()
	srv.registerRoutes()
	return &testServer{Server: srv, store: store, registry: registry, voters: voters}
}

func attachParams(req *http.Request, params map[string]string) *http.Request {
	ctx := chi.NewRouteContext()
	for k, v := range params {
		ctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, ctx))
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

var adminHeaders = map[string]string{"Authorization": "Bearer secret"}

func TestHandleSubmitRating_CreateThenUpdate(t *testing.T) {
	srv := buildTestServer(t)
	alice := map[string]string{"X-Rater-Id": "alice"}

	rec := srv.do(http.MethodPost, "/producers/bpa/ratings", `{"transparency":8,"trust":6}`, alice)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/producers/bpa/ratings/alice" {
		t.Fatalf("Location = %q", loc)
	}
	created := decodeBody[ratingResponse](t, rec)
	if created.Producer.String() != "bpa" || created.Rater.String() != "alice" || created.Transparency != 8 {
		t.Fatalf("created = %+v", created)
	}

	rec = srv.do(http.MethodPost, "/producers/bpa/ratings", `{"transparency":6,"trust":6}`, alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 on update", rec.Code)
	}

	rec = srv.do(http.MethodGet, "/producers/bpa/summary", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rec.Code)
	}
	summary := decodeBody[summaryResponse](t, rec)
	if summary.RatingCount != 1 || summary.Transparency != 6 || summary.Trust != 6 || summary.Average != 6 {
		t.Fatalf("summary = %+v, want recomputed single rating", summary)
	}

	rec = srv.do(http.MethodGet, "/producers/bpa/ratings/alice", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get rating status = %d", rec.Code)
	}
	if got := decodeBody[ratingResponse](t, rec); got.Transparency != 6 {
		t.Fatalf("rating = %+v", got)
	}

	rec = srv.do(http.MethodGet, "/producers/bpa/ratings", "", nil)
	list := decodeBody[ratingListResponse](t, rec)
	if len(list.Items) != 1 {
		t.Fatalf("items = %+v", list.Items)
	}
}

func TestHandleSubmitRating_Errors(t *testing.T) {
	srv := buildTestServer(t)

	tests := []struct {
		name     string
		producer string
		rater    string
		body     string
		status   int
		code     string
	}{
		{"missing rater", "bpa", "", `{"trust":5}`, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"invalid rater", "bpa", "Not-A-Name", `{"trust":5}`, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"invalid producer", "BAD", "alice", `{"trust":5}`, http.StatusBadRequest, "BAD_REQUEST"},
		{"malformed json", "bpa", "alice", `{"trust":`, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"unknown field", "bpa", "alice", `{"rating":5}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"wrong type", "bpa", "alice", `{"trust":"high"}`, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"empty submission", "bpa", "alice", `{}`, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"score out of range", "bpa", "alice", `{"trust":11}`, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"not a producer", "notabp", "alice", `{"trust":5}`, http.StatusNotFound, "INVALID_TARGET"},
		{"too few votes", "bpa", "gary", `{"trust":5}`, http.StatusForbidden, "NOT_ELIGIBLE"},
		{"unknown voter", "bpa", "zed", `{"trust":5}`, http.StatusForbidden, "NOT_ELIGIBLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.rater != "" {
				headers["X-Rater-Id"] = tt.rater
			}
			rec := srv.do(http.MethodPost, "/producers/"+tt.producer+"/ratings", tt.body, headers)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if got := decodeBody[errorResponse](t, rec); got.Code != tt.code {
				t.Fatalf("code = %q, want %q", got.Code, tt.code)
			}
		})
	}

	if rows, summaries := srv.store.Len(); rows != 0 || summaries != 0 {
		t.Fatalf("store holds %d rows and %d summaries after rejected submissions", rows, summaries)
	}
}

func TestHandleSubmitRating_ScoreRangeDetails(t *testing.T) {
	srv := buildTestServer(t)
	payload, _ := json.Marshal(map[string]int{"transparency": 5, "community": 12, "development": 0})
	req := httptest.NewRequest(http.MethodPost, "/producers/bpa/ratings", bytes.NewBuffer(payload))
	req.Header.Set("X-Rater-Id", "alice")
	req = attachParams(req, map[string]string{"producer": "bpa"})
	rec := httptest.NewRecorder()

	srv.handleSubmitRating(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var body struct {
		Code    string            `json:"code"`
		Details scoreRangeDetails `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := scoreRangeDetails{Category: "community", Value: 12, Min: 1, Max: 10}
	if body.Details != want {
		t.Fatalf("details = %+v, want %+v", body.Details, want)
	}
}

func TestHandleRemoveRating(t *testing.T) {
	srv := buildTestServer(t)
	for _, rater := range []string{"alice", "bob"} {
		rec := srv.do(http.MethodPost, "/producers/bpa/ratings", `{"trust":8}`, map[string]string{"X-Rater-Id": rater})
		if rec.Code != http.StatusCreated {
			t.Fatalf("submit %s: %d", rater, rec.Code)
		}
	}

	rec := srv.do(http.MethodDelete, "/producers/bpa/ratings", "", map[string]string{"X-Rater-Id": "alice"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	rec = srv.do(http.MethodGet, "/producers/bpa/ratings/alice", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("removed rating status = %d, want 404", rec.Code)
	}

	// Removing again is a no-op.
	rec = srv.do(http.MethodDelete, "/producers/bpa/ratings", "", map[string]string{"X-Rater-Id": "alice"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("second remove status = %d, want 204", rec.Code)
	}

	rec = srv.do(http.MethodDelete, "/producers/bpa/ratings", "", map[string]string{"X-Rater-Id": "bob"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	rec = srv.do(http.MethodGet, "/producers/bpa/summary", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("summary after last removal status = %d, want 404", rec.Code)
	}
}

func TestHandleGetRating_NotFound(t *testing.T) {
	srv := buildTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/producers/bpa/ratings/alice", nil)
	req = attachParams(req, map[string]string{"producer": "bpa", "rater": "alice"})
	rec := httptest.NewRecorder()

	srv.handleGetRating(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	req = attachParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"producer": "bpa", "rater": "UPPER"})
	rec = httptest.NewRecorder()
	srv.handleGetRating(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid rater status = %d, want 400", rec.Code)
	}
}

func TestAdminEndpointsRequireBearer(t *testing.T) {
	srv := buildTestServer(t)
	paths := []struct{ method, path string }{
		{http.MethodDelete, "/producers/bpa"},
		{http.MethodPost, "/admin/purge-inactive"},
		{http.MethodPost, "/admin/wipe"},
		{http.MethodPost, "/admin/sync-producers"},
	}
	for _, p := range paths {
		rec := srv.do(p.method, p.path, "", map[string]string{"Authorization": "Bearer wrong"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s status = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestHandleRemoveAllForProducer(t *testing.T) {
	srv := buildTestServer(t)
	for _, rater := range []string{"alice", "bob"} {
		srv.do(http.MethodPost, "/producers/bpa/ratings", `{"trust":8}`, map[string]string{"X-Rater-Id": rater})
	}
	srv.do(http.MethodPost, "/producers/bpb/ratings", `{"trust":4}`, map[string]string{"X-Rater-Id": "alice"})

	rec := srv.do(http.MethodDelete, "/producers/bpa", "", adminHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[map[string]int](t, rec); got["removed"] != 2 {
		t.Fatalf("removed = %v, want 2", got)
	}
	if rows, summaries := srv.store.Len(); rows != 1 || summaries != 1 {
		t.Fatalf("store = (%d rows, %d summaries), want bpb untouched", rows, summaries)
	}
}

func TestHandlePurgeInactive(t *testing.T) {
	srv := buildTestServer(t)
	srv.do(http.MethodPost, "/producers/bpa/ratings", `{"trust":8}`, map[string]string{"X-Rater-Id": "alice"})
	srv.do(http.MethodPost, "/producers/bpb/ratings", `{"trust":4}`, map[string]string{"X-Rater-Id": "alice"})

	if err := srv.registry.UpsertProducers(context.Background(), []domain.Producer{
		{Owner: domain.MustParseName("bpb"), Active: false},
	}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	rec := srv.do(http.MethodPost, "/admin/purge-inactive", "", adminHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[map[string]int](t, rec); got["purged"] != 1 {
		t.Fatalf("purged = %v, want 1", got)
	}
	if rec := srv.do(http.MethodGet, "/producers/bpb/summary", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("purged summary status = %d, want 404", rec.Code)
	}
	if rec := srv.do(http.MethodGet, "/producers/bpa/summary", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("active summary status = %d, want 200", rec.Code)
	}
}

func TestHandleWipe(t *testing.T) {
	srv := buildTestServer(t)
	srv.do(http.MethodPost, "/producers/bpa/ratings", `{"trust":8}`, map[string]string{"X-Rater-Id": "alice"})

	rec := srv.do(http.MethodPost, "/admin/wipe", "", adminHeaders)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rows, summaries := srv.store.Len(); rows != 0 || summaries != 0 {
		t.Fatalf("store not empty after wipe: %d rows, %d summaries", rows, summaries)
	}
}

func TestHandleSyncProducers(t *testing.T) {
	srv := buildTestServer(t)
	rec := srv.do(http.MethodPost, "/admin/sync-producers", "", adminHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeBody[map[string]int](t, rec); got["synced"] != 2 {
		t.Fatalf("synced = %v", got)
	}

	srv.syncer = fakeSyncer{err: errors.New("node down")}
	if rec := srv.do(http.MethodPost, "/admin/sync-producers", "", adminHeaders); rec.Code != http.StatusBadGateway {
		t.Fatalf("failing sync status = %d, want 502", rec.Code)
	}

	srv.syncer = nil
	if rec := srv.do(http.MethodPost, "/admin/sync-producers", "", adminHeaders); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured sync status = %d, want 503", rec.Code)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	srv := buildTestServer(t)
	if rec := srv.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	srv.do(http.MethodPost, "/producers/bpa/ratings", `{"trust":8}`, map[string]string{"X-Rater-Id": "alice"})
	rec := srv.do(http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bp_ratings_operations_total") {
		t.Fatalf("metrics output missing operation counter:\n%s", rec.Body.String())
	}

	srv.health = failingHealth{}
	if rec := srv.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d, want 503", rec.Code)
	}
}

func TestVerifyBearer(t *testing.T) {
	srv := &Server{cfg: config.Config{AuthToken: "secret"}}
	cases := []struct {
		header  string
		allowed bool
	}{
		{"Bearer secret", true},
		{"Bearer secret ", true},
		{"Bearer other", false},
		{"secret", false},
		{"", false},
	}
	for _, c := range cases {
		if srv.verifyBearer(c.header) != c.allowed {
			t.Fatalf("verifyBearer(%q) expected %v", c.header, c.allowed)
		}
	}
}

func TestHandleListProducers(t *testing.T) {
	srv := buildTestServer(t)
	if err := srv.registry.UpsertProducers(context.Background(), []domain.Producer{
		{Owner: domain.MustParseName("bpb"), Active: true, TotalVotes: 900, URL: "https://bpb.example"},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec := srv.do(http.MethodGet, "/producers", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	list := decodeBody[producerListResponse](t, rec)
	if len(list.Items) != 2 {
		t.Fatalf("items = %+v, want 2", list.Items)
	}
	if first := list.Items[0]; first.Owner.String() != "bpb" || first.URL != "https://bpb.example" || !first.Active {
		t.Fatalf("first = %+v, want bpb by votes", first)
	}

	srv.registry = nil
	if rec := srv.do(http.MethodGet, "/producers", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status without registry = %d, want 503", rec.Code)
	}
}
