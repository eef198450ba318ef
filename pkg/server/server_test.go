package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/siqueiraa/kpublish/pkg/avro"
	"github.com/siqueiraa/kpublish/pkg/config"
	"github.com/siqueiraa/kpublish/pkg/kafka"
	"github.com/siqueiraa/kpublish/pkg/metrics"
	"github.com/siqueiraa/kpublish/pkg/publish"
)

const idSchema = `{"type":"record","name":"U","fields":[{"name":"id","type":"int"}]}`

type MockHandle struct {
	mu    sync.Mutex
	sends int
}

func (h *MockHandle) Send(context.Context, string, *avro.Record) error {
	h.mu.Lock()
	h.sends++
	h.mu.Unlock()
	return nil
}

func (h *MockHandle) Close() error { return nil }

// endpointFactory creates a MockHandle per pair, refusing the "down" broker.
type endpointFactory struct {
	mu      sync.Mutex
	created map[string]int
}

func (f *endpointFactory) build(_ context.Context, broker, registry string) (kafka.Handle, error) {
	time.Sleep(10 * time.Millisecond)
	if broker == "down:9092" {
		return nil, errors.New("dial tcp: connection refused")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.created == nil {
		f.created = map[string]int{}
	}
	f.created[broker+"|"+registry]++
	return &MockHandle{}, nil
}

func (f *endpointFactory) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.created {
		n += c
	}
	return n
}

func newTestServer(t *testing.T) (http.Handler, *endpointFactory, *kafka.Provider, *metrics.Recorder) {
	t.Helper()
	rec := metrics.NewRecorder()
	f := &endpointFactory{}
	provider := kafka.NewProvider(f.build, time.Second, rec)
	svc := publish.NewService(avro.NewConverter(), provider, rec, false)
	return New(svc, rec, config.Default().Server, false), f, provider, rec
}

func body(broker, rawMessage string) string {
	return `{"meta":{"kafkaUrl":"` + broker + `","schemaRegistryUrl":"http://r:8081","topic":"users","rawSchema":` +
		quote(idSchema) + `},"rawMessage":` + rawMessage + `}`
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func post(h http.Handler, query, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, publishPath+query, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) publish.Response {
	t.Helper()
	var res publish.Response
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return res
}

func TestPublishEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		rawMessage string
	}{
		{"tree", `{"id":7}`},
		{"encoded", `"{\"id\":7}"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _, _ := newTestServer(t)

			rr := post(h, "?count=3", body("b:9092", tt.rawMessage))
			if rr.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			res := decode(t, rr)
			if !res.Sent || res.Count != 3 || !res.Success || res.Duration < 0 || res.Rate <= 0 {
				t.Errorf("Unexpected response %+v", res)
			}
		})
	}
}

func TestPublishEndpointSchemaMismatch(t *testing.T) {
	h, _, _, rec := newTestServer(t)

	rr := post(h, "", body("b:9092", `{"id":"seven"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "$.id") {
		t.Errorf("Expected mismatch diagnostic in body, got %s", rr.Body.String())
	}

	out := httptest.NewRecorder()
	rec.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(out.Body.String(), `kpublish_publish_requests_total{status="400"} 1`) {
		t.Errorf("Expected 400 to be recorded, got:\n%s", out.Body.String())
	}
}

func TestPublishEndpointBrokerDown(t *testing.T) {
	h, _, provider, _ := newTestServer(t)

	rr := post(h, "?count=3", body("down:9092", `{"id":7}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	res := decode(t, rr)
	if res != publish.NotSent() {
		t.Errorf("Expected NotSent, got %+v", res)
	}
	if provider.Len() != 0 {
		t.Errorf("Failed creation must not be cached")
	}
}

func TestPublishEndpointBadRequests(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		payload string
		ctype   string
		want    int
	}{
		{"malformed body", "", `{"meta":`, "application/json", http.StatusBadRequest},
		{"empty body", "", ``, "application/json", http.StatusBadRequest},
		{"encoded not json", "", body("b:9092", `"hello"`), "application/json", http.StatusBadRequest},
		{"missing topic", "", `{"meta":{"kafkaUrl":"b","schemaRegistryUrl":"r"},"rawMessage":{}}`, "application/json", http.StatusBadRequest},
		{"count not numeric", "?count=many", body("b:9092", `{"id":7}`), "application/json", http.StatusBadRequest},
		{"invalid schema", "", strings.Replace(body("b:9092", `{"id":7}`), `\"record\"`, `\"recrod\"`, 1), "application/json", http.StatusInternalServerError},
		{"wrong content type", "", body("b:9092", `{"id":7}`), "text/plain", http.StatusUnsupportedMediaType},
		{"json with charset", "", body("b:9092", `{"id":7}`), "application/json; charset=utf-8", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _, _ := newTestServer(t)

			req := httptest.NewRequest(http.MethodPost, publishPath+tt.query, strings.NewReader(tt.payload))
			req.Header.Set("Content-Type", tt.ctype)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestPublishEndpointCountDefaults(t *testing.T) {
	for _, q := range []string{"", "?count=0", "?count=-3"} {
		h, _, _, _ := newTestServer(t)

		rr := post(h, q, body("b:9092", `{"id":1}`))
		if rr.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", q, rr.Code)
		}
		if res := decode(t, rr); res.Count != 1 {
			t.Errorf("%q: expected count 1, got %+v", q, res)
		}
	}
}

func TestPublishEndpointConcurrentProviders(t *testing.T) {
	h, f, provider, rec := newTestServer(t)

	var wg sync.WaitGroup
	send := func(broker string) {
		defer wg.Done()
		if rr := post(h, "", body(broker, `{"id":1}`)); rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", broker, rr.Code)
		}
	}

	wg.Add(2)
	go send("a:9092")
	go send("b:9092")
	wg.Wait()
	if f.total() != 2 || provider.Len() != 2 {
		t.Errorf("Expected 2 handles for distinct pairs, got created=%d cached=%d", f.total(), provider.Len())
	}

	wg.Add(2)
	go send("c:9092")
	go send("c:9092")
	wg.Wait()
	if f.total() != 3 || provider.Len() != 3 {
		t.Errorf("Expected 1 more handle for the same pair, got created=%d cached=%d", f.total(), provider.Len())
	}

	out := httptest.NewRecorder()
	rec.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(out.Body.String(), "kpublish_producers_cached 3") {
		t.Errorf("Expected producers gauge 3, got:\n%s", out.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	h, _, _, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte(`"status":"ok"`)) {
		t.Errorf("Unexpected body %s", rr.Body.String())
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Errorf("Expected a request id header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _, _ := newTestServer(t)
	post(h, "", body("b:9092", `{"id":1}`))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "kpublish_publish_requests_total") {
		t.Errorf("Expected request counter in exposition, got:\n%s", rr.Body.String())
	}
}
