package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/clip-bridge/internal/infrastructure/config"
)

// fakeWriter captures points instead of sending them.
type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	w.points = append(w.points, p)
	w.mu.Unlock()
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	w.flushes++
	w.mu.Unlock()
}

// fakeServer answers the two endpoints the client uses: /ping and the v2
// write API. Written bodies are sent to the returned channel.
func fakeServer(t *testing.T, healthy bool) (*httptest.Server, <-chan string) {
	t.Helper()
	bodies := make(chan string, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			if healthy {
				w.WriteHeader(http.StatusNoContent)
			} else {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
			bodies <- string(body)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, bodies
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "clipbridge-test-token",
		Org:           "clipbridge",
		Bucket:        "registers",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	if _, err := Connect(context.Background(), cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, testConfig("http://127.0.0.1:59999"))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	srv, _ := fakeServer(t, false)

	_, err := Connect(context.Background(), testConfig(srv.URL))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_WriteRegister(t *testing.T) {
	srv, bodies := fakeServer(t, true)

	cfg := testConfig(srv.URL)
	cfg.BatchSize = 0 // defaults apply
	cfg.FlushInterval = -1

	client, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.WriteRegister("ac1", "RAC_056905_WW", 0x1f5, 2)
	client.Flush()

	select {
	case body := <-bodies:
		want := "clip_register,device_id=ac1,model=RAC_056905_WW,tag=0x1f5 value=2i"
		if !strings.HasPrefix(body, want) {
			t.Errorf("line protocol = %q, want prefix %q", body, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for write")
	}
}

func TestRegisterPoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	tests := []struct {
		name  string
		tag   uint16
		value uint32
		want  string
	}{
		{"inline tag", 0x0a, 1, "clip_register,device_id=ac1,model=TEST_AC,tag=0x00a value=1i 1700000000000000000"},
		{"mode tag", 0x1f5, 2, "clip_register,device_id=ac1,model=TEST_AC,tag=0x1f5 value=2i 1700000000000000000"},
		{"max value", 0x3ff, 0xffffff, "clip_register,device_id=ac1,model=TEST_AC,tag=0x3ff value=16777215i 1700000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := registerPoint("ac1", "TEST_AC", tt.tag, tt.value, ts)
			got := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
			if got != tt.want {
				t.Errorf("line = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteRegister_AfterClose(t *testing.T) {
	w := &fakeWriter{}
	client := newClient(w)
	client.now = func() time.Time { return time.Unix(1, 0) }

	client.WriteRegister("ac1", "TEST_AC", 0x0a, 5)
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	client.WriteRegister("ac1", "TEST_AC", 0x0a, 6)
	client.Flush()

	if len(w.points) != 1 {
		t.Errorf("points = %d, want 1 (writes after Close are dropped)", len(w.points))
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1 (from Close only)", w.flushes)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	client := newClient(&fakeWriter{})

	got := make(chan error, 1)
	client.SetOnError(func(err error) { got <- err })

	errorsCh := make(chan error, 1)
	errorsCh <- errors.New("bucket not found")
	close(errorsCh)

	client.handleWriteErrors(errorsCh)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) || !strings.Contains(err.Error(), "bucket not found") {
			t.Errorf("callback error = %v", err)
		}
	default:
		t.Fatal("callback not invoked")
	}
}
