package responder

import (
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"
)

var fixedTime = time.Date(2026, 10, 17, 9, 30, 0, 123456000, time.UTC)

func newTestResponder(t *testing.T) *Responder {
	t.Helper()
	return NewDefault(ClockFunc(func() time.Time { return fixedTime }), time.UTC)
}

func TestHandleKnownRoutes(t *testing.T) {
	r := newTestResponder(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   Payload
	}{
		{
			name:   "health",
			method: http.MethodGet,
			path:   "/health",
			want:   Payload{"status": "UP", "service": "demo-app"},
		},
		{
			name:   "hello",
			method: http.MethodGet,
			path:   "/api/hello",
			want:   Payload{"message": "Hello from the Demo API!"},
		},
		{
			name:   "home",
			method: http.MethodGet,
			path:   "/",
			want: Payload{
				"message":   "Welcome to the Demo Application!",
				"timestamp": "2026-10-17T09:30:00.123456Z",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := r.Handle(tt.method, tt.path)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
			}
			if !reflect.DeepEqual(resp.Body, tt.want) {
				t.Errorf("Body = %v, want %v", resp.Body, tt.want)
			}
		})
	}
}

func TestHandleUnknownRoutes(t *testing.T) {
	r := newTestResponder(t)

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"method mismatch", http.MethodPost, "/health"},
		{"unknown path", http.MethodGet, "/unknown"},
		{"case sensitive path", http.MethodGet, "/Health"},
		{"lowercase method", "get", "/health"},
		{"trailing slash", http.MethodGet, "/api/hello/"},
		{"empty path", http.MethodGet, ""},
		{"head is not get", http.MethodHead, "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := r.Handle(tt.method, tt.path)
			if resp.StatusCode != http.StatusNotFound {
				t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusNotFound)
			}
			if resp.Body == nil {
				t.Fatal("Body is nil, want empty payload")
			}
			if len(resp.Body) != 0 {
				t.Errorf("Body = %v, want empty", resp.Body)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	r := newTestResponder(t)

	route, err := r.Lookup(http.MethodGet, "/health")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if route.Key != (RouteKey{Method: http.MethodGet, Path: "/health"}) {
		t.Errorf("route.Key = %v", route.Key)
	}

	_, err = r.Lookup(http.MethodDelete, "/health")
	if !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("Lookup error = %v, want ErrRouteNotFound", err)
	}
}

func TestHomeTimestampIsFreshPerCall(t *testing.T) {
	now := fixedTime
	clock := ClockFunc(func() time.Time {
		now = now.Add(time.Second)
		return now
	})
	r := NewDefault(clock, time.UTC)

	first := r.Handle(http.MethodGet, "/").Body["timestamp"]
	second := r.Handle(http.MethodGet, "/").Body["timestamp"]
	if first == second {
		t.Fatalf("timestamp reused across calls: %s", first)
	}
	if first != "2026-10-17T09:30:01.123456Z" {
		t.Errorf("first timestamp = %s", first)
	}
	if second != "2026-10-17T09:30:02.123456Z" {
		t.Errorf("second timestamp = %s", second)
	}
}

func TestHomeTimestampMonotonicWithSystemClock(t *testing.T) {
	r := NewDefault(SystemClock, time.UTC)

	var prev time.Time
	for i := 0; i < 50; i++ {
		raw := r.Handle(http.MethodGet, "/").Body["timestamp"]
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			t.Fatalf("parse timestamp %q: %v", raw, err)
		}
		if ts.Before(prev) {
			t.Fatalf("timestamp went backwards: %s before %s", ts, prev)
		}
		prev = ts
	}
}

func TestHomeTimestampLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	r := NewDefault(ClockFunc(func() time.Time { return fixedTime }), loc)

	got := r.Handle(http.MethodGet, "/").Body["timestamp"]
	if got != "2026-10-17T11:30:00.123456+02:00" {
		t.Errorf("timestamp = %s, want offset +02:00", got)
	}
}

func TestPayloadIsNotShared(t *testing.T) {
	r := newTestResponder(t)

	first := r.Handle(http.MethodGet, "/health").Body
	first["status"] = "DOWN"
	first["extra"] = "x"

	second := r.Handle(http.MethodGet, "/health").Body
	want := Payload{"status": "UP", "service": "demo-app"}
	if !reflect.DeepEqual(second, want) {
		t.Errorf("Body after caller mutation = %v, want %v", second, want)
	}
}

func TestRouteTableUnchangedAfterCalls(t *testing.T) {
	r := newTestResponder(t)
	before := r.Routes()

	for i := 0; i < 100; i++ {
		r.Handle(http.MethodGet, "/")
		r.Handle(http.MethodGet, "/health")
		r.Handle(http.MethodPost, "/api/hello")
	}

	after := r.Routes()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("Routes changed: before %v, after %v", before, after)
	}

	// Mutating the returned slice must not reach the table.
	after[0] = RouteKey{Method: "PUT", Path: "/x"}
	if got := r.Routes()[0]; got != before[0] {
		t.Errorf("Routes()[0] = %v, want %v", got, before[0])
	}
}

func TestRoutesOrder(t *testing.T) {
	r := newTestResponder(t)
	want := []RouteKey{
		{Method: http.MethodGet, Path: "/"},
		{Method: http.MethodGet, Path: "/health"},
		{Method: http.MethodGet, Path: "/api/hello"},
	}
	if got := r.Routes(); !reflect.DeepEqual(got, want) {
		t.Errorf("Routes() = %v, want %v", got, want)
	}
}

func TestNewRejectsBadTables(t *testing.T) {
	build := func() Payload { return Payload{} }

	tests := []struct {
		name    string
		routes  []Route
		wantErr error
	}{
		{
			name: "duplicate key",
			routes: []Route{
				{Key: RouteKey{Method: "GET", Path: "/a"}, Build: build},
				{Key: RouteKey{Method: "GET", Path: "/a"}, Build: build},
			},
			wantErr: ErrDuplicateRoute,
		},
		{
			name:    "empty method",
			routes:  []Route{{Key: RouteKey{Path: "/a"}, Build: build}},
			wantErr: ErrInvalidRoute,
		},
		{
			name:    "empty path",
			routes:  []Route{{Key: RouteKey{Method: "GET"}, Build: build}},
			wantErr: ErrInvalidRoute,
		},
		{
			name:    "nil builder",
			routes:  []Route{{Key: RouteKey{Method: "GET", Path: "/a"}}},
			wantErr: ErrInvalidRoute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.routes)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New error = %v, want %v", err, tt.wantErr)
			}
			if r != nil {
				t.Error("New returned a responder alongside an error")
			}
		})
	}
}

func TestSameMethodDifferentPathsAreDistinct(t *testing.T) {
	r, err := New([]Route{
		{Key: RouteKey{Method: "GET", Path: "/a"}, Build: func() Payload { return Payload{"v": "a"} }},
		{Key: RouteKey{Method: "POST", Path: "/a"}, Build: func() Payload { return Payload{"v": "post"} }},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := r.Handle("POST", "/a").Body["v"]; got != "post" {
		t.Errorf("POST /a = %q, want post", got)
	}
	if got := r.Handle("GET", "/a").Body["v"]; got != "a" {
		t.Errorf("GET /a = %q, want a", got)
	}
}

func TestHandleConcurrent(t *testing.T) {
	r := newTestResponder(t)

	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if resp := r.Handle(http.MethodGet, "/health"); resp.StatusCode != http.StatusOK {
					errs <- "health returned non-200"
					return
				}
				if resp := r.Handle(http.MethodGet, "/nope"); resp.StatusCode != http.StatusNotFound {
					errs <- "unknown path returned non-404"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}
