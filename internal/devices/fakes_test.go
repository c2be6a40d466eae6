package devices

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/pkg/config"
	"github.com/unklstewy/skycapture/pkg/coordinates"
)

// fakeAlpaca is a stateful Alpaca server. PUT hooks run under the lock and
// may change values directly.
type fakeAlpaca struct {
	mu     sync.Mutex
	values map[string]any
	errors map[string]int
	onPut  map[string]func(form url.Values)
	puts   []string
	forms  map[string]url.Values
}

func (f *fakeAlpaca) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/api/v1/")
	resp := map[string]any{"ClientTransactionID": 0, "ServerTransactionID": 1, "ErrorNumber": 0, "ErrorMessage": ""}

	if n, ok := f.errors[key]; ok {
		resp["ErrorNumber"] = n
		resp["ErrorMessage"] = "simulated failure"
	} else if r.Method == http.MethodPut {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.puts = append(f.puts, key)
		f.forms[key] = r.PostForm
		if hook, ok := f.onPut[key]; ok {
			hook(r.PostForm)
		}
	} else {
		v, ok := f.values[key]
		if !ok {
			resp["ErrorNumber"] = 0x400
			resp["ErrorMessage"] = "not implemented"
		} else {
			resp["Value"] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (f *fakeAlpaca) set(key string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = v
}

func (f *fakeAlpaca) fail(key string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[key] = n
}

func (f *fakeAlpaca) hook(key string, fn func(form url.Values)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPut[key] = fn
}

func (f *fakeAlpaca) form(key string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[key]
}

func (f *fakeAlpaca) putCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.puts {
		if k == key {
			n++
		}
	}
	return n
}

// eventSink collects posted events.
type eventSink struct {
	ch chan capture.Event
}

func newEventSink() *eventSink {
	return &eventSink{ch: make(chan capture.Event, 64)}
}

func (s *eventSink) Post(ev capture.Event) { s.ch <- ev }

// waitEvent returns the next event of type T, skipping others.
func waitEvent[T capture.Event](t *testing.T, s *eventSink) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-s.ch:
			if e, ok := ev.(T); ok {
				return e
			}
		case <-timeout:
			var zero T
			t.Fatalf("Timed out waiting for %T", zero)
			return zero
		}
	}
}

// expectNoEvent fails if any event arrives within d.
func expectNoEvent(t *testing.T, s *eventSink, d time.Duration) {
	t.Helper()
	select {
	case ev := <-s.ch:
		t.Errorf("Expected no event, got %T %+v", ev, ev)
	case <-time.After(d):
	}
}

// newTestBridge starts a fake server with a camera (device 0) and
// whatever mutate binds.
func newTestBridge(t *testing.T, mutate func(cfg *config.AlpacaConfig, f *fakeAlpaca)) (*fakeAlpaca, *Bridge, *eventSink) {
	t.Helper()
	f := &fakeAlpaca{
		values: map[string]any{},
		errors: map[string]int{},
		onPut:  map[string]func(url.Values){},
		forms:  map[string]url.Values{},
	}
	f.values["camera/0/name"] = "Sim Camera"
	f.values["camera/0/exposuremin"] = 0.001
	f.values["camera/0/exposuremax"] = 600.0
	f.values["camera/0/cansetccdtemperature"] = true
	f.values["camera/0/imageready"] = false

	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	cfg := config.AlpacaConfig{
		BaseURL:                     srv.URL,
		CameraDeviceNumber:          0,
		FilterWheelDeviceNumber:     -1,
		TelescopeDeviceNumber:       -1,
		DomeDeviceNumber:            -1,
		CoverCalibratorDeviceNumber: -1,
		FocuserDeviceNumber:         -1,
		RotatorDeviceNumber:         -1,
		PollIntervalMillis:          5,
		TimeoutSeconds:              5,
		OperationTimeoutSeconds:     5,
		TemperatureTolerance:        0.5,
	}
	if mutate != nil {
		mutate(&cfg, f)
	}

	b := NewBridge(cfg, coordinates.NewObserver(51.48, 0, 0), nil)
	sink := newEventSink()
	b.Attach(sink)
	t.Cleanup(func() { b.Close() })
	return f, b, sink
}

// starField renders Gaussian stars of the given sigma on a flat background,
// returned in Alpaca [x][y] order.
func starField(width, height int, sigma float64, stars [][2]int) [][]int32 {
	cols := make([][]int32, width)
	for x := range cols {
		cols[x] = make([]int32, height)
		for y := range cols[x] {
			cols[x][y] = 100
		}
	}
	for _, s := range stars {
		for x := s[0] - 12; x <= s[0]+12; x++ {
			for y := s[1] - 12; y <= s[1]+12; y++ {
				if x < 0 || y < 0 || x >= width || y >= height {
					continue
				}
				cols[x][y] += gaussian(x-s[0], y-s[1], sigma)
			}
		}
	}
	return cols
}

func gaussian(dx, dy int, sigma float64) int32 {
	r2 := float64(dx*dx + dy*dy)
	return int32(5000 * math.Exp(-r2/(2*sigma*sigma)))
}

// rowMajor flattens an [x][y] array the way the camera adapter receives it.
func rowMajor(cols [][]int32) ([]int32, int, int) {
	w, h := len(cols), len(cols[0])
	out := make([]int32, w*h)
	for x, col := range cols {
		for y, v := range col {
			out[y*w+x] = v
		}
	}
	return out, w, h
}
