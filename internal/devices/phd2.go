package devices

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/pkg/config"
	"github.com/unklstewy/skycapture/pkg/retry"
)

// ErrGuiderNotConnected is returned by guider commands while the PHD2
// connection is down.
var ErrGuiderNotConnected = errors.New("phd2: not connected")

type settleKind int

const (
	settleNone settleKind = iota
	settleDither
	settleResume
)

// PHD2 is a client for the PHD2 event server. It implements capture.Guider:
// guide steps become GuideDeviation events and settle notifications
// complete Dither and Resume.
type PHD2 struct {
	cfg  config.GuiderConfig
	log  *slog.Logger
	dial retry.RetryConfig

	mu       sync.Mutex
	sink     capture.EventSink
	conn     net.Conn
	enc      *json.Encoder
	nextID   int
	calls    map[int]chan rpcResponse
	state    string
	scale    float64
	settling settleKind
	version  string

	wg sync.WaitGroup
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("phd2 error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
	ID     int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int             `json:"id"`
}

// phd2Event is the union of the event fields this client reads.
type phd2Event struct {
	Event          string  `json:"Event"`
	PHDVersion     string  `json:"PHDVersion"`
	State          string  `json:"State"`
	RADistanceRaw  float64 `json:"RADistanceRaw"`
	DECDistanceRaw float64 `json:"DECDistanceRaw"`
	Status         int     `json:"Status"`
	Error          string  `json:"Error"`
}

type settleParams struct {
	Pixels  float64 `json:"pixels"`
	Time    int     `json:"time"`
	Timeout int     `json:"timeout"`
}

// NewPHD2 creates a guider client. Nothing is contacted until Run.
func NewPHD2(cfg config.GuiderConfig, logger *slog.Logger) *PHD2 {
	if logger == nil {
		logger = slog.Default()
	}
	return &PHD2{
		cfg: cfg,
		log: logger.With("component", "phd2"),
		dial: retry.RetryConfig{
			MaxRetries:   5,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
		calls: make(map[int]chan rpcResponse),
	}
}

// Attach sets the sink that receives guider events.
func (p *PHD2) Attach(sink capture.EventSink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

func (p *PHD2) post(ev capture.Event) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.Post(ev)
	}
}

func (p *PHD2) address() string {
	return net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
}

// Run connects to PHD2 and processes events until ctx is cancelled. A lost
// connection is reported as DeviceLost and re-established; Run returns once
// reconnecting has failed past the retry budget.
func (p *PHD2) Run(ctx context.Context) error {
	defer p.wg.Wait()
	for {
		conn, err := retry.RetryWithBackoffResult(ctx, p.dial, func() (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", p.address())
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to connect to phd2 at %s: %w", p.address(), err)
		}
		p.log.Info("connected to phd2", "address", p.address())

		err = p.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Error("phd2 connection lost", "error", err)
		p.post(capture.DeviceLost{Role: "guider", Err: err})
	}
}

// serve reads one connection until it fails or ctx ends.
func (p *PHD2) serve(ctx context.Context, conn net.Conn) error {
	p.mu.Lock()
	p.conn = conn
	p.enc = json.NewEncoder(conn)
	p.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer p.disconnect()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loadPixelScale(ctx)
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.handleLine(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("connection closed by phd2")
}

func (p *PHD2) disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn = nil
	p.enc = nil
	p.state = ""
	for id, ch := range p.calls {
		ch <- rpcResponse{ID: id, Error: &rpcError{Code: -1, Message: "connection lost"}}
		delete(p.calls, id)
	}
	if p.settling != settleNone {
		kind := p.settling
		p.settling = settleNone
		sink := p.sink
		// Settling can never complete now.
		if sink != nil {
			go sink.Post(settleEvent(kind, ErrGuiderNotConnected))
		}
	}
}

func (p *PHD2) loadPixelScale(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	raw, err := p.call(ctx, "get_pixel_scale", nil)
	if err != nil {
		p.log.Warn("could not read pixel scale, reporting deviation in pixels", "error", err)
		return
	}
	var scale float64
	if err := json.Unmarshal(raw, &scale); err != nil || scale <= 0 {
		p.log.Warn("phd2 has no pixel scale, reporting deviation in pixels")
		return
	}
	p.mu.Lock()
	p.scale = scale
	p.mu.Unlock()
}

func (p *PHD2) handleLine(line []byte) {
	var peek struct {
		Event string `json:"Event"`
		ID    *int   `json:"id"`
	}
	if err := json.Unmarshal(line, &peek); err != nil {
		p.log.Warn("ignoring malformed phd2 message", "error", err)
		return
	}
	if peek.Event == "" && peek.ID != nil {
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			p.log.Warn("ignoring malformed phd2 response", "error", err)
			return
		}
		p.mu.Lock()
		ch, ok := p.calls[resp.ID]
		delete(p.calls, resp.ID)
		p.mu.Unlock()
		if ok {
			ch <- resp
		}
		return
	}

	var ev phd2Event
	if err := json.Unmarshal(line, &ev); err != nil {
		p.log.Warn("ignoring malformed phd2 event", "error", err)
		return
	}
	p.handleEvent(ev)
}

func (p *PHD2) handleEvent(ev phd2Event) {
	switch ev.Event {
	case "Version":
		p.mu.Lock()
		p.version = ev.PHDVersion
		p.mu.Unlock()
	case "AppState":
		p.setState(ev.State)
	case "StartGuiding", "Resumed":
		p.setState("Guiding")
	case "GuidingStopped":
		p.setState("Stopped")
	case "Paused":
		p.setState("Paused")
	case "StarLost":
		p.setState("LostLock")
		p.log.Warn("guide star lost")
	case "GuideStep":
		p.mu.Lock()
		p.state = "Guiding"
		scale := p.scale
		p.mu.Unlock()
		if scale <= 0 {
			scale = 1
		}
		p.post(capture.GuideDeviation{RA: ev.RADistanceRaw * scale, Dec: ev.DECDistanceRaw * scale})
	case "SettleDone":
		p.mu.Lock()
		kind := p.settling
		p.settling = settleNone
		p.mu.Unlock()
		if kind == settleNone {
			return
		}
		var err error
		if ev.Status != 0 {
			err = fmt.Errorf("settle failed: %s", ev.Error)
		}
		p.post(settleEvent(kind, err))
	}
}

func settleEvent(kind settleKind, err error) capture.Event {
	if kind == settleResume {
		return capture.GuideResumed{Err: err}
	}
	return capture.DitherSettled{Err: err}
}

func (p *PHD2) setState(state string) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// State returns the last reported PHD2 application state.
func (p *PHD2) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// call sends one JSON-RPC request and waits for its response.
func (p *PHD2) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	p.mu.Lock()
	if p.enc == nil {
		p.mu.Unlock()
		return nil, ErrGuiderNotConnected
	}
	p.nextID++
	id := p.nextID
	ch := make(chan rpcResponse, 1)
	p.calls[id] = ch
	err := p.enc.Encode(rpcRequest{Method: method, Params: params, ID: id})
	if err != nil {
		delete(p.calls, id)
	}
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.calls, id)
		p.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.Error)
		}
		return resp.Result, nil
	}
}

func (p *PHD2) settle() settleParams {
	return settleParams{
		Pixels:  p.cfg.SettlePixels,
		Time:    p.cfg.SettleTimeSeconds,
		Timeout: p.cfg.SettleTimeoutSeconds,
	}
}

// command runs rpc in the background. onErr is called if it fails.
func (p *PHD2) command(kind settleKind, rpc func(ctx context.Context) error, onErr func(err error)) error {
	p.mu.Lock()
	if p.enc == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %w", capture.ErrCommandRejected, ErrGuiderNotConnected)
	}
	if kind != settleNone {
		p.settling = kind
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()
		if err := rpc(ctx); err != nil {
			if kind != settleNone {
				p.mu.Lock()
				pending := p.settling == kind
				if pending {
					p.settling = settleNone
				}
				p.mu.Unlock()
				// disconnect already reported the outcome.
				if !pending {
					return
				}
			}
			onErr(err)
		}
	}()
	return nil
}

func (p *PHD2) invoke(method string, params any) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := p.call(ctx, method, params)
		return err
	}
}

func (p *PHD2) IsGuiding() bool {
	return p.State() == "Guiding"
}

// Dither completion: DitherSettled.
func (p *PHD2) Dither() error {
	params := map[string]any{
		"amount": p.cfg.DitherPixels,
		"raOnly": false,
		"settle": p.settle(),
	}
	return p.command(settleDither, p.invoke("dither", params), func(err error) {
		p.post(capture.DitherSettled{Err: err})
	})
}

// Suspend pauses guide corrections while the camera keeps looping.
func (p *PHD2) Suspend() error {
	return p.command(settleNone, p.invoke("set_paused", []any{true}), func(err error) {
		p.log.Warn("failed to pause guiding", "error", err)
	})
}

// Resume unpauses if needed, restarts guiding and waits for it to settle.
// Completion: GuideResumed.
func (p *PHD2) Resume() error {
	paused := p.State() == "Paused"
	params := map[string]any{
		"settle":      p.settle(),
		"recalibrate": false,
	}
	return p.command(settleResume, func(ctx context.Context) error {
		if paused {
			if _, err := p.call(ctx, "set_paused", []any{false}); err != nil {
				return err
			}
		}
		_, err := p.call(ctx, "guide", params)
		return err
	}, func(err error) {
		p.post(capture.GuideResumed{Err: err})
	})
}

// Version returns the PHD2 version announced on connect.
func (p *PHD2) Version() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}
