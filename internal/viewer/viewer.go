// Package viewer is the consumer client: it keeps a websocket connection to
// the relay, feeds every message into a session, and renders frames at a
// fixed rate. Maze frames are calibrated on their own goroutine so entity
// updates keep flowing while a calibration runs.
package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"

	"maze-relay-go/internal/config"
	"maze-relay-go/internal/relaystatus"
	"maze-relay-go/internal/render"
	"maze-relay-go/internal/session"
	"maze-relay-go/internal/types"
)

type Viewer struct {
	cfg      config.ViewerConfig
	session  *session.Session
	renderer *render.Renderer
	dialer   *websocket.Dialer
	logger   *slog.Logger

	mu     sync.RWMutex
	latest []byte

	// mazes holds at most one frame waiting for calibration.
	mazes chan []byte

	connected  atomic.Bool
	connects   atomic.Uint64
	received   atomic.Uint64
	rendered   atomic.Uint64
	superseded atomic.Uint64
	lastErrMsg atomic.Value
	relay      atomic.Pointer[relaystatus.Status]
}

func New(cfg config.ViewerConfig, sess *session.Session, logger *slog.Logger) *Viewer {
	if logger == nil {
		logger = slog.Default()
	}
	sx, sy := cfg.Scale()
	return &Viewer{
		cfg:      cfg,
		session:  sess,
		renderer: render.New(cfg.CanvasWidth, cfg.CanvasHeight, sx, sy),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   logger.With("relay", cfg.RelayURL),
		mazes:    make(chan []byte, 1),
	}
}

// Run connects, reconnects and renders until ctx ends.
func (v *Viewer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		v.renderLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		v.calibrateLoop(ctx)
	}()
	if v.cfg.StatusInterval > 0 {
		statusURL, err := relaystatus.StatusURL(v.cfg.RelayURL)
		if err != nil {
			v.logger.Warn("relay status polling disabled", "error", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				relaystatus.Poll(ctx, statusURL, v.cfg.StatusInterval, v.setRelayStatus)
			}()
		}
	}
	v.connectLoop(ctx)
	wg.Wait()
	return ctx.Err()
}

func (v *Viewer) setRelayStatus(st relaystatus.Status) {
	if prev := v.relay.Load(); prev != nil && prev.ProducerConnected != st.ProducerConnected {
		v.logger.Info("relay producer state changed", "producer_connected", st.ProducerConnected, "source", st.Source)
	}
	v.relay.Store(&st)
}

// connectLoop retries forever with a fixed delay between attempts.
func (v *Viewer) connectLoop(ctx context.Context) {
	for {
		err := v.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			v.lastErrMsg.Store(err.Error())
		}
		v.logger.Warn("relay connection ended, reconnecting", "error", err, "delay", v.cfg.ReconnectDelay)

		timer := time.NewTimer(v.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// consume runs one connection until it fails or ctx ends.
func (v *Viewer) consume(ctx context.Context) error {
	conn, _, err := v.dialer.DialContext(ctx, v.cfg.RelayURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	v.connected.Store(true)
	defer v.connected.Store(false)
	v.connects.Add(1)
	v.logger.Info("connected to relay")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		v.received.Add(1)
		if kind, err := types.Classify(msg); err == nil && kind == types.KindMaze {
			v.queueMaze(msg)
			continue
		}
		if err := v.session.HandleMessage(msg); err != nil {
			v.logger.Warn("relay message rejected", "bytes", len(msg), "error", err)
		}
	}
}

// queueMaze hands msg to the calibration goroutine. A frame still waiting
// there is replaced, since only the newest layout matters.
func (v *Viewer) queueMaze(msg []byte) {
	for {
		select {
		case v.mazes <- msg:
			return
		default:
		}
		select {
		case <-v.mazes:
			v.superseded.Add(1)
			v.logger.Debug("pending maze frame superseded")
		default:
		}
	}
}

func (v *Viewer) calibrateLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-v.mazes:
			if err := v.session.HandleMessage(msg); err != nil {
				v.logger.Warn("maze frame rejected", "bytes", len(msg), "error", err)
			}
		}
	}
}

func (v *Viewer) renderLoop(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / v.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := v.RenderOnce(); err != nil {
				v.logger.Error("render failed", "error", err)
			}
		}
	}
}

// RenderOnce advances the session clock, draws a frame and stores it as PNG.
func (v *Viewer) RenderOnce() ([]byte, error) {
	img := v.renderer.Render(v.session.Tick())
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	v.mu.Lock()
	v.latest = out
	v.mu.Unlock()
	v.rendered.Add(1)
	return out, nil
}

// Latest returns the most recent rendered frame.
func (v *Viewer) Latest() ([]byte, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.latest, v.latest != nil
}

type Status struct {
	Connected  bool                `json:"connected"`
	Connects   uint64              `json:"connects"`
	Received   uint64              `json:"received"`
	Rendered   uint64              `json:"rendered"`
	Superseded uint64              `json:"mazes_superseded"`
	LastError  string              `json:"last_error,omitempty"`
	Session    session.Stats       `json:"session"`
	Relay      *relaystatus.Status `json:"relay,omitempty"`
}

func (v *Viewer) Status() Status {
	s := Status{
		Connected:  v.connected.Load(),
		Connects:   v.connects.Load(),
		Received:   v.received.Load(),
		Rendered:   v.rendered.Load(),
		Superseded: v.superseded.Load(),
		Session:    v.session.Stats(),
		Relay:      v.relay.Load(),
	}
	if msg, ok := v.lastErrMsg.Load().(string); ok {
		s.LastError = msg
	}
	return s
}

// Handler serves /frame.png, /status and /healthz.
func (v *Viewer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/frame.png", func(w http.ResponseWriter, r *http.Request) {
		png, ok := v.Latest()
		if !ok {
			var err error
			if png, err = v.RenderOnce(); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v.Status())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the snapshot HTTP server on addr until ctx ends.
func (v *Viewer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: v.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
