package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"maze-relay-go/internal/broker"
	"maze-relay-go/internal/config"
)

type Server struct {
	upgrader websocket.Upgrader
	broker   *broker.Broker
	cfg      config.RelayConfig
	statusFn func() map[string]any
	logger   *slog.Logger
}

func New(cfg config.RelayConfig, b *broker.Broker, statusFn func() map[string]any, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		broker:   b,
		cfg:      cfg,
		statusFn: statusFn,
		logger:   logger,
	}
}

// Handler routes the producer paths, the consumer path and the HTTP
// endpoints. Any other path, websocket upgrade or not, is a 404.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, p := range s.cfg.ProducerPaths() {
		mux.HandleFunc(p, s.handleProducer)
	}
	mux.HandleFunc(s.cfg.ConsumerPath, s.handleConsumer)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	if s.cfg.ConsumerPath != "/" {
		mux.HandleFunc("/", http.NotFound)
	}
	return mux
}

func Run(ctx context.Context, cfg config.RelayConfig, b *broker.Broker, statusFn func() map[string]any, logger *slog.Logger) error {
	srv := New(cfg, b, statusFn, logger)
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		b.Close()
	}()

	srv.logger.Info("relay listening", "port", cfg.Port,
		"producer_paths", cfg.ProducerPaths(), "consumer_path", cfg.ConsumerPath)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*wsConn, bool) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "path", r.URL.Path, "error", err)
		return nil, false
	}
	conn.SetReadLimit(s.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	c := newWSConn(conn, s.cfg.ConsumerBuffer, s.cfg.WriteWait, s.cfg.PingEvery(), s.logger)
	go c.writePump()
	return c, true
}

func (s *Server) handleProducer(w http.ResponseWriter, r *http.Request) {
	c, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	peer, err := s.broker.AcceptProducer(c)
	if err != nil {
		return
	}
	go func() {
		defer func() {
			s.broker.OnProducerDisconnect(peer)
			_ = c.Close()
		}()
		for {
			messageType, payload, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn("producer read failed", "error", err)
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
			if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
				continue
			}
			s.broker.OnProducerMessage(payload)
		}
	}()
}

func (s *Server) handleConsumer(w http.ResponseWriter, r *http.Request) {
	c, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	peer, err := s.broker.AcceptConsumer(c)
	if err != nil {
		_ = c.Close()
		return
	}
	go func() {
		defer func() {
			s.broker.OnConsumerDisconnect(peer)
			_ = c.Close()
		}()
		for {
			// Consumers have nothing to say; reading keeps pongs and close frames flowing.
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{
		"port":            s.cfg.Port,
		"producer_paths":  s.cfg.ProducerPaths(),
		"consumer_path":   s.cfg.ConsumerPath,
		"read_limit":      s.cfg.ReadLimit,
		"consumer_buffer": s.cfg.ConsumerBuffer,
		"replay_maze":     s.cfg.ReplayMaze,
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{}
	if s.statusFn != nil {
		if m := s.statusFn(); m != nil {
			payload = m
		}
	}
	payload["broker"] = s.broker.Stats()
	_ = json.NewEncoder(w).Encode(payload)
}
