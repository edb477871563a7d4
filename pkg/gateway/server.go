// Package gateway exposes the small HTTP surface external callers use to
// reach the runtime without going through a long-lived channel listener:
// pairing for new bearer-token issuance, generic webhook ingestion for
// platforms that push rather than poll, and a websocket for interactive
// clients. The HTTP plumbing follows the net/http client style already used
// in pkg/providers/http_provider.go, turned server-side.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/config"
	"github.com/asteroniris/asteroniris/pkg/logger"
)

// WebhookProvider identifies which per-provider secret and parsing
// convention a /webhook/{provider} route should apply.
type WebhookProvider struct {
	Name   string
	Secret []byte
	// Handle parses the verified body into an inbound message and returns
	// true if it should be forwarded to the bus (false to silently ack,
	// e.g. a platform's own challenge/verification request).
	Handle func(body []byte) (bus.InboundMessage, bool, error)
}

// Server is the Gateway's HTTP surface.
type Server struct {
	cfg      config.GatewayConfig
	bus      *bus.MessageBus
	pairing  *PairingStore
	replay   *ReplayCache
	limiter  *rate.Limiter
	upgrader websocket.Upgrader
	webhooks map[string]WebhookProvider
	conns    sync.Map // chatID -> *websocket.Conn

	httpServer *http.Server
}

func New(cfg config.GatewayConfig, msgBus *bus.MessageBus) *Server {
	return &Server{
		cfg:     cfg,
		bus:     msgBus,
		pairing: NewPairingStore(),
		replay:  NewReplayCache(10 * time.Minute),
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		webhooks: make(map[string]WebhookProvider),
	}
}

// RegisterWebhook adds a per-provider webhook route at /webhook/{name}.
func (s *Server) RegisterWebhook(p WebhookProvider) {
	s.webhooks[p.Name] = p
}

// Start binds and serves the HTTP surface. Binding to a non-loopback
// address is refused unless AllowPublicBind is set — a tunnel adapter
// terminating on loopback and forwarding externally satisfies the same
// guarantee without needing the opt-in.
func (s *Server) Start(ctx context.Context) error {
	if err := s.checkBindAddress(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pair", s.handlePair)
	mux.HandleFunc("/webhook/", s.handleWebhook)
	mux.HandleFunc("/ws", s.handleWebsocket)

	handler := s.withLimits(mux)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(s.requestTimeoutSeconds()) * time.Second,
		WriteTimeout: time.Duration(s.requestTimeoutSeconds()) * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("gateway", "http server exited", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.InfoCF("gateway", "gateway listening", map[string]interface{}{"addr": addr})
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) checkBindAddress() error {
	if s.cfg.AllowPublicBind {
		return nil
	}
	host := s.cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		return fmt.Errorf("gateway: refusing to bind non-loopback address %q without allow_public_bind", host)
	}
	ip := net.ParseIP(host)
	if ip != nil && !ip.IsLoopback() {
		return fmt.Errorf("gateway: refusing to bind non-loopback address %q without allow_public_bind", host)
	}
	if host != "localhost" && ip == nil {
		return fmt.Errorf("gateway: refusing to bind non-loopback address %q without allow_public_bind", host)
	}
	return nil
}

func (s *Server) requestTimeoutSeconds() int {
	if s.cfg.RequestTimeoutSeconds <= 0 {
		return 30
	}
	return s.cfg.RequestTimeoutSeconds
}

func (s *Server) maxBodyBytes() int64 {
	if s.cfg.MaxBodyBytes <= 0 {
		return 64 * 1024
	}
	return s.cfg.MaxBodyBytes
}

// withLimits applies the uniform body-size cap and per-remote rate limit
// every route goes through before reaching its handler.
func (s *Server) withLimits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		code := s.pairing.NewCode()
		json.NewEncoder(w).Encode(map[string]string{"code": code})
	case http.MethodPost:
		var req struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		token, err := s.pairing.Confirm(req.Code)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/webhook/")
	provider, ok := s.webhooks[name]
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	signature := r.Header.Get("X-Signature")
	if !VerifySignature(provider.Secret, body, signature) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	messageID := r.Header.Get("X-Message-Id")
	if messageID != "" && s.replay.Seen(messageID) {
		w.WriteHeader(http.StatusOK) // ack silently, don't re-process
		return
	}

	msg, forward, err := provider.Handle(body)
	if err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if forward && s.bus != nil {
		s.bus.PublishInbound(msg)
	}
	w.WriteHeader(http.StatusOK)
}

// handleWebsocket registers the live connection under its chat id so Send
// can later target it directly. A single shared outbound bus consumer
// (owned by the Supervisor) dispatches each OutboundMessage to whichever
// channel's Send matches its Channel field — the Gateway must not also
// drain the bus itself, or it would race that dispatcher for messages
// meant for Telegram, Discord, or any other channel.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("gateway", "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		chatID = randomDigits(12)
	}
	s.conns.Store(chatID, conn)
	defer s.conns.Delete(chatID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var inbound struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(data, &inbound); err != nil {
			continue
		}
		if s.bus != nil {
			s.bus.PublishInbound(bus.InboundMessage{
				Channel:    "ws",
				ChatID:     chatID,
				Content:    inbound.Content,
				SessionKey: "ws:" + chatID,
			})
		}
	}
}

// Send delivers an outbound reply to the websocket connection registered
// for msg.ChatID, satisfying the same Send shape every channel adapter
// implements so a shared outbound dispatcher can treat the Gateway as just
// another channel destination.
func (s *Server) Send(ctx context.Context, msg bus.OutboundMessage) error {
	v, ok := s.conns.Load(msg.ChatID)
	if !ok {
		return fmt.Errorf("gateway: no open websocket for chat_id %q", msg.ChatID)
	}
	conn := v.(*websocket.Conn)
	return conn.WriteJSON(msg)
}

