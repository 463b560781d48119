// ABOUTME: HTTP server wiring: routes, listeners, lifecycle
// ABOUTME: Serves over plain TCP or a tsnet node with optional Funnel

// Package server assembles the dayline-server HTTP API: signed device
// endpoints for the social graph and encrypted relay, public published
// timelines, blob serving, and the operator admin surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/dayline-app/dayline-server/internal/auth"
	"github.com/dayline-app/dayline-server/internal/blob"
	"github.com/dayline-app/dayline-server/internal/config"
	"github.com/dayline-app/dayline-server/internal/ratelimit"
	"github.com/dayline-app/dayline-server/internal/store"
)

// Payload caps enforced before anything touches the store. Ciphertext sizes
// come from the client protocol; ids are client-generated and bounded.
const (
	maxCiphertextLen = 200000
	maxEnvelopeLen   = 10000
	maxClientIDLen   = 128
)

// publicReadsPerSecond shapes the per-IP throttle on unauthenticated
// published-timeline reads.
const (
	publicReadsPerSecond = 5
	publicReadBurst      = 20
)

// Server is the assembled dayline-server instance
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	blobs    *blob.Store
	limiter  *ratelimit.Limiter
	verifier *auth.Verifier
	operator auth.TokenVerifier
	throttle *ratelimit.IPThrottle
	baseURL  string

	httpServer  *http.Server
	tsnetServer *tsnet.Server
	redisClient *redis.Client
}

// New assembles a server from configuration. The SQLite store, blob
// directory, and (when enabled) the Redis connection are opened here.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	blobs, err := blob.NewStore(cfg.Blobs.Dir)
	if err != nil {
		sqlStore.Close()
		return nil, fmt.Errorf("initializing blob store: %w", err)
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		store:    sqlStore,
		blobs:    blobs,
		verifier: auth.NewVerifier(sqlStore, cfg.Auth.Window, logger),
		throttle: ratelimit.NewIPThrottle(publicReadsPerSecond, publicReadBurst),
		baseURL:  resolveBaseURL(cfg),
	}

	var counters ratelimit.Counters = sqlStore
	if cfg.Redis.Enabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		counters = ratelimit.NewRedisCounters(s.redisClient)
		logger.Info("rate limit counters backed by redis", "addr", cfg.Redis.Addr)
	}
	s.limiter = ratelimit.NewLimiter(counters)

	if cfg.Auth.AdminSecret != "" {
		s.operator = auth.NewJWTVerifier([]byte(cfg.Auth.AdminSecret))
	} else {
		logger.Warn("auth.admin_secret not set, admin endpoints disabled")
	}

	s.httpServer = &http.Server{
		Handler:           s.requestLogger(s.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func resolveBaseURL(cfg *config.Config) string {
	if cfg.Server.BaseURL != "" {
		return strings.TrimSuffix(cfg.Server.BaseURL, "/")
	}
	if cfg.Tailscale.Enabled {
		// Updated once the tsnet node reports its DNS name
		return ""
	}
	return "http://" + cfg.Server.HTTPAddr
}

// routes builds the ServeMux. Signed routes go through the signature
// middleware; public timeline reads go through the IP throttle.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	signed := auth.Middleware(s.verifier)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	mux.Handle("GET /blobs/", s.blobs.Handler("/blobs/"))

	// Registration is the only unauthenticated write against the user table
	mux.HandleFunc("POST /api/users/register", s.handleRegister)

	mux.Handle("GET /api/me", signed(http.HandlerFunc(s.handleMe)))
	mux.Handle("POST /api/users/rename", signed(http.HandlerFunc(s.handleRename)))
	mux.Handle("POST /api/me/avatar", signed(http.HandlerFunc(s.handleUpdateAvatar)))
	mux.Handle("POST /api/me/devices", signed(http.HandlerFunc(s.handleAddDevice)))

	mux.Handle("GET /api/friends", signed(http.HandlerFunc(s.handleListFriends)))
	mux.Handle("GET /api/friends/requests", signed(http.HandlerFunc(s.handleListFriendRequests)))
	mux.Handle("POST /api/friends/requests", signed(http.HandlerFunc(s.handleCreateFriendRequest)))
	mux.Handle("POST /api/friends/requests/{id}", signed(http.HandlerFunc(s.handleAcceptFriendRequest)))
	mux.Handle("POST /api/friends/requests/{id}/reject", signed(http.HandlerFunc(s.handleRejectFriendRequest)))

	mux.Handle("GET /api/blocks", signed(http.HandlerFunc(s.handleListBlocks)))
	mux.Handle("POST /api/blocks", signed(http.HandlerFunc(s.handleCreateBlock)))
	mux.Handle("DELETE /api/blocks/{userId}", signed(http.HandlerFunc(s.handleDeleteBlock)))

	mux.Handle("GET /api/rooms", signed(http.HandlerFunc(s.handleListRooms)))
	mux.Handle("POST /api/rooms", signed(http.HandlerFunc(s.handleCreateRoom)))
	mux.Handle("GET /api/rooms/invites", signed(http.HandlerFunc(s.handleListMyInvites)))
	mux.Handle("POST /api/rooms/invites/{id}", signed(http.HandlerFunc(s.handleAcceptRoomInvite)))
	mux.Handle("POST /api/rooms/invites/{id}/reject", signed(http.HandlerFunc(s.handleDeclineRoomInvite)))
	mux.Handle("GET /api/rooms/{roomId}", signed(http.HandlerFunc(s.handleGetRoom)))
	mux.Handle("GET /api/rooms/{roomId}/members", signed(http.HandlerFunc(s.handleListRoomMembers)))
	mux.Handle("GET /api/rooms/{roomId}/invites", signed(http.HandlerFunc(s.handleListRoomInvites)))
	mux.Handle("POST /api/rooms/{roomId}/invites", signed(http.HandlerFunc(s.handleCreateRoomInvite)))
	mux.Handle("GET /api/rooms/{roomId}/keys", signed(http.HandlerFunc(s.handleGetRoomKeys)))
	mux.Handle("POST /api/rooms/{roomId}/keys", signed(http.HandlerFunc(s.handlePostRoomKeys)))
	mux.Handle("GET /api/rooms/{roomId}/events", signed(http.HandlerFunc(s.handleListRoomEvents)))
	mux.Handle("POST /api/rooms/{roomId}/events", signed(http.HandlerFunc(s.handleCreateRoomEvent)))
	mux.Handle("DELETE /api/rooms/{roomId}/events/{eventId}", signed(http.HandlerFunc(s.handleDeleteRoomEvent)))
	mux.Handle("POST /api/rooms/{roomId}/events/{eventId}/image", signed(http.HandlerFunc(s.handleUploadRoomEventImage)))

	mux.Handle("GET /api/chats", signed(http.HandlerFunc(s.handleListChats)))
	mux.Handle("POST /api/chats/dm", signed(http.HandlerFunc(s.handleCreateDM)))
	mux.Handle("POST /api/chats/project/{roomId}", signed(http.HandlerFunc(s.handleCreateProjectChat)))
	mux.Handle("GET /api/chats/{threadId}/messages", signed(http.HandlerFunc(s.handleListMessages)))
	mux.Handle("POST /api/chats/{threadId}/messages", signed(http.HandlerFunc(s.handleSendMessage)))

	mux.HandleFunc("POST /api/published-projects", s.handleCreatePublishedProject)
	mux.Handle("GET /api/published-projects/{publicId}", s.throttled(s.handleGetPublishedProject))
	mux.Handle("GET /api/published-projects/{publicId}/events", s.throttled(s.handleListPublishedEvents))
	mux.HandleFunc("POST /api/published-projects/{publicId}/events", s.handleCreatePublishedEvent)
	mux.HandleFunc("POST /api/published-projects/{publicId}/events/{eventId}/image", s.handleUploadPublishedImage)

	operator := auth.RequireOperator(s.operator)
	mux.Handle("POST /api/admin/maintenance", operator(http.HandlerFunc(s.handleAdminMaintenance)))

	return mux
}

// throttled guards a public read handler with the per-IP token bucket
func (s *Server) throttled(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIPFromRequest(r)
		if !s.throttle.Allow(ip) {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next(w, r)
	})
}

// clientIPFromRequest prefers proxy headers, falling back to the socket peer
func clientIPFromRequest(r *http.Request) string {
	ip := ratelimit.ClientIP(r.Header)
	if ip != "unknown" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// enforceLimit applies a fixed-window limit and writes the response on
// failure. Returns true when the request may proceed.
func (s *Server) enforceLimit(w http.ResponseWriter, r *http.Request, key string, limit int, window time.Duration) bool {
	if err := s.limiter.Enforce(r.Context(), key, limit, window); err != nil {
		ratelimit.WriteError(w, err)
		return false
	}
	return true
}

// requestLogger logs one line per request in the access-log style
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Readiness means the database answers
	if _, err := s.store.GetUser(r.Context(), "readiness-probe"); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "database not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Run starts the server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if serving fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serveErr = <-errCh:
		s.logger.Error("server error", "error", serveErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// setupListener creates the TCP or tsnet listener per configuration
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "dayline-server", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node. With funnel enabled the
// server is reachable from the public internet on :443, which is what makes
// shared timelines work outside the tailnet.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)
	s.updateBaseURLFromStatus(status)

	if tsCfg.Funnel {
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	}

	ln, err := s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// updateBaseURLFromStatus points share links and blob URLs at the node's DNS
// name when no explicit base_url is configured.
func (s *Server) updateBaseURLFromStatus(status *ipnstate.Status) {
	if s.config.Server.BaseURL != "" || status.Self == nil || status.Self.DNSName == "" {
		return
	}
	cleanDNS := strings.TrimSuffix(status.Self.DNSName, ".")
	s.baseURL = "https://" + cleanDNS
	s.logger.Info("base URL set from tailscale DNS name", "base_url", s.baseURL)
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases resources
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down HTTP server: %w", err))
	}

	s.throttle.Close()

	if s.tsnetServer != nil {
		if err := s.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing tailscale node: %w", err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis client: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}
