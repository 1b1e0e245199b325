package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/presencesync/presenced/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// OAuthSettings configures the registration handshake with the chat
// workspace.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// AuthURL and TokenURL point at the chat service's OAuth endpoints.
	AuthURL  string
	TokenURL string
}

// pendingAuth tracks an in-flight OAuth handshake keyed by the state nonce.
type pendingAuth struct {
	calendarID string
	createdAt  time.Time
}

// Server is the HTTP bridge: the OAuth registration listener plus a small
// admin API over the registry and engine.
type Server struct {
	registry *registry.Registry
	syncer   Syncer
	oauth    *oauth2.Config
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]pendingAuth

	httpServer *http.Server
}

// NewServer builds the bridge and its router.
func NewServer(listenAddr string, settings OAuthSettings, reg *registry.Registry, syncer Syncer, logger *zap.Logger) *Server {
	s := &Server{
		registry: reg,
		syncer:   syncer,
		oauth: &oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			RedirectURL:  settings.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  settings.AuthURL,
				TokenURL: settings.TokenURL,
			},
		},
		logger:  logger,
		pending: make(map[string]pendingAuth),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/oauth/start", s.handleOAuthStart)
	r.Get("/oauth/callback", s.handleOAuthCallback)
	r.Route("/v1/users", func(r chi.Router) {
		r.Get("/", s.handleListUsers)
		r.Route("/{calendarID}", func(r chi.Router) {
			r.Delete("/", s.handleDeregister)
			r.Post("/resync", s.handleResync)
			r.Post("/pause", s.handleSetPaused(true))
			r.Post("/resume", s.handleSetPaused(false))
		})
	})

	s.httpServer = &http.Server{
		Addr:              listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving. Blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info("http bridge starting", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http bridge stopping")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleOAuthStart begins registration for a calendar identity: it issues a
// state nonce and redirects the user to the chat workspace's consent page.
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	calendarID := r.URL.Query().Get("calendar_id")
	if calendarID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "calendar_id is required"})
		return
	}

	state := uuid.NewString()
	s.mu.Lock()
	s.expirePendingLocked()
	s.pending[state] = pendingAuth{calendarID: calendarID, createdAt: time.Now()}
	s.mu.Unlock()

	http.Redirect(w, r, s.oauth.AuthCodeURL(state), http.StatusFound)
}

// handleOAuthCallback completes the handshake: the exchanged token plus the
// calendar identity captured at start become a registered user.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "state and code are required"})
		return
	}

	s.mu.Lock()
	auth, ok := s.pending[state]
	delete(s.pending, state)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown or expired state"})
		return
	}

	token, err := s.oauth.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Warn("oauth exchange failed",
			zap.String("calendar_id", auth.calendarID),
			zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "token exchange failed"})
		return
	}

	if err := s.register(auth.calendarID, token.AccessToken); err != nil {
		s.logger.Error("registration failed",
			zap.String("calendar_id", auth.calendarID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
		return
	}

	// Fresh registrations sync as soon as the directory binding lands;
	// re-registrations can sync right away.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.syncer.SyncOne(ctx, auth.calendarID); err != nil {
			s.logger.Warn("post-registration sync failed",
				zap.String("calendar_id", auth.calendarID),
				zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{
		"calendar_id": auth.calendarID,
		"message":     "registration complete",
	})
}

// register creates the user, or on re-registration refreshes the token and
// lifts an auth suspension.
func (s *Server) register(calendarID, chatToken string) error {
	err := s.registry.Register(registry.User{
		CalendarID: calendarID,
		ChatToken:  chatToken,
	})
	if errors.Is(err, registry.ErrAlreadyRegistered) {
		return s.registry.Update(calendarID, func(u *registry.User) error {
			u.ChatToken = chatToken
			u.Suspended = false
			return nil
		})
	}
	return err
}

type userView struct {
	CalendarID    string `json:"calendar_id"`
	ChatUserID    string `json:"chat_user_id,omitempty"`
	CurrentStatus string `json:"current_status,omitempty"`
	LastEventID   string `json:"last_event_id,omitempty"`
	Paused        bool   `json:"paused,omitempty"`
	Suspended     bool   `json:"suspended,omitempty"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	users := s.registry.ListAll()
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, userView{
			CalendarID:    u.CalendarID,
			ChatUserID:    u.ChatUserID,
			CurrentStatus: u.CurrentStatus,
			LastEventID:   u.LastEventID,
			Paused:        u.Paused,
			Suspended:     u.Suspended,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": views, "total": len(views)})
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	calendarID := chi.URLParam(r, "calendarID")
	if err := s.registry.Deregister(calendarID); err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"calendar_id": calendarID, "message": "deregistered"})
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	calendarID := chi.URLParam(r, "calendarID")
	if err := s.syncer.SyncOne(r.Context(), calendarID); err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"calendar_id": calendarID, "message": "resynced"})
}

func (s *Server) handleSetPaused(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calendarID := chi.URLParam(r, "calendarID")
		err := s.registry.Update(calendarID, func(u *registry.User) error {
			u.Paused = paused
			return nil
		})
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		msg := "sync resumed"
		if paused {
			msg = "sync paused"
		}
		writeJSON(w, http.StatusOK, map[string]string{"calendar_id": calendarID, "message": msg})
	}
}

// expirePendingLocked drops OAuth states older than ten minutes. Caller
// holds s.mu.
func (s *Server) expirePendingLocked() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for state, auth := range s.pending {
		if auth.createdAt.Before(cutoff) {
			delete(s.pending, state)
		}
	}
}

func writeRegistryError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, registry.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
