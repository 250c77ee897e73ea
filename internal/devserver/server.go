// Package devserver is an in-memory implementation of the agent chat backend
// for local development and integration tests.
package devserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/ashureev/agentchat/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// APIPrefix is the mount point of the REST API.
const APIPrefix = "/api/v1"

// Options configures a Server.
type Options struct {
	// FrontendURL is the allowed browser origin. Empty means development
	// mode, where any origin is accepted.
	FrontendURL string
	Responder   Responder
	Logger      *slog.Logger
	// AccessLog enables chi's request logger.
	AccessLog bool
}

// Server serves the REST API and chat sockets from memory.
type Server struct {
	state     *state
	sessions  *SessionManager
	responder Responder
	logger    *slog.Logger

	allowedOrigin string
	accessLog     bool

	uploadsMu sync.RWMutex
	uploads   map[string][]byte
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Responder == nil {
		opts.Responder = EchoResponder{}
	}
	return &Server{
		state:         newState(),
		sessions:      NewSessionManager(opts.Logger),
		responder:     opts.Responder,
		logger:        opts.Logger,
		allowedOrigin: opts.FrontendURL,
		accessLog:     opts.AccessLog,
		uploads:       make(map[string][]byte),
	}
}

// Sessions returns the live chat socket registry.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

func (s *Server) isDevelopment() bool {
	return s.allowedOrigin == "" ||
		strings.Contains(s.allowedOrigin, "localhost") ||
		strings.Contains(s.allowedOrigin, "127.0.0.1")
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if s.accessLog {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	origins := []string{"*"}
	if !s.isDevelopment() {
		origins = []string{s.allowedOrigin}
	}
	r.Use(middleware.CORS(origins))

	r.Get("/static/{name}", s.serveStatic)

	r.Route(APIPrefix, func(r chi.Router) {
		r.Post("/auth/signup", s.signup)
		r.Post("/auth/token", s.login)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/auth/me", s.me)
			r.Post("/auth/logout", s.logout)

			r.Get("/tags/{kind}", s.listTags)

			r.Route("/agents", func(r chi.Router) {
				r.Get("/", s.listAgents)
				r.Post("/", s.createAgent)
				r.Route("/{agentID}", func(r chi.Router) {
					r.Get("/", s.getAgent)
					r.Put("/", s.updateAgent)
					r.Delete("/", s.deleteAgent)
					r.Post("/generate-image", s.generateImage)
					r.Get("/generation-log", s.generationLog)
					r.Delete("/image", s.deleteProfileImage)
					r.Get("/images", s.listImages)
					r.Post("/images", s.uploadImage)
					r.Delete("/images/{imageID}", s.deleteImage)
					r.Put("/images/{imageID}/set-primary", s.setPrimaryImage)
				})
			})
		})

		r.Route("/chats", func(r chi.Router) {
			// The socket authenticates with the token query parameter.
			r.Get("/ws/{chatID}", s.chatSocket)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Post("/", s.createChat)
				r.Get("/agent/{agentID}", s.listChats)
				r.Get("/{chatID}", s.getChat)
				r.Delete("/{chatID}", s.deleteChat)
				r.Get("/{chatID}/messages", s.listMessages)
			})
		})
	})

	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response in the backend's {"detail": ...} shape.
func Error(w http.ResponseWriter, status int, detail string) {
	JSON(w, status, map[string]string{"detail": detail})
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func decodeBody(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.uploadsMu.RLock()
	data, ok := s.uploads[name]
	s.uploadsMu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	_, _ = w.Write(data)
}
