package devserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type contextKey int

const (
	userIDKey contextKey = iota
	tokenKey
)

// UserIDFromContext extracts the authenticated user id.
func UserIDFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(userIDKey).(int64); ok {
		return v
	}
	return 0
}

func tokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// requireAuth resolves the bearer token to a user or answers 401.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		userID, ok := s.state.userForToken(token)
		if token == "" || !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			Error(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		Error(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("Failed to hash password", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	u, err := s.state.addUser(req.Username, req.Email, hash)
	if errors.Is(err, errDuplicate) {
		Error(w, http.StatusBadRequest, "Username already registered")
		return
	}
	s.logger.Info("User registered", "user_id", u.ID, "username", u.Username)
	JSON(w, http.StatusOK, userResponse{ID: u.ID, Username: u.Username, Email: u.Email})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		Error(w, http.StatusUnprocessableEntity, "invalid form")
		return
	}
	u, ok := s.state.userByName(r.PostForm.Get("username"))
	if !ok || bcrypt.CompareHashAndPassword(u.Hash, []byte(r.PostForm.Get("password"))) != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		Error(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	token, err := generateToken()
	if err != nil {
		s.logger.Error("Failed to issue token", "error", err)
		Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	s.state.issueToken(token, u.ID)
	s.logger.Info("User logged in", "user_id", u.ID)
	JSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	s.state.mu.Lock()
	u, ok := s.state.users[userID]
	var resp userResponse
	if ok {
		resp = userResponse{ID: u.ID, Username: u.Username, Email: u.Email}
	}
	s.state.mu.Unlock()
	if !ok {
		Error(w, http.StatusNotFound, "User not found")
		return
	}
	JSON(w, http.StatusOK, resp)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.state.revokeToken(tokenFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
