package ledgerstub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/dvloznov/ledgerx-smoke/internal/api/middleware"
)

const tokenTTL = 24 * time.Hour

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" || body.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.MinCost)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if _, exists := s.users[email]; exists {
		s.mu.Unlock()
		http.Error(w, `ERROR: duplicate key value violates unique constraint "users_email_key" (SQLSTATE 23505)`, http.StatusBadRequest)
		return
	}
	u := &user{ID: s.id("user"), Email: email, PasswordHash: hash}
	s.users[email] = u
	s.mu.Unlock()

	s.log.Info().Int64("user_id", u.ID).Str("email", email).Msg("User registered")
	s.writeToken(w, u.ID)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(body.Email))]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(body.Password)); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	s.writeToken(w, u.ID)
}

func (s *Server) writeToken(w http.ResponseWriter, userID int64) {
	tok, err := s.issueToken(userID)
	if err != nil {
		middleware.WriteError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) issueToken(userID int64) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     s.opts.Now().Add(tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.Secret)
}

// verifyToken checks the signature and returns the user_id claim.
func (s *Server) verifyToken(tok string) (int64, error) {
	parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) {
		return s.opts.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.opts.Now))
	if err != nil {
		return 0, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}
	id, ok := claims["user_id"].(float64)
	if !ok || id == 0 {
		return 0, fmt.Errorf("token has no user_id")
	}
	return int64(id), nil
}
