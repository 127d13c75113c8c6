package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.io/infrasutra/mockinvoice/internal/auth"
	"github.io/infrasutra/mockinvoice/internal/store"
)

const (
	authMethodToken     = "bearer"
	authMethodAPIKey    = "api_key"
	authMethodAnonymous = "anonymous"
	apiKeyHeader        = "X-API-Key"
)

var errBadRequest = errors.New("bad request")

type principal struct {
	Username  string
	Role      string
	Email     string
	Method    string
	ExpiresAt *time.Time
}

type principalKey struct{}

func principalFrom(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalKey{}).(principal)
	return p, ok
}

// authenticate resolves the caller from a bearer token or an API key. When auth
// is disabled and always is false, requests pass as an anonymous admin.
func (s *Server) authenticate(always bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !always && !s.cfg.Auth.Enabled {
				p := principal{Username: authMethodAnonymous, Role: store.RoleAdmin, Method: authMethodAnonymous}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
				return
			}

			if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
				if !s.validAPIKey(key) {
					unauthorized(w, "Invalid API key")
					return
				}
				p := principal{Username: authMethodAPIKey, Role: store.RoleCandidate, Method: authMethodAPIKey}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
				return
			}

			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				unauthorized(w, "Not authenticated")
				return
			}
			claims, err := s.tokens.Parse(strings.TrimSpace(token), s.now())
			if err != nil {
				unauthorized(w, "Could not validate credentials")
				return
			}
			p := principal{
				Username: claims.Subject,
				Role:     claims.Role,
				Email:    claims.Email,
				Method:   authMethodToken,
			}
			if claims.ExpiresAt != nil {
				exp := claims.ExpiresAt.Time
				p.ExpiresAt = &exp
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
		})
	}
}

func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r.Context())
			if !ok {
				unauthorized(w, "Not authenticated")
				return
			}
			if p.Role != role {
				respondError(w, http.StatusForbidden, fmt.Sprintf("%s access required", titleRole(role)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) validAPIKey(key string) bool {
	for _, candidate := range s.cfg.Auth.APIKeys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	respondError(w, http.StatusUnauthorized, detail)
}

func titleRole(role string) string {
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type userResponse struct {
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	FullName  string  `json:"full_name"`
	Role      string  `json:"role"`
	Disabled  bool    `json:"disabled"`
	LastLogin *string `json:"last_login"`
}

func toUserResponse(u store.User) userResponse {
	resp := userResponse{
		Username: u.Username,
		Email:    u.Email,
		FullName: u.FullName,
		Role:     u.Role,
		Disabled: u.Disabled,
	}
	if !u.LastLogin.IsZero() {
		last := u.LastLogin.UTC().Format(time.RFC3339)
		resp.LastLogin = &last
	}
	return resp
}

// handleToken accepts credentials as JSON or as an OAuth2 password form.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			respondError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		creds.Username = r.PostForm.Get("username")
		creds.Password = r.PostForm.Get("password")
	} else if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.users.Authenticate(r.Context(), creds.Username, creds.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			unauthorized(w, "Incorrect username or password")
			return
		}
		s.respondServiceError(w, r, err)
		return
	}
	token, err := s.tokens.Issue(user, s.now())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.logger.Info("token issued", "username", user.Username, "role", user.Role)
	respondJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg auth.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	user, err := s.users.Register(r.Context(), reg)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidRegistration):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrUserExists):
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Username '%s' already exists", reg.Username))
		default:
			s.respondServiceError(w, r, err)
		}
		return
	}
	p, _ := principalFrom(r.Context())
	s.logger.Info("user registered", "username", user.Username, "role", user.Role, "by", p.Username)
	respondJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if p.Method != authMethodToken {
		respondJSON(w, http.StatusOK, userResponse{Username: p.Username, Role: p.Role})
		return
	}
	user, err := s.users.Get(r.Context(), p.Username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "User not found")
			return
		}
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var expiresAt *int64
	if p.ExpiresAt != nil {
		unix := p.ExpiresAt.Unix()
		expiresAt = &unix
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"valid":      true,
		"username":   p.Username,
		"role":       p.Role,
		"email":      p.Email,
		"method":     p.Method,
		"expires_at": expiresAt,
	})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	respondJSON(w, http.StatusOK, resp)
}
