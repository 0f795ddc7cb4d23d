// Package httpapi serves the account and project REST surface: the
// registration, login, and project CRUD a client needs before it can
// open a realtime session.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/codehive-dev/codehive/pkg/assistant"
	"github.com/codehive-dev/codehive/pkg/identity"
	"github.com/codehive-dev/codehive/pkg/observability"
	"github.com/codehive-dev/codehive/pkg/store"
)

type ctxKey int

const identityKey ctxKey = 0

// API is the REST handler set.
type API struct {
	store    store.Store
	tokens   *identity.TokenVerifier
	producer assistant.Producer
	logger   *slog.Logger
}

// New creates the API. producer may be nil, which turns the assistant
// endpoint into a 503.
func New(s store.Store, tokens *identity.TokenVerifier, producer assistant.Producer, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:    s,
		tokens:   tokens,
		producer: producer,
		logger:   logger,
	}
}

// Register installs the routes onto the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.Handle("POST /users/register", a.instrument("/users/register", http.HandlerFunc(a.handleRegister)))
	mux.Handle("POST /users/login", a.instrument("/users/login", http.HandlerFunc(a.handleLogin)))
	mux.Handle("GET /users/logout", a.instrument("/users/logout", a.requireAuth(a.handleLogout)))
	mux.Handle("GET /users/profile", a.instrument("/users/profile", a.requireAuth(a.handleProfile)))
	mux.Handle("GET /users/all", a.instrument("/users/all", a.requireAuth(a.handleListUsers)))
	mux.Handle("POST /projects/create", a.instrument("/projects/create", a.requireAuth(a.handleCreateProject)))
	mux.Handle("GET /projects/all", a.instrument("/projects/all", a.requireAuth(a.handleListProjects)))
	mux.Handle("PUT /projects/add-user", a.instrument("/projects/add-user", a.requireAuth(a.handleAddUsers)))
	mux.Handle("GET /projects/get-project/{projectID}", a.instrument("/projects/get-project/{projectID}", a.requireAuth(a.handleGetProject)))
	mux.Handle("GET /ai/get-result", a.instrument("/ai/get-result", a.requireAuth(a.handleAssistant)))
}

// instrument records request count and latency per route.
func (a *API) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		observability.RecordHTTPRequest(r.Method, route, strconv.Itoa(sw.status), time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requireAuth resolves the bearer token and stashes the identity in the
// request context.
func (a *API) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		cred, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || cred == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := a.tokens.Verify(r.Context(), cred)
		if err != nil {
			if errors.Is(err, identity.ErrUnauthenticated) {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			a.logger.Error("verify token", "error", err)
			writeError(w, http.StatusInternalServerError, "verification unavailable")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func callerIdentity(r *http.Request) identity.Identity {
	id, _ := r.Context().Value(identityKey).(identity.Identity)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type authResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Email: u.Email}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" || req.Email == "" || len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "name, email, and a password of at least 6 characters are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		a.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	u := &store.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		a.logger.Error("create user", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	token, err := a.tokens.Issue(identity.Identity{ID: u.ID, Name: u.Name, Email: u.Email})
	if err != nil {
		a.logger.Error("issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{User: toUserResponse(u), Token: token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	u, err := a.store.UserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		a.logger.Error("lookup user", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := a.tokens.Issue(identity.Identity{ID: u.ID, Name: u.Name, Email: u.Email})
	if err != nil {
		a.logger.Error("issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: toUserResponse(u), Token: token})
}

// handleLogout exists for client symmetry. Tokens are stateless, so the
// client discards its copy; there is nothing to revoke server-side.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	id := callerIdentity(r)
	u, err := a.store.UserByID(r.Context(), id.ID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		a.logger.Error("lookup user", "error", err)
		writeError(w, http.StatusInternalServerError, "profile unavailable")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)
	users, err := a.store.ListUsers(r.Context())
	if err != nil {
		a.logger.Error("list users", "error", err)
		writeError(w, http.StatusInternalServerError, "listing unavailable")
		return
	}

	// The caller is excluded: the list feeds the add-collaborator
	// picker, and you cannot add yourself twice.
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		if u.ID == caller.ID {
			continue
		}
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, out)
}

type createProjectRequest struct {
	Name string `json:"name"`
}

type projectResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MemberIDs []string  `json:"memberIds"`
	CreatedAt time.Time `json:"createdAt"`
}

func toProjectResponse(p *store.Project) projectResponse {
	return projectResponse{ID: p.ID, Name: p.Name, MemberIDs: p.MemberIDs, CreatedAt: p.CreatedAt}
}

func (a *API) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "project name is required")
		return
	}

	p := &store.Project{
		ID:        uuid.NewString(),
		Name:      req.Name,
		MemberIDs: []string{caller.ID},
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateProject(r.Context(), p); err != nil {
		a.logger.Error("create project", "error", err)
		writeError(w, http.StatusInternalServerError, "project creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, toProjectResponse(p))
}

func (a *API) handleListProjects(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)
	projects, err := a.store.ProjectsForUser(r.Context(), caller.ID)
	if err != nil {
		a.logger.Error("list projects", "error", err)
		writeError(w, http.StatusInternalServerError, "listing unavailable")
		return
	}

	out := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

type addUsersRequest struct {
	ProjectID string   `json:"projectId"`
	UserIDs   []string `json:"users"`
}

func (a *API) handleAddUsers(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)

	var req addUsersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.ProjectID == "" || len(req.UserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "projectId and users are required")
		return
	}

	p, err := a.store.Project(r.Context(), req.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		a.logger.Error("lookup project", "error", err)
		writeError(w, http.StatusInternalServerError, "project unavailable")
		return
	}
	if !p.HasMember(caller.ID) {
		writeError(w, http.StatusForbidden, "not a project member")
		return
	}

	// Every id must resolve before any membership changes.
	for _, userID := range req.UserIDs {
		if _, err := a.store.UserByID(r.Context(), userID); err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				writeError(w, http.StatusBadRequest, "unknown user: "+userID)
				return
			}
			a.logger.Error("lookup user", "error", err)
			writeError(w, http.StatusInternalServerError, "project unavailable")
			return
		}
	}

	if err := a.store.AddMembers(r.Context(), req.ProjectID, req.UserIDs); err != nil {
		a.logger.Error("add members", "error", err)
		writeError(w, http.StatusInternalServerError, "membership update failed")
		return
	}

	p, err = a.store.Project(r.Context(), req.ProjectID)
	if err != nil {
		a.logger.Error("reload project", "error", err)
		writeError(w, http.StatusInternalServerError, "project unavailable")
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)
	projectID := r.PathValue("projectID")

	p, err := a.store.Project(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		a.logger.Error("lookup project", "error", err)
		writeError(w, http.StatusInternalServerError, "project unavailable")
		return
	}
	if !p.HasMember(caller.ID) {
		writeError(w, http.StatusForbidden, "not a project member")
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

func (a *API) handleAssistant(w http.ResponseWriter, r *http.Request) {
	if a.producer == nil {
		writeError(w, http.StatusServiceUnavailable, "assistant not configured")
		return
	}
	prompt := strings.TrimSpace(r.URL.Query().Get("prompt"))
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	result, err := a.producer.Generate(r.Context(), prompt)
	if err != nil {
		a.logger.Error("assistant generate", "error", err)
		writeError(w, http.StatusBadGateway, "assistant unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}
