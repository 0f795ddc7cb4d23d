package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codehive-dev/codehive/pkg/assistant"
	"github.com/codehive-dev/codehive/pkg/identity"
	"github.com/codehive-dev/codehive/pkg/store"
)

func newTestAPI(t *testing.T, producer assistant.Producer) *httptest.Server {
	t.Helper()
	tokens, err := identity.NewTokenVerifier([]byte("test-secret"), time.Hour)
	if err != nil {
		t.Fatalf("token verifier: %v", err)
	}

	api := New(store.NewMemoryStore(), tokens, producer, nil)
	mux := http.NewServeMux()
	api.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func register(t *testing.T, ts *httptest.Server, name, email string) authResponse {
	t.Helper()
	var auth authResponse
	status := doJSON(t, http.MethodPost, ts.URL+"/users/register", "",
		registerRequest{Name: name, Email: email, Password: "hunter22"}, &auth)
	if status != http.StatusCreated {
		t.Fatalf("register status = %d", status)
	}
	return auth
}

func TestRegisterLoginProfile(t *testing.T) {
	ts := newTestAPI(t, nil)

	auth := register(t, ts, "Alice", "alice@example.com")
	if auth.Token == "" || auth.User.Email != "alice@example.com" {
		t.Fatalf("register response = %+v", auth)
	}

	var login authResponse
	status := doJSON(t, http.MethodPost, ts.URL+"/users/login", "",
		loginRequest{Email: "Alice@Example.com", Password: "hunter22"}, &login)
	if status != http.StatusOK {
		t.Fatalf("login status = %d", status)
	}
	if login.User.ID != auth.User.ID {
		t.Errorf("login user = %+v, want %+v", login.User, auth.User)
	}

	var profile userResponse
	status = doJSON(t, http.MethodGet, ts.URL+"/users/profile", login.Token, nil, &profile)
	if status != http.StatusOK || profile.ID != auth.User.ID {
		t.Errorf("profile status = %d, body = %+v", status, profile)
	}
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestAPI(t, nil)

	tests := []struct {
		name string
		req  registerRequest
		want int
	}{
		{"missing name", registerRequest{Email: "a@b.c", Password: "hunter22"}, http.StatusBadRequest},
		{"short password", registerRequest{Name: "A", Email: "a@b.c", Password: "abc"}, http.StatusBadRequest},
		{"valid", registerRequest{Name: "A", Email: "a@b.c", Password: "hunter22"}, http.StatusCreated},
		{"duplicate email", registerRequest{Name: "B", Email: "A@B.C", Password: "hunter22"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := doJSON(t, http.MethodPost, ts.URL+"/users/register", "", tt.req, nil); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestAPI(t, nil)
	register(t, ts, "Alice", "alice@example.com")

	if got := doJSON(t, http.MethodPost, ts.URL+"/users/login", "",
		loginRequest{Email: "alice@example.com", Password: "wrong"}, nil); got != http.StatusUnauthorized {
		t.Errorf("bad password status = %d", got)
	}
	if got := doJSON(t, http.MethodPost, ts.URL+"/users/login", "",
		loginRequest{Email: "nobody@example.com", Password: "hunter22"}, nil); got != http.StatusUnauthorized {
		t.Errorf("unknown email status = %d", got)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestAPI(t, nil)

	if got := doJSON(t, http.MethodGet, ts.URL+"/users/profile", "", nil, nil); got != http.StatusUnauthorized {
		t.Errorf("no token status = %d", got)
	}
	if got := doJSON(t, http.MethodGet, ts.URL+"/users/profile", "forged.token.here", nil, nil); got != http.StatusUnauthorized {
		t.Errorf("forged token status = %d", got)
	}
}

func TestProjectLifecycle(t *testing.T) {
	ts := newTestAPI(t, nil)
	alice := register(t, ts, "Alice", "alice@example.com")
	bob := register(t, ts, "Bob", "bob@example.com")

	var project projectResponse
	status := doJSON(t, http.MethodPost, ts.URL+"/projects/create", alice.Token,
		createProjectRequest{Name: "demo"}, &project)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}
	if len(project.MemberIDs) != 1 || project.MemberIDs[0] != alice.User.ID {
		t.Fatalf("creator not sole member: %+v", project)
	}

	// Bob cannot see it yet.
	url := fmt.Sprintf("%s/projects/get-project/%s", ts.URL, project.ID)
	if got := doJSON(t, http.MethodGet, url, bob.Token, nil, nil); got != http.StatusForbidden {
		t.Errorf("non-member get status = %d", got)
	}

	// Only members may add collaborators.
	addReq := addUsersRequest{ProjectID: project.ID, UserIDs: []string{bob.User.ID}}
	if got := doJSON(t, http.MethodPut, ts.URL+"/projects/add-user", bob.Token, addReq, nil); got != http.StatusForbidden {
		t.Errorf("non-member add status = %d", got)
	}

	var updated projectResponse
	status = doJSON(t, http.MethodPut, ts.URL+"/projects/add-user", alice.Token, addReq, &updated)
	if status != http.StatusOK {
		t.Fatalf("add status = %d", status)
	}
	if len(updated.MemberIDs) != 2 {
		t.Errorf("members = %v, want alice and bob", updated.MemberIDs)
	}

	// Now Bob sees it in his listing and can fetch it.
	var projects []projectResponse
	status = doJSON(t, http.MethodGet, ts.URL+"/projects/all", bob.Token, nil, &projects)
	if status != http.StatusOK || len(projects) != 1 || projects[0].ID != project.ID {
		t.Errorf("bob projects = %+v (status %d)", projects, status)
	}
	if got := doJSON(t, http.MethodGet, url, bob.Token, nil, nil); got != http.StatusOK {
		t.Errorf("member get status = %d", got)
	}
}

func TestAddUsersRejectsUnknownUser(t *testing.T) {
	ts := newTestAPI(t, nil)
	alice := register(t, ts, "Alice", "alice@example.com")

	var project projectResponse
	doJSON(t, http.MethodPost, ts.URL+"/projects/create", alice.Token,
		createProjectRequest{Name: "demo"}, &project)

	addReq := addUsersRequest{ProjectID: project.ID, UserIDs: []string{"ghost"}}
	if got := doJSON(t, http.MethodPut, ts.URL+"/projects/add-user", alice.Token, addReq, nil); got != http.StatusBadRequest {
		t.Errorf("unknown user status = %d", got)
	}
}

func TestListUsersExcludesCaller(t *testing.T) {
	ts := newTestAPI(t, nil)
	alice := register(t, ts, "Alice", "alice@example.com")
	register(t, ts, "Bob", "bob@example.com")

	var users []userResponse
	status := doJSON(t, http.MethodGet, ts.URL+"/users/all", alice.Token, nil, &users)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if len(users) != 1 || users[0].Email != "bob@example.com" {
		t.Errorf("users = %+v, want just bob", users)
	}
}

func TestAssistantEndpoint(t *testing.T) {
	produced := assistant.ProducerFunc(func(ctx context.Context, prompt string) (string, error) {
		return "echo: " + prompt, nil
	})
	ts := newTestAPI(t, produced)
	alice := register(t, ts, "Alice", "alice@example.com")

	var out map[string]string
	status := doJSON(t, http.MethodGet, ts.URL+"/ai/get-result?prompt=hello", alice.Token, nil, &out)
	if status != http.StatusOK || out["result"] != "echo: hello" {
		t.Errorf("status = %d, body = %+v", status, out)
	}

	if got := doJSON(t, http.MethodGet, ts.URL+"/ai/get-result", alice.Token, nil, nil); got != http.StatusBadRequest {
		t.Errorf("empty prompt status = %d", got)
	}
}

func TestAssistantNotConfigured(t *testing.T) {
	ts := newTestAPI(t, nil)
	alice := register(t, ts, "Alice", "alice@example.com")

	if got := doJSON(t, http.MethodGet, ts.URL+"/ai/get-result?prompt=hi", alice.Token, nil, nil); got != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", got)
	}
}
