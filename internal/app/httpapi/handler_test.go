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

	app "github.com/civicworks/grantflow/internal/app"
	"github.com/civicworks/grantflow/internal/app/domain/user"
	"github.com/civicworks/grantflow/internal/app/domain/validation"
	"github.com/civicworks/grantflow/internal/app/storage/memory"
)

var testSecret = []byte("test-secret")

func newServer(t *testing.T) (*httptest.Server, *app.Application, *memory.Store) {
	t.Helper()
	store := memory.New()
	application, err := app.New(app.Stores{
		Users:        store,
		Validations:  store,
		Projects:     store,
		Funds:        store,
		Applications: store,
	}, app.Options{TokenTTL: time.Hour, PurgeSchedule: "@every 1h"}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	})

	srv := httptest.NewServer(NewHandler(application, testSecret, nil))
	t.Cleanup(srv.Close)
	return srv, application, store
}

func doJSON(t *testing.T, method, url, token string, payload any) *http.Response {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	srv, _, _ := newServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/register", "", map[string]string{
		"username":      "frida",
		"email":         "frida@example.org",
		"password":      "password123",
		"validationUrl": "https://app/confirm/{{id}}?token={{token}}",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	var created map[string]any
	decodeBody(t, resp, &created)
	if _, leaked := created["passwordHash"]; leaked {
		t.Fatal("password hash leaked into the response")
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/login", "", map[string]string{
		"identifier": "frida",
		"password":   "wrong",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/login", "", map[string]string{
		"identifier": "frida@example.org",
		"password":   "password123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var session struct {
		Token string         `json:"token"`
		User  map[string]any `json:"user"`
	}
	decodeBody(t, resp, &session)
	if session.Token == "" {
		t.Fatal("login must return a session token")
	}

	// The session works against a protected route.
	userID, _ := session.User["id"].(string)
	resp = doJSON(t, http.MethodGet, srv.URL+"/users/"+userID, session.Token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("self lookup status = %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRejectBadTokens(t *testing.T) {
	srv, _, _ := newServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/projects", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/projects", "not-a-jwt", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d", resp.StatusCode)
	}
}

func TestConfirmActivationOverHTTP(t *testing.T) {
	srv, _, store := newServer(t)
	ctx := context.Background()

	resp := doJSON(t, http.MethodPost, srv.URL+"/register", "", map[string]string{
		"username":      "gus",
		"email":         "gus@example.org",
		"password":      "password123",
		"validationUrl": "https://app/confirm/{{id}}?token={{token}}",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	// The activation mail is produced off the message bus; wait for the
	// token to land.
	var tok validation.Token
	deadline := time.Now().Add(2 * time.Second)
	for {
		tokens, err := store.ListExpiredTokens(ctx, time.Now().UTC().Add(2*time.Hour))
		if err != nil {
			t.Fatalf("list tokens: %v", err)
		}
		if len(tokens) == 1 {
			tok = tokens[0]
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("activation token never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp = doJSON(t, http.MethodPost, fmt.Sprintf("%s/validations/%s/confirm", srv.URL, tok.ID), "", map[string]any{
		"token": tok.Token,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status = %d", resp.StatusCode)
	}
	var confirmed struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	decodeBody(t, resp, &confirmed)
	if confirmed.Type != string(validation.TypeAccountActivation) {
		t.Fatalf("confirmed type = %q", confirmed.Type)
	}

	u, err := store.GetUser(ctx, tok.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.Validated {
		t.Fatal("confirmation must validate the account")
	}

	// Replays read as missing.
	resp = doJSON(t, http.MethodPost, fmt.Sprintf("%s/validations/%s/confirm", srv.URL, tok.ID), "", map[string]any{
		"token": tok.Token,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("replay status = %d", resp.StatusCode)
	}
}

func TestForbiddenResponsesAreOpaque(t *testing.T) {
	srv, _, store := newServer(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, user.User{
		Username: "hank",
		Email:    "hank@example.org",
		Roles:    []string{user.RoleUser},
		Active:   true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := IssueToken(testSecret, u, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/funds", token, map[string]any{
		"Name": "Sneaky fund",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error != "access denied" {
		t.Fatalf("refusal must not carry a reason, got %q", body.Error)
	}
}

func TestNotFoundMapping(t *testing.T) {
	srv, _, store := newServer(t)
	ctx := context.Background()

	u, _ := store.CreateUser(ctx, user.User{
		Username: "ivy",
		Email:    "ivy@example.org",
		Roles:    []string{user.RoleUser},
		Active:   true,
	})
	token, err := IssueToken(testSecret, u, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/projects/no-such-project", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
