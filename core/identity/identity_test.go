package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisplayName(t *testing.T) {
	u := User{ID: "u-1", FirstName: "Ada", LastName: "Lovelace"}
	if got := u.DisplayName(); got != "Ada Lovelace" {
		t.Fatalf("unexpected display name: %s", got)
	}
	if got := (User{ID: "u-2"}).DisplayName(); got != "u-2" {
		t.Fatalf("expected id fallback, got %s", got)
	}
}

func TestStaticVerifyAndLookup(t *testing.T) {
	s := NewStatic()
	s.AddUser("tok-a", User{ID: "u-1", FirstName: "Ada", LastName: "Lovelace"})

	ctx := context.Background()
	user, err := s.VerifyToken(ctx, "tok-a")
	if err != nil || user == nil || user.ID != "u-1" {
		t.Fatalf("verify: user=%#v err=%v", user, err)
	}
	if _, err := s.VerifyToken(ctx, "bogus"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := s.VerifyToken(ctx, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for empty token, got %v", err)
	}

	user, err = s.Lookup(ctx, "u-1")
	if err != nil || user == nil || user.DisplayName() != "Ada Lovelace" {
		t.Fatalf("lookup: user=%#v err=%v", user, err)
	}
	user, err = s.Lookup(ctx, "missing")
	if err != nil || user != nil {
		t.Fatalf("expected nil for unknown user, got %#v err=%v", user, err)
	}
}

func TestHTTPProviderVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["token"] != "tok-a" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(User{ID: "u-1", FirstName: "Ada", LastName: "Lovelace"})
		case "/users/u-1":
			_ = json.NewEncoder(w).Encode(User{ID: "u-1", FirstName: "Ada", LastName: "Lovelace"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	ctx := context.Background()

	user, err := p.VerifyToken(ctx, "tok-a")
	if err != nil || user == nil || user.ID != "u-1" {
		t.Fatalf("verify: user=%#v err=%v", user, err)
	}
	if _, err := p.VerifyToken(ctx, "wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}

	user, err = p.Lookup(ctx, "u-1")
	if err != nil || user == nil || user.LastName != "Lovelace" {
		t.Fatalf("lookup: user=%#v err=%v", user, err)
	}
	user, err = p.Lookup(ctx, "missing")
	if err != nil || user != nil {
		t.Fatalf("expected nil for unknown user, got %#v err=%v", user, err)
	}
}
