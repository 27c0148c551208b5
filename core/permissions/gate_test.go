package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestImpliesMutation(t *testing.T) {
	cases := map[string]struct {
		actions []string
		want    bool
	}{
		"update action":    {[]string{"plugin::content-manager.explorer.update"}, true},
		"publish action":   {[]string{"plugin::content-manager.explorer.publish"}, true},
		"read only":        {[]string{"plugin::content-manager.explorer.read"}, false},
		"mixed":            {[]string{"explorer.read", "explorer.delete"}, true},
		"case insensitive": {[]string{"Explorer.Create"}, true},
		"empty":            {nil, false},
	}
	for name, tc := range cases {
		if got := impliesMutation(tc.actions); got != tc.want {
			t.Fatalf("%s: got %v want %v", name, got, tc.want)
		}
	}
}

func TestHTTPGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q permissionQuery
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch q.UserID {
		case "editor":
			_ = json.NewEncoder(w).Encode(permissionReply{Actions: []string{"explorer.update"}})
		case "viewer":
			_ = json.NewEncoder(w).Encode(permissionReply{Actions: []string{"explorer.read"}})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	gate := NewHTTPGate(srv.URL)
	ctx := context.Background()

	if ok, err := gate.CanLock(ctx, "editor", "api::article.article"); err != nil || !ok {
		t.Fatalf("expected grant, ok=%v err=%v", ok, err)
	}
	if ok, err := gate.CanLock(ctx, "viewer", "api::article.article"); err != nil || ok {
		t.Fatalf("expected denial, ok=%v err=%v", ok, err)
	}
	// Engine failure must surface as an error, never a grant.
	if ok, err := gate.CanLock(ctx, "broken", "api::article.article"); err == nil || ok {
		t.Fatalf("expected fail-closed error, ok=%v err=%v", ok, err)
	}
}

func TestHTTPGateUnconfigured(t *testing.T) {
	gate := NewHTTPGate("")
	if ok, err := gate.CanLock(context.Background(), "u", "r"); err == nil || ok {
		t.Fatalf("expected error for missing endpoint, ok=%v err=%v", ok, err)
	}
}

func TestStaticGate(t *testing.T) {
	gate := NewStatic()
	gate.Allow("u-1", "api::article.article")
	gate.AllowAll("admin")

	ctx := context.Background()
	if ok, _ := gate.CanLock(ctx, "u-1", "api::article.article"); !ok {
		t.Fatalf("expected grant")
	}
	if ok, _ := gate.CanLock(ctx, "u-1", "api::page.page"); ok {
		t.Fatalf("expected denial for unlisted resource")
	}
	if ok, _ := gate.CanLock(ctx, "admin", "anything"); !ok {
		t.Fatalf("expected allow-all grant")
	}

	gate.FailWith(errors.New("engine down"))
	if ok, err := gate.CanLock(ctx, "admin", "anything"); err == nil || ok {
		t.Fatalf("expected injected failure, ok=%v err=%v", ok, err)
	}
}
