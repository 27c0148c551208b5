package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// HTTPProvider speaks to the host application's identity endpoints:
// POST {base}/verify with the token, GET {base}/users/{id} for profiles.
type HTTPProvider struct {
	base   string
	client *http.Client
}

// NewHTTPProvider builds a provider for the given base URL.
func NewHTTPProvider(base string) *HTTPProvider {
	return &HTTPProvider{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: defaultTimeout},
	}
}

func (p *HTTPProvider) VerifyToken(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity verify: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthenticated
	default:
		return nil, fmt.Errorf("identity verify: unexpected status %d", resp.StatusCode)
	}
	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("identity verify decode: %w", err)
	}
	if user.ID == "" {
		return nil, ErrUnauthenticated
	}
	return &user, nil
}

func (p *HTTPProvider) Lookup(ctx context.Context, userID string) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity lookup: unexpected status %d", resp.StatusCode)
	}
	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("identity lookup decode: %w", err)
	}
	return &user, nil
}
