package permissions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// HTTPGate queries the host application's authorization engine for a
// user's effective permissions on a resource.
type HTTPGate struct {
	url    string
	client *http.Client
}

// NewHTTPGate builds a gate posting to the given authorization endpoint.
func NewHTTPGate(url string) *HTTPGate {
	return &HTTPGate{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: defaultTimeout},
	}
}

type permissionQuery struct {
	UserID   string `json:"user_id"`
	Resource string `json:"resource"`
}

type permissionReply struct {
	Actions []string `json:"actions"`
}

func (g *HTTPGate) CanLock(ctx context.Context, userID, resource string) (bool, error) {
	if g.url == "" {
		return false, fmt.Errorf("authorization endpoint not configured")
	}
	body, err := json.Marshal(permissionQuery{UserID: userID, Resource: resource})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("authorization query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("authorization query: unexpected status %d", resp.StatusCode)
	}
	var reply permissionReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return false, fmt.Errorf("authorization decode: %w", err)
	}
	return impliesMutation(reply.Actions), nil
}

// impliesMutation reports whether any effective action contains a
// mutating operation name. Actions arrive as dotted capability paths
// (e.g. "content-manager.explorer.update"), hence substring matching.
func impliesMutation(actions []string) bool {
	for _, action := range actions {
		lower := strings.ToLower(action)
		for _, op := range mutatingOps {
			if strings.Contains(lower, op) {
				return true
			}
		}
	}
	return false
}
