package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Gateway delivers a payload to a user or partner over whatever channel is
// available. Callers treat delivery as best effort: failures are logged by
// the caller and never fail the triggering state transition.
type Gateway interface {
	SendToUser(ctx context.Context, userID string, payload interface{}) error
}

// PushGateway posts JSON to a push provider endpoint (FCM-style).
type PushGateway struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewPushGateway(endpoint, key string) *PushGateway {
	return &PushGateway{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (g *PushGateway) SendToUser(ctx context.Context, userID string, payload interface{}) error {
	body := map[string]interface{}{
		"message": map[string]interface{}{
			"to":   userID,
			"data": payload,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Key != "" {
		req.Header.Set("Authorization", "Bearer "+g.Key)
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Noop drops every notification; used when no provider is configured.
type Noop struct{}

func (Noop) SendToUser(ctx context.Context, userID string, payload interface{}) error { return nil }
