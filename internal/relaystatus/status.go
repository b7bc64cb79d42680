// Package relaystatus polls a relay's /status endpoint so a consumer can tell
// whether a producer is feeding the relay at all.
package relaystatus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"maze-relay-go/internal/broker"
)

type Status struct {
	// State is "ok", "error" or "http_<code>".
	State             string    `json:"state"`
	Source            string    `json:"source,omitempty"`
	ProducerConnected bool      `json:"producer_connected"`
	Consumers         int       `json:"consumers"`
	Relayed           uint64    `json:"relayed"`
	Dropped           uint64    `json:"dropped"`
	CheckedAt         time.Time `json:"checked_at"`
}

// StatusURL derives the status endpoint from a consumer websocket URL.
func StatusURL(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.Path = "/status"
	u.RawQuery = ""
	return u.String(), nil
}

// Poll fetches the status immediately and then every interval until ctx ends.
func Poll(ctx context.Context, statusURL string, interval time.Duration, update func(Status)) {
	if statusURL == "" || update == nil || interval <= 0 {
		return
	}
	client := &http.Client{
		Timeout: 900 * time.Millisecond,
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		update(Fetch(ctx, client, statusURL))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type payload struct {
	Source string       `json:"source"`
	Broker broker.Stats `json:"broker"`
}

func Fetch(ctx context.Context, client *http.Client, endpoint string) Status {
	st := Status{State: "error", CheckedAt: time.Now()}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return st
	}
	resp, err := client.Do(req)
	if err != nil {
		return st
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		st.State = fmt.Sprintf("http_%d", resp.StatusCode)
		return st
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return st
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return st
	}
	st.State = "ok"
	st.Source = strings.TrimSpace(p.Source)
	st.ProducerConnected = p.Broker.ProducerConnected
	st.Consumers = p.Broker.Consumers
	st.Relayed = p.Broker.Relayed
	st.Dropped = p.Broker.Dropped
	return st
}
