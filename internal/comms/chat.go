package comms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// HTTPChat is a ChatClient for a chat gateway that exposes sending, invites
// and presence queries over HTTP:
//
//	POST {BaseURL}/messages  {"from": ..., "to": ..., "body": ...}
//	POST {BaseURL}/invites   {"from": ..., "to": ...}
//	GET  {BaseURL}/presence?jid=...&from=...  -> {"available": true}
type HTTPChat struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type chatMessage struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body,omitempty"`
}

type chatPresence struct {
	Available bool `json:"available"`
}

func (c *HTTPChat) Send(ctx context.Context, fromJID, toJID, text string) error {
	return c.post(ctx, "/messages", chatMessage{From: fromJID, To: toJID, Body: text})
}

func (c *HTTPChat) Invite(ctx context.Context, fromJID, toJID string) error {
	return c.post(ctx, "/invites", chatMessage{From: fromJID, To: toJID})
}

func (c *HTTPChat) Presence(ctx context.Context, jid, viaJID string) (bool, error) {
	q := url.Values{"jid": {jid}, "from": {viaJID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/presence")+"?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	res, err := c.do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	var p chatPresence
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return false, fmt.Errorf("decoding presence: %w", err)
	}
	return p.Available, nil
}

func (c *HTTPChat) post(ctx context.Context, path string, payload chatMessage) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.do(req)
	if err != nil {
		return err
	}
	return res.Body.Close()
}

func (c *HTTPChat) url(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

// do sends the request and turns non-2xx responses into errors.
func (c *HTTPChat) do(req *http.Request) (*http.Response, error) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat gateway: %w", err)
	}
	if res.StatusCode/100 != 2 {
		res.Body.Close()
		return nil, fmt.Errorf("chat gateway: unexpected status %d for %s", res.StatusCode, req.URL.Path)
	}
	return res, nil
}
