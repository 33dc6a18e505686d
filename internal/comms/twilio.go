package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultTwilioBaseURL is the Twilio REST API endpoint.
const DefaultTwilioBaseURL = "https://api.twilio.com"

// Twilio sends SMS messages through the Twilio Messages API.
type Twilio struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	Client     *http.Client
}

// twilioError is the JSON body Twilio returns for rejected requests.
type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// SendSMS posts the message as a form-encoded request and fails on any
// non-2xx response.
func (t *Twilio) SendSMS(ctx context.Context, fromNumber, toNumber, body string) error {
	base := t.BaseURL
	if base == "" {
		base = DefaultTwilioBaseURL
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(base, "/"), url.PathEscape(t.AccountSID))
	form := url.Values{
		"From": {fromNumber},
		"To":   {toNumber},
		"Body": {body},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.AccountSID, t.AuthToken)

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if res.StatusCode/100 == 2 {
		return nil
	}
	var te twilioError
	if json.Unmarshal(resBody, &te) == nil && te.Message != "" {
		return fmt.Errorf("twilio: %s (code %d, status %d)", te.Message, te.Code, res.StatusCode)
	}
	return fmt.Errorf("twilio: unexpected status %d", res.StatusCode)
}
