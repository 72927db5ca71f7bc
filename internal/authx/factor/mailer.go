package factor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// APIMailer delivers codes through an HTTP mail API. The request is a JSON
// POST authenticated with a bearer key.
type APIMailer struct {
	URL    string
	APIKey string

	// Client defaults to a 10s-timeout http.Client.
	Client *http.Client
}

func (m *APIMailer) httpClient() *http.Client {
	if m.Client != nil {
		return m.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (m *APIMailer) SendCode(ctx context.Context, email, code string) error {
	body, err := json.Marshal(map[string]string{
		"to":      email,
		"subject": "Your verification code",
		"text":    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(OTPCodeTTL.Minutes())),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.APIKey)

	res, err := m.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("mail send: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("mail send: unexpected status %d", res.StatusCode)
	}
	return nil
}
