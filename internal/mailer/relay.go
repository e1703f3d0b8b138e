package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// RelayMailer отправляет письма через внешний HTTP-шлюз доставки почты.
type RelayMailer struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

type relayRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewRelayMailer создаёт HTTP-клиент почтового шлюза по указанному адресу.
func NewRelayMailer(baseURL string) *RelayMailer {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 3 * time.Second
	client.HTTPClient.Timeout = 5 * time.Second
	client.Logger = nil

	return &RelayMailer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// Send передаёт письмо шлюзу. Ошибки сетевого уровня повторяются клиентом,
// итоговый неуспех возвращается вызывающему.
func (m *RelayMailer) Send(ctx context.Context, to, subject, body string) error {
	if m == nil || m.baseURL == "" {
		return fmt.Errorf("relay mailer not configured")
	}

	base := m.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload, err := json.Marshal(relayRequest{
		To:      to,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := base + "/api/send"

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
