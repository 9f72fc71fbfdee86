package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dailylift/dailylift/internal/domain"
	"github.com/google/uuid"
)

// webhookDispatcher posts messages to the SMS gateway's HTTP endpoint. The
// gateway owns carrier-address formation (email gateway vs. direct API); this
// side only reports success or failure, bounded by the client timeout so a
// hung gateway can never block the poller indefinitely.
type webhookDispatcher struct {
	gatewayURL string
	httpClient *http.Client
}

func NewWebhookDispatcher(gatewayURL string, timeout time.Duration) Dispatcher {
	if timeout <= 0 {
		timeout = time.Second * 5
	}
	return &webhookDispatcher{
		gatewayURL: gatewayURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (d *webhookDispatcher) Send(ctx context.Context, sub *domain.Subscriber, msg *domain.ScheduledMessage) error {
	payload := map[string]string{
		"to":      sub.PhoneNumber,
		"carrier": sub.Carrier,
		"content": msg.Body,
	}
	if msg.ImageURL != "" {
		payload["image_url"] = msg.ImageURL
	}
	jsonPayload, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.gatewayURL, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDispatchFailure, err)
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("X-Request-ID", uuid.NewString())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDispatchFailure, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode >= http.StatusInternalServerError:
		// 5XX indicates a gateway-side fault, worth retrying.
		return fmt.Errorf("%w: gateway returned %d (requestId %s)",
			domain.ErrDispatchFailure, resp.StatusCode, resp.Header.Get("X-Request-ID"))
	default:
		// 4XX indicates the gateway refused the message itself.
		return fmt.Errorf("%w: gateway returned %d (requestId %s)",
			ErrRejected, resp.StatusCode, resp.Header.Get("X-Request-ID"))
	}
}
