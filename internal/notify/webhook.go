package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"
)

const (
	senderTimeout = 10 * time.Second
	errBodyLimit  = 1024
)

// statusError is a non-2xx reply from a chat API.
type statusError struct {
	sender string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.sender, e.status, e.body)
}

// postJSON sends payload to url. Non-2xx replies become *statusError with the
// head of the response body.
func postJSON(ctx context.Context, client *http.Client, sender, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", sender, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", sender, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// Bot tokens and webhook secrets live in the URL; drop it.
		var ue *neturl.Error
		if errors.As(err, &ue) {
			return fmt.Errorf("%s: %s request failed: %w", sender, ue.Op, ue.Err)
		}
		return fmt.Errorf("%s: request failed", sender)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		head, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return &statusError{sender: sender, status: resp.StatusCode, body: string(bytes.TrimSpace(head))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
