package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

// HTTPStreamDialer connects to the server's text/event-stream endpoint.
type HTTPStreamDialer struct {
	BaseURL string
	Client  *http.Client
}

func (d *HTTPStreamDialer) Dial(ctx context.Context, sub Subscription) (Stream, error) {
	u, err := url.Parse(strings.TrimRight(d.BaseURL, "/") + "/api/v1/achievements/stream")
	if err != nil {
		return nil, fmt.Errorf("invalid stream url: %w", err)
	}
	q := u.Query()
	q.Set("userId", sub.UserID)
	if len(sub.Categories) > 0 {
		q.Set("categories", strings.Join(sub.Categories, ","))
	}
	if len(sub.EntityIDs) > 0 {
		q.Set("entities", strings.Join(sub.EntityIDs, ","))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream endpoint returned %s", resp.Status)
	}
	return &eventStream{body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
}

type eventStream struct {
	body io.ReadCloser
	r    *bufio.Reader
}

// Recv returns the next event's data decoded as a message. Comments, ids and
// retry hints are skipped.
func (s *eventStream) Recv() (models.Message, error) {
	var data strings.Builder
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return models.Message{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if data.Len() == 0 {
				continue
			}
			var msg models.Message
			if err := json.Unmarshal([]byte(data.String()), &msg); err != nil {
				return models.Message{}, fmt.Errorf("malformed stream event: %w", err)
			}
			return msg, nil
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field == "data" {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
}

func (s *eventStream) Close() error {
	return s.body.Close()
}
