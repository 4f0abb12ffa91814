package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vpnstore/internal/model"

	"go.uber.org/zap"
)

// Client pulls recent transactions from the bank mutation endpoint. It is
// the single point of contact with the external feed; callers treat the
// feed as eventually consistent and possibly repeating entries across calls.
type Client struct {
	url      string
	username string
	token    string
	http     *http.Client
	log      *zap.Logger
}

func NewClient(feedURL, username, token string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		url:      feedURL,
		username: username,
		token:    token,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

// mutationResponse mirrors the feed payload. Amounts arrive as
// thousands-separated strings and are normalized downstream.
type mutationResponse struct {
	Success bool `json:"success"`
	History struct {
		Success bool `json:"success"`
		Results []struct {
			ReferenceID string `json:"reference_id"`
			Credit      string `json:"kredit"`
			Status      string `json:"status"`
		} `json:"results"`
	} `json:"qris_history"`
}

// FetchRecent returns the transactions visible in this poll cycle. Any
// transport or payload failure is an error the caller logs and treats as an
// empty cycle; it never fails a pending request.
func (c *Client) FetchRecent(ctx context.Context) ([]model.Transaction, error) {
	form := url.Values{}
	form.Set("requests[qris_history][page]", "1")
	form.Set("auth_username", c.username)
	form.Set("auth_token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build mutation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch mutations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mutation endpoint returned status %d", resp.StatusCode)
	}

	var payload mutationResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode mutation response: %w", err)
	}
	if !payload.Success || !payload.History.Success {
		return nil, fmt.Errorf("mutation endpoint reported failure")
	}

	txs := make([]model.Transaction, 0, len(payload.History.Results))
	for _, r := range payload.History.Results {
		amount, err := ParseAmount(r.Credit)
		if err != nil {
			c.log.Warn("skipping mutation with bad amount",
				zap.String("reference", r.ReferenceID),
				zap.String("kredit", r.Credit))
			continue
		}
		txs = append(txs, model.Transaction{
			Reference: r.ReferenceID,
			Amount:    amount,
			Status:    strings.ToUpper(strings.TrimSpace(r.Status)),
		})
	}
	return txs, nil
}

// ParseAmount normalizes a feed amount like "100.123" or "1,500" to integer
// minor units. The separators are thousands marks, not decimal points.
func ParseAmount(s string) (int64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == '.' || r == ',' || r == ' ' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}
	v, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}
