package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"vpnstore/internal/model"

	"go.uber.org/zap"
)

// Result is the structured outcome of a panel operation. OK carries the
// success/failure decision once, at the boundary; nothing downstream sniffs
// the message text.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Request carries everything a panel needs for one operation.
type Request struct {
	Action      model.Action
	AccountType model.AccountType
	Server      *model.Server
	Username    string
	Password    string
	Days        int
	Quota       int
	IPLimit     int
}

// Client is the opaque provisioning back-end. A call may fail for external
// reasons (panel error, quota full); the coordinator trusts the result
// verbatim and never retries automatically.
type Client interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// PanelClient talks to the account panel running on each server over HTTPS.
type PanelClient struct {
	http *http.Client
	log  *zap.Logger
}

func NewPanelClient(timeout time.Duration, log *zap.Logger) *PanelClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &PanelClient{
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

type panelResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Invoke performs one panel operation. A transport error or timeout is
// returned as an error; a panel-reported failure comes back as a Result
// with OK=false.
func (p *PanelClient) Invoke(ctx context.Context, req Request) (Result, error) {
	q := url.Values{}
	q.Set("user", req.Username)
	q.Set("auth", req.Server.Auth)
	if req.Password != "" {
		q.Set("password", req.Password)
	}
	if req.Days > 0 {
		q.Set("exp", fmt.Sprintf("%d", req.Days))
	}
	if req.Quota > 0 {
		q.Set("quota", fmt.Sprintf("%d", req.Quota))
	}
	if req.IPLimit > 0 {
		q.Set("iplimit", fmt.Sprintf("%d", req.IPLimit))
	}

	endpoint := fmt.Sprintf("https://%s/%s%s?%s", req.Server.Domain, req.Action, req.AccountType, q.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build panel request: %w", err)
	}

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("panel call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("panel returned status %d", resp.StatusCode)
	}

	var payload panelResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode panel response: %w", err)
	}

	ok := payload.Status == "success"
	if !ok {
		p.log.Warn("panel reported failure",
			zap.String("server", req.Server.Domain),
			zap.String("action", string(req.Action)),
			zap.String("type", string(req.AccountType)),
			zap.String("message", payload.Message))
	}
	return Result{OK: ok, Message: payload.Message}, nil
}
