package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Gateway creates uniquely-priced QR payment codes through the external
// payment provider. The provider returns an image URL which is downloaded
// and handed to the chat front-end as raw bytes.
type Gateway struct {
	baseURL  string
	apiKey   string
	qrisCode string
	http     *http.Client
	log      *zap.Logger
}

func NewGateway(baseURL, apiKey, qrisCode string, timeout time.Duration, log *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		baseURL:  baseURL,
		apiKey:   apiKey,
		qrisCode: qrisCode,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

type createPaymentResponse struct {
	Status string `json:"status"`
	Result struct {
		ImageQRIS struct {
			URL string `json:"url"`
		} `json:"imageqris"`
	} `json:"result"`
}

// CreatePayment requests a QR code for the exact final amount and returns
// the image bytes.
func (g *Gateway) CreatePayment(ctx context.Context, amount int64) ([]byte, error) {
	q := url.Values{}
	q.Set("apikey", g.apiKey)
	q.Set("amount", fmt.Sprintf("%d", amount))
	q.Set("codeqr", g.qrisCode)

	endpoint := fmt.Sprintf("%s/createpayment?%s", g.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build payment request: %w", err)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	defer resp.Body.Close()

	var payload createPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}
	if payload.Status != "success" || payload.Result.ImageQRIS.URL == "" {
		return nil, fmt.Errorf("payment gateway rejected request (status %q)", payload.Status)
	}

	return g.fetchImage(ctx, payload.Result.ImageQRIS.URL)
}

func (g *Gateway) fetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download QR image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("QR image returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read QR image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty QR image")
	}
	return data, nil
}
