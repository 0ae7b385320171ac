package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"optionflow/logger"
	"optionflow/models"
)

const defaultRESTTimeout = 10 * time.Second

// QuoteSource is the narrow REST surface the fetcher and the expiry
// cache consume.
type QuoteSource interface {
	Quote(ctx context.Context, symbol, exchange string) (*models.OptionQuote, error)
	Expiries(ctx context.Context, symbol, exchange string) ([]string, error)
}

// RESTClient calls the OpenAlgo HTTP API. All endpoints are POST with
// the api key in the JSON body and answer {status, data} envelopes.
type RESTClient struct {
	host   string
	apiKey string
	client *http.Client
	log    *logger.Log
}

func NewRESTClient(host, apiKey string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = defaultRESTTimeout
	}
	return &RESTClient{
		host:   strings.TrimRight(host, "/"),
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		log:    logger.GetLogger(),
	}
}

type quoteRequest struct {
	APIKey   string `json:"apikey"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

type expiryRequest struct {
	APIKey         string `json:"apikey"`
	Symbol         string `json:"symbol"`
	Exchange       string `json:"exchange"`
	InstrumentType string `json:"instrumenttype"`
}

type quoteEnvelope struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Data    quotePayload  `json:"data"`
}

type quotePayload struct {
	LTP        float64 `json:"ltp"`
	OI         int64   `json:"oi"`
	Volume     int64   `json:"volume"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	ImpliedVol float64 `json:"iv"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	PrevClose  float64 `json:"prev_close"`
}

type expiryEnvelope struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Data    []string `json:"data"`
}

// Quote fetches the latest quote for a symbol on an exchange.
func (c *RESTClient) Quote(ctx context.Context, symbol, exchange string) (*models.OptionQuote, error) {
	body, err := c.post(ctx, "/api/v1/quotes", quoteRequest{
		APIKey:   c.apiKey,
		Symbol:   symbol,
		Exchange: exchange,
	})
	if err != nil {
		return nil, fmt.Errorf("quote request for %s failed: %w", symbol, err)
	}

	var env quoteEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode quote response for %s: %w", symbol, err)
	}
	if env.Status != "success" {
		return nil, fmt.Errorf("quote request for %s rejected: %s", symbol, env.Message)
	}

	return &models.OptionQuote{
		LTP:        env.Data.LTP,
		OI:         env.Data.OI,
		Volume:     env.Data.Volume,
		Bid:        env.Data.Bid,
		Ask:        env.Data.Ask,
		ImpliedVol: env.Data.ImpliedVol,
		Open:       env.Data.Open,
		High:       env.Data.High,
		Low:        env.Data.Low,
		Close:      env.Data.PrevClose,
	}, nil
}

// Expiries fetches the option expiry list for an underlying, nearest
// first as the server returns it.
func (c *RESTClient) Expiries(ctx context.Context, symbol, exchange string) ([]string, error) {
	body, err := c.post(ctx, "/api/v1/expiry", expiryRequest{
		APIKey:         c.apiKey,
		Symbol:         symbol,
		Exchange:       exchange,
		InstrumentType: "options",
	})
	if err != nil {
		return nil, fmt.Errorf("expiry request for %s failed: %w", symbol, err)
	}

	var env expiryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode expiry response for %s: %w", symbol, err)
	}
	if env.Status != "success" {
		return nil, fmt.Errorf("expiry request for %s rejected: %s", symbol, env.Message)
	}
	return env.Data, nil
}

func (c *RESTClient) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
