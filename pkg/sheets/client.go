// Package sheets is a thin client for the Google Sheets v4 values API.
// Authentication is delegated to a TokenSource so OAuth acquisition and
// refresh stay outside this package.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://sheets.googleapis.com/v4"

// TokenSource returns a valid bearer credential. Implementations own refresh.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed credential.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(_ context.Context) (string, error) {
	if t == "" {
		return "", eris.New("sheets: empty token")
	}
	return string(t), nil
}

// Client performs Google Sheets API operations.
type Client interface {
	Metadata(ctx context.Context, spreadsheetID string) (*Spreadsheet, error)
	GetValues(ctx context.Context, spreadsheetID, valueRange string) (*ValueRange, error)
	UpdateValues(ctx context.Context, spreadsheetID, valueRange string, values [][]any) error
	AppendValues(ctx context.Context, spreadsheetID, valueRange string, values [][]any) error
}

// Spreadsheet holds the metadata subset the pipeline needs.
type Spreadsheet struct {
	SpreadsheetID string     `json:"spreadsheetId"`
	Properties    Properties `json:"properties"`
	Sheets        []Sheet    `json:"sheets"`
}

// Properties holds spreadsheet-level properties.
type Properties struct {
	Title string `json:"title"`
}

// Sheet is one tab of a spreadsheet.
type Sheet struct {
	Properties SheetProperties `json:"properties"`
}

// SheetProperties holds tab-level properties.
type SheetProperties struct {
	SheetID int    `json:"sheetId"`
	Title   string `json:"title"`
	Index   int    `json:"index"`
}

// ValueRange is the values payload for reads and writes.
type ValueRange struct {
	Range          string  `json:"range,omitempty"`
	MajorDimension string  `json:"majorDimension,omitempty"`
	Values         [][]any `json:"values"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRequestsPerMinute sets the client-side quota limiter. The Sheets API
// enforces a per-minute per-user quota; staying under it client-side avoids
// burning retry budget on 429s.
func WithRequestsPerMinute(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(n)/60.0), n)
		}
	}
}

type httpClient struct {
	tokens  TokenSource
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Google Sheets API client.
func NewClient(tokens TokenSource, opts ...Option) Client {
	c := &httpClient{
		tokens:  tokens,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(1), 60),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) do(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "sheets: limiter wait")
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "sheets: marshal request")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return eris.Wrap(err, "sheets: create request")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return eris.Wrap(err, "sheets: get token")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "sheets: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "sheets: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("sheets: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrap(err, "sheets: unmarshal response")
		}
	}
	return nil
}

func (c *httpClient) Metadata(ctx context.Context, spreadsheetID string) (*Spreadsheet, error) {
	path := "/spreadsheets/" + url.PathEscape(spreadsheetID) + "?fields=spreadsheetId,properties.title,sheets.properties"
	var out Spreadsheet
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) GetValues(ctx context.Context, spreadsheetID, valueRange string) (*ValueRange, error) {
	path := "/spreadsheets/" + url.PathEscape(spreadsheetID) + "/values/" + url.PathEscape(valueRange)
	var out ValueRange
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) UpdateValues(ctx context.Context, spreadsheetID, valueRange string, values [][]any) error {
	path := "/spreadsheets/" + url.PathEscape(spreadsheetID) + "/values/" + url.PathEscape(valueRange) + "?valueInputOption=RAW"
	return c.do(ctx, http.MethodPut, path, ValueRange{Range: valueRange, Values: values}, nil)
}

func (c *httpClient) AppendValues(ctx context.Context, spreadsheetID, valueRange string, values [][]any) error {
	path := "/spreadsheets/" + url.PathEscape(spreadsheetID) + "/values/" + url.PathEscape(valueRange) + ":append?valueInputOption=RAW"
	return c.do(ctx, http.MethodPost, path, ValueRange{Range: valueRange, Values: values}, nil)
}
