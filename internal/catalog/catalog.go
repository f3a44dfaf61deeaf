// Package catalog is the HTTP client for the card-set metadata service.
// It lists sets, searches sets by name, and fetches the card list of a
// set. Responses may arrive either wrapped as {success, data: {...}} or
// as a bare JSON array; both shapes are accepted. Failures are
// classified into Network, Timeout, NotFound, and BadResponse so callers
// can decide what to retry; retryable failures are retried with
// exponential backoff before being reported.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/voxrip/voxrip/internal/cardname"
	"github.com/voxrip/voxrip/internal/fault"
)

// Retry policy: base 1 s, factor 2, jitter up to 1 s, interval cap 10 s,
// three attempts in total.
const (
	retryBaseInterval = 1 * time.Second
	retryFactor       = 2
	retryMaxInterval  = 10 * time.Second
	retryMaxAttempts  = 3

	defaultRequestTimeout = 10 * time.Second
)

// SetInfo describes one card set known to the catalog.
type SetInfo struct {
	SetCode     string `json:"set_code"`
	DisplayName string `json:"set_name"`
	ID          string `json:"id"`
}

// CardRecord is one card of a set as supplied by the catalog. BaseName is
// derived locally and is stable across edition and rarity variants of the
// same card.
type CardRecord struct {
	DisplayName   string   `json:"name"`
	BaseName      string   `json:"-"`
	SetCode       string   `json:"set_code"`
	Rarity        string   `json:"rarity,omitempty"`
	Number        string   `json:"number,omitempty"`
	ArchetypeTags []string `json:"archetype_tags,omitempty"`
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client fetches catalog data from an HTTP service. Safe for concurrent
// use.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// New returns a Client for the catalog service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultRequestTimeout},
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// envelope is the optional {success, data, message} wrapper used by some
// catalog deployments.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// cardsPayload is the wrapped card-list shape: data may be a bare array
// or an object carrying cards plus set info.
type cardsPayload struct {
	Cards   []CardRecord `json:"cards"`
	SetInfo *SetInfo     `json:"set_info"`
}

// ListSets returns every set the catalog knows.
func (c *Client) ListSets(ctx context.Context) ([]SetInfo, error) {
	return c.fetchSets(ctx, c.baseURL+"/card-sets/from-cache")
}

// SearchSets returns the sets whose name matches term.
func (c *Client) SearchSets(ctx context.Context, term string) ([]SetInfo, error) {
	return c.fetchSets(ctx, c.baseURL+"/card-sets/search/"+url.PathEscape(term))
}

func (c *Client) fetchSets(ctx context.Context, u string) ([]SetInfo, error) {
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	raw, err := unwrap(body)
	if err != nil {
		return nil, err
	}
	var sets []SetInfo
	if err := json.Unmarshal(raw, &sets); err != nil {
		return nil, fault.Wrap(fault.KindBadResponse, "decode set list", err)
	}
	return sets, nil
}

// ListCardsForSet returns the card list of one set with base names
// populated.
func (c *Client) ListCardsForSet(ctx context.Context, setCode string) ([]CardRecord, error) {
	u := c.baseURL + "/card-sets/" + url.PathEscape(setCode) + "/cards"
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	raw, err := unwrap(body)
	if err != nil {
		return nil, err
	}

	// The card payload is either a bare array or {cards, set_info}.
	var cards []CardRecord
	if err := json.Unmarshal(raw, &cards); err != nil {
		var payload cardsPayload
		if err2 := json.Unmarshal(raw, &payload); err2 != nil {
			return nil, fault.Wrap(fault.KindBadResponse, "decode card list", err)
		}
		cards = payload.Cards
	}

	for i := range cards {
		cards[i].BaseName = cardname.Extract(cards[i].DisplayName)
		if cards[i].SetCode == "" {
			cards[i].SetCode = setCode
		}
	}
	return cards, nil
}

// unwrap peels the optional {success, data} envelope off a response
// body, returning the inner JSON. Bare payloads pass through unchanged.
func unwrap(body []byte) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return json.RawMessage(body), nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fault.Wrap(fault.KindBadResponse, "decode response envelope", err)
	}
	if env.Success == nil && env.Data == nil {
		// Plain object payload without the wrapper.
		return json.RawMessage(body), nil
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = "catalog reported failure"
		}
		return nil, fault.New(fault.KindBadResponse, msg)
	}
	return env.Data, nil
}

// get performs one GET with classification and retry. Non-retryable
// classifications (NotFound, BadResponse) abort the retry loop.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	var body []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fault.Wrap(fault.KindBadResponse, "build request", err))
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return classifyTransportError(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fault.Newf(fault.KindNotFound, "GET %s: 404", u))
		case resp.StatusCode == http.StatusServiceUnavailable,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode >= 500:
			return fault.Newf(fault.KindServiceUnavailable, "GET %s: status %d", u, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fault.Newf(fault.KindBadResponse, "GET %s: status %d", u, resp.StatusCode))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fault.Wrap(fault.KindNetwork, "read response", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBaseInterval
	bo.Multiplier = retryFactor
	bo.MaxInterval = retryMaxInterval
	bo.RandomizationFactor = 0.5

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, retryMaxAttempts-1), ctx))
	if err != nil {
		c.log.Warn("catalog request failed", "url", u, "err", err)
		return nil, err
	}
	return body, nil
}

// classifyTransportError maps a transport failure onto Timeout or
// Network.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindTimeout, "catalog request timed out", err)
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return fault.Wrap(fault.KindTimeout, "catalog request timed out", err)
	}
	return fault.Wrap(fault.KindNetwork, fmt.Sprintf("catalog request: %v", err), err)
}
