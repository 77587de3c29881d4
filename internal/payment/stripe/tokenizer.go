package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrIncompleteCard is the precondition failure for missing card fields.
// Its text is what the shopper sees.
var ErrIncompleteCard = errors.New("complete card data")

// CardInput is the raw card element state. It exists only between the
// checkout form and the tokenization call; it must never be serialized into
// a purchase or charge payload.
type CardInput struct {
	Number   string
	Holder   string
	ExpMonth string
	ExpYear  string
	CVC      string
}

func (c CardInput) complete() bool {
	for _, f := range []string{c.Number, c.Holder, c.ExpMonth, c.ExpYear, c.CVC} {
		if strings.TrimSpace(f) == "" {
			return false
		}
	}
	return true
}

// TokenError is a structured rejection from the tokenization provider.
type TokenError struct {
	Code    string
	Message string
}

func (e *TokenError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "card tokenization failed"
}

// Tokenizer swaps raw card data for an opaque token id.
type Tokenizer interface {
	Tokenize(ctx context.Context, card CardInput) (string, error)
}

// HTTPTokenizer posts the card to the provider's token endpoint. Only the
// returned token id ever reaches the rest of the checkout flow.
type HTTPTokenizer struct {
	tokenURL   string
	publicKey  string
	httpClient *http.Client
}

func NewHTTPTokenizer(tokenURL, publicKey string, httpClient *http.Client) *HTTPTokenizer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTokenizer{tokenURL: tokenURL, publicKey: publicKey, httpClient: httpClient}
}

func (t *HTTPTokenizer) Tokenize(ctx context.Context, card CardInput) (string, error) {
	if !card.complete() {
		return "", ErrIncompleteCard
	}

	form := url.Values{}
	form.Set("card[number]", strings.ReplaceAll(card.Number, " ", ""))
	form.Set("card[name]", card.Holder)
	form.Set("card[exp_month]", card.ExpMonth)
	form.Set("card[exp_year]", card.ExpYear)
	form.Set("card[cvc]", card.CVC)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if t.publicKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.publicKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tokenize request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("tokenize response read failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", tokenError(body)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.ID == "" {
		return "", &TokenError{Code: "invalid_response", Message: "provider returned no token"}
	}
	return parsed.ID, nil
}

func tokenError(body []byte) error {
	var parsed struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error.Message == "" {
		return &TokenError{Code: "provider_error", Message: "card tokenization failed"}
	}
	return &TokenError{Code: parsed.Error.Code, Message: parsed.Error.Message}
}
