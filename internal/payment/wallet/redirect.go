package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNoRedirect is returned when every configured candidate was probed
// without yielding a redirect URL. Its text is what the shopper sees.
var ErrNoRedirect = errors.New("could not start payment, check backend route and cross-origin config")

// Payload carries the logical fields every candidate route accepts, both as
// a JSON body (POST) and as query parameters (GET fallback). The backend has
// grown two spellings of the user field; both are always sent.
type Payload struct {
	PurchaseID  string
	Amount      float64
	Currency    string
	Description string
	UserID      string
	Token       string
}

func (p Payload) body() map[string]any {
	m := map[string]any{
		"compra_id":   p.PurchaseID,
		"amount":      p.Amount,
		"currency":    p.Currency,
		"description": p.Description,
		"user_id":     p.UserID,
		"id_user":     p.UserID,
	}
	if p.Token != "" {
		m["token"] = p.Token
	}
	return m
}

func (p Payload) query() url.Values {
	v := url.Values{}
	v.Set("compra_id", p.PurchaseID)
	v.Set("amount", strconv.FormatFloat(p.Amount, 'f', 2, 64))
	v.Set("currency", p.Currency)
	v.Set("description", p.Description)
	v.Set("user_id", p.UserID)
	v.Set("id_user", p.UserID)
	if p.Token != "" {
		v.Set("token", p.Token)
	}
	return v
}

// Outcome labels what one candidate probe produced.
type Outcome string

const (
	OutcomeRedirect       Outcome = "redirect"
	OutcomeNoRedirect     Outcome = "no_redirect"
	OutcomeRejected       Outcome = "rejected"
	OutcomeTransportError Outcome = "transport_error"
)

// CandidateResult records one probed candidate for logs and metrics.
// A probe that fell back to GET reports the GET outcome.
type CandidateResult struct {
	URL     string
	Outcome Outcome
}

// Redirector probes an ordered list of candidate routes until one yields a
// redirect URL. Candidates exist because deployments differ in which route
// is actually mounted; a dead route is expected, not exceptional.
type Redirector struct {
	candidates []string
	httpClient *http.Client
}

func NewRedirector(candidates []string, httpClient *http.Client) *Redirector {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Redirector{candidates: candidates, httpClient: httpClient}
}

// Start probes candidates strictly in configured order and returns the
// first redirect URL. 2xx without an approval_url means "try the next
// candidate", never success; so does a transport failure (the two are
// distinguished only in the result trail).
func (r *Redirector) Start(ctx context.Context, p Payload) (string, []CandidateResult, error) {
	trail := make([]CandidateResult, 0, len(r.candidates))

	for _, candidate := range r.candidates {
		target, outcome := r.probe(ctx, candidate, p)
		trail = append(trail, CandidateResult{URL: candidate, Outcome: outcome})
		if outcome == OutcomeRedirect {
			return target, trail, nil
		}
		log.Printf("[Wallet] Candidate %s: %s, trying next", candidate, outcome)
	}

	return "", trail, ErrNoRedirect
}

func (r *Redirector) probe(ctx context.Context, candidate string, p Payload) (string, Outcome) {
	// POST first.
	target, outcome := r.tryPost(ctx, candidate, p)
	if outcome == OutcomeRedirect {
		return target, outcome
	}

	// Same data url-encoded as a GET.
	return r.tryGet(ctx, candidate, p)
}

func (r *Redirector) tryPost(ctx context.Context, candidate string, p Payload) (string, Outcome) {
	data, err := json.Marshal(p.body())
	if err != nil {
		return "", OutcomeTransportError
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, candidate, bytes.NewReader(data))
	if err != nil {
		return "", OutcomeTransportError
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	return r.send(req)
}

func (r *Redirector) tryGet(ctx context.Context, candidate string, p Payload) (string, Outcome) {
	sep := "?"
	if u, err := url.Parse(candidate); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate+sep+p.query().Encode(), nil)
	if err != nil {
		return "", OutcomeTransportError
	}
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	return r.send(req)
}

func (r *Redirector) send(req *http.Request) (string, Outcome) {
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", OutcomeTransportError
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", OutcomeTransportError
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", OutcomeRejected
	}

	target, err := extractApprovalURL(body)
	if err != nil {
		return "", OutcomeNoRedirect
	}
	return target, OutcomeRedirect
}

// extractApprovalURL pulls approval_url from the response, tolerating a
// `.data` envelope. Non-JSON bodies count as "no redirect".
func extractApprovalURL(body []byte) (string, error) {
	var parsed struct {
		ApprovalURL string `json:"approval_url"`
		Data        struct {
			ApprovalURL string `json:"approval_url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("non-JSON redirect response: %w", err)
	}
	if parsed.ApprovalURL != "" {
		return parsed.ApprovalURL, nil
	}
	if parsed.Data.ApprovalURL != "" {
		return parsed.Data.ApprovalURL, nil
	}
	return "", errors.New("response has no approval_url")
}
