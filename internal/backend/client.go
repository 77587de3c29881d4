package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"time"
)

var (
	ErrCreatePurchase = errors.New("error creating purchase")
	ErrChargeFailed   = errors.New("error charging purchase")
)

// PurchaseItem is one cart line re-expressed on the wire.
type PurchaseItem struct {
	ProductID string  `json:"producto_id"`
	TxType    string  `json:"tipo"`
	Quantity  int     `json:"cantidad"`
	UnitPrice float64 `json:"precio_unitario"`
}

// PurchaseRequest is the POST /api/compras body.
type PurchaseRequest struct {
	UserID          string         `json:"user_id"`
	PaymentDate     string         `json:"fecha_pago"`
	Total           float64        `json:"total"`
	ShippingAddress string         `json:"direccion_envio"`
	ContactPhone    string         `json:"telefono_contacto"`
	TxType          string         `json:"tipo"`
	PaymentMethod   string         `json:"metodo_pago"`
	Items           []PurchaseItem `json:"productos"`
}

// Purchase is the server-owned record; the client keeps only the handle.
type Purchase struct {
	ID    string
	Total float64
}

// RejectionError is a non-2xx response carrying the backend's own message.
type RejectionError struct {
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return e.Message
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a purchase-backend client. The bearer token may be empty
// for guest flows; when set it is attached to every request.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, token: token, httpClient: httpClient}
}

// WithToken returns a copy of the client bound to a session token.
func (c *Client) WithToken(token string) *Client {
	copied := *c
	copied.token = token
	return &copied
}

// CreatePurchase posts the assembled payload and returns the purchase handle.
func (c *Client) CreatePurchase(ctx context.Context, req PurchaseRequest) (*Purchase, error) {
	status, body, err := c.postJSON(ctx, c.baseURL+"/api/compras", req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreatePurchase, err)
	}
	if status < 200 || status > 299 {
		return nil, rejection(status, body, ErrCreatePurchase)
	}

	purchase, err := decodePurchase(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreatePurchase, err)
	}
	return purchase, nil
}

// ChargeRequest is the POST /api/stripe/charge body. Only the token crosses
// here; the card itself never does.
type ChargeRequest struct {
	Token      string  `json:"token"`
	Amount     float64 `json:"amount"`
	Email      string  `json:"email"`
	PurchaseID string  `json:"compra_id"`
}

// ChargeCard submits a tokenized card charge against a created purchase.
func (c *Client) ChargeCard(ctx context.Context, req ChargeRequest) error {
	status, body, err := c.postJSON(ctx, c.baseURL+"/api/stripe/charge", req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChargeFailed, err)
	}
	if status < 200 || status > 299 {
		return rejection(status, body, ErrChargeFailed)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// decodePurchase unwraps the created purchase from `.compra`, `.data`, or
// the root of the response body, accepting either `id` or `compra_id`.
func decodePurchase(body []byte) (*Purchase, error) {
	var envelope struct {
		Compra json.RawMessage `json:"compra"`
		Data   json.RawMessage `json:"data"`
	}
	// Envelope decode failure just means the object is at the root.
	_ = json.Unmarshal(body, &envelope)

	candidates := [][]byte{envelope.Compra, envelope.Data, body}
	for _, raw := range candidates {
		if len(raw) == 0 {
			continue
		}
		var rec struct {
			ID       json.Number `json:"id"`
			CompraID json.Number `json:"compra_id"`
			Total    float64     `json:"total"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		id := rec.ID.String()
		if id == "" {
			id = rec.CompraID.String()
		}
		if id != "" {
			return &Purchase{ID: id, Total: rec.Total}, nil
		}
	}
	return nil, errors.New("response has no purchase id")
}

// rejection extracts the backend's human-readable message: `.message`
// first, then the first string of the `.errors` map, then the fallback.
// Non-JSON bodies are logged and mapped to the fallback.
func rejection(status int, body []byte, fallback error) error {
	var parsed struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Printf("[Backend] Non-JSON error body (status %d): %s", status, truncate(body, 200))
		return &RejectionError{StatusCode: status, Message: fallback.Error()}
	}
	if parsed.Message != "" {
		return &RejectionError{StatusCode: status, Message: parsed.Message}
	}
	// Field order in the errors map is not stable; sort for a deterministic
	// "first" message.
	fields := make([]string, 0, len(parsed.Errors))
	for field := range parsed.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if msgs := parsed.Errors[field]; len(msgs) > 0 {
			return &RejectionError{StatusCode: status, Message: msgs[0]}
		}
	}
	return &RejectionError{StatusCode: status, Message: fallback.Error()}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
