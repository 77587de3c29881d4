package payment

import (
	"fmt"

	"github.com/google/uuid"
)

type Status string

const (
	StatusIdle            Status = "idle"
	StatusBuildingRequest Status = "building_request"
	StatusTokenizing      Status = "tokenizing"
	StatusPurchasePending Status = "purchase_pending"
	StatusCharging        Status = "charging"
	StatusRedirecting     Status = "redirecting"
	StatusSucceeded       Status = "succeeded"
	StatusFailed          Status = "failed"

	// StatusUnsettled is the explicit name for "purchase created, charge
	// failed". The purchase is not rolled back; it waits for out-of-band
	// reconciliation.
	StatusUnsettled Status = "purchase_created_unsettled"
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusIdle:            {StatusBuildingRequest},
	StatusBuildingRequest: {StatusTokenizing, StatusPurchasePending, StatusFailed},
	StatusTokenizing:      {StatusPurchasePending, StatusFailed},
	StatusPurchasePending: {StatusCharging, StatusRedirecting, StatusSucceeded, StatusFailed},
	StatusCharging:        {StatusSucceeded, StatusUnsettled},
	StatusRedirecting:     {StatusSucceeded, StatusFailed},
	StatusSucceeded:       {}, // terminal
	StatusFailed:          {}, // terminal
	StatusUnsettled:       {}, // terminal
}

// Attempt is the in-memory record of one checkout submission.
type Attempt struct {
	ID          string  `json:"id"`
	Method      string  `json:"method"`
	Status      Status  `json:"status"`
	PurchaseID  string  `json:"purchase_id,omitempty"`
	Amount      float64 `json:"amount"`
	RedirectURL string  `json:"redirect_url,omitempty"`
	LastError   string  `json:"last_error,omitempty"`
}

func NewAttempt(method string) *Attempt {
	return &Attempt{
		ID:     uuid.NewString(),
		Method: method,
		Status: StatusIdle,
	}
}

// CanTransitionTo checks if the attempt can move to the target status.
func (a *Attempt) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[a.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

func (a *Attempt) transition(target Status) error {
	if !a.CanTransitionTo(target) {
		return fmt.Errorf("invalid attempt transition from %s to %s", a.Status, target)
	}
	a.Status = target
	return nil
}

// Terminal reports whether the attempt reached a final state.
func (a *Attempt) Terminal() bool {
	return len(validTransitions[a.Status]) == 0
}
