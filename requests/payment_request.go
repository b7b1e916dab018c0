// Package requests handles request binding and validation for the API.
package requests

import (
	"fmt"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/thedevsaddam/govalidator"
)

// ValidationError carries the per-field messages for a 422 response.
type ValidationError struct {
	Errors url.Values
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", v.Errors)
}

// InitiatePaymentRequest is the caller-facing initiation body.
type InitiatePaymentRequest struct {
	TenantID        string `json:"tenant_id"`
	UnitID          string `json:"unit_id"`
	BillingPeriodID string `json:"billing_period_id"`
	PhoneNumber     string `json:"phone_number"`
	Amount          int64  `json:"amount"`
}

// ValidateInitiatePayment binds and validates an initiation request. Phone
// numbers are expected in international format without the plus sign
// (2547XXXXXXXX / 2541XXXXXXXX).
func ValidateInitiatePayment(c *gin.Context) (*InitiatePaymentRequest, error) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, fmt.Errorf("parse request body: %w", err)
	}

	rules := govalidator.MapData{
		"tenant_id":         []string{"required"},
		"unit_id":           []string{"required"},
		"billing_period_id": []string{"required"},
		"phone_number":      []string{"required", "regex:^254[0-9]{9}$"},
	}

	messages := govalidator.MapData{
		"tenant_id": []string{
			"required:Tenant is required",
		},
		"unit_id": []string{
			"required:Unit is required",
		},
		"billing_period_id": []string{
			"required:Billing period is required",
		},
		"phone_number": []string{
			"required:Phone number is required",
			"regex:Phone number must be in the format 254XXXXXXXXX",
		},
	}

	opts := govalidator.Options{
		Data:          &req,
		Rules:         rules,
		Messages:      messages,
		TagIdentifier: "json",
	}
	if errs := govalidator.New(opts).ValidateStruct(); len(errs) > 0 {
		return nil, ValidationError{Errors: errs}
	}

	// govalidator has no numeric minimum for struct fields.
	if req.Amount <= 0 {
		return nil, ValidationError{Errors: url.Values{
			"amount": []string{"Amount must be greater than zero"},
		}}
	}

	return &req, nil
}
