package scenario

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"payments-e2e/client"
	"payments-e2e/logging"
	"payments-e2e/models"
	"payments-e2e/monitoring"
)

// Source tells whether an outcome came from the payment API or was
// synthesized locally.
type Source int

const (
	SourceReal Source = iota
	SourceSimulated
)

func (s Source) String() string {
	switch s {
	case SourceReal:
		return "real"
	case SourceSimulated:
		return "simulated"
	}
	return "Source(" + strconv.Itoa(int(s)) + ")"
}

// Outcome is the response a scenario currently holds.
type Outcome struct {
	Source   Source
	Response *models.TransactionResponse
	// Raw is the HTTP response, nil when the call itself failed.
	Raw *client.RawResponse
	// Reason explains why a simulated outcome replaced the real one.
	Reason string
}

// Simulated reports whether assertions on o say nothing about the real API.
func (o *Outcome) Simulated() bool {
	return o != nil && o.Source == SourceSimulated
}

// Data returns the transaction data or nil.
func (o *Outcome) Data() *models.TransactionData {
	if o == nil || o.Response == nil {
		return nil
	}
	return o.Response.Data
}

// Values used in synthesized responses when no request is at hand.
const (
	mockAmountInCents = 10000
	mockCurrency      = "COP"
	mockReference     = "MOCK_REF"
	mockEmail         = "test@example.com"
	mockIDPrefix      = "MOCK_TRANSACTION_"
)

// simulate synthesizes a response with status and records that it did so.
func (s *Steps) simulate(ctx context.Context, step string, status models.TransactionStatus, reason string, raw *client.RawResponse) *Outcome {
	now := s.opts.Now()
	data := &models.TransactionData{
		ID:            mockIDPrefix + strconv.FormatInt(now.UnixNano(), 10),
		AmountInCents: mockAmountInCents,
		Currency:      mockCurrency,
		Reference:     mockReference,
		CustomerEmail: mockEmail,
		Status:        status,
		StatusMessage: fmt.Sprintf("Mock response for %s scenario", status),
		CreatedAt:     now.UTC().Format(time.RFC3339),
	}
	if req := s.request; req != nil {
		data.AmountInCents = req.AmountInCents
		data.Currency = req.Currency
		data.Reference = req.Reference
		data.CustomerEmail = req.CustomerEmail
		data.PaymentMethodType = req.PaymentMethod.Type
	}

	s.simulated++
	monitoring.SimulatedResponses.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("step", step),
			attribute.String("status", string(status)),
		),
	)
	logging.FromContext(ctx).Warn("Using simulated payment API response",
		zap.String("step", step),
		zap.String("status", string(status)),
		zap.String("reason", reason),
	)

	return &Outcome{
		Source:   SourceSimulated,
		Response: &models.TransactionResponse{Data: data},
		Raw:      raw,
		Reason:   reason,
	}
}
