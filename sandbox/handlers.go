// Package sandbox is a local stand-in for the payment API's transactions
// endpoints, used to run the scenarios offline and in strict mode.
package sandbox

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payments-e2e/builders"
	"payments-e2e/logging"
	"payments-e2e/models"
	"payments-e2e/monitoring"
)

// Error types reported in ErrorResponse.Error.Type.
const (
	errorTypeValidation = "INPUT_VALIDATION_ERROR"
	errorTypeAuth       = "INVALID_ACCESS_TOKEN"
	errorTypeNotFound   = "NOT_FOUND_ERROR"
)

// DefaultBanks are the financial institution codes the sandbox accepts.
var DefaultBanks = []string{"1", "1007", "1022", "1051", "1059"}

// Options configures sandbox behavior.
type Options struct {
	// APIKey is the bearer token every request must present.
	APIKey string
	// IntegrityKey, when set, makes signatures mandatory and verified.
	IntegrityKey string
	// Banks lists accepted PSE financial institution codes.
	Banks []string
	// InsufficientAbove declines amounts greater than it. Zero disables.
	InsufficientAbove int
	// ExpireAfter is how long a PENDING transaction can wait before a lookup
	// expires it instead of approving it. Zero disables expiry.
	ExpireAfter time.Duration
	Now         func() time.Time
}

// Handler serves the transactions endpoints.
type Handler struct {
	store *Store
	opts  Options
	banks map[string]bool
}

func NewHandler(store *Store, opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.Banks) == 0 {
		opts.Banks = DefaultBanks
	}
	banks := make(map[string]bool, len(opts.Banks))
	for _, code := range opts.Banks {
		banks[code] = true
	}
	return &Handler{store: store, opts: opts, banks: banks}
}

// RequireAPIKey rejects requests that do not carry the configured bearer key.
func (h *Handler) RequireAPIKey() gin.HandlerFunc {
	want := "Bearer " + h.opts.APIKey
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != want {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(errorTypeAuth, "Unauthorized: invalid access token"))
			return
		}
		c.Next()
	}
}

// CreateTransaction handles POST /transactions.
func (h *Handler) CreateTransaction(c *gin.Context) {
	logger := logging.WithTraceContext(trace.SpanFromContext(c.Request.Context()))

	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorBody(errorTypeValidation, err.Error()))
		return
	}

	if h.opts.IntegrityKey != "" {
		want := builders.Signature(req.Reference, req.AmountInCents, req.Currency, h.opts.IntegrityKey)
		if req.Signature != want {
			c.JSON(http.StatusUnprocessableEntity, errorBody(errorTypeValidation, "Invalid signature"))
			return
		}
	}

	if req.IsPSE() && !h.banks[req.PaymentMethod.FinancialInstitutionCode] {
		logger.Info("Sandbox rejected unknown bank",
			zap.String("reference", req.Reference),
			zap.String("financial_institution_code", req.PaymentMethod.FinancialInstitutionCode),
		)
		c.JSON(http.StatusUnprocessableEntity, errorBody(errorTypeValidation, "Invalid bank"))
		return
	}

	now := h.opts.Now().UTC()
	data := models.TransactionData{
		ID:                uuid.NewString(),
		AmountInCents:     req.AmountInCents,
		Reference:         req.Reference,
		CustomerEmail:     req.CustomerEmail,
		Currency:          req.Currency,
		PaymentMethodType: req.PaymentMethod.Type,
		PaymentMethod:     models.PaymentMethodFromRequest(req.PaymentMethod),
		Status:            models.StatusPending,
		PaymentSourceID:   req.PaymentSourceID,
		CreatedAt:         now.Format(time.RFC3339Nano),
	}
	if req.IsPSE() {
		data.RedirectURL = "https://sandbox.local/pse/redirect/" + data.ID
	}
	if h.opts.InsufficientAbove > 0 && req.AmountInCents > h.opts.InsufficientAbove {
		data.Status = models.StatusDeclined
		data.StatusMessage = "Insufficient funds"
		data.FinalizedAt = now.Format(time.RFC3339Nano)
	}

	if err := h.store.Create(data, now); err != nil {
		if errors.Is(err, ErrDuplicate) {
			c.JSON(http.StatusUnprocessableEntity, errorBody(errorTypeValidation, "Duplicate reference"))
			return
		}
		logger.Error("Sandbox failed to store transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("INTERNAL_ERROR", "Could not store transaction"))
		return
	}

	monitoring.SandboxTransactions.Add(c.Request.Context(), 1,
		metric.WithAttributes(
			attribute.String("payment_method", data.PaymentMethodType),
			attribute.String("status", string(data.Status)),
		),
	)

	c.JSON(http.StatusCreated, models.TransactionResponse{Data: &data, Meta: meta()})
}

// GetTransaction handles GET /transactions/:id. The first lookup of a
// PENDING transaction finalizes it.
func (h *Handler) GetTransaction(c *gin.Context) {
	now := h.opts.Now().UTC()
	data, err := h.store.Update(c.Param("id"), func(d *models.TransactionData, created time.Time) bool {
		if d.Status != models.StatusPending {
			return false
		}
		if h.opts.ExpireAfter > 0 && now.Sub(created) > h.opts.ExpireAfter {
			d.Status = models.StatusError
			d.StatusMessage = "Transaction expired"
		} else {
			d.Status = models.StatusApproved
		}
		d.FinalizedAt = now.Format(time.RFC3339Nano)
		if d.Status == models.StatusApproved {
			d.TotalPaid = d.AmountInCents
		}
		return true
	})
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, errorBody(errorTypeNotFound, "Transaction not found"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("INTERNAL_ERROR", "Could not read transaction"))
		return
	}

	c.JSON(http.StatusOK, models.TransactionResponse{Data: data, Meta: meta()})
}

// ListTransactions handles GET /transactions?reference=.
func (h *Handler) ListTransactions(c *gin.Context) {
	ref := strings.TrimSpace(c.Query("reference"))
	if ref == "" {
		c.JSON(http.StatusUnprocessableEntity, errorBody(errorTypeValidation, "reference is required"))
		return
	}

	items, err := h.store.FindByReference(ref)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("INTERNAL_ERROR", "Could not read transactions"))
		return
	}

	c.JSON(http.StatusOK, models.TransactionListResponse{Data: items, Meta: meta()})
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func errorBody(kind, message string) models.ErrorResponse {
	return models.ErrorResponse{Error: models.ErrorDetail{Type: kind, Message: message}}
}

func meta() *models.MetaData {
	return &models.MetaData{PlatformName: "payments-e2e-sandbox", LibraryName: "gin"}
}
