package models

// TransactionStatus is the lifecycle state reported by the payment API.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "PENDING"
	StatusApproved TransactionStatus = "APPROVED"
	StatusDeclined TransactionStatus = "DECLINED"
	StatusError    TransactionStatus = "ERROR"
	StatusVoided   TransactionStatus = "VOIDED"
)

// Final reports whether no further transition is expected.
func (s TransactionStatus) Final() bool {
	switch s {
	case StatusApproved, StatusDeclined, StatusError, StatusVoided:
		return true
	}
	return false
}

// TransactionResponse is the body returned by create and lookup-by-id.
type TransactionResponse struct {
	Data *TransactionData `json:"data"`
	Meta *MetaData        `json:"meta,omitempty"`
}

// TransactionListResponse is the body returned by lookup-by-reference.
type TransactionListResponse struct {
	Data []TransactionData `json:"data"`
	Meta *MetaData         `json:"meta,omitempty"`
}

type TransactionData struct {
	ID                string             `json:"id"`
	AmountInCents     int                `json:"amount_in_cents"`
	Reference         string             `json:"reference"`
	CustomerEmail     string             `json:"customer_email"`
	Currency          string             `json:"currency"`
	PaymentMethodType string             `json:"payment_method_type"`
	PaymentMethod     *PaymentMethodData `json:"payment_method,omitempty"`
	Status            TransactionStatus  `json:"status"`
	StatusMessage     string             `json:"status_message,omitempty"`
	ShippingAddress   any                `json:"shipping_address,omitempty"`
	PaymentLinkID     string             `json:"payment_link_id,omitempty"`
	PaymentSourceID   int                `json:"payment_source_id,omitempty"`
	PaymentSourceName string             `json:"payment_source_name,omitempty"`
	PSE               *PSEData           `json:"pse,omitempty"`
	CreatedAt         string             `json:"created_at"`
	FinalizedAt       string             `json:"finalized_at,omitempty"`
	TaxInCents        int                `json:"tax_in_cents"`
	TotalPaid         int                `json:"total_paid"`
	RedirectURL       string             `json:"redirect_url,omitempty"`
}

type PaymentMethodData struct {
	Type                     string `json:"type"`
	Extra                    any    `json:"extra,omitempty"`
	UserType                 string `json:"user_type,omitempty"`
	UserLegalID              string `json:"user_legal_id,omitempty"`
	UserLegalIDType          string `json:"user_legal_id_type,omitempty"`
	FinancialInstitutionCode string `json:"financial_institution_code,omitempty"`
	PhoneNumber              string `json:"phone_number,omitempty"`
	PaymentDescription       string `json:"payment_description,omitempty"`
}

type PSEData struct {
	Bin           string `json:"bin,omitempty"`
	Bank          string `json:"bank,omitempty"`
	AccountType   string `json:"account_type,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	AccountHolder string `json:"account_holder,omitempty"`
}

type MetaData struct {
	PlatformID      string `json:"platform_id,omitempty"`
	PlatformName    string `json:"platform_name,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	LibraryVersion  string `json:"library_version,omitempty"`
	LibraryName     string `json:"library_name,omitempty"`
}

// ErrorResponse is the body of 4xx responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type     string              `json:"type"`
	Message  string              `json:"message,omitempty"`
	Messages map[string][]string `json:"messages,omitempty"`
}

// PaymentMethodFromRequest echoes the request method the way the API does.
func PaymentMethodFromRequest(m PaymentMethod) *PaymentMethodData {
	return &PaymentMethodData{
		Type:                     m.Type,
		UserType:                 m.UserType,
		UserLegalID:              m.UserLegalID,
		UserLegalIDType:          m.UserLegalIDType,
		FinancialInstitutionCode: m.FinancialInstitutionCode,
		PhoneNumber:              m.PhoneNumber,
		PaymentDescription:       m.PaymentDescription,
	}
}
