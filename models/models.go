package models

// Payment method type tags.
const (
	MethodPSE   = "PSE"
	MethodNequi = "NEQUI"
)

// PSE payer kinds.
const (
	UserTypePerson   = "PERSON"
	UserTypeBusiness = "BUSINESS"
)

// PaymentRequest is the body of POST /transactions. PaymentMethod.Type
// selects the PSE or Nequi variant.
type PaymentRequest struct {
	AmountInCents   int           `json:"amount_in_cents" binding:"required,gt=0"`
	Currency        string        `json:"currency" binding:"required,len=3,uppercase"`
	CustomerEmail   string        `json:"customer_email" binding:"required,email"`
	PaymentMethod   PaymentMethod `json:"payment_method"`
	Reference       string        `json:"reference" binding:"required,max=255"`
	PaymentSourceID int           `json:"payment_source_id,omitempty"`
	CustomerData    CustomerData  `json:"customer_data"`
	Signature       string        `json:"signature,omitempty"`
}

// PaymentMethod carries the method specific fields. Only the fields of the
// variant named by Type are sent.
type PaymentMethod struct {
	Type string `json:"type" binding:"required,oneof=PSE NEQUI"`

	// PSE
	UserType                 string `json:"user_type,omitempty" binding:"required_if=Type PSE"`
	UserLegalID              string `json:"user_legal_id,omitempty" binding:"required_if=Type PSE"`
	UserLegalIDType          string `json:"user_legal_id_type,omitempty" binding:"required_if=Type PSE"`
	FinancialInstitutionCode string `json:"financial_institution_code,omitempty" binding:"required_if=Type PSE"`

	// Nequi
	PhoneNumber string `json:"phone_number,omitempty" binding:"required_if=Type NEQUI"`

	PaymentDescription string `json:"payment_description,omitempty" binding:"max=64"`
}

type CustomerData struct {
	Email       string `json:"email,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// IsPSE reports whether the request pays through PSE.
func (r *PaymentRequest) IsPSE() bool {
	return r.PaymentMethod.Type == MethodPSE
}
