// Package builders produces payment requests for each test scenario kind
// from the test-data properties resource.
package builders

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"payments-e2e/config"
	"payments-e2e/models"
)

// ErrConfigMissing is returned when a required test-data property is absent.
var ErrConfigMissing = errors.New("test data: required property missing")

// ErrInvalidRequest is returned when a built request fails validation.
var ErrInvalidRequest = errors.New("test data: built request is invalid")

const (
	defaultCurrency        = "COP"
	defaultPaymentSourceID = 1
)

// Kind selects the scenario a PSE request is built for.
type Kind int

const (
	Valid Kind = iota
	InvalidBank
	InsufficientFunds
	Timeout
)

// Kinds lists every PSE scenario kind.
var Kinds = []Kind{Valid, InvalidBank, InsufficientFunds, Timeout}

// profile holds the property keys and fixed values that differ per kind.
type profile struct {
	tag         string
	persona     string
	amountKey   string
	description string
}

var profiles = map[Kind]profile{
	Valid:             {tag: "VALID", persona: "valid", amountKey: "test.amount.normal", description: "Valid PSE Payment Test"},
	InvalidBank:       {tag: "INVALID", persona: "invalid", amountKey: "test.amount.normal", description: "Invalid Bank Data PSE Payment Test"},
	InsufficientFunds: {tag: "INSUFFICIENT", persona: "valid", amountKey: "test.amount.insufficient", description: "Insufficient Funds PSE Payment Test"},
	Timeout:           {tag: "TIMEOUT", persona: "valid", amountKey: "test.amount.normal", description: "Timeout PSE Payment Test"},
}

func (k Kind) String() string {
	if p, ok := profiles[k]; ok {
		return p.tag
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Builder creates requests from a test-data Config.
type Builder struct {
	data         *config.Config
	integrityKey string
	now          func() time.Time
	validate     *validator.Validate
}

// lastStamp is the most recent reference timestamp handed out in this
// process, in nanoseconds.
var lastStamp atomic.Int64

type Option func(*Builder)

// WithIntegrityKey signs every built request with key.
func WithIntegrityKey(key string) Option {
	return func(b *Builder) { b.integrityKey = key }
}

// WithClock replaces the wall clock used for references.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func New(data *config.Config, opts ...Option) *Builder {
	v := validator.New()
	v.SetTagName("binding")

	b := &Builder{
		data:     data,
		now:      time.Now,
		validate: v,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) BuildValid() (*models.PaymentRequest, error) { return b.Build(Valid) }
func (b *Builder) BuildInvalidBankData() (*models.PaymentRequest, error) {
	return b.Build(InvalidBank)
}
func (b *Builder) BuildInsufficientFunds() (*models.PaymentRequest, error) {
	return b.Build(InsufficientFunds)
}
func (b *Builder) BuildTimeout() (*models.PaymentRequest, error) { return b.Build(Timeout) }

// Build returns a fully populated PSE request for kind.
func (b *Builder) Build(kind Kind) (*models.PaymentRequest, error) {
	p, ok := profiles[kind]
	if !ok {
		return nil, fmt.Errorf("unknown scenario kind %s", kind)
	}

	props := b.props()
	amount := props.int(p.amountKey)
	email := props.get(p.persona + ".pse.person.email")
	req := &models.PaymentRequest{
		AmountInCents:   amount,
		Currency:        defaultCurrency,
		CustomerEmail:   email,
		Reference:       b.reference(props, p.tag),
		PaymentSourceID: defaultPaymentSourceID,
		PaymentMethod: models.PaymentMethod{
			Type:                     models.MethodPSE,
			UserType:                 models.UserTypePerson,
			UserLegalID:              props.get(p.persona + ".pse.person.document"),
			UserLegalIDType:          props.get(p.persona + ".pse.person.type"),
			FinancialInstitutionCode: props.get(p.persona + ".pse.bank.code"),
			PaymentDescription:       p.description,
		},
		CustomerData: models.CustomerData{
			Email:       email,
			FullName:    props.get(p.persona + ".pse.person.name"),
			PhoneNumber: props.get(p.persona + ".pse.person.mobile"),
		},
	}
	if props.err != nil {
		return nil, props.err
	}

	return b.finish(req)
}

// BuildNequi returns a valid Nequi wallet request.
func (b *Builder) BuildNequi() (*models.PaymentRequest, error) {
	props := b.props()
	phone := props.get("nequi.phone.approved")
	email := props.get("nequi.person.email")
	req := &models.PaymentRequest{
		AmountInCents:   props.int("test.amount.normal"),
		Currency:        defaultCurrency,
		CustomerEmail:   email,
		Reference:       b.reference(props, "NEQUI"),
		PaymentSourceID: defaultPaymentSourceID,
		PaymentMethod: models.PaymentMethod{
			Type:               models.MethodNequi,
			PhoneNumber:        phone,
			PaymentDescription: "Nequi Payment Test",
		},
		CustomerData: models.CustomerData{
			Email:       email,
			FullName:    props.get("nequi.person.name"),
			PhoneNumber: phone,
		},
	}
	if props.err != nil {
		return nil, props.err
	}

	return b.finish(req)
}

// Property returns a raw test-data value.
func (b *Builder) Property(key string) (string, error) {
	v, err := b.data.Get(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConfigMissing, err)
	}
	return v, nil
}

func (b *Builder) finish(req *models.PaymentRequest) (*models.PaymentRequest, error) {
	if b.integrityKey != "" {
		req.Signature = Signature(req.Reference, req.AmountInCents, req.Currency, b.integrityKey)
	}
	if err := b.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return req, nil
}

// reference is prefix + tag + "_" + a nanosecond timestamp that strictly
// increases across calls in the process.
func (b *Builder) reference(props *lookup, tag string) string {
	prefix := props.get("test.reference.prefix")

	ts := b.now().UnixNano()
	for {
		last := lastStamp.Load()
		if ts <= last {
			ts = last + 1
		}
		if lastStamp.CompareAndSwap(last, ts) {
			break
		}
	}
	return prefix + tag + "_" + strconv.FormatInt(ts, 10)
}

// Signature computes the integrity signature the API expects for a payment:
// hex(sha256(reference + amount + currency + integrityKey)).
func Signature(reference string, amountInCents int, currency, integrityKey string) string {
	sum := sha256.Sum256([]byte(reference + strconv.Itoa(amountInCents) + currency + integrityKey))
	return hex.EncodeToString(sum[:])
}

// lookup reads properties and remembers the first failure so call sites
// can read a whole request before checking for errors once.
type lookup struct {
	data *config.Config
	err  error
}

func (b *Builder) props() *lookup {
	return &lookup{data: b.data}
}

func (l *lookup) get(key string) string {
	if l.err != nil {
		return ""
	}
	v, err := l.data.Get(key)
	if err != nil {
		l.err = fmt.Errorf("%w: %w", ErrConfigMissing, err)
	}
	return v
}

func (l *lookup) int(key string) int {
	if l.err != nil {
		return 0
	}
	i, err := l.data.Int(key)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			err = fmt.Errorf("%w: %w", ErrConfigMissing, err)
		}
		l.err = err
	}
	return i
}
