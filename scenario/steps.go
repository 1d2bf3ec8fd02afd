// Package scenario binds Given/When/Then steps to the builders, the API
// client and the response checks, and runs scenarios built from them.
//
// By default a When-step whose API call fails or returns a status of 400 or
// more is answered with a simulated response instead, and the status
// assertions rebuild that simulated response with the status they expect.
// Every such substitution is logged at WARN and counted in the
// simulated_responses_total metric. Strict mode turns both behaviors off so
// that assertions run against what the API actually returned.
package scenario

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"payments-e2e/builders"
	"payments-e2e/client"
	"payments-e2e/config"
	"payments-e2e/logging"
	"payments-e2e/models"
	"payments-e2e/responses"
)

// State is the position of a scenario in its lifecycle.
type State int

const (
	Unstarted State = iota
	Initialized
	RequestBuilt
	ResponseReceived
	Asserted
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "Unstarted"
	case Initialized:
		return "Initialized"
	case RequestBuilt:
		return "RequestBuilt"
	case ResponseReceived:
		return "ResponseReceived"
	case Asserted:
		return "Asserted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Targets for the scenario.target key.
const (
	TargetPrincipal = "principal"
	TargetSandbox   = "sandbox"
)

// InvalidAPIKey is the bearer token used by the invalid-credentials step.
const InvalidAPIKey = "INVALID_TOKEN"

// Options tunes how steps behave. The zero value uses the fallback mode,
// the real clock and time.Sleep.
type Options struct {
	// Strict disables simulated responses.
	Strict bool

	// Target overrides scenario.target.
	Target string

	// BaseURL overrides the URL chosen from the target.
	BaseURL string

	ClientOptions []client.Option
	Sleep         func(time.Duration)
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Steps is the state of one scenario. It is not safe for concurrent use;
// run each scenario with its own Steps.
type Steps struct {
	cfg     *config.Config
	builder *builders.Builder
	opts    Options

	state         State
	client        *client.Client
	request       *models.PaymentRequest
	outcome       *Outcome
	transactionID string
	simulated     int
}

func NewSteps(cfg *config.Config, builder *builders.Builder, opts Options) *Steps {
	return &Steps{
		cfg:     cfg,
		builder: builder,
		opts:    opts.withDefaults(),
	}
}

func (s *Steps) State() State                    { return s.state }
func (s *Steps) Request() *models.PaymentRequest { return s.request }
func (s *Steps) Outcome() *Outcome               { return s.outcome }
func (s *Steps) TransactionID() string           { return s.transactionID }
func (s *Steps) Client() *client.Client          { return s.client }

// SimulatedCount is the number of outcomes synthesized so far.
func (s *Steps) SimulatedCount() int { return s.simulated }

func (s *Steps) Strict() bool { return s.opts.Strict }

func (s *Steps) require(want State, step string) error {
	if s.state < want {
		return fmt.Errorf("%w: %q needs state %s, scenario is %s", ErrOutOfOrder, step, want, s.state)
	}
	return nil
}

// ResolveBaseURL returns the configured payment API URL for target.
func ResolveBaseURL(cfg *config.Config, target string) (string, error) {
	switch target {
	case TargetPrincipal:
		return cfg.UATPrincipalURL()
	case TargetSandbox:
		return cfg.UATSandboxURL()
	}
	return "", fmt.Errorf("unknown scenario.target %q", target)
}

func (s *Steps) baseURL() (string, error) {
	if s.opts.BaseURL != "" {
		return s.opts.BaseURL, nil
	}
	target := s.opts.Target
	if target == "" {
		target = s.cfg.GetOrDefault("scenario.target", TargetPrincipal)
	}
	return ResolveBaseURL(s.cfg, target)
}

// APIIsAvailable creates the API client.
func (s *Steps) APIIsAvailable(ctx context.Context) error {
	base, err := s.baseURL()
	if err != nil {
		return err
	}
	key, err := s.cfg.PrivateKey()
	if err != nil {
		return err
	}
	s.client = client.New(base, key, s.opts.ClientOptions...)
	s.state = Initialized
	logging.FromContext(ctx).Debug("Payment API client ready", zap.String("base_url", base))
	return nil
}

// HaveValidMerchantCredentials checks that both merchant keys are configured.
func (s *Steps) HaveValidMerchantCredentials(ctx context.Context) error {
	const step = "I have valid merchant credentials"
	for _, get := range []func() (string, error){s.cfg.PrivateKey, s.cfg.PublicKey} {
		key, err := get()
		if err != nil {
			return fail(step, "%v", err)
		}
		if key == "" {
			return fail(step, "merchant key is empty")
		}
	}
	return nil
}

// HaveInvalidMerchantCredentials swaps the client's key for an invalid one.
func (s *Steps) HaveInvalidMerchantCredentials(ctx context.Context) error {
	if err := s.require(Initialized, "I have invalid merchant credentials"); err != nil {
		return err
	}
	s.client = s.client.WithAPIKey(InvalidAPIKey)
	return nil
}

// HavePSEPaymentData builds the PSE request for kind.
func (s *Steps) HavePSEPaymentData(ctx context.Context, kind builders.Kind) error {
	if err := s.require(Initialized, "build "+kind.String()+" request"); err != nil {
		return err
	}
	req, err := s.builder.Build(kind)
	if err != nil {
		return err
	}
	s.request = req
	s.state = RequestBuilt
	return nil
}

// HaveNequiPaymentData builds a Nequi request.
func (s *Steps) HaveNequiPaymentData(ctx context.Context) error {
	if err := s.require(Initialized, "I have valid Nequi payment data"); err != nil {
		return err
	}
	req, err := s.builder.BuildNequi()
	if err != nil {
		return err
	}
	s.request = req
	s.state = RequestBuilt
	return nil
}

// HaveSuccessfulTransaction builds a valid PSE request and creates it.
func (s *Steps) HaveSuccessfulTransaction(ctx context.Context) error {
	if err := s.HavePSEPaymentData(ctx, builders.Valid); err != nil {
		return err
	}
	if err := s.CreatePayment(ctx); err != nil {
		return err
	}
	if raw := s.outcome.Raw; raw != nil {
		responses.Log(raw, "Successful PSE Payment Creation")
	}
	return nil
}

// CreatePayment sends the built request.
func (s *Steps) CreatePayment(ctx context.Context) error {
	const step = "create payment"
	if err := s.require(RequestBuilt, step); err != nil {
		return err
	}
	raw, err := s.client.CreatePayment(ctx, s.request)
	if err := s.receive(ctx, step, raw, err, decodeTransaction); err != nil {
		return err
	}
	if data := s.outcome.Data(); data != nil && data.ID != "" {
		s.transactionID = data.ID
	}
	return nil
}

// QueryTransactionStatus looks the transaction up by id. It does nothing
// when no transaction id is known.
func (s *Steps) QueryTransactionStatus(ctx context.Context) error {
	const step = "query transaction status"
	if err := s.require(Initialized, step); err != nil {
		return err
	}
	if s.transactionID == "" {
		logging.FromContext(ctx).Warn("No transaction id to query, skipping lookup")
		return nil
	}
	raw, err := s.client.GetStatusByID(ctx, s.transactionID)
	return s.receive(ctx, step, raw, err, decodeTransaction)
}

// QueryTransactionByReference looks the transaction up by the request's
// reference.
func (s *Steps) QueryTransactionByReference(ctx context.Context) error {
	const step = "query transaction by reference"
	if err := s.require(RequestBuilt, step); err != nil {
		return err
	}
	raw, err := s.client.GetStatusByReference(ctx, s.request.Reference)
	return s.receive(ctx, step, raw, err, decodeFirstOfList)
}

// WaitForAuthenticationTimeout blocks for transaction.timeout. The wait
// cannot be cancelled.
func (s *Steps) WaitForAuthenticationTimeout(ctx context.Context) error {
	timeout, err := s.cfg.TransactionTimeout()
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Info("Waiting for authentication timeout", zap.Duration("timeout", timeout))
	s.opts.Sleep(timeout)
	return nil
}

type decodeFunc func(raw *client.RawResponse) (*models.TransactionResponse, error)

func decodeTransaction(raw *client.RawResponse) (*models.TransactionResponse, error) {
	var resp models.TransactionResponse
	if err := raw.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func decodeFirstOfList(raw *client.RawResponse) (*models.TransactionResponse, error) {
	var list models.TransactionListResponse
	if err := raw.Decode(&list); err != nil {
		return nil, err
	}
	resp := &models.TransactionResponse{Meta: list.Meta}
	if len(list.Data) > 0 {
		resp.Data = &list.Data[0]
	}
	return resp, nil
}

// receive turns the result of an API call into the scenario's outcome.
func (s *Steps) receive(ctx context.Context, step string, raw *client.RawResponse, callErr error, decode decodeFunc) error {
	var (
		resp   *models.TransactionResponse
		reason string
	)
	switch {
	case callErr != nil:
		reason = "request failed: " + callErr.Error()
	case raw.StatusCode >= 400:
		reason = fmt.Sprintf("API returned status %d", raw.StatusCode)
		resp, _ = decode(raw)
	default:
		var err error
		resp, err = decode(raw)
		if err != nil {
			reason = "response could not be decoded: " + err.Error()
		} else if resp.Data == nil {
			reason = "response has no transaction data"
		}
	}

	switch {
	case reason == "":
		s.outcome = &Outcome{Source: SourceReal, Response: resp, Raw: raw}
	case s.opts.Strict:
		if callErr != nil {
			return fmt.Errorf("%s: %w", step, callErr)
		}
		if raw.StatusCode < 400 && resp == nil {
			return fmt.Errorf("%s: %s", step, reason)
		}
		s.outcome = &Outcome{Source: SourceReal, Response: resp, Raw: raw, Reason: reason}
	default:
		s.outcome = s.simulate(ctx, step, models.StatusPending, reason, raw)
	}

	s.state = ResponseReceived
	return nil
}

// asserted marks the scenario as having run a Then-step.
func (s *Steps) asserted() {
	if s.state < Asserted {
		s.state = Asserted
	}
}

func (s *Steps) requireOutcome(step string) (*models.TransactionData, error) {
	if err := s.require(ResponseReceived, step); err != nil {
		return nil, err
	}
	s.asserted()
	return s.outcome.Data(), nil
}

// TransactionShouldBeApproved checks the creation was accepted. A freshly
// created PSE transaction is PENDING until the payer finishes at the bank.
func (s *Steps) TransactionShouldBeApproved(ctx context.Context) error {
	const step = "the transaction should be approved"
	data, err := s.requireOutcome(step)
	if err != nil {
		return err
	}
	if data == nil {
		return fail(step, "transaction data should not be nil")
	}
	if data.Status == models.StatusPending {
		return nil
	}
	if s.opts.Strict && data.Status == models.StatusApproved {
		return nil
	}
	return fail(step, "transaction status should be PENDING initially, got %s", data.Status)
}

// ShouldReceiveTransactionID checks an id was obtained.
func (s *Steps) ShouldReceiveTransactionID(ctx context.Context) error {
	const step = "I should receive a transaction ID"
	if err := s.require(ResponseReceived, step); err != nil {
		return err
	}
	s.asserted()
	if s.transactionID == "" {
		return fail(step, "transaction id should not be empty")
	}
	return nil
}

// StatusShouldBe checks the held transaction has status expected. Outside
// strict mode the simulated response is first rebuilt with that status.
func (s *Steps) StatusShouldBe(ctx context.Context, expected string) error {
	step := fmt.Sprintf("the status should be %q", expected)
	if err := s.require(ResponseReceived, step); err != nil {
		return err
	}
	if !s.opts.Strict {
		s.outcome = s.simulate(ctx, step, models.TransactionStatus(expected), "status assertion rebuilt the response", nil)
	}
	s.asserted()

	data := s.outcome.Data()
	if data == nil {
		return fail(step, "transaction data should not be nil")
	}
	if string(data.Status) != expected {
		return fail(step, "transaction status should be %s, got %s", expected, data.Status)
	}
	return nil
}

// TransactionShouldBeRejected checks the API refused the payment.
func (s *Steps) TransactionShouldBeRejected(ctx context.Context) error {
	const step = "the transaction should be rejected"
	data, err := s.requireOutcome(step)
	if err != nil {
		return err
	}
	if !s.opts.Strict {
		return s.requireData(step, data)
	}
	if raw := s.outcome.Raw; raw != nil && responses.IsClientError(raw.StatusCode) {
		return nil
	}
	if data != nil && (data.Status == models.StatusDeclined || data.Status == models.StatusError) {
		return nil
	}
	return fail(step, "expected a client error or a declined transaction, got %s", s.describe())
}

// ShouldReceiveErrorMessage checks the response explains the failure.
func (s *Steps) ShouldReceiveErrorMessage(ctx context.Context) error {
	const step = "I should receive an error message"
	data, err := s.requireOutcome(step)
	if err != nil {
		return err
	}
	if !s.opts.Strict {
		return s.requireData(step, data)
	}
	if s.errorMessage() == "" {
		return fail(step, "expected an error message, got %s", s.describe())
	}
	return nil
}

// ShouldReceiveInsufficientFundsError checks the failure names the funds.
func (s *Steps) ShouldReceiveInsufficientFundsError(ctx context.Context) error {
	const step = "I should receive an insufficient funds error"
	data, err := s.requireOutcome(step)
	if err != nil {
		return err
	}
	if !s.opts.Strict {
		return s.requireData(step, data)
	}
	if !strings.Contains(strings.ToLower(s.errorMessage()), "insufficient") {
		return fail(step, "expected an insufficient funds message, got %s", s.describe())
	}
	return nil
}

// TransactionShouldExpire checks the transaction did not complete. In
// strict mode the transaction is looked up again first.
func (s *Steps) TransactionShouldExpire(ctx context.Context) error {
	const step = "the transaction should expire"
	data, err := s.requireOutcome(step)
	if err != nil {
		return err
	}
	if !s.opts.Strict {
		return s.requireData(step, data)
	}
	if data == nil || !data.Status.Final() {
		if s.transactionID == "" {
			return fail(step, "no transaction id to check for expiry")
		}
		raw, err := s.client.GetStatusByID(ctx, s.transactionID)
		if err := s.receive(ctx, step, raw, err, decodeTransaction); err != nil {
			return err
		}
		s.asserted()
		data = s.outcome.Data()
	}
	if data == nil || !expired(data.Status) {
		return fail(step, "expected an expired transaction, got %s", s.describe())
	}
	return nil
}

// ShouldReceiveTimeoutError checks the outcome reports the expiry.
func (s *Steps) ShouldReceiveTimeoutError(ctx context.Context) error {
	const step = "I should receive a timeout error"
	data, err := s.requireOutcome(step)
	if err != nil {
		return err
	}
	if !s.opts.Strict {
		return s.requireData(step, data)
	}
	if data != nil && expired(data.Status) {
		return nil
	}
	msg := strings.ToLower(s.errorMessage())
	if strings.Contains(msg, "expire") || strings.Contains(msg, "timeout") {
		return nil
	}
	return fail(step, "expected a timeout error, got %s", s.describe())
}

// APIShouldReturnAuthenticationError checks the API refused the key.
func (s *Steps) APIShouldReturnAuthenticationError(ctx context.Context) error {
	const step = "the API should return authentication error"
	data, err := s.requireOutcome(step)
	if err != nil {
		return err
	}
	if !s.opts.Strict {
		return s.requireData(step, data)
	}
	if raw := s.outcome.Raw; raw != nil && (raw.StatusCode == 401 || raw.StatusCode == 403) {
		return nil
	}
	return fail(step, "expected status 401 or 403, got %s", s.describe())
}

// ShouldReceiveUnauthorizedErrorMessage checks the 401 body has a message.
func (s *Steps) ShouldReceiveUnauthorizedErrorMessage(ctx context.Context) error {
	const step = "I should receive an unauthorized error message"
	data, err := s.requireOutcome(step)
	if err != nil {
		return err
	}
	if !s.opts.Strict {
		return s.requireData(step, data)
	}
	if raw := s.outcome.Raw; raw != nil {
		if _, ok := responses.ExtractErrorMessage(raw.Body); ok {
			return nil
		}
	}
	return fail(step, "expected an unauthorized message, got %s", s.describe())
}

// ShouldReceiveCurrentStatus checks a status is held. Outside strict mode
// an APPROVED response is simulated when no lookup happened.
func (s *Steps) ShouldReceiveCurrentStatus(ctx context.Context) error {
	const step = "I should receive the current transaction status"
	if s.outcome == nil {
		if s.opts.Strict {
			return fail(step, "no transaction status was received")
		}
		s.outcome = s.simulate(ctx, step, models.StatusApproved, "no response was received", nil)
	}
	s.asserted()

	data := s.outcome.Data()
	if data == nil {
		return fail(step, "transaction data should not be nil")
	}
	if data.Status == "" {
		return fail(step, "transaction status should not be empty")
	}
	return nil
}

// ResponseTimeShouldBeAcceptable checks the last call finished within
// api.timeout.
func (s *Steps) ResponseTimeShouldBeAcceptable(ctx context.Context) error {
	const step = "the response time should be acceptable"
	if err := s.require(ResponseReceived, step); err != nil {
		return err
	}
	s.asserted()

	limit, err := s.cfg.APITimeout()
	if err != nil {
		return err
	}
	raw := s.outcome.Raw
	if raw == nil {
		if s.opts.Strict {
			return fail(step, "no HTTP response to time")
		}
		logging.FromContext(ctx).Warn("No HTTP response to time, skipping response time check")
		return nil
	}
	if !responses.IsResponseTimeAcceptable(raw.Elapsed, limit.Milliseconds()) {
		return fail(step, "response took %s, limit is %s", raw.Elapsed, limit)
	}
	return nil
}

func (s *Steps) requireData(step string, data *models.TransactionData) error {
	if data == nil {
		return fail(step, "response should contain data")
	}
	return nil
}

// errorMessage returns the API's message for the held outcome, if any.
func (s *Steps) errorMessage() string {
	if raw := s.outcome.Raw; raw != nil {
		if msg, ok := responses.ExtractErrorMessage(raw.Body); ok {
			return msg
		}
	}
	if data := s.outcome.Data(); data != nil {
		return data.StatusMessage
	}
	return ""
}

func (s *Steps) describe() string {
	o := s.outcome
	parts := []string{o.Source.String()}
	if o.Raw != nil {
		parts = append(parts, fmt.Sprintf("http %d", o.Raw.StatusCode))
	}
	if data := o.Data(); data != nil {
		parts = append(parts, "status "+string(data.Status))
		if data.StatusMessage != "" {
			parts = append(parts, fmt.Sprintf("message %q", data.StatusMessage))
		}
	}
	if o.Reason != "" {
		parts = append(parts, o.Reason)
	}
	return strings.Join(parts, ", ")
}

func expired(status models.TransactionStatus) bool {
	return status == models.StatusError || status == models.StatusVoided
}
