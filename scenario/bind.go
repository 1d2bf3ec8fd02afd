package scenario

import (
	"context"

	"github.com/cucumber/godog"

	"payments-e2e/builders"
)

// quoted captures a {string} parameter.
const quoted = `"([^"]*)"`

// Bind registers the payment steps of s on sc.
func (s *Steps) Bind(sc *godog.ScenarioContext) {
	sc.Step(`^the (?:payment|Wompi) API is available$`, s.APIIsAvailable)
	sc.Step(`^I have valid merchant credentials$`, s.HaveValidMerchantCredentials)
	sc.Step(`^I have invalid merchant credentials$`, s.HaveInvalidMerchantCredentials)
	sc.Step(`^I have valid PSE payment data$`, s.pseData(builders.Valid))
	sc.Step(`^I have invalid PSE bank data$`, s.pseData(builders.InvalidBank))
	sc.Step(`^I have PSE payment data with insufficient funds$`, s.pseData(builders.InsufficientFunds))
	sc.Step(`^I have PSE payment data for an authentication timeout$`, s.pseData(builders.Timeout))
	sc.Step(`^I have valid Nequi payment data$`, s.HaveNequiPaymentData)
	sc.Step(`^I have a successful PSE payment transaction$`, s.HaveSuccessfulTransaction)

	sc.Step(`^I create a (?:PSE|Nequi) payment transaction$`, s.CreatePayment)
	sc.Step(`^I query the transaction status$`, s.QueryTransactionStatus)
	sc.Step(`^I query the transaction by reference$`, s.QueryTransactionByReference)
	sc.Step(`^the user does not complete authentication within timeout period$`, s.WaitForAuthenticationTimeout)

	sc.Step(`^the transaction should be approved$`, s.TransactionShouldBeApproved)
	sc.Step(`^I should receive a transaction ID$`, s.ShouldReceiveTransactionID)
	sc.Step(`^the (?:transaction )?status should be `+quoted+`$`, s.StatusShouldBe)
	sc.Step(`^the transaction should be rejected$`, s.TransactionShouldBeRejected)
	sc.Step(`^I should receive an error message$`, s.ShouldReceiveErrorMessage)
	sc.Step(`^I should receive an insufficient funds error$`, s.ShouldReceiveInsufficientFundsError)
	sc.Step(`^the transaction should expire$`, s.TransactionShouldExpire)
	sc.Step(`^I should receive a timeout error$`, s.ShouldReceiveTimeoutError)
	sc.Step(`^the API should return authentication error$`, s.APIShouldReturnAuthenticationError)
	sc.Step(`^I should receive an unauthorized error message$`, s.ShouldReceiveUnauthorizedErrorMessage)
	sc.Step(`^I should receive the current transaction status$`, s.ShouldReceiveCurrentStatus)
	sc.Step(`^the response time should be acceptable$`, s.ResponseTimeShouldBeAcceptable)
}

func (s *Steps) pseData(kind builders.Kind) func(context.Context) error {
	return func(ctx context.Context) error {
		return s.HavePSEPaymentData(ctx, kind)
	}
}
