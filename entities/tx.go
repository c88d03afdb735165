package entities

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Account is the address of the connected wallet account.
type Account string

func (a Account) String() string {
	return string(a)
}

// TransferRequest holds the fields entered by the user before a submission.
type TransferRequest struct {
	Recipient string `json:"addressTo"`
	Amount    string `json:"amount"`
	Keyword   string `json:"keyword"`
	Message   string `json:"message"`
}

// Complete reports whether all fields are present after trimming whitespace.
func (r TransferRequest) Complete() bool {
	return strings.TrimSpace(r.Recipient) != "" &&
		strings.TrimSpace(r.Amount) != "" &&
		strings.TrimSpace(r.Keyword) != "" &&
		strings.TrimSpace(r.Message) != ""
}

// Confirmation represents a ledger write that was accepted by the wallet but is not final yet.
// Wait blocks until the write is mined and returns the same result on every call.
type Confirmation interface {
	TxHash() string
	Wait(ctx context.Context) error
}

type SubmittedTransaction struct {
	ID           string
	Sender       Account
	Recipient    string
	Amount       *big.Int // base units
	Message      string
	Keyword      string
	SubmittedAt  time.Time
	Confirmation Confirmation
}

type TransactionRecord struct {
	Sender    string          `json:"addressFrom"`
	Recipient string          `json:"addressTo"`
	Amount    decimal.Decimal `json:"amount"`
	Message   string          `json:"message"`
	Keyword   string          `json:"keyword"`
	Timestamp time.Time       `json:"timestamp"`
}
