package entities

import "context"

// ContractCall is a ledger mutating call handed to the wallet for signing.
type ContractCall struct {
	From Account
	To   string
	Data []byte
}

// ProviderHandle is the capability exposed by an injected wallet provider.
type ProviderHandle interface {
	// Accounts returns the already authorized accounts without prompting the user.
	Accounts(ctx context.Context) ([]Account, error)
	// RequestAccounts may prompt the user and blocks until they answer.
	RequestAccounts(ctx context.Context) ([]Account, error)
	// SendTransaction signs and broadcasts the call and returns the transaction hash.
	SendTransaction(ctx context.Context, call ContractCall) (string, error)
}
