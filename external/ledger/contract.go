package ledger

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

const (
	methodAddToBlockchain     = "addToBlockchain"
	methodGetAllTransactions  = "getAllTransactions"
	methodGetTransactionCount = "getTransactionCount"
)

//go:embed contract/Transactions.json
var transactionsArtifact []byte

// ContractABI returns the interface of the bundled Transactions contract.
func ContractABI() (abi.ABI, error) {
	return ParseArtifact(transactionsArtifact)
}

// LoadArtifact reads a deployment artifact (or a bare ABI array) from disk.
func LoadArtifact(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, errors.Wrapf(err, "reading contract artifact [%s]", path)
	}
	return ParseArtifact(data)
}

func ParseArtifact(data []byte) (abi.ABI, error) {
	definition := bytes.TrimSpace(data)
	if len(definition) > 0 && definition[0] != '[' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(definition, &artifact); err != nil {
			return abi.ABI{}, errors.Wrap(err, "decoding contract artifact")
		}
		definition = artifact.ABI
	}

	parsed, err := abi.JSON(bytes.NewReader(definition))
	if err != nil {
		return abi.ABI{}, errors.Wrap(err, "parsing contract abi")
	}
	for _, method := range []string{methodAddToBlockchain, methodGetAllTransactions, methodGetTransactionCount} {
		if _, ok := parsed.Methods[method]; !ok {
			return abi.ABI{}, errors.Errorf("contract abi is missing method [%s]", method)
		}
	}
	return parsed, nil
}
