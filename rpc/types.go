package rpc

import (
	"fmt"
	"math/big"
	"strings"

	"creditline/crypto"
)

// parseAmount decodes a base-10 amount string into a non-negative big integer.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must not be empty")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

// parseOptionalAmount treats an empty string as absent, which the engine reads
// as "derive this leg from the other one".
func parseOptionalAmount(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return parseAmount(value)
}

func decodeBech32(addr string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("address must not be empty")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return decoded, nil
}

func decodeBech32List(addrs []string) ([]crypto.Address, error) {
	decoded := make([]crypto.Address, 0, len(addrs))
	for _, addr := range addrs {
		parsed, err := decodeBech32(addr)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, parsed)
	}
	return decoded, nil
}

func parseAmountList(values []string) ([]*big.Int, error) {
	parsed := make([]*big.Int, 0, len(values))
	for _, value := range values {
		amount, err := parseAmount(value)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, amount)
	}
	return parsed, nil
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
