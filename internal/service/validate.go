package service

import (
	"strings"

	"PoolBet/internal/chain"
	"PoolBet/internal/model"
)

// 用户输入校验：在任何网络调用之前同步拒绝

func validateBetInput(in CreateBetInput) error {
	if err := validateMarketID(in.MarketID); err != nil {
		return err
	}
	if !chain.IsHexAddress(strings.TrimSpace(in.UserAddress)) {
		return invalid("userAddress", "must be 0x followed by 40 hex characters")
	}
	if !in.Prediction.Valid() {
		return invalid("prediction", "must be yes or no")
	}
	if err := validatePositiveWei("amount", in.Amount); err != nil {
		return err
	}
	if !chain.IsTxHash(in.TransactionHash) {
		return invalid("transactionHash", "must be 0x followed by 64 hex characters")
	}
	if in.TaxTransactionHash != "" && !chain.IsTxHash(in.TaxTransactionHash) {
		return invalid("taxTransactionHash", "must be 0x followed by 64 hex characters")
	}
	if in.TaxTransactionHash != "" && chain.NormalizeHash(in.TaxTransactionHash) == chain.NormalizeHash(in.TransactionHash) {
		return invalid("taxTransactionHash", "must differ from transactionHash")
	}
	if in.ChainID <= 0 {
		return invalid("chainId", "must be positive")
	}
	return nil
}

func validateTransactionInput(in CreateTransactionInput) error {
	if !chain.IsHexAddress(strings.TrimSpace(in.UserAddress)) {
		return invalid("userAddress", "must be 0x followed by 40 hex characters")
	}
	if !in.Type.Valid() {
		return invalid("type", "unknown transaction type")
	}
	if !chain.IsTxHash(in.TransactionHash) {
		return invalid("transactionHash", "must be 0x followed by 64 hex characters")
	}
	if in.ChainID <= 0 {
		return invalid("chainId", "must be positive")
	}
	if in.Type.CarriesValue() {
		if err := validatePositiveWei("value", in.Value); err != nil {
			return err
		}
	}
	return nil
}

func validateRefundInput(in RefundInput) error {
	if !chain.IsTxHash(in.TaxTransactionHash) {
		return invalid("taxTransactionHash", "must be 0x followed by 64 hex characters")
	}
	if err := validateMarketID(in.MarketID); err != nil {
		return err
	}
	if !chain.IsHexAddress(strings.TrimSpace(in.UserAddress)) {
		return invalid("userAddress", "must be 0x followed by 40 hex characters")
	}
	if !in.Prediction.Valid() {
		return invalid("prediction", "must be yes or no")
	}
	if in.ChainID <= 0 {
		return invalid("chainId", "must be positive")
	}
	return nil
}

func validateMarketID(id string) error {
	if _, err := chain.ParseMarketID(id); err != nil || strings.TrimSpace(id) != id || id == "" {
		return invalid("marketId", "must be a non-negative decimal integer")
	}
	return nil
}

func validatePositiveWei(field, s string) error {
	v, err := chain.ParseWei(s)
	if err != nil || v.Sign() <= 0 || strings.TrimSpace(s) != s {
		return invalid(field, "must be a positive integer amount in wei")
	}
	return nil
}

func validateResult(p model.Prediction) error {
	if !p.Valid() {
		return invalid("result", "must be yes or no")
	}
	return nil
}
