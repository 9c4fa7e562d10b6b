package usecases

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"

	"dotpay.backend/internal/config"
	domainerrors "dotpay.backend/internal/domain/errors"
	"dotpay.backend/internal/infrastructure/blockchain"
	pkgcrypto "dotpay.backend/pkg/crypto"
)

// fixedPointScale is the 6-decimal scaling applied to KES amounts and rates
// before the integer expected-units division.
const fixedPointScale = 1_000_000

// FundingResult is the outcome of a successful funding verification.
type FundingResult struct {
	TxHash      string
	ChainID     int64
	Token       string
	Treasury    string
	From        string
	To          string
	FundedUnits *big.Int
	FundedUsd   float64
	LogIndex    uint
	BlockNumber uint64
}

// FundingVerifier confirms a user-supplied funding transaction carries a
// qualifying stablecoin transfer to the treasury.
type FundingVerifier struct {
	factory  *blockchain.ClientFactory
	treasury config.TreasuryConfig
	mpesa    config.MpesaConfig

	// treasuryAddress overrides cfg.PlatformAddress (set from the signer
	// wallet when only a private key is configured).
	treasuryAddress string
}

// NewFundingVerifier creates the verifier. treasuryAddress may be empty, in
// which case the configured platform address is used.
func NewFundingVerifier(factory *blockchain.ClientFactory, treasury config.TreasuryConfig, mpesa config.MpesaConfig, treasuryAddress string) *FundingVerifier {
	if treasuryAddress == "" {
		treasuryAddress = treasury.PlatformAddress
	}
	return &FundingVerifier{
		factory:         factory,
		treasury:        treasury,
		mpesa:           mpesa,
		treasuryAddress: strings.ToLower(treasuryAddress),
	}
}

// TreasuryAddress returns the lowercase treasury deposit address.
func (v *FundingVerifier) TreasuryAddress() string {
	return v.treasuryAddress
}

// TokenAddress returns the configured stablecoin contract, lowercase.
func (v *FundingVerifier) TokenAddress() string {
	return strings.ToLower(v.treasury.USDCContract)
}

// ChainID returns the configured chain id.
func (v *FundingVerifier) ChainID() int64 {
	return v.treasury.ChainID
}

func (v *FundingVerifier) decimals() int {
	return v.treasury.USDCDecimals
}

// ExpectedUnits computes the integer token amount that must reach the
// treasury for a quote: ceil(totalDebitKes / rateKesPerUsd) in token units.
// Both inputs are scaled to 6-decimal fixed point first so the division is
// integer-exact; rounding is toward +infinity to protect the treasury floor.
func ExpectedUnits(totalDebitKes, rateKesPerUsd float64, decimals int) (*big.Int, error) {
	if totalDebitKes <= 0 || math.IsNaN(totalDebitKes) || math.IsInf(totalDebitKes, 0) {
		return nil, domainerrors.Validation("total debit must be positive")
	}
	if rateKesPerUsd <= 0 || math.IsNaN(rateKesPerUsd) || math.IsInf(rateKesPerUsd, 0) {
		return nil, domainerrors.Validation("rate must be positive")
	}
	if decimals < 0 {
		decimals = 0
	}
	if decimals > 18 {
		decimals = 18
	}

	totalScaled := big.NewInt(int64(math.Round(totalDebitKes * fixedPointScale)))
	rateScaled := big.NewInt(int64(math.Round(rateKesPerUsd * fixedPointScale)))

	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	numerator := new(big.Int).Mul(totalScaled, pow)

	units, remainder := new(big.Int).DivMod(numerator, rateScaled, new(big.Int))
	if remainder.Sign() > 0 {
		units.Add(units, big.NewInt(1))
	}
	if units.Sign() <= 0 {
		return nil, domainerrors.Validation("expected funding amount rounds to zero")
	}
	return units, nil
}

// UnitsToUsd converts integer token units to a 6-decimal USD amount.
func UnitsToUsd(units *big.Int, decimals int) float64 {
	if units == nil {
		return 0
	}
	pow := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(units), pow).Float64()
	return round6(out)
}

// Verify confirms the funding transaction per the verification procedure:
// chain match, mined receipt with enough confirmations, and a sum of token
// transfers from the expected funder to the treasury covering expectedUnits.
func (v *FundingVerifier) Verify(ctx context.Context, expectedFrom, txHash string, requestChainID int64, expectedUnits *big.Int) (*FundingResult, error) {
	from, err := pkgcrypto.NormalizeAddress(expectedFrom)
	if err != nil {
		return nil, domainerrors.Validation("funder address is not a valid evm address")
	}
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	if !pkgcrypto.IsTxHash(txHash) {
		return nil, domainerrors.Validation("onchainTxHash is not a valid transaction hash")
	}
	if v.treasury.RPCURL == "" || v.treasury.USDCContract == "" || v.treasuryAddress == "" {
		return nil, domainerrors.ConfigMissing("treasury rpc, token contract and platform address are required for funded flows")
	}

	client, err := v.factory.GetEVMClient(v.treasury.RPCURL)
	if err != nil {
		return nil, domainerrors.External("failed to reach evm rpc", err)
	}

	chainID := client.ChainID().Int64()
	if v.treasury.ChainID != 0 && chainID != v.treasury.ChainID {
		return nil, domainerrors.StateConflict(fmt.Sprintf("chain mismatch: rpc reports %d, configured %d", chainID, v.treasury.ChainID))
	}
	if requestChainID != 0 && chainID != requestChainID {
		return nil, domainerrors.StateConflict(fmt.Sprintf("chain mismatch: rpc reports %d, request expects %d", chainID, requestChainID))
	}

	receipt, err := client.TransactionReceipt(ctx, txHash)
	if err != nil || receipt == nil {
		return nil, domainerrors.External("funding transaction receipt not found", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, domainerrors.StateConflict("funding transaction reverted")
	}

	minConfirms := v.mpesa.MinFundingConfirmations
	if minConfirms == 0 {
		minConfirms = 1
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, domainerrors.External("failed to read chain head", err)
	}
	blockNumber := receipt.BlockNumber.Uint64()
	if head < blockNumber || head-blockNumber+1 < minConfirms {
		return nil, domainerrors.StateConflict(fmt.Sprintf("funding transaction has %d of %d required confirmations", head-blockNumber+1, minConfirms))
	}

	token := v.TokenAddress()
	transfers := blockchain.DecodeTransferLogs(receipt, token)

	total := new(big.Int)
	lowestLogIndex := uint(0)
	matched := false
	for _, transfer := range transfers {
		if transfer.From != from || transfer.To != v.treasuryAddress {
			continue
		}
		total.Add(total, transfer.Value)
		if !matched || transfer.LogIndex < lowestLogIndex {
			lowestLogIndex = transfer.LogIndex
		}
		matched = true
	}
	if !matched {
		return nil, domainerrors.StateConflict("no qualifying token transfer from funder to treasury")
	}
	if total.Cmp(expectedUnits) < 0 {
		return nil, domainerrors.StateConflict(fmt.Sprintf("funded amount %s below required %s units", total.String(), expectedUnits.String()))
	}

	return &FundingResult{
		TxHash:      txHash,
		ChainID:     chainID,
		Token:       token,
		Treasury:    v.treasuryAddress,
		From:        from,
		To:          v.treasuryAddress,
		FundedUnits: total,
		FundedUsd:   UnitsToUsd(total, v.treasury.USDCDecimals),
		LogIndex:    lowestLogIndex,
		BlockNumber: blockNumber,
	}, nil
}
