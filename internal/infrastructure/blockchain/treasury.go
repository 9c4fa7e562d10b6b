package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// transferSelector is the 4-byte selector for ERC20.transfer(address,uint256).
var transferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

const receiptPollInterval = 3 * time.Second

var (
	ErrTreasuryNotConfigured = errors.New("treasury wallet not configured")
	ErrTransferReverted      = errors.New("treasury transfer reverted")
)

// TreasuryWallet signs stablecoin transfers from the platform treasury. It is
// used for refunds and onramp credits.
type TreasuryWallet struct {
	client       *EVMClient
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	tokenAddress common.Address
	decimals     int
	waitConfirms uint64
}

// NewTreasuryWallet creates a treasury wallet bound to an EVM client and an
// ERC-20 token contract. privateKeyHex may carry a 0x prefix.
func NewTreasuryWallet(client *EVMClient, privateKeyHex, tokenAddress string, decimals int, waitConfirms uint64) (*TreasuryWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid treasury private key: %w", err)
	}
	if waitConfirms == 0 {
		waitConfirms = 1
	}
	return &TreasuryWallet{
		client:       client,
		privateKey:   key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		tokenAddress: common.HexToAddress(tokenAddress),
		decimals:     decimals,
		waitConfirms: waitConfirms,
	}, nil
}

// Address returns the treasury wallet address, lowercase.
func (w *TreasuryWallet) Address() string {
	return strings.ToLower(w.address.Hex())
}

// Decimals returns the token decimals the wallet was configured with.
func (w *TreasuryWallet) Decimals() int {
	return w.decimals
}

// Transfer sends `transfer(recipient, amountUnits)` on the token contract and
// waits for the configured confirmations. It returns the transaction hash.
func (w *TreasuryWallet) Transfer(ctx context.Context, recipient string, amountUnits *big.Int) (string, error) {
	if w.client == nil || w.client.client == nil {
		return "", ErrTreasuryNotConfigured
	}
	if amountUnits == nil || amountUnits.Sign() <= 0 {
		return "", fmt.Errorf("refusing zero-value treasury transfer")
	}

	eth := w.client.client
	nonce, err := eth.PendingNonceAt(ctx, w.address)
	if err != nil {
		return "", fmt.Errorf("failed to fetch treasury nonce: %w", err)
	}
	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas price: %w", err)
	}

	to := common.HexToAddress(recipient)
	calldata := make([]byte, 0, 4+64)
	calldata = append(calldata, transferSelector...)
	calldata = append(calldata, common.LeftPadBytes(to.Bytes(), 32)...)
	calldata = append(calldata, common.LeftPadBytes(amountUnits.Bytes(), 32)...)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &w.tokenAddress,
		Value:    big.NewInt(0),
		Gas:      120_000,
		GasPrice: gasPrice,
		Data:     calldata,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.client.ChainID()), w.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign treasury transfer: %w", err)
	}
	if err := eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to broadcast treasury transfer: %w", err)
	}

	txHash := strings.ToLower(signed.Hash().Hex())
	if err := w.waitMined(ctx, txHash); err != nil {
		return txHash, err
	}
	return txHash, nil
}

// waitMined polls for the receipt until it is mined with enough confirmations
// or the context expires.
func (w *TreasuryWallet) waitMined(ctx context.Context, txHash string) error {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return ErrTransferReverted
			}
			head, err := w.client.BlockNumber(ctx)
			if err == nil && head >= receipt.BlockNumber.Uint64()+w.waitConfirms-1 {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
