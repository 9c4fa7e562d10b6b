package usecases

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"dotpay.backend/internal/config"
	domainerrors "dotpay.backend/internal/domain/errors"
	"dotpay.backend/internal/infrastructure/blockchain"
)

const (
	testFunder   = "0x1111111111111111111111111111111111111111"
	testTreasury = "0x00000000000000000000000000000000000d07aa"
	testToken    = "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"
)

func TestExpectedUnits(t *testing.T) {
	units, err := ExpectedUnits(1550, 155, 6)
	require.NoError(t, err)
	require.Equal(t, "10000000", units.String())

	// 1000030000 / 155 = 6451806.45..., rounded up.
	units, err = ExpectedUnits(1000.03, 155, 6)
	require.NoError(t, err)
	require.Equal(t, "6451807", units.String())

	units, err = ExpectedUnits(1013, 130, 6)
	require.NoError(t, err)
	require.Equal(t, "7792308", units.String())
}

func TestExpectedUnitsValidation(t *testing.T) {
	_, err := ExpectedUnits(0, 155, 6)
	require.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = ExpectedUnits(1000, 0, 6)
	require.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = ExpectedUnits(-10, 155, 6)
	require.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestUnitsToUsd(t *testing.T) {
	require.Equal(t, 10.0, UnitsToUsd(big.NewInt(10_000_000), 6))
	require.Equal(t, 6.451807, UnitsToUsd(big.NewInt(6_451_807), 6))
	require.Equal(t, 0.0, UnitsToUsd(nil, 6))
}

// transferLog builds an ERC-20 Transfer log for the given token and parties.
func transferLog(token, from, to string, value *big.Int, index uint) *types.Log {
	return &types.Log{
		Address: common.HexToAddress(token),
		Topics: []common.Hash{
			blockchain.TransferTopic,
			common.BytesToHash(common.LeftPadBytes(common.HexToAddress(from).Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(common.HexToAddress(to).Bytes(), 32)),
		},
		Data:  common.LeftPadBytes(value.Bytes(), 32),
		Index: index,
	}
}

type fundingFixture struct {
	verifier *FundingVerifier
	receipt  *types.Receipt
	head     uint64
	hash     string
}

func newFundingFixture(t *testing.T) *fundingFixture {
	t.Helper()
	f := &fundingFixture{
		head: 120,
		hash: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	}
	f.receipt = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		Logs: []*types.Log{
			transferLog(testToken, testFunder, testTreasury, big.NewInt(6_000_000), 3),
			transferLog(testToken, testFunder, testTreasury, big.NewInt(4_000_000), 7),
			// Same parties but a different token: must be ignored.
			transferLog("0x2222222222222222222222222222222222222222", testFunder, testTreasury, big.NewInt(99_000_000), 9),
		},
	}

	treasuryCfg := config.TreasuryConfig{
		RPCURL:          "stub://treasury",
		ChainID:         8453,
		USDCContract:    testToken,
		USDCDecimals:    6,
		PlatformAddress: testTreasury,
	}
	factory := blockchain.NewClientFactory()
	factory.RegisterEVMClient("stub://treasury", blockchain.NewEVMClientWithStubs(
		big.NewInt(8453),
		func(ctx context.Context, txHash string) (*types.Receipt, error) { return f.receipt, nil },
		func(ctx context.Context) (uint64, error) { return f.head, nil },
	))

	f.verifier = NewFundingVerifier(factory, treasuryCfg, testMpesaCfg(), "")
	return f
}

func TestFundingVerifySumsMatchingTransfers(t *testing.T) {
	f := newFundingFixture(t)

	result, err := f.verifier.Verify(context.Background(), testFunder, f.hash, 0, big.NewInt(10_000_000))
	require.NoError(t, err)

	require.Equal(t, "10000000", result.FundedUnits.String())
	require.Equal(t, 10.0, result.FundedUsd)
	require.Equal(t, uint(3), result.LogIndex)
	require.Equal(t, uint64(100), result.BlockNumber)
	require.Equal(t, int64(8453), result.ChainID)
	require.Equal(t, testFunder, result.From)
	require.Equal(t, testTreasury, result.To)
}

func TestFundingVerifyRejectsUnderfunding(t *testing.T) {
	f := newFundingFixture(t)

	_, err := f.verifier.Verify(context.Background(), testFunder, f.hash, 0, big.NewInt(10_000_001))
	require.ErrorIs(t, err, domainerrors.ErrState)
	require.Contains(t, err.Error(), "funded amount 10000000 below required 10000001 units")
}

func TestFundingVerifyNoMatchingTransfer(t *testing.T) {
	f := newFundingFixture(t)

	_, err := f.verifier.Verify(context.Background(), "0x3333333333333333333333333333333333333333", f.hash, 0, big.NewInt(1))
	require.ErrorIs(t, err, domainerrors.ErrState)
	require.Contains(t, err.Error(), "no qualifying token transfer")
}

func TestFundingVerifyRevertedReceipt(t *testing.T) {
	f := newFundingFixture(t)
	f.receipt.Status = types.ReceiptStatusFailed

	_, err := f.verifier.Verify(context.Background(), testFunder, f.hash, 0, big.NewInt(1))
	require.ErrorIs(t, err, domainerrors.ErrState)
	require.Contains(t, err.Error(), "reverted")
}

func TestFundingVerifyInsufficientConfirmations(t *testing.T) {
	f := newFundingFixture(t)
	f.head = 99 // receipt mined at 100

	_, err := f.verifier.Verify(context.Background(), testFunder, f.hash, 0, big.NewInt(1))
	require.ErrorIs(t, err, domainerrors.ErrState)
	require.Contains(t, err.Error(), "confirmations")
}

func TestFundingVerifyChainMismatch(t *testing.T) {
	f := newFundingFixture(t)

	_, err := f.verifier.Verify(context.Background(), testFunder, f.hash, 1, big.NewInt(1))
	require.ErrorIs(t, err, domainerrors.ErrState)
	require.Contains(t, err.Error(), "chain mismatch")
}

func TestFundingVerifyRejectsBadIdentifiers(t *testing.T) {
	f := newFundingFixture(t)

	_, err := f.verifier.Verify(context.Background(), "not-an-address", f.hash, 0, big.NewInt(1))
	require.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = f.verifier.Verify(context.Background(), testFunder, "0x1234", 0, big.NewInt(1))
	require.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestFundingVerifyUppercaseInputsNormalized(t *testing.T) {
	f := newFundingFixture(t)

	result, err := f.verifier.Verify(context.Background(),
		"0x1111111111111111111111111111111111111111",
		"0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 0, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, f.hash, result.TxHash)
}
