package blockchain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TransferTopic is the keccak256 of the ERC-20 Transfer event signature.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var (
	dialEVMClient    = ethclient.Dial
	getClientChainID = func(client *ethclient.Client, ctx context.Context) (*big.Int, error) {
		return client.ChainID(ctx)
	}
)

// TokenTransfer is a decoded ERC-20 Transfer log.
type TokenTransfer struct {
	Token    string
	From     string
	To       string
	Value    *big.Int
	LogIndex uint
}

// EVMClient provides EVM blockchain interaction
type EVMClient struct {
	client  *ethclient.Client
	chainID *big.Int
	rpcURL  string

	// test seams for unit tests without network sockets
	testReceipt     func(ctx context.Context, txHash string) (*types.Receipt, error)
	testBlockNumber func(ctx context.Context) (uint64, error)
}

// NewEVMClient creates a new EVM client
func NewEVMClient(rpcURL string) (*EVMClient, error) {
	client, err := dialEVMClient(rpcURL)
	if err != nil {
		return nil, err
	}

	chainID, err := getClientChainID(client, context.Background())
	if err != nil {
		return nil, err
	}

	return &EVMClient{
		client:  client,
		chainID: chainID,
		rpcURL:  rpcURL,
	}, nil
}

// NewEVMClientWithStubs creates an EVM client backed by injected functions.
// This is intended for unit tests where RPC sockets are unavailable.
func NewEVMClientWithStubs(
	chainID *big.Int,
	receiptFn func(ctx context.Context, txHash string) (*types.Receipt, error),
	blockNumberFn func(ctx context.Context) (uint64, error),
) *EVMClient {
	if chainID == nil {
		chainID = big.NewInt(1)
	}
	return &EVMClient{
		chainID:         chainID,
		testReceipt:     receiptFn,
		testBlockNumber: blockNumberFn,
	}
}

// ChainID returns the chain ID reported by the endpoint
func (c *EVMClient) ChainID() *big.Int {
	return c.chainID
}

// TransactionReceipt gets a transaction receipt
func (c *EVMClient) TransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	if c.testReceipt != nil {
		return c.testReceipt(ctx, txHash)
	}
	return c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
}

// BlockNumber gets the latest block number
func (c *EVMClient) BlockNumber(ctx context.Context) (uint64, error) {
	if c.testBlockNumber != nil {
		return c.testBlockNumber(ctx)
	}
	return c.client.BlockNumber(ctx)
}

// Client exposes the raw ethclient for callers that sign transactions.
func (c *EVMClient) Client() *ethclient.Client {
	return c.client
}

// Close closes the client connection
func (c *EVMClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// DecodeTransferLogs extracts ERC-20 Transfer events emitted by the given
// token contract from a receipt. Logs from other contracts or with other
// topics are skipped.
func DecodeTransferLogs(receipt *types.Receipt, tokenAddress string) []TokenTransfer {
	token := strings.ToLower(tokenAddress)
	var transfers []TokenTransfer
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) != 3 {
			continue
		}
		if lg.Topics[0] != TransferTopic {
			continue
		}
		if strings.ToLower(lg.Address.Hex()) != token {
			continue
		}
		transfers = append(transfers, TokenTransfer{
			Token:    strings.ToLower(lg.Address.Hex()),
			From:     strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()).Hex()),
			To:       strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex()),
			Value:    new(big.Int).SetBytes(lg.Data),
			LogIndex: lg.Index,
		})
	}
	return transfers
}
