package funds

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// minimal ERC-20 surface, enough to read a balance
const erc20ABI = `[
	{
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const usdcDecimals = 1000000 // 10^6

// ChainReader reads an account's USDC balance straight from the chain,
// independent of what the exchange reports.
type ChainReader struct {
	client *ethclient.Client
	token  common.Address
	abi    abi.ABI
}

// NewChainReader dials the RPC endpoint and prepares the ERC-20 call.
func NewChainReader(rpcURL, usdcAddr string) (*ChainReader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("funds: dial rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("funds: parse erc20 abi: %w", err)
	}
	if !common.IsHexAddress(usdcAddr) {
		return nil, fmt.Errorf("funds: invalid token address %q", usdcAddr)
	}
	return &ChainReader{
		client: client,
		token:  common.HexToAddress(usdcAddr),
		abi:    parsed,
	}, nil
}

// USDCBalance returns the address's USDC balance in whole dollars.
func (r *ChainReader) USDCBalance(ctx context.Context, address string) (float64, error) {
	if !common.IsHexAddress(address) {
		return 0, fmt.Errorf("funds: invalid address %q", address)
	}
	data, err := r.abi.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return 0, fmt.Errorf("funds: pack balanceOf: %w", err)
	}
	result, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("funds: call balanceOf: %w", err)
	}

	var raw *big.Int
	if err := r.abi.UnpackIntoInterface(&raw, "balanceOf", result); err != nil {
		return 0, fmt.Errorf("funds: unpack balanceOf: %w", err)
	}

	balance := new(big.Float).SetInt(raw)
	balance.Quo(balance, big.NewFloat(usdcDecimals))
	out, _ := balance.Float64()
	return out, nil
}

// Close releases the RPC connection.
func (r *ChainReader) Close() {
	r.client.Close()
}
