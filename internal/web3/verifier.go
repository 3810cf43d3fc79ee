package web3

import (
	"context"
	"errors"
	"fmt"
	"sync"

	xerrors "ENS-Agent-Chain/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Receipt inclusion states reported by CheckReceipt.
const (
	StatusIncluded = "included"
	StatusReverted = "reverted"
	StatusPending  = "pending"
)

// Verifier checks transaction receipts against the configured chains. RPC
// connections are dialed lazily and cached per chain id.
type Verifier struct {
	mu      sync.Mutex
	chains  map[string]ChainDefinition
	clients map[string]*ethclient.Client
}

// NewVerifier indexes the chain definitions by chain id.
func NewVerifier(defs ChainDefinitions) *Verifier {
	chains := make(map[string]ChainDefinition, len(defs.Chains))
	for _, def := range defs.Chains {
		if def.ChainID == "" || def.RPCURL == "" {
			continue
		}
		chains[def.ChainID] = def
	}
	return &Verifier{
		chains:  chains,
		clients: make(map[string]*ethclient.Client),
	}
}

// CheckReceipt reports whether the transaction has been included on chain.
func (v *Verifier) CheckReceipt(ctx context.Context, chainID, txHash string) (string, error) {
	client, err := v.client(ctx, chainID)
	if err != nil {
		return "", err
	}

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return StatusPending, nil
		}
		return "", xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err,
			fmt.Sprintf("查询交易 %s 收据失败", txHash))
	}
	if receipt.Status == coretypes.ReceiptStatusSuccessful {
		return StatusIncluded, nil
	}
	return StatusReverted, nil
}

func (v *Verifier) client(ctx context.Context, chainID string) (*ethclient.Client, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if client, ok := v.clients[chainID]; ok {
		return client, nil
	}
	def, ok := v.chains[chainID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("未配置链 %s 的 RPC 端点", chainID))
	}
	client, err := ethclient.DialContext(ctx, def.RPCURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "连接以太坊节点失败")
	}
	v.clients[chainID] = client
	return client, nil
}

// Close releases all cached RPC connections.
func (v *Verifier) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, client := range v.clients {
		client.Close()
		delete(v.clients, id)
	}
}
