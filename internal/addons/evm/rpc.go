package evm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client adapts an Ethereum JSON-RPC endpoint to the addon's RPC surface.
type Client struct {
	inner *ethclient.Client
}

func Dial(url string) (*Client, error) {
	inner, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &Client{inner: inner}, nil
}

func (c *Client) PendingNonceAt(address string) (uint64, error) {
	return c.inner.PendingNonceAt(context.Background(), common.HexToAddress(address))
}

func (c *Client) SendRawTransaction(signedTx []byte) (string, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(signedTx); err != nil {
		return "", fmt.Errorf("failed to decode signed transaction: %w", err)
	}
	if err := c.inner.SendTransaction(context.Background(), &tx); err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

func (c *Client) TransactionConfirmed(txHash string) (bool, error) {
	receipt, err := c.inner.TransactionReceipt(context.Background(), common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return false, err
	}
	return receipt != nil, nil
}

func (c *Client) ChainID() (uint64, error) {
	id, err := c.inner.ChainID(context.Background())
	if err != nil {
		return 0, err
	}
	return id.Uint64(), nil
}

func (c *Client) Close() {
	c.inner.Close()
}
