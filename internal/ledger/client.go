// ABOUTME: GraphQL client for the ledger service's balance and transaction queries
// ABOUTME: Reports transport failures and missing response fields as distinct errors

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/machinebox/graphql"
)

var (
	// ErrUnavailable means the ledger service could not be reached or answered with an error.
	ErrUnavailable = errors.New("ledger service unavailable")

	// ErrMalformedResponse means the ledger answered but an expected field was missing or invalid.
	ErrMalformedResponse = errors.New("malformed ledger response")
)

const balanceQuery = `query ($address: String!) {
  accountByAddress(address: $address) {
    address
    balance
  }
}`

const transactionsQuery = `query ($address: String!) {
  accountByAddress(address: $address) {
    address
    txsReceived {
      data {
        hash
        total
        blockHeight
      }
    }
    txsSent {
      data {
        hash
        total
        blockHeight
      }
    }
  }
}`

// Client queries the ledger service. Each call is one-shot: no retries, bounded
// by the configured timeout.
type Client struct {
	gql     *graphql.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a ledger client for the GraphQL endpoint at url.
// A zero timeout leaves calls bounded only by the caller's context.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	gql := graphql.NewClient(url, graphql.WithHTTPClient(&http.Client{}))
	gql.Log = func(s string) { logger.Debug(s) }

	return &Client{
		gql:     gql,
		timeout: timeout,
		logger:  logger,
	}
}

type balanceResponse struct {
	AccountByAddress *struct {
		Address string       `json:"address"`
		Balance *json.Number `json:"balance"`
	} `json:"accountByAddress"`
}

type transferNode struct {
	Hash        string       `json:"hash"`
	Total       *json.Number `json:"total"`
	BlockHeight *json.Number `json:"blockHeight"`
}

type transferPage struct {
	Data []transferNode `json:"data"`
}

type transactionsResponse struct {
	AccountByAddress *struct {
		Address     string        `json:"address"`
		TxsReceived *transferPage `json:"txsReceived"`
		TxsSent     *transferPage `json:"txsSent"`
	} `json:"accountByAddress"`
}

// FetchBalance returns the balance of address in smallest units.
func (c *Client) FetchBalance(ctx context.Context, address string) (int64, error) {
	var resp balanceResponse
	if err := c.run(ctx, balanceQuery, address, &resp); err != nil {
		return 0, err
	}

	if resp.AccountByAddress == nil || resp.AccountByAddress.Balance == nil {
		return 0, fmt.Errorf("%w: accountByAddress.balance missing", ErrMalformedResponse)
	}

	balance, err := resp.AccountByAddress.Balance.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: balance %q is not an integer", ErrMalformedResponse, resp.AccountByAddress.Balance.String())
	}
	return balance, nil
}

// FetchTransactions returns the received and sent transfers of address.
func (c *Client) FetchTransactions(ctx context.Context, address string) (*TransactionSummary, error) {
	var resp transactionsResponse
	if err := c.run(ctx, transactionsQuery, address, &resp); err != nil {
		return nil, err
	}

	acct := resp.AccountByAddress
	if acct == nil || acct.TxsReceived == nil || acct.TxsSent == nil {
		return nil, fmt.Errorf("%w: accountByAddress.txsReceived/txsSent missing", ErrMalformedResponse)
	}

	received, err := toTransfers("txsReceived", acct.TxsReceived.Data)
	if err != nil {
		return nil, err
	}
	sent, err := toTransfers("txsSent", acct.TxsSent.Data)
	if err != nil {
		return nil, err
	}

	return &TransactionSummary{Received: received, Sent: sent}, nil
}

// run executes query with the address variable and decodes data into resp.
func (c *Client) run(ctx context.Context, query, address string, resp any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := graphql.NewRequest(query)
	req.Var("address", address)

	if err := c.gql.Run(ctx, req, resp); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func toTransfers(field string, nodes []transferNode) ([]Transfer, error) {
	out := make([]Transfer, 0, len(nodes))
	for i, n := range nodes {
		if n.Total == nil || n.BlockHeight == nil {
			return nil, fmt.Errorf("%w: %s[%d] missing total or blockHeight", ErrMalformedResponse, field, i)
		}
		total, err := n.Total.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d].total %q is not an integer", ErrMalformedResponse, field, i, n.Total.String())
		}
		height, err := n.BlockHeight.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d].blockHeight %q is not an integer", ErrMalformedResponse, field, i, n.BlockHeight.String())
		}
		out = append(out, Transfer{Hash: n.Hash, Amount: total, BlockHeight: height})
	}
	return out, nil
}
