//nolint:tagliatelle // rippled wire contract
package xrpl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	rippledata "github.com/rubblelabs/ripple/data"
	"go.uber.org/zap"

	"github.com/interledgermesh/connector/logger"
)

// ******************** RPC command request objects ********************

// RPCError is an rpc error result.
type RPCError struct {
	Name      string `json:"error"`
	Code      int    `json:"error_code"`
	Message   string `json:"error_message"`
	Exception string `json:"error_exception"`
}

// Error returns error string for the RPCError.
func (e *RPCError) Error() string {
	return fmt.Sprintf("failed to call RPC, error:%s, error code:%d, error message:%s, error exception:%s",
		e.Name, e.Code, e.Message, e.Exception)
}

// AccountInfoRequest is `account_info` method request.
type AccountInfoRequest struct {
	Account rippledata.Account `json:"account"`
}

// AccountInfoResult is `account_info` method result.
type AccountInfoResult struct {
	LedgerSequence uint32                 `json:"ledger_current_index"`
	AccountData    rippledata.AccountRoot `json:"account_data"`
}

// AccountChannelsRequest is `account_channels` method request.
type AccountChannelsRequest struct {
	Account            rippledata.Account  `json:"account"`
	DestinationAccount *rippledata.Account `json:"destination_account,omitempty"`
	Limit              uint32              `json:"limit"`
	Marker             any                 `json:"marker,omitempty"`
}

// ChannelResult is one payment channel of the `account_channels` result.
type ChannelResult struct {
	Account            rippledata.Account `json:"account"`
	Amount             string             `json:"amount"`
	Balance            string             `json:"balance"`
	ChannelID          string             `json:"channel_id"`
	DestinationAccount rippledata.Account `json:"destination_account"`
	PublicKeyHex       string             `json:"public_key_hex"`
	SettleDelay        uint32             `json:"settle_delay"`
	Expiration         *uint32            `json:"expiration,omitempty"`
	CancelAfter        *uint32            `json:"cancel_after,omitempty"`
}

// AccountChannelsResult is `account_channels` method result.
type AccountChannelsResult struct {
	Account  rippledata.Account `json:"account"`
	Channels []ChannelResult    `json:"channels"`
	Marker   any                `json:"marker,omitempty"`
}

// SubmitRequest is `submit` method request.
type SubmitRequest struct {
	TxBlob string `json:"tx_blob"`
}

// SubmitResult is `submit` method result.
type SubmitResult struct {
	EngineResult        rippledata.TransactionResult `json:"engine_result"`
	EngineResultCode    int                          `json:"engine_result_code"`
	EngineResultMessage string                       `json:"engine_result_message"`
	TxBlob              string                       `json:"tx_blob"`
	Tx                  any                          `json:"tx_json"`
}

// TxRequest is `tx` method request.
type TxRequest struct {
	Transaction rippledata.Hash256 `json:"transaction"`
}

// TxResult is `tx` method result.
type TxResult struct {
	Validated bool `json:"validated"`
	rippledata.TransactionWithMetaData
}

// UnmarshalJSON is a shim to populate the Validated field before passing control on to
// TransactionWithMetaData.UnmarshalJSON.
func (txr *TxResult) UnmarshalJSON(b []byte) error {
	var extract map[string]any
	if err := json.Unmarshal(b, &extract); err != nil {
		return errors.Wrap(err, "failed to decode tx result")
	}
	if validated, ok := extract["validated"].(bool); ok {
		txr.Validated = validated
	}

	return json.Unmarshal(b, &txr.TransactionWithMetaData)
}

// LedgerCurrentResult is `ledger_current` method result.
type LedgerCurrentResult struct {
	LedgerCurrentIndex int64  `json:"ledger_current_index"`
	Status             string `json:"status"`
}

// ******************** RPC transport objects ********************

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result any `json:"result"`
}

// ******************** XRPL RPC Client ********************

// HTTPClient is HTTP client interface.
type HTTPClient interface {
	DoJSON(ctx context.Context, method, url string, reqBody any, resDecoder func([]byte) error) error
}

// RPCClientConfig defines the config for the RPCClient.
type RPCClientConfig struct {
	URL       string
	PageLimit uint32
}

// DefaultRPCClientConfig returns default RPCClientConfig.
func DefaultRPCClientConfig(url string) RPCClientConfig {
	return RPCClientConfig{
		URL:       url,
		PageLimit: 100,
	}
}

// RPCClient is the JSON-RPC client of the rippled node used for settlement.
type RPCClient struct {
	cfg        RPCClientConfig
	log        logger.Logger
	httpClient HTTPClient
}

// NewRPCClient returns new instance of the RPCClient.
func NewRPCClient(cfg RPCClientConfig, log logger.Logger, httpClient HTTPClient) *RPCClient {
	return &RPCClient{
		cfg:        cfg,
		log:        log,
		httpClient: httpClient,
	}
}

// AccountInfo returns the account information for the given account.
func (c *RPCClient) AccountInfo(ctx context.Context, acc rippledata.Account) (AccountInfoResult, error) {
	params := AccountInfoRequest{
		Account: acc,
	}
	var result AccountInfoResult
	if err := c.callRPC(ctx, "account_info", params, &result); err != nil {
		return AccountInfoResult{}, err
	}

	return result, nil
}

// AccountChannels returns the payment channels owned by the account,
// optionally narrowed to one destination. Pagination is followed to the end.
func (c *RPCClient) AccountChannels(
	ctx context.Context,
	account rippledata.Account,
	destination *rippledata.Account,
) ([]ChannelResult, error) {
	var (
		channels []ChannelResult
		marker   any
	)
	for {
		params := AccountChannelsRequest{
			Account:            account,
			DestinationAccount: destination,
			Limit:              c.cfg.PageLimit,
			Marker:             marker,
		}
		var result AccountChannelsResult
		if err := c.callRPC(ctx, "account_channels", params, &result); err != nil {
			return nil, err
		}
		channels = append(channels, result.Channels...)
		if result.Marker == nil {
			return channels, nil
		}
		marker = result.Marker
	}
}

// Submit submits a signed transaction blob to the RPC server.
func (c *RPCClient) Submit(ctx context.Context, tx rippledata.Transaction) (SubmitResult, error) {
	_, raw, err := rippledata.Raw(tx)
	if err != nil {
		return SubmitResult{}, errors.Wrapf(err, "failed to convert transaction to raw data")
	}
	params := SubmitRequest{
		TxBlob: fmt.Sprintf("%X", raw),
	}
	var result SubmitResult
	if err := c.callRPC(ctx, "submit", params, &result); err != nil {
		return SubmitResult{}, err
	}

	return result, nil
}

// Tx retrieves information about a transaction.
func (c *RPCClient) Tx(ctx context.Context, hash rippledata.Hash256) (TxResult, error) {
	params := TxRequest{
		Transaction: hash,
	}
	var result TxResult
	if err := c.callRPC(ctx, "tx", params, &result); err != nil {
		return TxResult{}, err
	}

	return result, nil
}

// LedgerCurrent returns information about the current ledger.
func (c *RPCClient) LedgerCurrent(ctx context.Context) (LedgerCurrentResult, error) {
	var result LedgerCurrentResult
	if err := c.callRPC(ctx, "ledger_current", struct{}{}, &result); err != nil {
		return LedgerCurrentResult{}, err
	}

	return result, nil
}

func (c *RPCClient) callRPC(ctx context.Context, method string, params, result any) error {
	request := rpcRequest{
		Method: method,
		Params: []any{params},
	}
	c.log.Debug(ctx, "Executing XRPL RPC request", zap.String("method", method))

	err := c.httpClient.DoJSON(ctx, http.MethodPost, c.cfg.URL, request, func(resBytes []byte) error {
		c.log.Debug(ctx, "Received XRPL RPC response", zap.String("method", method))
		errResponse := rpcResponse{
			Result: &RPCError{},
		}
		if err := json.Unmarshal(resBytes, &errResponse); err != nil {
			return errors.Wrapf(err, "failed to decode RPC error response, method:%s", method)
		}
		errResult, ok := errResponse.Result.(*RPCError)
		if !ok {
			return errors.Errorf("failed to cast RPC error result, method:%s", method)
		}
		if errResult.Code != 0 || errResult.Name != "" {
			return errResult
		}

		response := rpcResponse{
			Result: result,
		}
		return errors.Wrapf(json.Unmarshal(resBytes, &response), "failed to decode RPC response, method:%s", method)
	})
	return errors.Wrapf(err, "method:%s", method)
}
