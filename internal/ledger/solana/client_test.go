package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	ledgerdomain "github.com/smallbiznis/paywatch/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewAccountProducesUsableKeypair(t *testing.T) {
	c := New(Config{}, zap.NewNop(), nil)

	acc, err := c.NewAccount(context.Background())
	require.NoError(t, err)
	assert.Len(t, acc.Secret, 64)

	pk, err := solana.PublicKeyFromBase58(acc.Address)
	require.NoError(t, err)
	assert.True(t, solana.PrivateKey(acc.Secret).PublicKey().Equals(pk))
}

func TestGetAccountInfoRejectsInvalidAddress(t *testing.T) {
	c := New(Config{}, zap.NewNop(), nil)
	_, err := c.GetAccountInfo(context.Background(), "not-base58-0OIl")
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAddress)
}

func TestTransferValidatesBeforeNetwork(t *testing.T) {
	c := New(Config{}, zap.NewNop(), nil)
	ctx := context.Background()

	_, err := c.Transfer(ctx, ledgerdomain.TransferRequest{Secret: make([]byte, 64), To: "x", Lamports: 0})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)

	_, err = c.Transfer(ctx, ledgerdomain.TransferRequest{Secret: []byte("short"), To: "x", Lamports: 1})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidSecret)

	wallet := solana.NewWallet()
	_, err = c.Transfer(ctx, ledgerdomain.TransferRequest{
		Secret:   []byte(wallet.PrivateKey),
		From:     wallet.PublicKey().String(),
		To:       "0OIl",
		Lamports: 1,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAddress)
}

func TestIsTransportHealthy(t *testing.T) {
	assert.True(t, isTransportHealthy(nil))
	assert.True(t, isTransportHealthy(rpc.ErrNotFound))
	assert.True(t, isTransportHealthy(&jsonrpc.RPCError{Code: -32002, Message: "simulation failed"}))
	assert.False(t, isTransportHealthy(errors.New("dial tcp: connection refused")))
}

func TestExtractLogs(t *testing.T) {
	logs := extractLogs(map[string]interface{}{
		"logs": []interface{}{"Program log: a", 7, "Program log: b"},
	})
	assert.Equal(t, []string{"Program log: a", "Program log: b"}, logs)
	assert.Nil(t, extractLogs("plain"))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{RPCURL: "http://localhost:8899"}.withDefaults()
	assert.Equal(t, "http://localhost:8899", cfg.RPCURL)
	assert.Equal(t, "confirmed", cfg.Commitment)
	assert.Equal(t, uint32(5), cfg.BreakerFailures)
}

// newRPCStub serves getLatestBlockhash and hands sendTransaction to send.
func newRPCStub(t *testing.T, send func(w http.ResponseWriter, id json.RawMessage)) *httptest.Server {
	t.Helper()
	blockhash := solana.Hash(solana.NewWallet().PublicKey())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Method {
		case "getLatestBlockhash":
			writeRPC(w, map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result": map[string]interface{}{
					"context": map[string]interface{}{"slot": 1},
					"value": map[string]interface{}{
						"blockhash":            blockhash.String(),
						"lastValidBlockHeight": 100,
					},
				},
			})
		case "sendTransaction":
			send(w, req.ID)
		default:
			http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeRPC(w http.ResponseWriter, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func TestTransferReportsSignatureWhenReplyIsLost(t *testing.T) {
	srv := newRPCStub(t, func(w http.ResponseWriter, _ json.RawMessage) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	})
	c := New(Config{RPCURL: srv.URL}, zap.NewNop(), nil)
	wallet := solana.NewWallet()

	var submitted string
	receipt, err := c.Transfer(context.Background(), ledgerdomain.TransferRequest{
		Secret:      []byte(wallet.PrivateKey),
		From:        wallet.PublicKey().String(),
		To:          solana.NewWallet().PublicKey().String(),
		Lamports:    1000,
		OnSubmitted: func(sig string) { submitted = sig },
	})
	require.ErrorIs(t, err, ledgerdomain.ErrLedgerUnavailable)
	require.NotEmpty(t, submitted)
	assert.Equal(t, submitted, receipt.Signature)

	_, err = solana.SignatureFromBase58(submitted)
	assert.NoError(t, err)
}

func TestTransferRejectedByPreflightCarriesLogs(t *testing.T) {
	srv := newRPCStub(t, func(w http.ResponseWriter, id json.RawMessage) {
		writeRPC(w, map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      id,
			"error": map[string]interface{}{
				"code":    -32002,
				"message": "Transaction simulation failed",
				"data": map[string]interface{}{
					"logs": []string{"Program log: insufficient lamports"},
				},
			},
		})
	})
	c := New(Config{RPCURL: srv.URL}, zap.NewNop(), nil)
	wallet := solana.NewWallet()

	var submitted string
	_, err := c.Transfer(context.Background(), ledgerdomain.TransferRequest{
		Secret:      []byte(wallet.PrivateKey),
		From:        wallet.PublicKey().String(),
		To:          solana.NewWallet().PublicKey().String(),
		Lamports:    1000,
		OnSubmitted: func(sig string) { submitted = sig },
	})
	require.ErrorIs(t, err, ledgerdomain.ErrSubmissionFailed)
	assert.Equal(t, []string{"Program log: insufficient lamports"}, ledgerdomain.SubmissionLogs(err))

	var subErr *ledgerdomain.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, submitted, subErr.Signature)
}
