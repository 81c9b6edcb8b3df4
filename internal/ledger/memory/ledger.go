package memory

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	ledgerdomain "github.com/smallbiznis/paywatch/internal/ledger/domain"
)

// DefaultFee is the per-transfer fee charged to the sender.
const DefaultFee int64 = 5000

const (
	OpNewAccount      = "new_account"
	OpGetAccountInfo  = "get_account_info"
	OpTransfer        = "transfer"
	OpSignatureStatus = "signature_status"
)

type account struct {
	secret   []byte
	lamports int64
}

// Ledger is an in-process ledger used by the memory driver and by tests.
type Ledger struct {
	mu         sync.Mutex
	fee        int64
	accounts   map[string]*account
	signatures map[string]ledgerdomain.SignatureState
	failNext   map[string][]error
	lostReply  []error
	calls      map[string]int
	transfers  []ledgerdomain.TransferRequest

	// confirm overrides the state reported for newly submitted transfers.
	confirm ledgerdomain.SignatureState
}

func New() *Ledger {
	return &Ledger{
		fee:        DefaultFee,
		accounts:   make(map[string]*account),
		signatures: make(map[string]ledgerdomain.SignatureState),
		failNext:   make(map[string][]error),
		calls:      make(map[string]int),
		confirm:    ledgerdomain.SignatureConfirmed,
	}
}

// SetFee changes the fee charged per transfer.
func (l *Ledger) SetFee(fee int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fee = fee
}

// Fund credits an address, creating it when missing.
func (l *Ledger) Fund(address string, lamports int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[address]
	if !ok {
		acc = &account{}
		l.accounts[address] = acc
	}
	acc.lamports += lamports
}

// Balance returns the current balance of address.
func (l *Ledger) Balance(address string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[address]; ok {
		return acc.lamports
	}
	return 0
}

// FailNext queues err to be returned by the next call of op.
func (l *Ledger) FailNext(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext[op] = append(l.failNext[op], err)
}

// LoseNextReply makes the next accepted transfer land and then report err,
// as when the connection drops after the node broadcast the transaction.
func (l *Ledger) LoseNextReply(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lostReply = append(l.lostReply, err)
}

// LeaveUnconfirmed makes subsequent transfers land without confirming.
func (l *Ledger) LeaveUnconfirmed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.confirm = ledgerdomain.SignaturePending
}

// SetSignatureState overrides the state reported for signature.
func (l *Ledger) SetSignatureState(signature string, state ledgerdomain.SignatureState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signatures[signature] = state
}

// Calls reports how many times op was invoked.
func (l *Ledger) Calls(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

// Transfers returns the accepted transfers in submission order.
func (l *Ledger) Transfers() []ledgerdomain.TransferRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledgerdomain.TransferRequest, len(l.transfers))
	copy(out, l.transfers)
	return out
}

func (l *Ledger) NewAccount(ctx context.Context) (ledgerdomain.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin(ctx, OpNewAccount); err != nil {
		return ledgerdomain.Account{}, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return ledgerdomain.Account{}, err
	}
	address := "mem" + strings.ReplaceAll(uuid.NewString(), "-", "")
	l.accounts[address] = &account{secret: secret}
	return ledgerdomain.Account{Address: address, Secret: secret}, nil
}

func (l *Ledger) GetAccountInfo(ctx context.Context, address string) (ledgerdomain.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin(ctx, OpGetAccountInfo); err != nil {
		return ledgerdomain.AccountInfo{}, err
	}
	if strings.TrimSpace(address) == "" {
		return ledgerdomain.AccountInfo{}, ledgerdomain.ErrInvalidAddress
	}

	// An account that holds no lamports does not exist on chain.
	acc, ok := l.accounts[address]
	if !ok || acc.lamports == 0 {
		return ledgerdomain.AccountInfo{Address: address}, nil
	}
	return ledgerdomain.AccountInfo{Address: address, Lamports: acc.lamports, Exists: true}, nil
}

func (l *Ledger) Transfer(ctx context.Context, req ledgerdomain.TransferRequest) (ledgerdomain.Receipt, error) {
	l.mu.Lock()
	if err := l.begin(ctx, OpTransfer); err != nil {
		l.mu.Unlock()
		return ledgerdomain.Receipt{}, err
	}
	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.From) == "" {
		l.mu.Unlock()
		return ledgerdomain.Receipt{}, ledgerdomain.ErrInvalidAddress
	}
	if req.Lamports <= 0 {
		l.mu.Unlock()
		return ledgerdomain.Receipt{}, ledgerdomain.ErrInvalidAmount
	}

	from, ok := l.accounts[req.From]
	if !ok || !bytes.Equal(from.secret, req.Secret) {
		l.mu.Unlock()
		return ledgerdomain.Receipt{}, &ledgerdomain.SubmissionError{
			Reason: "signature verification failed",
			Logs:   []string{fmt.Sprintf("signer mismatch for %s", req.From)},
		}
	}
	if from.lamports < req.Lamports+l.fee {
		l.mu.Unlock()
		return ledgerdomain.Receipt{}, &ledgerdomain.SubmissionError{
			Reason: "insufficient funds for fee",
			Logs: []string{
				fmt.Sprintf("Transfer: insufficient lamports %d, need %d", from.lamports, req.Lamports+l.fee),
			},
		}
	}

	from.lamports -= req.Lamports + l.fee
	to, ok := l.accounts[req.To]
	if !ok {
		to = &account{}
		l.accounts[req.To] = to
	}
	to.lamports += req.Lamports

	signature := "sig" + strings.ReplaceAll(uuid.NewString(), "-", "")
	state := l.confirm
	l.signatures[signature] = state
	l.transfers = append(l.transfers, req)
	var lost error
	if len(l.lostReply) > 0 {
		lost, l.lostReply = l.lostReply[0], l.lostReply[1:]
	}
	l.mu.Unlock()

	if req.OnSubmitted != nil {
		req.OnSubmitted(signature)
	}
	if lost != nil {
		return ledgerdomain.Receipt{Signature: signature, Lamports: req.Lamports}, lost
	}
	if state != ledgerdomain.SignatureConfirmed {
		return ledgerdomain.Receipt{Signature: signature, Lamports: req.Lamports}, ledgerdomain.ErrConfirmationTimeout
	}
	return ledgerdomain.Receipt{Signature: signature, Lamports: req.Lamports}, nil
}

func (l *Ledger) SignatureStatus(ctx context.Context, signature string) (ledgerdomain.SignatureState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin(ctx, OpSignatureStatus); err != nil {
		return ledgerdomain.SignatureUnknown, err
	}
	if state, ok := l.signatures[signature]; ok {
		return state, nil
	}
	return ledgerdomain.SignatureUnknown, nil
}

// begin counts the call and pops any queued failure. Callers hold l.mu.
func (l *Ledger) begin(ctx context.Context, op string) error {
	l.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if queued := l.failNext[op]; len(queued) > 0 {
		l.failNext[op] = queued[1:]
		return queued[0]
	}
	return nil
}

var _ ledgerdomain.Client = (*Ledger)(nil)
