package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"PoolBet/internal/chain"
	"PoolBet/internal/logging"
	"PoolBet/internal/outbox"
	"PoolBet/internal/recordclient"

	"github.com/stretchr/testify/require"
)

const (
	testChainID = int64(11155111)
	contract    = "0x00000000000000000000000000000000000c0de1"
	escrow      = "0x00000000000000000000000000000000000e5c20"
	alice       = "0xaaaa000000000000000000000000000000000001"
)

// oneUnit 1.0 个原生币
var oneUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// fakeLedger 按接收地址配置提交错误、回执状态与挂起
type fakeLedger struct {
	mu        sync.Mutex
	addr      string
	deployed  bool
	submitErr map[string]error
	failed    map[string]bool
	hang      map[string]bool
	gate      map[string]chan struct{}
	hashTo    map[string]string
	values    map[string]*big.Int
	events    []string
	n         int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		addr:      alice,
		deployed:  true,
		submitErr: map[string]error{},
		failed:    map[string]bool{},
		hang:      map[string]bool{},
		gate:      map[string]chan struct{}{},
		hashTo:    map[string]string{},
		values:    map[string]*big.Int{},
	}
}

func (l *fakeLedger) Address() string { return l.addr }
func (l *fakeLedger) ChainID() int64  { return testChainID }

func (l *fakeLedger) IsDeployed(_ context.Context, addr string) (bool, error) {
	return l.deployed && addr == contract, nil
}

func (l *fakeLedger) Submit(_ context.Context, to string, value *big.Int, _ []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "submit:"+l.name(to))
	if err := l.submitErr[to]; err != nil {
		return "", err
	}
	l.n++
	hash := fmt.Sprintf("0x%064x", l.n)
	l.hashTo[hash] = to
	l.values[to] = new(big.Int).Set(value)
	return hash, nil
}

func (l *fakeLedger) WaitForReceipt(ctx context.Context, hash string, _ time.Duration) (*chain.Receipt, error) {
	l.mu.Lock()
	to := l.hashTo[hash]
	hang, gate := l.hang[to], l.gate[to]
	l.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %s", chain.ErrReceiptTimeout, hash)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", chain.ErrReceiptTimeout, hash)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	status := chain.ReceiptSuccess
	if l.failed[to] {
		status = chain.ReceiptFailed
	}
	l.events = append(l.events, fmt.Sprintf("receipt:%s:%s", l.name(to), status))
	return &chain.Receipt{TxHash: hash, Status: status, GasUsed: 21000, BlockNumber: 1}, nil
}

func (l *fakeLedger) name(to string) string {
	switch to {
	case escrow:
		return "escrow"
	case contract:
		return "contract"
	}
	return to
}

func (l *fakeLedger) set(f func(l *fakeLedger)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f(l)
}

func (l *fakeLedger) log() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeRecorder 只记录成功的写入
type fakeRecorder struct {
	mu        sync.Mutex
	txErr     error
	betErr    error
	refundErr error
	txs       []recordclient.TransactionRecord
	bets      []recordclient.BetRecord
	refunds   []recordclient.RefundRecord
}

func (r *fakeRecorder) RecordTransaction(_ context.Context, rec recordclient.TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.txErr != nil {
		return r.txErr
	}
	r.txs = append(r.txs, rec)
	return nil
}

func (r *fakeRecorder) RecordBet(_ context.Context, rec recordclient.BetRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.betErr != nil {
		return r.betErr
	}
	r.bets = append(r.bets, rec)
	return nil
}

func (r *fakeRecorder) MarkForRefund(_ context.Context, rec recordclient.RefundRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refundErr != nil {
		return r.refundErr
	}
	r.refunds = append(r.refunds, rec)
	return nil
}

func (r *fakeRecorder) set(f func(r *fakeRecorder)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(r)
}

func (r *fakeRecorder) counts() (txs, bets, refunds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs), len(r.bets), len(r.refunds)
}

type harness struct {
	ledger   *fakeLedger
	recorder *fakeRecorder
	outbox   *outbox.Store
	coord    *Coordinator
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	store, err := outbox.Open("", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := Config{
		ContractAddress: contract,
		EscrowAddress:   escrow,
		TaxRateBps:      100,
		MinBet:          big.NewInt(1000),
		ConfirmTimeout:  time.Second,
		PollInterval:    time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h := &harness{
		ledger:   newFakeLedger(),
		recorder: &fakeRecorder{},
		outbox:   store,
	}
	h.coord, err = New(cfg, Deps{
		Ledger:   h.ledger,
		Recorder: h.recorder,
		Outbox:   store,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	return h
}

func (h *harness) pendingKinds(t *testing.T) []outbox.Kind {
	t.Helper()
	entries, err := h.outbox.Pending()
	require.NoError(t, err)
	kinds := make([]outbox.Kind, 0, len(entries))
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

var errRecordDown = errors.New("dial tcp 127.0.0.1:8080: connection refused")
