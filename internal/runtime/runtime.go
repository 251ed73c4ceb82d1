package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	uuid "github.com/nu7hatch/gouuid"
	"go.uber.org/zap"
)

var (
	ErrUnknownReceiver   = errors.New("no program deployed at receiver")
	ErrInsufficientFunds = errors.New("caller cannot cover attached deposit")
)

// Program is a deployed contract instance. An invocation runs to completion
// against the program's own state; outbound calls and transfers collected on
// the context are dispatched only if the invocation returns without error.
type Program interface {
	AccountID() string
	Invoke(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error)
}

// Continuation names the receipt to schedule once a call settles. Keeping it
// as an explicit record rather than a closure makes the failure path of
// every fund-bearing call inspectable.
type Continuation struct {
	Receiver string          `json:"receiver"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args"`
}

// Result is the observable outcome of a settled receipt. Failures are only
// visible here, in the continuation that follows the call.
type Result struct {
	Ok   bool            `json:"ok"`
	Data json.RawMessage `json:"data,omitempty"`
	Err  string          `json:"err,omitempty"`
}

// Receipt is one scheduled message. A receipt with an empty method is a
// plain balance transfer. Then is the issuer's own continuation; Forward
// carries an outer caller that is awaiting the final value of this chain.
type Receipt struct {
	ID          string          `json:"id"`
	Predecessor string          `json:"predecessor"`
	Receiver    string          `json:"receiver"`
	Method      string          `json:"method,omitempty"`
	Args        json.RawMessage `json:"args,omitempty"`
	Deposit     *uint256.Int    `json:"deposit"`
	Then        *Continuation   `json:"then,omitempty"`
	Forward     *Continuation   `json:"forward,omitempty"`
	Result      *Result         `json:"result,omitempty"`
}

// Runtime routes receipts between program instances, one at a time, in FIFO
// order. It is the sole mutator of native balances; programs move funds only
// through attached deposits and outbox transfers.
type Runtime struct {
	programs map[string]Program
	balances map[string]*uint256.Int
	queue    []*Receipt
	results  map[string]*Result
	now      func() time.Time
}

func New(now func() time.Time) *Runtime {
	if now == nil {
		now = time.Now
	}

	return &Runtime{
		programs: make(map[string]Program),
		balances: make(map[string]*uint256.Int),
		results:  make(map[string]*Result),
		now:      now,
	}
}

func (rt *Runtime) Register(program Program) {
	rt.programs[program.AccountID()] = program
}

// Credit funds an account directly. Genesis and test helper.
func (rt *Runtime) Credit(account string, amount *uint256.Int) {
	rt.credit(account, amount)
}

func (rt *Runtime) Balance(account string) *uint256.Int {
	if balance, ok := rt.balances[account]; ok {
		return new(uint256.Int).Set(balance)
	}

	return uint256.NewInt(0)
}

// Submit enqueues a top-level call from an external account, debiting the
// attached deposit from the caller up front.
func (rt *Runtime) Submit(caller, receiver, method string, args interface{}, deposit *uint256.Int) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	if deposit == nil {
		deposit = uint256.NewInt(0)
	}
	if rt.Balance(caller).Lt(deposit) {
		return "", ErrInsufficientFunds
	}

	rt.debit(caller, deposit)
	receipt := &Receipt{
		ID:          newReceiptID(),
		Predecessor: caller,
		Receiver:    receiver,
		Method:      method,
		Args:        raw,
		Deposit:     deposit,
	}
	rt.queue = append(rt.queue, receipt)

	return receipt.ID, nil
}

// Run drains the receipt queue to completion. Within one runtime, receipts
// are processed one at a time; there is no interleaving.
func (rt *Runtime) Run() {
	for len(rt.queue) > 0 {
		receipt := rt.queue[0]
		rt.queue = rt.queue[1:]
		rt.process(receipt)
	}
}

// CallAndRun submits a call, drains the queue, and returns the direct result
// of the submitted receipt.
func (rt *Runtime) CallAndRun(caller, receiver, method string, args interface{}, deposit *uint256.Int) (*Result, error) {
	id, err := rt.Submit(caller, receiver, method, args, deposit)
	if err != nil {
		return nil, err
	}
	rt.Run()

	return rt.ResultOf(id), nil
}

func (rt *Runtime) ResultOf(id string) *Result {
	return rt.results[id]
}

func (rt *Runtime) process(receipt *Receipt) {
	// Plain transfer. Accounts without programs can always receive funds.
	if receipt.Method == "" {
		rt.credit(receipt.Receiver, receipt.Deposit)
		rt.settle(receipt, &Result{Ok: true})
		return
	}

	program, ok := rt.programs[receipt.Receiver]
	if !ok {
		rt.credit(receipt.Predecessor, receipt.Deposit)
		rt.settle(receipt, &Result{Ok: false, Err: ErrUnknownReceiver.Error()})
		return
	}

	ctx := &Context{rt: rt, receipt: receipt}
	data, err := rt.invoke(program, ctx, receipt)
	if err != nil {
		// The invocation aborts as a unit: the deposit returns to the
		// predecessor and the outbox is discarded.
		rt.credit(receipt.Predecessor, receipt.Deposit)
		rt.settle(receipt, &Result{Ok: false, Err: err.Error()})

		zap.L().With(
			zap.String("receiver", receipt.Receiver),
			zap.String("method", receipt.Method),
			zap.Error(err),
		).Debug("Receipt failed")
		return
	}

	// The receiver must be able to fund every outbound deposit out of its
	// own balance plus the incoming one. A program that cannot gets the
	// whole invocation aborted; partially funding the outbox would create
	// native currency out of nothing.
	outboxTotal := uint256.NewInt(0)
	for _, out := range ctx.outbox {
		if out.Deposit != nil {
			outboxTotal.Add(outboxTotal, out.Deposit)
		}
	}
	available := rt.Balance(receipt.Receiver)
	if receipt.Deposit != nil {
		available.Add(available, receipt.Deposit)
	}
	if available.Lt(outboxTotal) {
		rt.credit(receipt.Predecessor, receipt.Deposit)
		rt.settle(receipt, &Result{Ok: false, Err: ErrInsufficientFunds.Error()})

		zap.L().With(
			zap.String("receiver", receipt.Receiver),
			zap.String("method", receipt.Method),
			zap.String("required", outboxTotal.Dec()),
			zap.String("available", available.Dec()),
		).Error("Outbox exceeds program balance")
		return
	}

	rt.credit(receipt.Receiver, receipt.Deposit)
	for _, out := range ctx.outbox {
		rt.debit(receipt.Receiver, out.Deposit)
		rt.queue = append(rt.queue, out)
	}

	if ctx.deferred != nil {
		// The receipt's value is the eventual value of the issued chain;
		// hand any waiter down to it.
		waiter := receipt.Then
		if waiter == nil {
			waiter = receipt.Forward
		}
		if waiter != nil {
			if ctx.deferred.Forward != nil {
				zap.L().With(zap.String("receipt", receipt.ID)).Warn("Deferred receipt already has a waiter")
			}
			ctx.deferred.Forward = waiter
		}
		rt.results[receipt.ID] = &Result{Ok: true}
		return
	}

	rt.settle(receipt, &Result{Ok: true, Data: data})
}

// settle records the result and schedules the continuation, which executes
// as a self-call of the waiting program carrying the result.
func (rt *Runtime) settle(receipt *Receipt, result *Result) {
	rt.results[receipt.ID] = result

	next := receipt.Then
	forward := receipt.Forward
	if next == nil {
		next = forward
		forward = nil
	}
	if next == nil {
		return
	}

	rt.queue = append(rt.queue, &Receipt{
		ID:          newReceiptID(),
		Predecessor: next.Receiver,
		Receiver:    next.Receiver,
		Method:      next.Method,
		Args:        next.Args,
		Deposit:     uint256.NewInt(0),
		Forward:     forward,
		Result:      result,
	})
}

func (rt *Runtime) credit(account string, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	balance, ok := rt.balances[account]
	if !ok {
		balance = uint256.NewInt(0)
		rt.balances[account] = balance
	}
	balance.Add(balance, amount)
}

// debit assumes the caller has verified coverage; Submit and the outbox
// flush both check before calling. An uncovered debit is left unapplied so
// a bookkeeping bug can never move funds that do not exist.
func (rt *Runtime) debit(account string, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	balance, ok := rt.balances[account]
	if !ok || balance.Lt(amount) {
		zap.L().With(zap.String("account", account)).Error("Debit exceeds balance")
		return
	}
	balance.Sub(balance, amount)
}

// invoke runs the program and converts a panic into an invocation error, so
// a hostile or buggy program cannot take the whole runtime down. The caller
// treats the error like any other failed invocation.
func (rt *Runtime) invoke(program Program, ctx *Context, receipt *Receipt) (data json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("program panicked: %v", r)

			zap.L().With(
				zap.String("receiver", receipt.Receiver),
				zap.String("method", receipt.Method),
				zap.Any("panic", r),
			).Error("Receipt recovered from panic")
		}
	}()

	return program.Invoke(ctx, receipt.Method, receipt.Args)
}

func newReceiptID() string {
	u, err := uuid.NewV4()
	if err != nil {
		return fmt.Sprintf("receipt-%d", time.Now().UnixNano())
	}

	return u.String()
}
