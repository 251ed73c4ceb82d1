package runtime

import (
	"encoding/json"
	"time"

	"github.com/holiman/uint256"
)

// Context is the view a program gets of the receipt it is executing. State
// changes a program makes before issuing a call are final by the time the
// continuation runs; only the continuation can compensate.
type Context struct {
	rt       *Runtime
	receipt  *Receipt
	outbox   []*Receipt
	deferred *Receipt
}

func (c *Context) Self() string {
	return c.receipt.Receiver
}

func (c *Context) Predecessor() string {
	return c.receipt.Predecessor
}

func (c *Context) AttachedDeposit() *uint256.Int {
	if c.receipt.Deposit == nil {
		return uint256.NewInt(0)
	}

	return new(uint256.Int).Set(c.receipt.Deposit)
}

func (c *Context) BlockTime() time.Time {
	return c.rt.now()
}

// Result returns the outcome of the call this receipt resumes, or nil when
// the receipt is not a continuation.
func (c *Context) Result() *Result {
	return c.receipt.Result
}

// IsContinuation reports whether this invocation resumes a prior call of the
// program itself.
func (c *Context) IsContinuation() bool {
	return c.receipt.Result != nil && c.receipt.Predecessor == c.receipt.Receiver
}

// Transfer queues an outbound native-currency payment, debited from the
// program's account when the invocation succeeds.
func (c *Context) Transfer(account string, amount *uint256.Int) {
	c.outbox = append(c.outbox, &Receipt{
		ID:          newReceiptID(),
		Predecessor: c.Self(),
		Receiver:    account,
		Deposit:     new(uint256.Int).Set(amount),
	})
}

// Call queues an outbound cross-program call with no continuation.
func (c *Context) Call(receiver, method string, args interface{}, deposit *uint256.Int) (*Receipt, error) {
	return c.CallThen(receiver, method, args, deposit, "", nil)
}

// CallThen queues an outbound cross-program call whose outcome resumes this
// program at thenMethod.
func (c *Context) CallThen(receiver, method string, args interface{}, deposit *uint256.Int, thenMethod string, thenArgs interface{}) (*Receipt, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	if deposit == nil {
		deposit = uint256.NewInt(0)
	}

	receipt := &Receipt{
		ID:          newReceiptID(),
		Predecessor: c.Self(),
		Receiver:    receiver,
		Method:      method,
		Args:        raw,
		Deposit:     deposit,
	}

	if thenMethod != "" {
		thenRaw, err := json.Marshal(thenArgs)
		if err != nil {
			return nil, err
		}
		receipt.Then = &Continuation{Receiver: c.Self(), Method: thenMethod, Args: thenRaw}
	}

	c.outbox = append(c.outbox, receipt)

	return receipt, nil
}

// DeferTo makes the eventual value of the given issued call chain the return
// value of the current invocation.
func (c *Context) DeferTo(receipt *Receipt) {
	c.deferred = receipt
}
