package runtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProgram struct {
	account string
	invoke  func(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error)
}

func (p *stubProgram) AccountID() string {
	return p.account
}

func (p *stubProgram) Invoke(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error) {
	return p.invoke(ctx, method, args)
}

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Unix(1_700_000_000, 0)
	}
}

func TestRuntime_PlainTransfer(t *testing.T) {
	rt := New(fixedClock())
	rt.Credit("alice", uint256.NewInt(100))

	_, err := rt.Submit("alice", "bob", "", nil, uint256.NewInt(40))
	require.NoError(t, err)
	rt.Run()

	assert.Equal(t, uint256.NewInt(60), rt.Balance("alice"))
	assert.Equal(t, uint256.NewInt(40), rt.Balance("bob"))
}

func TestRuntime_SubmitRejectsUnfundedDeposit(t *testing.T) {
	rt := New(fixedClock())
	rt.Credit("alice", uint256.NewInt(10))

	_, err := rt.Submit("alice", "bob", "", nil, uint256.NewInt(40))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, uint256.NewInt(10), rt.Balance("alice"))
}

func TestRuntime_UnknownReceiverRefundsDeposit(t *testing.T) {
	rt := New(fixedClock())
	rt.Credit("alice", uint256.NewInt(100))

	result, err := rt.CallAndRun("alice", "ghost", "do_thing", nil, uint256.NewInt(40))
	require.NoError(t, err)

	assert.False(t, result.Ok)
	assert.Equal(t, uint256.NewInt(100), rt.Balance("alice"))
}

func TestRuntime_FailedInvokeRefundsAndDiscardsOutbox(t *testing.T) {
	rt := New(fixedClock())
	rt.Register(&stubProgram{
		account: "prog",
		invoke: func(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error) {
			ctx.Transfer("carol", uint256.NewInt(10))
			return nil, errors.New("boom")
		},
	})
	rt.Credit("alice", uint256.NewInt(100))

	result, err := rt.CallAndRun("alice", "prog", "do_thing", nil, uint256.NewInt(30))
	require.NoError(t, err)

	assert.False(t, result.Ok)
	assert.Equal(t, "boom", result.Err)
	assert.Equal(t, uint256.NewInt(100), rt.Balance("alice"))
	assert.True(t, rt.Balance("carol").IsZero())
	assert.True(t, rt.Balance("prog").IsZero())
}

func TestRuntime_SuccessCreditsDepositAndFlushesOutbox(t *testing.T) {
	rt := New(fixedClock())
	rt.Register(&stubProgram{
		account: "prog",
		invoke: func(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error) {
			ctx.Transfer("carol", uint256.NewInt(10))
			return nil, nil
		},
	})
	rt.Credit("alice", uint256.NewInt(100))

	result, err := rt.CallAndRun("alice", "prog", "do_thing", nil, uint256.NewInt(30))
	require.NoError(t, err)

	assert.True(t, result.Ok)
	assert.Equal(t, uint256.NewInt(70), rt.Balance("alice"))
	assert.Equal(t, uint256.NewInt(20), rt.Balance("prog"))
	assert.Equal(t, uint256.NewInt(10), rt.Balance("carol"))
}

// A program promising more in outbound deposits than it holds must have the
// whole invocation aborted. Flushing the outbox anyway would let a program
// mint native currency.
func TestRuntime_OutboxExceedingBalanceFailsInvocation(t *testing.T) {
	rt := New(fixedClock())
	rt.Register(&stubProgram{
		account: "prog",
		invoke: func(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error) {
			ctx.Transfer("carol", uint256.NewInt(1_000))
			return nil, nil
		},
	})
	rt.Credit("prog", uint256.NewInt(5))
	rt.Credit("alice", uint256.NewInt(100))

	result, err := rt.CallAndRun("alice", "prog", "do_thing", nil, uint256.NewInt(5))
	require.NoError(t, err)

	assert.False(t, result.Ok)
	assert.Equal(t, ErrInsufficientFunds.Error(), result.Err)
	assert.Equal(t, uint256.NewInt(100), rt.Balance("alice"))
	assert.Equal(t, uint256.NewInt(5), rt.Balance("prog"))
	assert.True(t, rt.Balance("carol").IsZero())
}

// A panicking program settles as a failed receipt instead of crashing the
// queue drain; its deposit is refunded and the runtime keeps serving.
func TestRuntime_PanickingProgramFailsReceipt(t *testing.T) {
	rt := New(fixedClock())
	rt.Register(&stubProgram{
		account: "prog",
		invoke: func(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error) {
			var missing *uint256.Int
			return json.Marshal(new(uint256.Int).Set(missing))
		},
	})
	rt.Credit("alice", uint256.NewInt(100))

	result, err := rt.CallAndRun("alice", "prog", "do_thing", nil, uint256.NewInt(30))
	require.NoError(t, err)

	require.NotNil(t, result)
	assert.False(t, result.Ok)
	assert.Contains(t, result.Err, "panicked")
	assert.Equal(t, uint256.NewInt(100), rt.Balance("alice"))

	_, err = rt.Submit("alice", "bob", "", nil, uint256.NewInt(10))
	require.NoError(t, err)
	rt.Run()
	assert.Equal(t, uint256.NewInt(10), rt.Balance("bob"))
}

func TestRuntime_ContinuationReceivesResult(t *testing.T) {
	rt := New(fixedClock())

	var captured *Result
	rt.Register(&stubProgram{
		account: "callee",
		invoke: func(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error) {
			return json.Marshal("pong")
		},
	})
	rt.Register(&stubProgram{
		account: "caller",
		invoke: func(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error) {
			switch method {
			case "start":
				_, err := ctx.CallThen("callee", "ping", nil, nil, "resume", nil)
				return nil, err
			case "resume":
				require.True(t, ctx.IsContinuation())
				captured = ctx.Result()
				return nil, nil
			}
			return nil, errors.New("unexpected method")
		},
	})

	_, err := rt.CallAndRun("alice", "caller", "start", nil, nil)
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.True(t, captured.Ok)
	assert.JSONEq(t, `"pong"`, string(captured.Data))
}

func TestRuntime_ContinuationObservesFailure(t *testing.T) {
	rt := New(fixedClock())

	var captured *Result
	rt.Register(&stubProgram{
		account: "callee",
		invoke: func(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("callee exploded")
		},
	})
	rt.Register(&stubProgram{
		account: "caller",
		invoke: func(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error) {
			switch method {
			case "start":
				_, err := ctx.CallThen("callee", "ping", nil, nil, "resume", nil)
				return nil, err
			case "resume":
				captured = ctx.Result()
				return nil, nil
			}
			return nil, errors.New("unexpected method")
		},
	})

	_, err := rt.CallAndRun("alice", "caller", "start", nil, nil)
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.False(t, captured.Ok)
	assert.Equal(t, "callee exploded", captured.Err)
}

// A caller awaiting program B, which defers its value to a call against
// program C, must observe C's continuation value, not B's.
func TestRuntime_DeferredChainForwardsFinalValue(t *testing.T) {
	rt := New(fixedClock())

	var captured *Result
	rt.Register(&stubProgram{
		account: "c",
		invoke: func(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error) {
			return json.Marshal(42)
		},
	})
	rt.Register(&stubProgram{
		account: "b",
		invoke: func(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error) {
			switch method {
			case "work":
				receipt, err := ctx.CallThen("c", "compute", nil, nil, "finish", nil)
				if err != nil {
					return nil, err
				}
				ctx.DeferTo(receipt)
				return nil, nil
			case "finish":
				var n int
				if err := json.Unmarshal(ctx.Result().Data, &n); err != nil {
					return nil, err
				}
				return json.Marshal(n + 1)
			}
			return nil, errors.New("unexpected method")
		},
	})
	rt.Register(&stubProgram{
		account: "a",
		invoke: func(ctx *Context, method string, args json.RawMessage) (json.RawMessage, error) {
			switch method {
			case "start":
				receipt, err := ctx.CallThen("b", "work", nil, nil, "resume", nil)
				if err != nil {
					return nil, err
				}
				ctx.DeferTo(receipt)
				return nil, nil
			case "resume":
				captured = ctx.Result()
				return nil, nil
			}
			return nil, errors.New("unexpected method")
		},
	})

	_, err := rt.CallAndRun("alice", "a", "start", nil, nil)
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.True(t, captured.Ok)
	assert.JSONEq(t, `43`, string(captured.Data))
}
