package ft

import (
	"encoding/json"
	"errors"

	"github.com/holiman/uint256"
	"github.com/mintweave/nft-market-engine/internal/entity"
	"github.com/mintweave/nft-market-engine/internal/runtime"
	"go.uber.org/zap"
)

var (
	ErrUnknownMethod      = errors.New("unknown token method")
	ErrInsufficientTokens = errors.New("sender balance insufficient")
)

// Token is a minimal fungible-token program: balances, direct transfers,
// and transfer-and-notify. Transfer-and-notify moves the funds to the
// receiver first and claws back whatever the receiver reports unused, which
// is what lets the market accept token payments without custody callbacks.
type Token struct {
	account  string
	symbol   string
	balances map[string]*uint256.Int
}

func New(account, symbol string) *Token {
	return &Token{
		account:  account,
		symbol:   symbol,
		balances: make(map[string]*uint256.Int),
	}
}

func (t *Token) AccountID() string {
	return t.account
}

func (t *Token) Symbol() string {
	return t.symbol
}

// Mint credits an account directly. Genesis and test helper.
func (t *Token) Mint(account string, amount *uint256.Int) {
	t.credit(account, amount)
}

func (t *Token) BalanceOf(account string) *uint256.Int {
	if balance, ok := t.balances[account]; ok {
		return new(uint256.Int).Set(balance)
	}

	return uint256.NewInt(0)
}

func (t *Token) Invoke(ctx *runtime.Context, method string, args json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "ft_transfer":
		return nil, t.ftTransfer(ctx, args)
	case "ft_transfer_call":
		return nil, t.ftTransferCall(ctx, args)
	case "ft_resolve_transfer":
		return t.ftResolveTransfer(ctx, args)
	case "ft_balance_of":
		return t.ftBalanceOf(args)
	default:
		return nil, ErrUnknownMethod
	}
}

type transferArgs struct {
	ReceiverID string       `json:"receiver_id"`
	Amount     *uint256.Int `json:"amount"`
}

func (t *Token) ftTransfer(ctx *runtime.Context, raw json.RawMessage) error {
	var args transferArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}

	return t.move(ctx.Predecessor(), args.ReceiverID, args.Amount)
}

type transferCallArgs struct {
	ReceiverID string          `json:"receiver_id"`
	Amount     *uint256.Int    `json:"amount"`
	Msg        json.RawMessage `json:"msg"`
}

type onTokenTransferArgs struct {
	SenderID string          `json:"sender_id"`
	Amount   *uint256.Int    `json:"amount"`
	Msg      json.RawMessage `json:"msg"`
}

type resolveTransferArgs struct {
	SenderID   string       `json:"sender_id"`
	ReceiverID string       `json:"receiver_id"`
	Amount     *uint256.Int `json:"amount"`
}

// ftTransferCall moves the amount up front, notifies the receiver, and
// resolves the transfer with whatever the receiver reports back as unused.
// The caller's eventual result is the resolve step's used amount.
func (t *Token) ftTransferCall(ctx *runtime.Context, raw json.RawMessage) error {
	var args transferCallArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if args.Amount == nil || args.Amount.IsZero() {
		return errors.New("amount is required")
	}

	sender := ctx.Predecessor()
	if err := t.move(sender, args.ReceiverID, args.Amount); err != nil {
		return err
	}

	receipt, err := ctx.CallThen(args.ReceiverID, "on_token_transfer", onTokenTransferArgs{
		SenderID: sender,
		Amount:   args.Amount,
		Msg:      args.Msg,
	}, nil, "ft_resolve_transfer", resolveTransferArgs{
		SenderID:   sender,
		ReceiverID: args.ReceiverID,
		Amount:     args.Amount,
	})
	if err != nil {
		return err
	}
	ctx.DeferTo(receipt)

	return nil
}

// ftResolveTransfer claws back the unused part of a transfer-and-notify. A
// failed notification refunds everything. The returned value is the amount
// the receiver kept.
func (t *Token) ftResolveTransfer(ctx *runtime.Context, raw json.RawMessage) (json.RawMessage, error) {
	if !ctx.IsContinuation() {
		return nil, entity.ErrUnauthorized
	}

	var args resolveTransferArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Amount == nil {
		return nil, errors.New("amount is required")
	}

	refund := new(uint256.Int).Set(args.Amount)
	result := ctx.Result()
	if result.Ok {
		var unused *uint256.Int
		if err := json.Unmarshal(result.Data, &unused); err != nil || unused == nil {
			zap.L().With(
				zap.String("receiver", args.ReceiverID),
			).Warn("Unparseable unused amount, refunding transfer in full")
		} else if unused.Lt(refund) {
			refund = unused
		}
	}

	if !refund.IsZero() {
		// The receiver may have spent part of the funds onward; clamp the
		// clawback to what it still holds.
		if held := t.BalanceOf(args.ReceiverID); held.Lt(refund) {
			refund = held
		}
		if err := t.move(args.ReceiverID, args.SenderID, refund); err != nil {
			return nil, err
		}
	}

	used := new(uint256.Int).Sub(args.Amount, refund)

	zap.L().With(
		zap.String("sender", args.SenderID),
		zap.String("receiver", args.ReceiverID),
		zap.String("used", used.Dec()),
		zap.String("refunded", refund.Dec()),
	).Debug("Transfer resolved")

	return json.Marshal(used)
}

type balanceOfArgs struct {
	AccountID string `json:"account_id"`
}

func (t *Token) ftBalanceOf(raw json.RawMessage) (json.RawMessage, error) {
	var args balanceOfArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	return json.Marshal(t.BalanceOf(args.AccountID))
}

func (t *Token) move(from, to string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}

	balance, ok := t.balances[from]
	if !ok || balance.Lt(amount) {
		return ErrInsufficientTokens
	}

	balance.Sub(balance, amount)
	t.credit(to, amount)

	return nil
}

func (t *Token) credit(account string, amount *uint256.Int) {
	balance, ok := t.balances[account]
	if !ok {
		balance = uint256.NewInt(0)
		t.balances[account] = balance
	}
	balance.Add(balance, amount)
}
