package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
	"github.com/mintweave/nft-market-engine/internal/entity"
	"github.com/mintweave/nft-market-engine/internal/event"
	"github.com/mintweave/nft-market-engine/internal/runtime"
	"go.uber.org/zap"
)

var (
	ErrUnknownMethod = errors.New("unknown ledger method")
)

// Ledger is the program holding token ownership, approval, and royalty
// state. It is the sole mutator of that state; the market only reaches it
// through cross-program calls.
type Ledger struct {
	account     string
	minterID    string
	tokens      map[string]*entity.Token
	mintCounter uint64
	storageCost *uint256.Int
	emitter     event.Emitter
}

// New creates a ledger program. storageCost is the deposit required per
// approval entry, refunded on revocation.
func New(account, minterID string, storageCost *uint256.Int, emitter event.Emitter) *Ledger {
	return &Ledger{
		account:     account,
		minterID:    minterID,
		tokens:      make(map[string]*entity.Token),
		storageCost: new(uint256.Int).Set(storageCost),
		emitter:     emitter,
	}
}

func (l *Ledger) AccountID() string {
	return l.account
}

func (l *Ledger) Invoke(ctx *runtime.Context, method string, args json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "mint":
		return l.mint(ctx, args)
	case "burn":
		return nil, l.burn(ctx, args)
	case "set_split_owners":
		return nil, l.setSplitOwners(ctx, args)
	case "nft_approve":
		return l.nftApprove(ctx, args)
	case "nft_revoke":
		return nil, l.nftRevoke(ctx, args)
	case "nft_revoke_all":
		return nil, l.nftRevokeAll(ctx, args)
	case "nft_transfer":
		return nil, l.nftTransfer(ctx, args)
	case "nft_transfer_payout":
		return l.nftTransferPayout(ctx, args)
	case "nft_payout":
		return l.nftPayout(args)
	case "nft_token":
		return l.nftToken(args)
	default:
		return nil, ErrUnknownMethod
	}
}

// Token returns a copy of the stored token record. View helper for the
// gateway and tests.
func (l *Ledger) Token(tokenID string) (entity.Token, error) {
	token, ok := l.tokens[tokenID]
	if !ok {
		return entity.Token{}, entity.ErrTokenNotFound
	}

	return *token, nil
}

type mintArgs struct {
	OwnerID string       `json:"owner_id"`
	Royalty *royaltyArgs `json:"royalty,omitempty"`
}

type royaltyArgs struct {
	SplitBetween map[string]uint32 `json:"split_between"`
	Percentage   uint32            `json:"percentage"`
}

type mintResponse struct {
	TokenID string `json:"token_id"`
}

// mint issues a new token with an id from a monotonic counter. Ids are
// never reissued, even after a burn.
func (l *Ledger) mint(ctx *runtime.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args mintArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if ctx.Predecessor() != l.minterID {
		return nil, entity.ErrUnauthorized
	}
	if args.OwnerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	var royalty *entity.Royalty
	if args.Royalty != nil {
		var err error
		royalty, err = entity.NewRoyalty(args.Royalty.SplitBetween, args.Royalty.Percentage)
		if err != nil {
			return nil, err
		}
	}

	l.mintCounter++
	token := &entity.Token{
		ID:             strconv.FormatUint(l.mintCounter, 10),
		OwnerID:        args.OwnerID,
		MinterID:       ctx.Predecessor(),
		Approvals:      make(map[string]uint64),
		NextApprovalID: 0,
		Royalty:        royalty,
	}
	l.tokens[token.ID] = token

	zap.L().With(
		zap.String("tokenId", token.ID),
		zap.String("owner", token.OwnerID),
	).Info("Token minted")

	l.emitter.Emit(entity.Event{
		Standard: entity.LedgerStandard,
		Version:  entity.LedgerVersion,
		Event:    entity.NftMintEvent,
		Data: entity.NftMintData{
			TokenID:  token.ID,
			OwnerID:  token.OwnerID,
			MinterID: token.MinterID,
			Royalty:  token.Royalty,
		},
	})

	return json.Marshal(mintResponse{TokenID: token.ID})
}

type burnArgs struct {
	TokenID string `json:"token_id"`
}

func (l *Ledger) burn(ctx *runtime.Context, raw json.RawMessage) error {
	var args burnArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := requireOneUnit(ctx); err != nil {
		return err
	}

	token, ok := l.tokens[args.TokenID]
	if !ok {
		return entity.ErrTokenNotFound
	}
	if ctx.Predecessor() != token.OwnerID {
		return entity.ErrUnauthorized
	}

	delete(l.tokens, args.TokenID)

	l.emitter.Emit(entity.Event{
		Standard: entity.LedgerStandard,
		Version:  entity.LedgerVersion,
		Event:    entity.NftBurnEvent,
		Data:     entity.NftBurnData{TokenID: token.ID, OwnerID: token.OwnerID},
	})

	return nil
}

type setSplitOwnersArgs struct {
	TokenID      string            `json:"token_id"`
	SplitBetween map[string]uint32 `json:"split_between"`
}

func (l *Ledger) setSplitOwners(ctx *runtime.Context, raw json.RawMessage) error {
	var args setSplitOwnersArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := requireOneUnit(ctx); err != nil {
		return err
	}

	token, ok := l.tokens[args.TokenID]
	if !ok {
		return entity.ErrTokenNotFound
	}
	if ctx.Predecessor() != token.OwnerID {
		return entity.ErrUnauthorized
	}

	splitOwners, err := entity.NewSplitOwners(args.SplitBetween)
	if err != nil {
		return err
	}
	token.SplitOwners = splitOwners

	l.emitter.Emit(entity.Event{
		Standard: entity.LedgerStandard,
		Version:  entity.LedgerVersion,
		Event:    entity.NftSetSplitOwnersEvent,
		Data:     entity.NftSetSplitOwnersData{TokenID: token.ID, SplitOwners: splitOwners},
	})

	return nil
}

type nftTokenArgs struct {
	TokenID string `json:"token_id"`
}

func (l *Ledger) nftToken(raw json.RawMessage) (json.RawMessage, error) {
	var args nftTokenArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	token, ok := l.tokens[args.TokenID]
	if !ok {
		return nil, entity.ErrTokenNotFound
	}

	return json.Marshal(token)
}

// requireOneUnit enforces the minimal anti-replay deposit on state-changing
// calls that carry no other payment.
func requireOneUnit(ctx *runtime.Context) error {
	if !ctx.AttachedDeposit().Eq(uint256.NewInt(1)) {
		return entity.ErrInsufficientDeposit
	}

	return nil
}
