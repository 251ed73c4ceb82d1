package market

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mintweave/nft-market-engine/internal/entity"
	"github.com/mintweave/nft-market-engine/internal/runtime"
	"go.uber.org/zap"
)

type buyArgs struct {
	ContractID  string `json:"contract_id"`
	TokenID     string `json:"token_id"`
	AffiliateID string `json:"affiliate_id,omitempty"`
}

type transferPayoutArgs struct {
	ReceiverID   string       `json:"receiver_id"`
	TokenID      string       `json:"token_id"`
	ApprovalID   *uint64      `json:"approval_id,omitempty"`
	Balance      *uint256.Int `json:"balance"`
	MaxLenPayout uint32       `json:"max_len_payout"`
}

type resolvePayoutArgs struct {
	ContractID string `json:"contract_id"`
	TokenID    string `json:"token_id"`
}

type payoutResponse struct {
	Payout entity.Payout `json:"payout"`
}

type ftTransferArgs struct {
	ReceiverID string       `json:"receiver_id"`
	Amount     *uint256.Int `json:"amount"`
}

// buy is the native-currency purchase path. The attached deposit is the
// offer; it must strictly exceed the listing price. The market keeps the cut
// computed on the price and forwards the rest as the payout balance.
func (m *Market) buy(ctx *runtime.Context, raw json.RawMessage) error {
	var args buyArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}

	buyer := ctx.Predecessor()
	if m.banned[buyer] {
		return entity.ErrBanned
	}

	listing, ok := m.listings[entity.ListingKey(args.ContractID, args.TokenID)]
	if !ok {
		return entity.ErrListingNotFound
	}
	if !listing.Currency.IsNative() {
		return entity.ErrCurrencyMismatch
	}
	if listing.CurrentOffer != nil {
		return entity.ErrOfferInProgress
	}

	amount := ctx.AttachedDeposit()
	if amount.Cmp(listing.Price) <= 0 {
		return entity.ErrInsufficientPrice
	}

	affiliateID, cut := m.cutFor(args.AffiliateID)
	offer := &entity.Offer{
		OffererID:    buyer,
		Amount:       amount,
		AffiliateID:  affiliateID,
		AffiliateCut: cut,
	}
	listing.CurrentOffer = offer

	m.emitter.Emit(entity.Event{
		Standard: entity.MarketStandard,
		Version:  entity.MarketVersion,
		Event:    entity.NftMakeOfferEvent,
		Data: entity.NftMakeOfferData{
			ContractID:  listing.ContractID,
			TokenID:     listing.TokenID,
			ApprovalID:  listing.ApprovalID,
			OffererID:   buyer,
			Currency:    listing.Currency.String(),
			Price:       amount,
			AffiliateID: affiliateID,
		},
	})

	totalCut := entity.Fraction{Numerator: cut}.Of(listing.Price)
	balance := new(uint256.Int).Sub(amount, totalCut)

	return m.requestTransferPayout(ctx, listing, buyer, balance, "resolve_payout_native")
}

// resolvePayoutNative settles a native buy once the ledger's atomic
// transfer-with-payout lands. On any failure the offerer is made whole and
// the listing is dropped; the stale approval it rode on is gone either way.
func (m *Market) resolvePayoutNative(ctx *runtime.Context, raw json.RawMessage) error {
	if !ctx.IsContinuation() {
		return entity.ErrUnauthorized
	}

	var args resolvePayoutArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}

	listing, offer, err := m.offerInFlight(args.ContractID, args.TokenID)
	if err != nil {
		return err
	}

	result := ctx.Result()
	if !result.Ok {
		zap.L().With(
			zap.String("contract", args.ContractID),
			zap.String("tokenId", args.TokenID),
			zap.String("error", result.Err),
		).Warn("Transfer failed, refunding offer")

		m.deleteListing(args.ContractID, args.TokenID)
		ctx.Transfer(offer.OffererID, offer.Amount)
		return nil
	}

	totalCut := entity.Fraction{Numerator: offer.AffiliateCut}.Of(listing.Price)
	balance := new(uint256.Int).Sub(offer.Amount, totalCut)

	payout, err := m.decodePayout(result.Data, balance)
	if err != nil {
		// The token moved but the proceeds cannot be distributed as
		// instructed. Make the buyer whole and cut the ledger off.
		m.banAndRefund(ctx, args.ContractID, args.TokenID, offer, err)
		return nil
	}

	for _, account := range payout.SortedAccounts() {
		ctx.Transfer(account, payout[account])
	}

	affiliateAmount, platformAmount := m.splitCut(offer, totalCut)
	if affiliateAmount != nil {
		ctx.Transfer(offer.AffiliateID, affiliateAmount)
	}

	m.emitSale(listing, offer, payout, affiliateAmount, platformAmount)
	m.deleteListing(args.ContractID, args.TokenID)

	return nil
}

type onTokenTransferArgs struct {
	SenderID string          `json:"sender_id"`
	Amount   *uint256.Int    `json:"amount"`
	Msg      json.RawMessage `json:"msg"`
}

// onTokenTransfer is the fungible-token purchase path, invoked by the FT
// program after it has already moved the funds to the market. The returned
// value is the unused amount the FT program should hand back to the sender.
// Rejections therefore return the full amount rather than erroring, which
// would strand the funds.
func (m *Market) onTokenTransfer(ctx *runtime.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args onTokenTransferArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Amount == nil || args.SenderID == "" {
		// Nothing was transferred on the token ledger, so there is
		// nothing to refund by value either.
		return nil, errors.New("sender_id and amount are required")
	}

	refundAll := func(reason string) (json.RawMessage, error) {
		zap.L().With(
			zap.String("sender", args.SenderID),
			zap.String("reason", reason),
		).Info("Token purchase rejected")

		return json.Marshal(args.Amount)
	}

	var msg entity.BuyWithTokenMsg
	if err := json.Unmarshal(args.Msg, &msg); err != nil {
		return refundAll("malformed msg")
	}

	if m.banned[args.SenderID] {
		return refundAll("sender banned")
	}

	listing, ok := m.listings[entity.ListingKey(msg.ContractID, msg.TokenID)]
	if !ok {
		return refundAll("listing not found")
	}
	if listing.Currency.FtContractID != ctx.Predecessor() {
		return refundAll("currency mismatch")
	}
	if listing.CurrentOffer != nil {
		return refundAll("offer in progress")
	}
	if args.Amount.Cmp(listing.Price) <= 0 {
		return refundAll("amount does not exceed price")
	}

	affiliateID, cut := m.cutFor(msg.AffiliateID)
	listing.CurrentOffer = &entity.Offer{
		OffererID:    args.SenderID,
		Amount:       args.Amount,
		AffiliateID:  affiliateID,
		AffiliateCut: cut,
	}

	m.emitter.Emit(entity.Event{
		Standard: entity.MarketStandard,
		Version:  entity.MarketVersion,
		Event:    entity.NftMakeOfferEvent,
		Data: entity.NftMakeOfferData{
			ContractID:  listing.ContractID,
			TokenID:     listing.TokenID,
			ApprovalID:  listing.ApprovalID,
			OffererID:   args.SenderID,
			Currency:    listing.Currency.String(),
			Price:       args.Amount,
			AffiliateID: affiliateID,
		},
	})

	totalCut := entity.Fraction{Numerator: cut}.Of(listing.Price)
	balance := new(uint256.Int).Sub(listing.Price, totalCut)

	return nil, m.requestTransferPayout(ctx, listing, args.SenderID, balance, "resolve_payout_token")
}

// resolvePayoutToken settles a token-rail purchase. Its return value flows
// back to the FT program's own resolve step as the unused amount, so a
// failed settlement refunds by value while a successful one returns only
// the excess above the price.
func (m *Market) resolvePayoutToken(ctx *runtime.Context, raw json.RawMessage) (json.RawMessage, error) {
	if !ctx.IsContinuation() {
		return nil, entity.ErrUnauthorized
	}

	var args resolvePayoutArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	listing, offer, err := m.offerInFlight(args.ContractID, args.TokenID)
	if err != nil {
		return nil, err
	}

	result := ctx.Result()
	if !result.Ok {
		zap.L().With(
			zap.String("contract", args.ContractID),
			zap.String("tokenId", args.TokenID),
			zap.String("error", result.Err),
		).Warn("Transfer failed, returning token offer")

		m.deleteListing(args.ContractID, args.TokenID)
		return json.Marshal(offer.Amount)
	}

	totalCut := entity.Fraction{Numerator: offer.AffiliateCut}.Of(listing.Price)
	balance := new(uint256.Int).Sub(listing.Price, totalCut)

	payout, err := m.decodePayout(result.Data, balance)
	if err != nil {
		m.applyBan(args.ContractID, true)
		m.deleteListing(args.ContractID, args.TokenID)

		zap.L().With(
			zap.String("contract", args.ContractID),
			zap.Error(err),
		).Error("Malformed payout, ledger banned")

		return json.Marshal(offer.Amount)
	}

	ftContract := listing.Currency.FtContractID
	for _, account := range payout.SortedAccounts() {
		_, err := ctx.Call(ftContract, "ft_transfer", ftTransferArgs{
			ReceiverID: account,
			Amount:     payout[account],
		}, nil)
		if err != nil {
			return nil, err
		}
	}

	affiliateAmount, platformAmount := m.splitCut(offer, totalCut)
	if affiliateAmount != nil {
		_, err := ctx.Call(ftContract, "ft_transfer", ftTransferArgs{
			ReceiverID: offer.AffiliateID,
			Amount:     affiliateAmount,
		}, nil)
		if err != nil {
			return nil, err
		}
	}

	m.emitSale(listing, offer, payout, affiliateAmount, platformAmount)
	m.deleteListing(args.ContractID, args.TokenID)

	unused := new(uint256.Int).Sub(offer.Amount, listing.Price)
	return json.Marshal(unused)
}

// requestTransferPayout issues the atomic transfer-with-payout against the
// ledger and makes its continuation the value of the current invocation.
func (m *Market) requestTransferPayout(ctx *runtime.Context, listing *entity.Listing, receiverID string, balance *uint256.Int, resolveMethod string) error {
	approvalID := listing.ApprovalID
	receipt, err := ctx.CallThen(listing.ContractID, "nft_transfer_payout", transferPayoutArgs{
		ReceiverID:   receiverID,
		TokenID:      listing.TokenID,
		ApprovalID:   &approvalID,
		Balance:      balance,
		MaxLenPayout: m.maxPayoutLen,
	}, uint256.NewInt(1), resolveMethod, resolvePayoutArgs{
		ContractID: listing.ContractID,
		TokenID:    listing.TokenID,
	})
	if err != nil {
		return err
	}
	ctx.DeferTo(receipt)

	return nil
}

func (m *Market) offerInFlight(contractID, tokenID string) (*entity.Listing, *entity.Offer, error) {
	listing, ok := m.listings[entity.ListingKey(contractID, tokenID)]
	if !ok {
		return nil, nil, entity.ErrListingNotFound
	}
	if listing.CurrentOffer == nil {
		return nil, nil, errors.New("no offer in flight on listing")
	}

	return listing, listing.CurrentOffer, nil
}

// cutFor resolves the affiliate id against the registry. Unregistered ids
// are dropped and the sale falls back to the platform's own cut.
func (m *Market) cutFor(affiliateID string) (string, uint32) {
	if affiliateID != "" {
		if cut, ok := m.affiliates[affiliateID]; ok {
			return affiliateID, cut
		}
	}

	return "", m.fallbackCut
}

// splitCut divides the market take between the affiliate and the platform.
// Without an affiliate, the platform keeps everything.
func (m *Market) splitCut(offer *entity.Offer, totalCut *uint256.Int) (*uint256.Int, *uint256.Int) {
	if offer.AffiliateID == "" {
		return nil, new(uint256.Int).Set(totalCut)
	}

	platformAmount := entity.Fraction{Numerator: m.platformCut}.Of(totalCut)
	affiliateAmount := new(uint256.Int).Sub(totalCut, platformAmount)

	return affiliateAmount, platformAmount
}

// decodePayout parses and validates a ledger payout against the balance it
// was computed from. A ledger overpromising either recipients or funds is a
// protocol violation, not a recoverable condition.
func (m *Market) decodePayout(data json.RawMessage, balance *uint256.Int) (entity.Payout, error) {
	var response payoutResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, err
	}
	if uint32(len(response.Payout)) > m.maxPayoutLen {
		return nil, entity.ErrPayoutCapacity
	}
	for account, amount := range response.Payout {
		if amount == nil {
			return nil, fmt.Errorf("null payout amount for %s", account)
		}
	}
	if response.Payout.Total().Gt(balance) {
		return nil, entity.ErrPayoutCapacity
	}

	return response.Payout, nil
}

func (m *Market) banAndRefund(ctx *runtime.Context, contractID, tokenID string, offer *entity.Offer, cause error) {
	m.applyBan(contractID, true)
	m.deleteListing(contractID, tokenID)
	ctx.Transfer(offer.OffererID, offer.Amount)

	zap.L().With(
		zap.String("contract", contractID),
		zap.String("tokenId", tokenID),
		zap.Error(cause),
	).Error("Malformed payout, ledger banned")
}

func (m *Market) emitSale(listing *entity.Listing, offer *entity.Offer, payout entity.Payout, affiliateAmount, platformAmount *uint256.Int) {
	data := entity.NftSaleData{
		ContractID:     listing.ContractID,
		TokenID:        listing.TokenID,
		ApprovalID:     listing.ApprovalID,
		Payout:         payout,
		Currency:       listing.Currency.String(),
		Price:          listing.Price,
		PlatformAmount: platformAmount,
	}
	if offer.AffiliateID != "" {
		data.AffiliateID = offer.AffiliateID
		data.AffiliateAmount = affiliateAmount
	}

	m.emitter.Emit(entity.Event{
		Standard: entity.MarketStandard,
		Version:  entity.MarketVersion,
		Event:    entity.NftSaleEvent,
		Data:     data,
	})
}
