package market_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/mintweave/nft-market-engine/internal/entity"
	"github.com/mintweave/nft-market-engine/internal/event"
	"github.com/mintweave/nft-market-engine/internal/ft"
	"github.com/mintweave/nft-market-engine/internal/ledger"
	"github.com/mintweave/nft-market-engine/internal/market"
	"github.com/mintweave/nft-market-engine/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	approvalStorage = 100
	listingFee      = 1_000
	fallbackCut     = 500   // 5%
	platformShare   = 2_000 // 20% of an affiliate sale's cut
	lockSeconds     = 3_600
)

// eventRecorder stands in for the sqlite journal so tests can assert on
// emitted events without a database.
type eventRecorder struct {
	events []entity.Event
}

func (r *eventRecorder) AddEvent(ev entity.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) last(name string) (entity.Event, bool) {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Event == name {
			return r.events[i], true
		}
	}

	return entity.Event{}, false
}

type engine struct {
	rt     *runtime.Runtime
	ledger *ledger.Ledger
	market *market.Market
	ft     *ft.Token
	now    *time.Time
	events *eventRecorder
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	now := time.Unix(1_700_000_000, 0)
	rt := runtime.New(func() time.Time { return now })

	recorder := &eventRecorder{}
	emitter := event.NewEmitter(recorder)
	l := ledger.New("ledger", "minter", uint256.NewInt(approvalStorage), emitter)
	m := market.New(market.Config{
		Account:           "market",
		OwnerID:           "admin",
		FallbackCut:       fallbackCut,
		PlatformCut:       platformShare,
		LockSeconds:       lockSeconds,
		ListingStorageFee: uint256.NewInt(listingFee),
		MaxPayoutLen:      10,
	}, emitter)
	token := ft.New("ft", "USDX")

	rt.Register(l)
	rt.Register(m)
	rt.Register(token)

	for _, account := range []string{"minter", "admin", "alice", "bob", "carol"} {
		rt.Credit(account, uint256.NewInt(10_000_000))
	}
	// Native float for the market's callback fees on token-rail sales.
	rt.Credit("market", uint256.NewInt(10))

	return &engine{rt: rt, ledger: l, market: m, ft: token, now: &now, events: recorder}
}

func (e *engine) run(t *testing.T, caller, receiver, method string, args interface{}, deposit *uint256.Int) *runtime.Result {
	t.Helper()

	result, err := e.rt.CallAndRun(caller, receiver, method, args, deposit)
	require.NoError(t, err)

	return result
}

func (e *engine) mustRun(t *testing.T, caller, receiver, method string, args interface{}, deposit *uint256.Int) *runtime.Result {
	t.Helper()

	result := e.run(t, caller, receiver, method, args, deposit)
	require.True(t, result.Ok, result.Err)

	return result
}

func (e *engine) mint(t *testing.T, owner string, royalty map[string]interface{}) string {
	t.Helper()

	args := map[string]interface{}{"owner_id": owner}
	if royalty != nil {
		args["royalty"] = royalty
	}
	result := e.mustRun(t, "minter", "ledger", "mint", args, nil)

	var response struct {
		TokenID string `json:"token_id"`
	}
	require.NoError(t, json.Unmarshal(result.Data, &response))

	return response.TokenID
}

// list runs the full listing flow: storage deposit, then approval with a
// listing message that the ledger forwards to the market.
func (e *engine) list(t *testing.T, owner, tokenID, price, ftContract string) {
	t.Helper()

	e.mustRun(t, owner, "market", "deposit_storage", nil, uint256.NewInt(listingFee))

	msg := map[string]interface{}{"price": price}
	if ftContract != "" {
		msg["ftContract"] = ftContract
	}
	e.mustRun(t, owner, "ledger", "nft_approve", map[string]interface{}{
		"token_id":   tokenID,
		"account_id": "market",
		"msg":        msg,
	}, uint256.NewInt(approvalStorage))

	_, err := e.market.Listing("ledger", tokenID)
	require.NoError(t, err)
}

func TestMarket_NativeSaleSettles(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)
	e.list(t, "alice", tokenID, "1000000", "")

	aliceBefore := e.rt.Balance("alice")
	bobBefore := e.rt.Balance("bob")

	e.mustRun(t, "bob", "market", "buy", map[string]interface{}{
		"contract_id": "ledger",
		"token_id":    tokenID,
	}, uint256.NewInt(2_000_000))

	// The 5% cut applies to the price, not the offer: the seller receives
	// the full overbid minus 50_000.
	aliceExpected := new(uint256.Int).Add(aliceBefore, uint256.NewInt(1_950_000))
	assert.Equal(t, aliceExpected, e.rt.Balance("alice"))

	bobExpected := new(uint256.Int).Sub(bobBefore, uint256.NewInt(2_000_000))
	assert.Equal(t, bobExpected, e.rt.Balance("bob"))

	token, err := e.ledger.Token(tokenID)
	require.NoError(t, err)
	assert.Equal(t, "bob", token.OwnerID)
	assert.Empty(t, token.Approvals)

	_, err = e.market.Listing("ledger", tokenID)
	assert.ErrorIs(t, err, entity.ErrListingNotFound)

	// The sale released the listing's storage hold.
	_, locked := e.market.StorageBalance("alice")
	assert.True(t, locked.IsZero())
}

func TestMarket_BuyAtExactPriceIsRejected(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)
	e.list(t, "alice", tokenID, "1000000", "")

	bobBefore := e.rt.Balance("bob")
	for _, amount := range []uint64{1_000_000, 999_999} {
		result := e.run(t, "bob", "market", "buy", map[string]interface{}{
			"contract_id": "ledger",
			"token_id":    tokenID,
		}, uint256.NewInt(amount))

		assert.False(t, result.Ok)
		assert.Equal(t, entity.ErrInsufficientPrice.Error(), result.Err)
		assert.Equal(t, bobBefore, e.rt.Balance("bob"))
	}

	_, err := e.market.Listing("ledger", tokenID)
	assert.NoError(t, err)
}

// A transfer notification without an amount has moved nothing on the token
// ledger, so it must error out rather than be interpreted as an offer.
func TestMarket_TokenTransferNotificationRequiresAmount(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)
	e.list(t, "alice", tokenID, "1000000", "ft")

	result := e.run(t, "bob", "market", "on_token_transfer", map[string]interface{}{
		"sender_id": "bob",
		"msg":       map[string]string{"contractId": "ledger", "tokenId": tokenID},
	}, nil)

	assert.False(t, result.Ok)
	assert.Contains(t, result.Err, "amount")

	listing, err := e.market.Listing("ledger", tokenID)
	require.NoError(t, err)
	assert.Nil(t, listing.CurrentOffer)
}

func TestMarket_SaleWithRoyaltiesDisbursesPayout(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", map[string]interface{}{
		"split_between": map[string]uint32{"roy-a": 6_000, "roy-b": 4_000},
		"percentage":    2_000,
	})
	e.list(t, "alice", tokenID, "1000000", "")

	aliceBefore := e.rt.Balance("alice")

	e.mustRun(t, "bob", "market", "buy", map[string]interface{}{
		"contract_id": "ledger",
		"token_id":    tokenID,
	}, uint256.NewInt(2_000_000))

	// Balance 1_950_000: royalty 20% = 390_000 (60/40), remainder to alice.
	assert.Equal(t, uint256.NewInt(234_000), e.rt.Balance("roy-a"))
	assert.Equal(t, uint256.NewInt(156_000), e.rt.Balance("roy-b"))

	aliceExpected := new(uint256.Int).Add(aliceBefore, uint256.NewInt(1_560_000))
	assert.Equal(t, aliceExpected, e.rt.Balance("alice"))
}

func TestMarket_StaleApprovalRefundsBuyer(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)
	e.list(t, "alice", tokenID, "1000000", "")

	// The owner transfers away directly; the market's approval is wiped.
	e.mustRun(t, "alice", "ledger", "nft_transfer", map[string]interface{}{
		"receiver_id": "carol",
		"token_id":    tokenID,
	}, uint256.NewInt(1))

	bobBefore := e.rt.Balance("bob")
	e.mustRun(t, "bob", "market", "buy", map[string]interface{}{
		"contract_id": "ledger",
		"token_id":    tokenID,
	}, uint256.NewInt(2_000_000))

	// Settlement failed downstream: the buyer is made whole and the dead
	// listing is dropped.
	assert.Equal(t, bobBefore, e.rt.Balance("bob"))

	token, err := e.ledger.Token(tokenID)
	require.NoError(t, err)
	assert.Equal(t, "carol", token.OwnerID)

	_, err = e.market.Listing("ledger", tokenID)
	assert.ErrorIs(t, err, entity.ErrListingNotFound)
}

// evilLedger lists a token through the market, then returns a payout that
// overpromises the settlement balance.
type evilLedger struct{}

func (evilLedger) AccountID() string {
	return "evil-ledger"
}

func (evilLedger) Invoke(ctx *runtime.Context, method string, args json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "list":
		_, err := ctx.Call("market", "on_approve", map[string]interface{}{
			"token_id":    "x",
			"owner_id":    "alice",
			"approval_id": 0,
			"msg":         map[string]interface{}{"price": "1000000"},
		}, nil)
		return nil, err
	case "nft_transfer_payout":
		return json.Marshal(map[string]interface{}{
			"payout": map[string]string{"mallory": "99000000000"},
		})
	}
	return nil, ledger.ErrUnknownMethod
}

func TestMarket_MalformedPayoutBansLedgerAndRefundsBuyer(t *testing.T) {
	e := newEngine(t)
	e.rt.Register(evilLedger{})

	e.mustRun(t, "alice", "market", "deposit_storage", nil, uint256.NewInt(listingFee))
	e.mustRun(t, "carol", "evil-ledger", "list", nil, nil)

	_, err := e.market.Listing("evil-ledger", "x")
	require.NoError(t, err)

	bobBefore := e.rt.Balance("bob")
	e.mustRun(t, "bob", "market", "buy", map[string]interface{}{
		"contract_id": "evil-ledger",
		"token_id":    "x",
	}, uint256.NewInt(2_000_000))

	assert.Equal(t, bobBefore, e.rt.Balance("bob"))
	assert.True(t, e.rt.Balance("mallory").IsZero())
	assert.True(t, e.market.IsBanned("evil-ledger"))

	_, err = e.market.Listing("evil-ledger", "x")
	assert.ErrorIs(t, err, entity.ErrListingNotFound)
}

func TestMarket_TokenRailSaleSettles(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)
	e.list(t, "alice", tokenID, "1000000", "ft")
	e.ft.Mint("bob", uint256.NewInt(5_000_000))

	msg, err := json.Marshal(map[string]string{
		"contractId": "ledger",
		"tokenId":    tokenID,
	})
	require.NoError(t, err)

	e.mustRun(t, "bob", "ft", "ft_transfer_call", map[string]interface{}{
		"receiver_id": "market",
		"amount":      "2000000",
		"msg":         json.RawMessage(msg),
	}, nil)

	// Only the price is consumed; the overshoot returns to the buyer. The
	// seller receives the price minus the 5% cut, all in token units.
	assert.Equal(t, uint256.NewInt(4_000_000), e.ft.BalanceOf("bob"))
	assert.Equal(t, uint256.NewInt(950_000), e.ft.BalanceOf("alice"))
	assert.Equal(t, uint256.NewInt(50_000), e.ft.BalanceOf("market"))

	token, err := e.ledger.Token(tokenID)
	require.NoError(t, err)
	assert.Equal(t, "bob", token.OwnerID)

	_, err = e.market.Listing("ledger", tokenID)
	assert.ErrorIs(t, err, entity.ErrListingNotFound)
}

func TestMarket_TokenRailRejectsNativeListing(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)
	e.list(t, "alice", tokenID, "1000000", "")
	e.ft.Mint("bob", uint256.NewInt(5_000_000))

	msg, err := json.Marshal(map[string]string{
		"contractId": "ledger",
		"tokenId":    tokenID,
	})
	require.NoError(t, err)

	e.mustRun(t, "bob", "ft", "ft_transfer_call", map[string]interface{}{
		"receiver_id": "market",
		"amount":      "2000000",
		"msg":         json.RawMessage(msg),
	}, nil)

	// Full refund by value; the listing is untouched.
	assert.Equal(t, uint256.NewInt(5_000_000), e.ft.BalanceOf("bob"))
	assert.True(t, e.ft.BalanceOf("market").IsZero())

	listing, err := e.market.Listing("ledger", tokenID)
	require.NoError(t, err)
	assert.Nil(t, listing.CurrentOffer)
}

func TestMarket_TokenRailRejectsExactPrice(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)
	e.list(t, "alice", tokenID, "1000000", "ft")
	e.ft.Mint("bob", uint256.NewInt(5_000_000))

	msg, err := json.Marshal(map[string]string{
		"contractId": "ledger",
		"tokenId":    tokenID,
	})
	require.NoError(t, err)

	e.mustRun(t, "bob", "ft", "ft_transfer_call", map[string]interface{}{
		"receiver_id": "market",
		"amount":      "1000000",
		"msg":         json.RawMessage(msg),
	}, nil)

	assert.Equal(t, uint256.NewInt(5_000_000), e.ft.BalanceOf("bob"))

	token, err := e.ledger.Token(tokenID)
	require.NoError(t, err)
	assert.Equal(t, "alice", token.OwnerID)
}

func TestMarket_AffiliateSaleSplitsCut(t *testing.T) {
	e := newEngine(t)
	e.mustRun(t, "admin", "market", "add_affiliate", map[string]interface{}{
		"account_id": "aff",
		"cut":        1_000,
	}, uint256.NewInt(1))

	tokenID := e.mint(t, "alice", nil)
	e.list(t, "alice", tokenID, "1000000", "")

	aliceBefore := e.rt.Balance("alice")

	e.mustRun(t, "bob", "market", "buy", map[string]interface{}{
		"contract_id":  "ledger",
		"token_id":     tokenID,
		"affiliate_id": "aff",
	}, uint256.NewInt(2_000_000))

	// Total cut is the affiliate's 10% of the price. The platform keeps
	// 20% of that; the affiliate earns the rest.
	assert.Equal(t, uint256.NewInt(80_000), e.rt.Balance("aff"))

	aliceExpected := new(uint256.Int).Add(aliceBefore, uint256.NewInt(1_900_000))
	assert.Equal(t, aliceExpected, e.rt.Balance("alice"))
}

func TestMarket_UnlistHonorsLockWindow(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)
	e.list(t, "alice", tokenID, "1000000", "")

	result := e.run(t, "alice", "market", "unlist", map[string]interface{}{
		"contract_id": "ledger",
		"token_ids":   []string{tokenID},
	}, uint256.NewInt(1))
	assert.False(t, result.Ok)
	assert.Equal(t, entity.ErrListingLocked.Error(), result.Err)

	*e.now = e.now.Add(2 * time.Hour)

	e.mustRun(t, "alice", "market", "unlist", map[string]interface{}{
		"contract_id": "ledger",
		"token_ids":   []string{tokenID},
	}, uint256.NewInt(1))

	_, err := e.market.Listing("ledger", tokenID)
	assert.ErrorIs(t, err, entity.ErrListingNotFound)

	_, locked := e.market.StorageBalance("alice")
	assert.True(t, locked.IsZero())
}

func TestMarket_UnlistEventCarriesApprovalID(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)
	e.list(t, "alice", tokenID, "1000000", "")

	// Relist under a fresh approval so the id is distinguishable from the
	// zero value.
	e.mustRun(t, "alice", "ledger", "nft_approve", map[string]interface{}{
		"token_id":   tokenID,
		"account_id": "market",
		"msg":        map[string]interface{}{"price": "1000000"},
	}, uint256.NewInt(approvalStorage))

	*e.now = e.now.Add(2 * time.Hour)
	e.mustRun(t, "alice", "market", "unlist", map[string]interface{}{
		"contract_id": "ledger",
		"token_ids":   []string{tokenID},
	}, uint256.NewInt(1))

	ev, ok := e.events.last(entity.NftUnlistEvent)
	require.True(t, ok)

	data, ok := ev.Data.(entity.NftUnlistData)
	require.True(t, ok)
	assert.Equal(t, "ledger", data.ContractID)
	assert.Equal(t, tokenID, data.TokenID)
	assert.Equal(t, uint64(1), data.ApprovalID)
}

func TestMarket_UnlistRejectsNonOwner(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)
	e.list(t, "alice", tokenID, "1000000", "")
	*e.now = e.now.Add(2 * time.Hour)

	result := e.run(t, "bob", "market", "unlist", map[string]interface{}{
		"contract_id": "ledger",
		"token_ids":   []string{tokenID},
	}, uint256.NewInt(1))

	assert.False(t, result.Ok)
	assert.Equal(t, entity.ErrUnauthorized.Error(), result.Err)
}

func TestMarket_ListingRequiresStorageDeposit(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)

	// Approval succeeds on the ledger even though the market rejects the
	// listing for lack of storage.
	e.mustRun(t, "alice", "ledger", "nft_approve", map[string]interface{}{
		"token_id":   tokenID,
		"account_id": "market",
		"msg":        map[string]interface{}{"price": "1000000"},
	}, uint256.NewInt(approvalStorage))

	_, err := e.market.Listing("ledger", tokenID)
	assert.ErrorIs(t, err, entity.ErrListingNotFound)

	token, err := e.ledger.Token(tokenID)
	require.NoError(t, err)
	assert.Contains(t, token.Approvals, "market")
}

func TestMarket_ClaimUnusedStorageDeposit(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)

	e.mustRun(t, "alice", "market", "deposit_storage", nil, uint256.NewInt(5_000))
	e.mustRun(t, "alice", "ledger", "nft_approve", map[string]interface{}{
		"token_id":   tokenID,
		"account_id": "market",
		"msg":        map[string]interface{}{"price": "1000000"},
	}, uint256.NewInt(approvalStorage))

	before := e.rt.Balance("alice")
	e.mustRun(t, "alice", "market", "claim_unused_storage_deposit", nil, uint256.NewInt(1))

	// One listing keeps one fee locked; the rest comes back, minus the
	// one-unit call deposit.
	expected := new(uint256.Int).Add(before, uint256.NewInt(4_000-1))
	assert.Equal(t, expected, e.rt.Balance("alice"))

	deposit, locked := e.market.StorageBalance("alice")
	assert.Equal(t, uint256.NewInt(listingFee), deposit)
	assert.Equal(t, uint256.NewInt(listingFee), locked)
}

func TestMarket_ReplacingListingUpdatesPrice(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)
	e.list(t, "alice", tokenID, "1000000", "")

	e.mustRun(t, "alice", "ledger", "nft_approve", map[string]interface{}{
		"token_id":   tokenID,
		"account_id": "market",
		"msg":        map[string]interface{}{"price": "3000000"},
	}, uint256.NewInt(approvalStorage))

	listing, err := e.market.Listing("ledger", tokenID)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(3_000_000), listing.Price)
	assert.Equal(t, uint64(1), listing.ApprovalID)

	// Replacement reuses the original storage hold.
	_, locked := e.market.StorageBalance("alice")
	assert.Equal(t, uint256.NewInt(listingFee), locked)
}

func TestMarket_BannedAccountCannotBuyOrDeposit(t *testing.T) {
	e := newEngine(t)
	tokenID := e.mint(t, "alice", nil)
	e.list(t, "alice", tokenID, "1000000", "")

	e.mustRun(t, "admin", "market", "ban", map[string]interface{}{
		"account_id": "bob",
	}, uint256.NewInt(1))

	result := e.run(t, "bob", "market", "buy", map[string]interface{}{
		"contract_id": "ledger",
		"token_id":    tokenID,
	}, uint256.NewInt(2_000_000))
	assert.False(t, result.Ok)
	assert.Equal(t, entity.ErrBanned.Error(), result.Err)

	result = e.run(t, "bob", "market", "deposit_storage", nil, uint256.NewInt(listingFee))
	assert.False(t, result.Ok)

	e.mustRun(t, "admin", "market", "unban", map[string]interface{}{
		"account_id": "bob",
	}, uint256.NewInt(1))
	assert.False(t, e.market.IsBanned("bob"))
}

func TestMarket_AdminOpsRejectNonOwner(t *testing.T) {
	e := newEngine(t)

	result := e.run(t, "bob", "market", "set_fallback_cut", map[string]interface{}{
		"cut": 100,
	}, uint256.NewInt(1))
	assert.False(t, result.Ok)
	assert.Equal(t, entity.ErrUnauthorized.Error(), result.Err)

	result = e.run(t, "admin", "market", "set_fallback_cut", map[string]interface{}{
		"cut": 1_001,
	}, uint256.NewInt(1))
	assert.False(t, result.Ok)

	e.mustRun(t, "admin", "market", "set_fallback_cut", map[string]interface{}{
		"cut": 100,
	}, uint256.NewInt(1))
}
