package market

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mintweave/nft-market-engine/internal/entity"
	"github.com/mintweave/nft-market-engine/internal/event"
	"github.com/mintweave/nft-market-engine/internal/runtime"
	"go.uber.org/zap"
)

var (
	ErrUnknownMethod = errors.New("unknown market method")
)

// maxCut caps the market's take, platform and fallback alike, at 10%.
const maxCut = 1_000

// Market is the settlement program. It never holds token state of its own;
// sales run through async calls against the ledger, with the listing's
// in-flight offer locking the listing until the callback lands.
type Market struct {
	account string
	ownerID string

	// fallbackCut is the market take on sales without an affiliate.
	// platformCut is the share of an affiliate sale's take the market keeps.
	fallbackCut uint32
	platformCut uint32

	lockSeconds       int64
	listingStorageFee *uint256.Int
	maxPayoutLen      uint32

	listings        map[string]*entity.Listing
	storageDeposits map[string]*uint256.Int
	listingCounts   map[string]uint64
	banned          map[string]bool
	affiliates      map[string]uint32

	emitter event.Emitter
}

type Config struct {
	Account           string
	OwnerID           string
	FallbackCut       uint32
	PlatformCut       uint32
	LockSeconds       int64
	ListingStorageFee *uint256.Int
	MaxPayoutLen      uint32
}

func New(cfg Config, emitter event.Emitter) *Market {
	return &Market{
		account:           cfg.Account,
		ownerID:           cfg.OwnerID,
		fallbackCut:       cfg.FallbackCut,
		platformCut:       cfg.PlatformCut,
		lockSeconds:       cfg.LockSeconds,
		listingStorageFee: new(uint256.Int).Set(cfg.ListingStorageFee),
		maxPayoutLen:      cfg.MaxPayoutLen,
		listings:          make(map[string]*entity.Listing),
		storageDeposits:   make(map[string]*uint256.Int),
		listingCounts:     make(map[string]uint64),
		banned:            make(map[string]bool),
		affiliates:        make(map[string]uint32),
		emitter:           emitter,
	}
}

func (m *Market) AccountID() string {
	return m.account
}

func (m *Market) Invoke(ctx *runtime.Context, method string, args json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "on_approve":
		return nil, m.onApprove(ctx, args)
	case "deposit_storage":
		return nil, m.depositStorage(ctx)
	case "claim_unused_storage_deposit":
		return nil, m.claimUnusedStorageDeposit(ctx)
	case "buy":
		return nil, m.buy(ctx, args)
	case "resolve_payout_native":
		return nil, m.resolvePayoutNative(ctx, args)
	case "on_token_transfer":
		return m.onTokenTransfer(ctx, args)
	case "resolve_payout_token":
		return m.resolvePayoutToken(ctx, args)
	case "unlist":
		return nil, m.unlist(ctx, args)
	case "remove_offer":
		return nil, m.removeOffer(ctx, args)
	case "get_listing":
		return m.getListing(args)
	case "set_owner":
		return nil, m.setOwner(ctx, args)
	case "set_platform_cut":
		return nil, m.setPlatformCut(ctx, args)
	case "set_fallback_cut":
		return nil, m.setFallbackCut(ctx, args)
	case "set_listing_lock_seconds":
		return nil, m.setListingLockSeconds(ctx, args)
	case "set_listing_storage_fee":
		return nil, m.setListingStorageFee(ctx, args)
	case "ban":
		return nil, m.setBanned(ctx, args, true)
	case "unban":
		return nil, m.setBanned(ctx, args, false)
	case "add_affiliate":
		return nil, m.addAffiliate(ctx, args)
	case "del_affiliate":
		return nil, m.delAffiliate(ctx, args)
	default:
		return nil, ErrUnknownMethod
	}
}

// Listing returns a copy of a stored listing. View helper for the gateway
// and tests.
func (m *Market) Listing(contractID, tokenID string) (entity.Listing, error) {
	listing, ok := m.listings[entity.ListingKey(contractID, tokenID)]
	if !ok {
		return entity.Listing{}, entity.ErrListingNotFound
	}

	return *listing, nil
}

// Listings returns copies of all live listings.
func (m *Market) Listings() []entity.Listing {
	listings := make([]entity.Listing, 0, len(m.listings))
	for _, listing := range m.listings {
		listings = append(listings, *listing)
	}

	return listings
}

// StorageBalance returns (total deposit, amount locked by live listings).
func (m *Market) StorageBalance(account string) (*uint256.Int, *uint256.Int) {
	return m.storageDeposit(account), m.storageLocked(account)
}

func (m *Market) IsBanned(account string) bool {
	return m.banned[account]
}

func (m *Market) AffiliateCut(account string) (uint32, bool) {
	cut, ok := m.affiliates[account]
	return cut, ok
}

func (m *Market) depositStorage(ctx *runtime.Context) error {
	caller := ctx.Predecessor()
	if m.banned[caller] {
		return entity.ErrBanned
	}

	deposit := m.storageDeposit(caller)
	deposit.Add(deposit, ctx.AttachedDeposit())
	m.storageDeposits[caller] = deposit

	zap.L().With(
		zap.String("account", caller),
		zap.String("deposit", deposit.Dec()),
	).Info("Storage deposit updated")

	return nil
}

func (m *Market) claimUnusedStorageDeposit(ctx *runtime.Context) error {
	if err := requireOneUnit(ctx); err != nil {
		return err
	}

	caller := ctx.Predecessor()
	deposit := m.storageDeposit(caller)
	locked := m.storageLocked(caller)
	if deposit.Cmp(locked) <= 0 {
		return nil
	}

	refund := new(uint256.Int).Sub(deposit, locked)
	m.storageDeposits[caller] = locked
	ctx.Transfer(caller, refund)

	return nil
}

func (m *Market) storageDeposit(account string) *uint256.Int {
	if deposit, ok := m.storageDeposits[account]; ok {
		return new(uint256.Int).Set(deposit)
	}

	return uint256.NewInt(0)
}

func (m *Market) storageLocked(account string) *uint256.Int {
	count := m.listingCounts[account]
	return new(uint256.Int).Mul(m.listingStorageFee, uint256.NewInt(count))
}

func (m *Market) requireOwner(ctx *runtime.Context) error {
	if ctx.Predecessor() != m.ownerID {
		return entity.ErrUnauthorized
	}

	return requireOneUnit(ctx)
}

type setOwnerArgs struct {
	AccountID string `json:"account_id"`
}

func (m *Market) setOwner(ctx *runtime.Context, raw json.RawMessage) error {
	var args setOwnerArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := m.requireOwner(ctx); err != nil {
		return err
	}
	if args.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}

	m.ownerID = args.AccountID

	return nil
}

type setCutArgs struct {
	Cut uint32 `json:"cut"`
}

func (m *Market) setPlatformCut(ctx *runtime.Context, raw json.RawMessage) error {
	var args setCutArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := m.requireOwner(ctx); err != nil {
		return err
	}
	if args.Cut > maxCut {
		return fmt.Errorf("cut %d exceeds maximum of %d", args.Cut, maxCut)
	}

	m.platformCut = args.Cut

	return nil
}

func (m *Market) setFallbackCut(ctx *runtime.Context, raw json.RawMessage) error {
	var args setCutArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := m.requireOwner(ctx); err != nil {
		return err
	}
	if args.Cut > maxCut {
		return fmt.Errorf("cut %d exceeds maximum of %d", args.Cut, maxCut)
	}

	m.fallbackCut = args.Cut

	return nil
}

type setLockSecondsArgs struct {
	Seconds int64 `json:"seconds"`
}

func (m *Market) setListingLockSeconds(ctx *runtime.Context, raw json.RawMessage) error {
	var args setLockSecondsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := m.requireOwner(ctx); err != nil {
		return err
	}
	if args.Seconds < 0 {
		return fmt.Errorf("lock seconds cannot be negative")
	}

	m.lockSeconds = args.Seconds

	return nil
}

type setStorageFeeArgs struct {
	Fee *uint256.Int `json:"fee"`
}

func (m *Market) setListingStorageFee(ctx *runtime.Context, raw json.RawMessage) error {
	var args setStorageFeeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := m.requireOwner(ctx); err != nil {
		return err
	}
	if args.Fee == nil || args.Fee.IsZero() {
		return fmt.Errorf("fee cannot be zero")
	}

	m.listingStorageFee = new(uint256.Int).Set(args.Fee)

	return nil
}

type banArgs struct {
	AccountID string `json:"account_id"`
}

func (m *Market) setBanned(ctx *runtime.Context, raw json.RawMessage, state bool) error {
	var args banArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := m.requireOwner(ctx); err != nil {
		return err
	}

	m.applyBan(args.AccountID, state)

	return nil
}

// applyBan flips the ban flag and emits the banlist event. Also used by the
// settlement path when a ledger returns a malformed payout.
func (m *Market) applyBan(account string, state bool) {
	if state {
		m.banned[account] = true
	} else {
		delete(m.banned, account)
	}

	m.emitter.Emit(entity.Event{
		Standard: entity.MarketStandard,
		Version:  entity.MarketVersion,
		Event:    entity.UpdateBanlistEvent,
		Data:     entity.UpdateBanlistData{AccountID: account, State: state},
	})
}

type affiliateArgs struct {
	AccountID string `json:"account_id"`
	Cut       uint32 `json:"cut"`
}

func (m *Market) addAffiliate(ctx *runtime.Context, raw json.RawMessage) error {
	var args affiliateArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := m.requireOwner(ctx); err != nil {
		return err
	}
	if args.Cut == 0 || args.Cut > maxCut {
		return fmt.Errorf("affiliate cut must be within (0, %d]", maxCut)
	}

	m.affiliates[args.AccountID] = args.Cut

	m.emitter.Emit(entity.Event{
		Standard: entity.MarketStandard,
		Version:  entity.MarketVersion,
		Event:    entity.UpdateAffiliateEvent,
		Data:     entity.UpdateAffiliateData{AccountID: args.AccountID, Cut: args.Cut, State: true},
	})

	return nil
}

func (m *Market) delAffiliate(ctx *runtime.Context, raw json.RawMessage) error {
	var args affiliateArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return err
	}
	if err := m.requireOwner(ctx); err != nil {
		return err
	}

	delete(m.affiliates, args.AccountID)

	m.emitter.Emit(entity.Event{
		Standard: entity.MarketStandard,
		Version:  entity.MarketVersion,
		Event:    entity.UpdateAffiliateEvent,
		Data:     entity.UpdateAffiliateData{AccountID: args.AccountID, State: false},
	})

	return nil
}

func requireOneUnit(ctx *runtime.Context) error {
	if !ctx.AttachedDeposit().Eq(uint256.NewInt(1)) {
		return entity.ErrInsufficientDeposit
	}

	return nil
}
