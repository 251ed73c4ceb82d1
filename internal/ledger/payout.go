package ledger

import (
	"github.com/holiman/uint256"
	"github.com/mintweave/nft-market-engine/internal/entity"
)

// Payout computes the payout breakdown for a token without transferring it.
// View helper for the gateway and tests.
func (l *Ledger) Payout(tokenID string, balance *uint256.Int, maxLen uint32) (entity.Payout, error) {
	token, ok := l.tokens[tokenID]
	if !ok {
		return nil, entity.ErrTokenNotFound
	}

	return computePayout(token, balance, maxLen), nil
}

// computePayout splits a sale balance between royalty recipients and the
// owner or split owners. Royalty amounts come off the top; the remainder is
// the owner's, shared per the split table when one is set.
//
// All divisions truncate. Dust lost to truncation is not redistributed, so
// the table can sum to slightly less than the balance. When the table would
// exceed maxLen recipients, later recipients are dropped rather than having
// their shares folded into earlier ones; royalty recipients are inserted
// first, each group in lexical account order.
func computePayout(token *entity.Token, balance *uint256.Int, maxLen uint32) entity.Payout {
	payout := entity.Payout{}

	add := func(account string, amount *uint256.Int) {
		if amount.IsZero() {
			return
		}
		if existing, ok := payout[account]; ok {
			existing.Add(existing, amount)
			return
		}
		if maxLen > 0 && uint32(len(payout)) >= maxLen {
			return
		}
		payout[account] = new(uint256.Int).Set(amount)
	}

	remainder := new(uint256.Int).Set(balance)

	if token.Royalty != nil {
		royaltyTotal := token.Royalty.Percentage.Of(balance)
		remainder.Sub(remainder, royaltyTotal)

		for _, account := range entity.SortedRecipients(token.Royalty.SplitBetween) {
			add(account, token.Royalty.SplitBetween[account].Of(royaltyTotal))
		}
	}

	if token.SplitOwners != nil {
		for _, account := range entity.SortedRecipients(token.SplitOwners.SplitBetween) {
			add(account, token.SplitOwners.SplitBetween[account].Of(remainder))
		}
	} else {
		add(token.OwnerID, remainder)
	}

	return payout
}
