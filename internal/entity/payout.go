package entity

import (
	"sort"

	"github.com/holiman/uint256"
)

// Payout is the recipient to amount breakdown of a sale's proceeds. When the
// recipient count is truncated by a caller-supplied cap, the map may sum to
// less than the balance it was computed from.
type Payout map[string]*uint256.Int

func (p Payout) Total() *uint256.Int {
	total := uint256.NewInt(0)
	for _, amount := range p {
		total.Add(total, amount)
	}

	return total
}

// SortedAccounts returns the recipients in deterministic order for
// disbursement.
func (p Payout) SortedAccounts() []string {
	accounts := make([]string, 0, len(p))
	for account := range p {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	return accounts
}
