package event

type Type string

var (
	LedgerEvent Type = "ledger.event"
	MarketEvent Type = "market.event"
	SaleEvent   Type = "market.sale"
)
