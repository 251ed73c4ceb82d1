package event

import (
	"github.com/mintweave/nft-market-engine/internal/entity"
	"go.uber.org/zap"
)

// Emitter is how the ledger and market programs surface observable side
// effects. Journal writes happen synchronously with the emitting state
// transition; listener fan-out is asynchronous.
type Emitter interface {
	Emit(ev entity.Event)
}

type Journal interface {
	AddEvent(ev entity.Event) error
}

type emitter struct {
	journal Journal
}

// NewEmitter creates an emitter. The journal may be nil, in which case
// events are only logged and fanned out.
func NewEmitter(journal Journal) Emitter {
	return emitter{journal}
}

func (e emitter) Emit(ev entity.Event) {
	zap.L().With(
		zap.String("standard", ev.Standard),
		zap.String("event", ev.Event),
	).Info("Event emitted")

	if e.journal != nil {
		if err := e.journal.AddEvent(ev); err != nil {
			zap.L().With(zap.Error(err), zap.String("event", ev.Event)).Error("Failed to journal event")
		}
	}

	eventType := MarketEvent
	if ev.Standard == entity.LedgerStandard {
		eventType = LedgerEvent
	}
	EmitEvent(eventType, ev)

	if ev.Event == entity.NftSaleEvent {
		EmitEvent(SaleEvent, ev)
	}
}
