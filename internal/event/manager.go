package event

import (
	"sync"

	"github.com/mintweave/nft-market-engine/internal/entity"
	"go.uber.org/zap"
)

type listener struct {
	channel chan entity.Event
}

var (
	mu        sync.RWMutex
	listeners = make(map[Type][]*listener)
)

// AddEventListener registers a callback for one event type. Each listener
// gets its own channel and goroutine, so a slow sink only delays itself.
func AddEventListener(eventType Type, callback func(ev entity.Event)) {
	zap.L().With(zap.String("type", string(eventType))).Debug("EventManager: AddListener")

	l := &listener{channel: make(chan entity.Event)}

	mu.Lock()
	listeners[eventType] = append(listeners[eventType], l)
	mu.Unlock()

	go func() {
		for ev := range l.channel {
			callback(ev)
		}
	}()
}

// EmitEvent fans the event out to every listener of its type.
func EmitEvent(eventType Type, ev entity.Event) {
	mu.RLock()
	registered := listeners[eventType]
	mu.RUnlock()

	for _, l := range registered {
		zap.L().With(zap.String("type", string(eventType))).Debug("EventManager: Emitting event")
		go func(channel chan entity.Event) {
			channel <- ev
		}(l.channel)
	}
}
