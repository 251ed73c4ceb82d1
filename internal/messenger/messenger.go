package messenger

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mintweave/nft-market-engine/internal/entity"
	"github.com/mintweave/nft-market-engine/internal/event"
	"go.uber.org/zap"
)

type MessageService interface {
	Subscribe()
	SendEvent(ev entity.Event) error
}

// Messenger pushes emitted events to an external webhook. Delivery is
// best-effort with retries; the journal is the durable record.
type Messenger struct {
	webhookUrl string
	client     *retryablehttp.Client
}

func NewMessenger(webhookUrl string, retries int) MessageService {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.Logger = nil

	return &Messenger{webhookUrl: webhookUrl, client: client}
}

// Subscribe attaches the messenger to the in-process event stream.
func (m *Messenger) Subscribe() {
	handler := func(ev entity.Event) {
		if err := m.SendEvent(ev); err != nil {
			zap.L().With(zap.Error(err), zap.String("event", ev.Event)).Error("[Webhook] Failed to deliver event")
		}
	}

	event.AddEventListener(event.LedgerEvent, handler)
	event.AddEventListener(event.MarketEvent, handler)
}

func (m *Messenger) SendEvent(ev entity.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	resp, err := m.client.Post(m.webhookUrl, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}

	zap.L().With(
		zap.String("event", ev.Event),
		zap.String("url", m.webhookUrl),
	).Debug("[Webhook] Event delivered")

	return nil
}
