package bot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	maxbot "github.com/max-messenger/max-bot-api-client-go"
	"github.com/max-messenger/max-bot-api-client-go/schemes"
)

// Transport feeds MAX updates into a Handler and sends its replies back.
type Transport struct {
	api     *maxbot.Api
	handler *Handler
	timeout time.Duration
}

func NewTransport(api *maxbot.Api, handler *Handler, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Transport{api: api, handler: handler, timeout: timeout}
}

// Run processes updates until ctx is cancelled.
func (t *Transport) Run(ctx context.Context) {
	if info, err := t.api.Bots.GetBot(ctx); err != nil {
		log.Printf("⚠️ Failed to get bot info: %v", err)
	} else {
		log.Printf("🤖 Bot: %s", info.Name)
	}

	log.Printf("🚀 Starting to process updates...")

	for update := range t.api.GetUpdates(ctx) {
		t.handleUpdate(ctx, update)
	}

	log.Printf("👋 Bot stopped")
}

func (t *Transport) handleUpdate(ctx context.Context, update interface{}) {
	switch upd := update.(type) {
	case *schemes.MessageCreatedUpdate:
		chatID := int64(upd.Message.Recipient.ChatId)
		sender := upd.Message.Sender
		replies := t.handler.HandleMessage(ctx, int64(sender.UserId), sender.FirstName, upd.Message.Body.Text)
		t.send(ctx, chatID, replies)
	case *schemes.MessageCallbackUpdate:
		replies := t.handler.HandleCallback(ctx, int64(upd.Callback.GetUserID()), upd.Callback.Payload)
		t.send(ctx, int64(upd.Callback.GetChatID()), replies)
	}
}

func (t *Transport) send(ctx context.Context, chatID int64, replies []Reply) {
	for _, reply := range replies {
		msg := maxbot.NewMessage().SetChat(chatID).SetText(reply.Text)
		if len(reply.Buttons) > 0 {
			msg.AddKeyboard(t.keyboard(reply.Buttons))
		}

		sendCtx, cancel := context.WithTimeout(ctx, t.timeout)
		_, err := t.api.Messages.Send(sendCtx, msg)
		cancel()
		if err != nil {
			log.Printf("❌ Error sending message to chat %d: %v", chatID, err)
		}
	}
}

func (t *Transport) keyboard(rows [][]Button) *maxbot.Keyboard {
	kb := t.api.Messages.NewKeyboardBuilder()
	for _, row := range rows {
		r := kb.AddRow()
		for _, b := range row {
			r.AddCallback(b.Text, intent(b.Intent), b.Payload)
		}
	}
	return kb
}

func intent(i Intent) schemes.Intent {
	switch i {
	case IntentPositive:
		return schemes.POSITIVE
	case IntentNegative:
		return schemes.NEGATIVE
	default:
		return schemes.DEFAULT
	}
}

type sendFunc func(ctx context.Context, userID int64, text string) error

// MaxNotifier delivers reminders as direct messages. Each recipient has its own
// breaker, so a user who blocked the bot only short-circuits their own
// deliveries. Breakers are dropped again once a send to that user succeeds.
type MaxNotifier struct {
	send    sendFunc
	timeout time.Duration

	mu       sync.Mutex
	breakers map[int64]*CircuitBreaker
}

func NewMaxNotifier(api *maxbot.Api, timeout time.Duration) *MaxNotifier {
	return newNotifier(func(ctx context.Context, userID int64, text string) error {
		_, err := api.Messages.Send(ctx, maxbot.NewMessage().SetUser(userID).SetText(text))
		return err
	}, timeout)
}

func newNotifier(send sendFunc, timeout time.Duration) *MaxNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MaxNotifier{
		send:     send,
		timeout:  timeout,
		breakers: make(map[int64]*CircuitBreaker),
	}
}

func (n *MaxNotifier) Notify(ctx context.Context, userID int64, text string) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	breaker := n.breakerFor(userID)
	err := breaker.Call(func() error {
		return n.send(ctx, userID, text)
	})
	if err != nil {
		return fmt.Errorf("send to user %d: %w", userID, err)
	}
	n.release(userID, breaker)
	return nil
}

func (n *MaxNotifier) breakerFor(userID int64) *CircuitBreaker {
	n.mu.Lock()
	defer n.mu.Unlock()

	cb, ok := n.breakers[userID]
	if !ok {
		cb = NewCircuitBreaker(5, 30*time.Second)
		n.breakers[userID] = cb
	}
	return cb
}

func (n *MaxNotifier) release(userID int64, cb *CircuitBreaker) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.breakers[userID] == cb && cb.State() == stateClosed {
		delete(n.breakers, userID)
	}
}
