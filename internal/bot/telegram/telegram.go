// Package telegram implements the bot Adapter for Telegram using long polling.
package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/fixline/fixline/internal/bot"
	"github.com/fixline/fixline/internal/intake"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// pollTimeoutSec is the long-poll timeout for GetUpdates.
const pollTimeoutSec = 30

// api abstracts the tgbotapi.BotAPI methods we use, enabling test mocks.
type api interface {
	GetMe() (tgbotapi.User, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Adapter implements bot.Adapter for Telegram via the Bot API.
type Adapter struct {
	token     string
	mu        sync.Mutex
	bot       api
	botUserID string
	connected bool
	closed    bool
	inbound   chan bot.InboundMessage
}

// AdapterOpts holds parameters for creating a Telegram Adapter.
type AdapterOpts struct {
	Token string // Telegram bot token
	// For testing: inject a mock API instead of the real Bot API.
	API api
}

// New creates a Telegram Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.API == nil && opts.Token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	return &Adapter{
		token:   opts.Token,
		bot:     opts.API,
		inbound: make(chan bot.InboundMessage, 100),
	}, nil
}

// Connect authenticates against the Bot API and resolves the bot identity.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("telegram: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.bot == nil {
		tg, err := tgbotapi.NewBotAPI(a.token)
		if err != nil {
			return fmt.Errorf("telegram: authenticate: %w", err)
		}
		a.bot = tg
	}

	me, err := a.bot.GetMe()
	if err != nil {
		return fmt.Errorf("telegram: get me: %w", err)
	}
	a.botUserID = strconv.FormatInt(me.ID, 10)
	log.Printf("telegram: connected as @%s (ID: %d)", me.UserName, me.ID)

	a.connected = true
	return nil
}

// Listen starts long polling and returns the inbound message channel. Must
// be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.InboundMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("telegram: not connected")
	}
	tg := a.bot
	a.mu.Unlock()

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeoutSec
	updates := tg.GetUpdatesChan(cfg)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				a.handleUpdate(upd)
			}
		}
	}()

	return a.inbound, nil
}

// Send delivers a message to Telegram, rendering choices as an inline
// keyboard and documents as file uploads.
func (a *Adapter) Send(ctx context.Context, msg bot.OutboundMessage) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("telegram: not connected")
	}
	tg := a.bot
	a.mu.Unlock()

	chatID, err := strconv.ParseInt(msg.ConversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad conversation id %q: %w", msg.ConversationID, err)
	}

	if msg.Document != nil {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
			Name:  msg.Document.Name,
			Bytes: msg.Document.Data,
		})
		doc.Caption = msg.Text
		if _, err := tg.Send(doc); err != nil {
			return fmt.Errorf("telegram: send document: %w", err)
		}
		return nil
	}

	out := tgbotapi.NewMessage(chatID, msg.Text)
	if len(msg.Choices) > 0 {
		out.ReplyMarkup = choiceKeyboard(msg.Choices)
	}
	if _, err := tg.Send(out); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Close stops long polling and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.bot != nil {
		a.bot.StopReceivingUpdates()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Telegram user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// handleUpdate converts a Telegram update to an InboundMessage. Button
// presses arrive as callback queries; the callback data is the choice key.
func (a *Adapter) handleUpdate(upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		cb := upd.CallbackQuery
		if cb.Message == nil || cb.From == nil {
			return
		}
		// Acknowledge the press so the client stops its spinner.
		if _, err := a.bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			log.Printf("telegram: answer callback: %v", err)
		}
		a.inbound <- bot.InboundMessage{
			Platform:       "telegram",
			ConversationID: strconv.FormatInt(cb.Message.Chat.ID, 10),
			UserID:         strconv.FormatInt(cb.From.ID, 10),
			UserName:       cb.From.UserName,
			FirstName:      cb.From.FirstName,
			LastName:       cb.From.LastName,
			Choice:         cb.Data,
			Timestamp:      time.Now(),
		}

	case upd.Message != nil:
		m := upd.Message
		if m.From == nil || m.From.IsBot {
			return
		}
		text := m.Text
		if text == "" {
			text = m.Caption
		}
		a.inbound <- bot.InboundMessage{
			Platform:       "telegram",
			ConversationID: strconv.FormatInt(m.Chat.ID, 10),
			UserID:         strconv.FormatInt(m.From.ID, 10),
			UserName:       m.From.UserName,
			FirstName:      m.From.FirstName,
			LastName:       m.From.LastName,
			Text:           text,
			Media:          extractMedia(m),
			Timestamp:      m.Time(),
		}
	}
}

// extractMedia pulls attachment references out of a Telegram message. For
// photos only the largest size is kept.
func extractMedia(m *tgbotapi.Message) []intake.MediaRef {
	var media []intake.MediaRef
	if len(m.Photo) > 0 {
		largest := m.Photo[len(m.Photo)-1]
		media = append(media, intake.MediaRef{
			Ref:  largest.FileID,
			Type: "photo",
		})
	}
	if m.Document != nil {
		media = append(media, intake.MediaRef{
			Ref:  m.Document.FileID,
			Type: "document",
			Name: m.Document.FileName,
		})
	}
	return media
}

// choiceKeyboard renders choices as a single-column inline keyboard.
func choiceKeyboard(choices []intake.Choice) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, c := range choices {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Key),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
