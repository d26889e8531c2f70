// Package gateway pushes run notifications to external channels. Telegram is
// the only channel today; the Sender seam exists so tests never touch the
// network.
package gateway

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/openrecords/foiabuddy/internal/progress"
)

// Sender is the slice of the Telegram bot API the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier observes pipeline runs and messages a chat when a run
// reaches its terminal state. Intermediate stage events are not forwarded:
// a FOIA run can have a dozen stages and nobody wants a dozen pings.
type TelegramNotifier struct {
	bot    Sender
	chatID int64
}

// NewTelegramNotifier authenticates against the bot API.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	log.Printf("telegram notifier authorized on account %s", bot.Self.UserName)
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

// newTelegramNotifier wires a fake sender for tests.
func newTelegramNotifier(bot Sender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID}
}

// Notify implements progress.Observer.
func (n *TelegramNotifier) Notify(e progress.Event) error {
	var text string
	switch e.Type {
	case progress.EventCompleted:
		text = fmt.Sprintf("✅ *FOIA run complete*\nRun: `%s`", e.RunID)
	case progress.EventError:
		text = fmt.Sprintf("❌ *FOIA run failed*\nRun: `%s`\nError: %s", e.RunID, e.Error)
	default:
		return nil
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
