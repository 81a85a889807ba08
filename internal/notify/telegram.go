// Package notify sends operator notifications over Telegram. Like the
// event publisher it is best-effort: notification failures are logged and
// never propagate into the cycle.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Notifier sends messages to a single chat. A nil Notifier is a valid
// no-op.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// New creates a Telegram notifier. An empty token disables notifications.
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("Telegram notifications enabled")
	return &Notifier{bot: bot, chatID: chatID}, nil
}

// Send delivers one message, best-effort.
func (n *Notifier) Send(text string) {
	if n == nil || n.bot == nil {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Failed to send telegram notification")
	}
}

// TradeExecuted formats and sends a trade notification.
func (n *Notifier) TradeExecuted(pair, side, status string, quoteAmount, price float64) {
	if n == nil {
		return
	}
	n.Send(fmt.Sprintf("%s %s %s: %.2f quote @ %.6f", status, side, pair, quoteAmount, price))
}

// CycleDegraded reports a degraded cycle to the operator.
func (n *Notifier) CycleDegraded(cycleID string, reason string) {
	if n == nil {
		return
	}
	n.Send(fmt.Sprintf("Cycle %s degraded: %s", cycleID, reason))
}
