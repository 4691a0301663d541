package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-telegram/bot"
)

const telegramMaxMessageLen = 4096

// TelegramPush posts notifications to a single Telegram chat.
type TelegramPush struct {
	bot    *bot.Bot
	chatID int64
}

// NewTelegramPush creates a Telegram channel. Extra bot options (server URL,
// HTTP client) are passed through to bot.New.
func NewTelegramPush(token string, chatID int64, opts ...bot.Option) (*TelegramPush, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required (LEARN_TELEGRAM_BOT_TOKEN)")
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &TelegramPush{bot: b, chatID: chatID}, nil
}

func (t *TelegramPush) Send(ctx context.Context, msg Message) error {
	text := msg.Text
	if msg.Subject != "" {
		text = msg.Subject + "\n\n" + text
	}
	for _, part := range SplitMessage(text, telegramMaxMessageLen) {
		if _, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: t.chatID,
			Text:   part,
		}); err != nil {
			return fmt.Errorf("sending telegram message: %w", err)
		}
	}
	return nil
}

// SplitMessage splits text into chunks of at most maxLen bytes, preferring to
// cut after a newline, then after a space. Chunks never split a UTF-8 rune;
// a rune wider than maxLen becomes its own chunk.
func SplitMessage(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var parts []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			parts = append(parts, text)
			break
		}
		cutAt := maxLen
		for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
			cutAt--
		}
		if cutAt == 0 {
			_, size := utf8.DecodeRuneInString(text)
			cutAt = size
		}
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > 0 {
			cutAt = idx + 1
		} else if idx := strings.LastIndex(text[:maxLen], " "); idx > 0 {
			cutAt = idx + 1
		}
		parts = append(parts, text[:cutAt])
		text = text[cutAt:]
	}
	return parts
}
