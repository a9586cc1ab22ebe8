package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// maxMessageLen is Telegram's limit for one text message.
const maxMessageLen = 4096

// chunkMessage splits a message into chunks that fit within Telegram's message size limit.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Try to split at a newline
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

var (
	boldRe    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	headingRe = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
)

// toTelegramMarkdown rewrites the blocks' markdown into Telegram's legacy
// Markdown: **bold** becomes *bold* and headings become bold lines.
func toTelegramMarkdown(s string) string {
	s = boldRe.ReplaceAllString(s, "*$1*")
	return headingRe.ReplaceAllString(s, "*$1*")
}

// SendMessage sends text as Markdown, split into Telegram-sized chunks. A
// chunk Telegram refuses to parse is resent as plain text.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkMessage(toTelegramMarkdown(text), maxMessageLen) {
		msg := tu.Message(tu.ID(chatID), chunk).WithParseMode(telego.ModeMarkdown)
		if _, err := b.bot.SendMessage(ctx, msg); err != nil {
			slog.Debug("markdown send failed, retrying as plain text", "chat", chatID, "error", err)
			if _, err := b.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
		}
	}
	return nil
}

func (b *Bot) sendChatAction(ctx context.Context, chatID int64, action string) error {
	return b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), action))
}
