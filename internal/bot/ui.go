package bot

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram clears a chat action after about five seconds.
const typingRefreshInterval = 4 * time.Second

// keepTyping shows "typing..." in the chat until the returned func is called.
// The returned func blocks until no more chat actions can be sent.
func (b *Bot) keepTyping(ctx context.Context, chatID int64) func() {
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
		refresh := time.NewTicker(typingRefreshInterval)
		defer refresh.Stop()

		for {
			if _, err := b.rateLimiter.Request(ctx, action); err != nil && ctx.Err() == nil {
				b.log.WarnContext(ctx, "Failed to send typing action",
					"error", err,
					"chatID", chatID)
			}

			select {
			case <-ctx.Done():
				return
			case <-refresh.C:
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}
