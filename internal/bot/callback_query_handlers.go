package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	chatID := callbackChatID(callback)
	if chatID == 0 {
		return b.errorCallbackAnswer(ctx, callback, errors.New("callback without message"))
	}

	defer b.keepTyping(ctx, chatID)()

	switch strings.TrimSpace(callback.Data) {
	case callbackRun:
		return b.withEmptyCallbackAnswer(ctx, callback, func() error {
			return b.handleRunCommand(ctx, chatID, "")
		})
	case callbackStop:
		return b.withEmptyCallbackAnswer(ctx, callback, func() error {
			return b.handleStopCommand(ctx, chatID)
		})
	case callbackStatus:
		return b.withEmptyCallbackAnswer(ctx, callback, func() error {
			return b.handleStatusCommand(ctx, chatID)
		})
	case callbackLikes:
		return b.withEmptyCallbackAnswer(ctx, callback, func() error {
			return b.handleLikesCommand(ctx, chatID)
		})
	}

	return b.withEmptyCallbackAnswer(ctx, callback, func() error { return nil })
}

func (b *Bot) withEmptyCallbackAnswer(
	ctx context.Context,
	callback *tgbotapi.CallbackQuery,
	fn func() error,
) error {
	var errs []error

	if _, err := b.rateLimiter.Request(ctx, tgbotapi.NewCallback(callback.ID, "")); err != nil {
		errs = append(errs, b.errorCallbackAnswer(ctx, callback, fmt.Errorf("send request: %w", err)))
	}

	if err := fn(); err != nil {
		errs = append(errs, fmt.Errorf("call fn: %w", err))
	}

	return errors.Join(errs...)
}

func (b *Bot) errorCallbackAnswer(
	ctx context.Context,
	callback *tgbotapi.CallbackQuery,
	err error,
) error {
	if _, sendErr := b.rateLimiter.Request(ctx, tgbotapi.NewCallback(callback.ID, "❌ Failed.")); sendErr != nil {
		return errors.Join(err, fmt.Errorf("send request: %w", sendErr))
	}
	return err
}
