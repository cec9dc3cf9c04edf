package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"robolike/internal/domain"
	"robolike/internal/ratelimiter"
	"robolike/internal/scheduler"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxBackoffSeconds         = 60
	initialBackoffSeconds     = 3
	backoffGrowthFactor       = 2
	resetOffsetBackoffSeconds = 30
	updateProcessingTimeout   = 60 * time.Second

	BotUpdateTimeout = 60
)

// Controller starts and stops the like loop.
type Controller interface {
	Start(cfg domain.ScheduleConfig) error
	Stop(reason string)
	Status() scheduler.Status
}

type LikeHistory interface {
	All() []domain.LikeRecord
	RecordsForDay(day time.Time) []domain.LikeRecord
}

type SettingsLoader interface {
	LoadScheduleConfig(ctx context.Context) (domain.ScheduleConfig, error)
}

type Bot struct {
	api          *tgbotapi.BotAPI
	rateLimiter  *ratelimiter.RateLimiter
	controller   Controller
	likes        LikeHistory
	settings     SettingsLoader
	dailyQuota   int
	allowedUsers []int64
	menuKeyboard [][]tgbotapi.InlineKeyboardButton
	now          func() time.Time
	log          *slog.Logger

	mu    sync.Mutex
	chats map[int64]struct{}
}

func New(
	token string,
	likes LikeHistory,
	settings SettingsLoader,
	dailyQuota int,
	allowedUsers []int64,
	log *slog.Logger,
) (*Bot, error) {
	token = strings.TrimSpace(token)

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	return &Bot{
		api:          api,
		rateLimiter:  ratelimiter.New(api, log),
		likes:        likes,
		settings:     settings,
		dailyQuota:   dailyQuota,
		allowedUsers: allowedUsers,
		menuKeyboard: getMenuKeyboard(),
		now:          time.Now,
		log:          log,
		chats:        make(map[int64]struct{}),
	}, nil
}

// Start receives updates until ctx is done. Commands are routed to
// controller.
func (b *Bot) Start(ctx context.Context, controller Controller) {
	b.controller = controller

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = BotUpdateTimeout

	backoffSeconds := initialBackoffSeconds

	for {
		select {
		case <-ctx.Done():
			b.log.InfoContext(ctx, "Bot context is done",
				"error", ctx.Err())
			return
		default:
		}

		updates := b.api.GetUpdatesChan(updateConfig)
		updatesClosed := false

		for !updatesClosed {
			select {
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				b.log.InfoContext(ctx, "Bot context is done",
					"error", ctx.Err())
				return

			case update, ok := <-updates:
				if !ok {
					updatesClosed = true
					continue
				}
				updateConfig.Offset = update.UpdateID + 1
				backoffSeconds = initialBackoffSeconds

				b.handleUpdate(ctx, &update)
			}
		}

		if ctx.Err() != nil {
			return
		}

		b.log.WarnContext(ctx, "Update channel is closed, reconnecting...",
			"offset", updateConfig.Offset,
			"backoffSeconds", backoffSeconds)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(backoffSeconds) * time.Second):
		}

		backoffSeconds = updateBackoffSeconds(backoffSeconds)

		if backoffSeconds >= resetOffsetBackoffSeconds {
			updateConfig.Offset = 0
		}
	}
}

// Alert sends text to every allowed user and every chat seen since start.
func (b *Bot) Alert(ctx context.Context, text string) {
	message := "⚠️ *" + escapeMarkdownV2(text) + "*"

	for _, chatID := range b.alertChats() {
		if err := b.sendMessageWithKeyboard(ctx, chatID, message, b.menuKeyboard); err != nil {
			b.log.ErrorContext(ctx, "Failed to send alert",
				"error", err,
				"chatID", chatID,
				"text", text)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	updateCtx, cancel := context.WithTimeout(ctx, updateProcessingTimeout)
	defer cancel()

	switch {
	case update.Message != nil && update.Message.From != nil:
		chatID, chatType := chatContext(update.Message.Chat)

		userID := update.Message.From.ID
		if !b.userAllowed(userID) {
			b.log.DebugContext(updateCtx, "User is not allowed",
				"userID", userID,
				"chatID", chatID,
				"username", update.Message.From.UserName,
				"chatType", chatType)

			return
		}
		b.rememberChat(chatID)

		if err := b.handleMessage(updateCtx, update.Message); err != nil {
			b.log.ErrorContext(updateCtx, "Failed to handle message",
				"error", err,
				"chatID", chatID,
				"userID", userID,
				"chatType", chatType,
				"messageID", update.Message.MessageID)
		}

	case update.CallbackQuery != nil:
		chatID := callbackChatID(update.CallbackQuery)

		if !b.userAllowed(update.CallbackQuery.From.ID) {
			b.log.DebugContext(updateCtx, "User is not allowed",
				"userID", update.CallbackQuery.From.ID,
				"chatID", chatID,
				"username", update.CallbackQuery.From.UserName,
				"data", update.CallbackQuery.Data)

			return
		}
		b.rememberChat(chatID)

		if err := b.handleCallbackQuery(updateCtx, update.CallbackQuery); err != nil {
			b.log.ErrorContext(updateCtx, "Failed to handle callback query",
				"error", err,
				"chatID", chatID,
				"userID", update.CallbackQuery.From.ID,
				"data", update.CallbackQuery.Data)
		}
	}
}

func (b *Bot) userAllowed(userID int64) bool {
	return len(b.allowedUsers) == 0 || slices.Contains(b.allowedUsers, userID)
}

func (b *Bot) rememberChat(chatID int64) {
	if chatID == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.chats[chatID] = struct{}{}
}

// alertChats returns the private chats of allowed users (their chat id equals
// the user id) plus remembered chats, without duplicates.
func (b *Bot) alertChats() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	chats := slices.Clone(b.allowedUsers)
	for chatID := range b.chats {
		if !slices.Contains(chats, chatID) {
			chats = append(chats, chatID)
		}
	}
	slices.Sort(chats)

	return chats
}

func (b *Bot) sendMessageWithKeyboard(
	ctx context.Context,
	chatID int64,
	text string,
	keyboard [][]tgbotapi.InlineKeyboardButton,
) error {
	normalizedText := strings.ToValidUTF8(text, "?")
	if normalizedText != text {
		b.log.WarnContext(ctx, "Message text had invalid UTF-8 and was normalized",
			"chatID", chatID,
			"originalLen", len(text),
			"normalizedLen", len(normalizedText))
	}

	message := tgbotapi.NewMessage(chatID, normalizedText)

	// See https://core.telegram.org/bots/api#markdownv2-style.
	message.ParseMode = tgbotapi.ModeMarkdownV2

	message.DisableWebPagePreview = true
	if len(keyboard) != 0 {
		message.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(keyboard...)
	}

	if _, err := b.rateLimiter.Send(ctx, message); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

// sendFailure reports a failed command to the chat and joins the send error
// into err.
func (b *Bot) sendFailure(ctx context.Context, chatID int64, text string, err error) error {
	if sendErr := b.sendMessageWithKeyboard(ctx, chatID, "❌ "+escapeMarkdownV2(text), b.menuKeyboard); sendErr != nil {
		return errors.Join(err, fmt.Errorf("send message with keyboard: %w", sendErr))
	}

	return err
}

func chatContext(chat *tgbotapi.Chat) (int64, string) {
	if chat == nil {
		return 0, ""
	}

	return chat.ID, chat.Type
}

func callbackChatID(cb *tgbotapi.CallbackQuery) int64 {
	if cb != nil && cb.Message != nil && cb.Message.Chat != nil {
		return cb.Message.Chat.ID
	}

	return 0
}

func updateBackoffSeconds(backoffSeconds int) int {
	if backoffSeconds < maxBackoffSeconds {
		backoffSeconds *= backoffGrowthFactor
		if backoffSeconds > maxBackoffSeconds {
			backoffSeconds = maxBackoffSeconds
		}
	}
	return backoffSeconds
}
