package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"robolike/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const welcomeText = `I like the newest posts of one hashtag for you, one post per minute, inside a daily time window and up to a daily quota.

/run [#hashtag] [HH:MM-HH:MM] starts liking. Missing parts come from the last run.
/stop stops liking.
/status shows what is going on.
/likes lists the latest likes.`

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID

	defer b.keepTyping(ctx, chatID)()

	if !message.IsCommand() {
		return b.sendMessageWithKeyboard(ctx, chatID, "❔ *Choose an option:*", b.menuKeyboard)
	}

	switch message.Command() {
	case "start", "help", "menu":
		return b.handleStartCommand(ctx, chatID)
	case "run":
		return b.handleRunCommand(ctx, chatID, message.CommandArguments())
	case "stop":
		return b.handleStopCommand(ctx, chatID)
	case "status":
		return b.handleStatusCommand(ctx, chatID)
	case "likes":
		return b.handleLikesCommand(ctx, chatID)
	default:
		return b.sendMessageWithKeyboard(ctx, chatID, "✖️ Unknown command\\. See /help\\.", b.menuKeyboard)
	}
}

func (b *Bot) handleStartCommand(ctx context.Context, chatID int64) error {
	return b.sendMessageWithKeyboard(
		ctx,
		chatID,
		"🤖 *Welcome to Robolike\\!*\n\n"+escapeMarkdownV2(welcomeText),
		b.menuKeyboard,
	)
}

func (b *Bot) handleRunCommand(ctx context.Context, chatID int64, args string) error {
	if st := b.controller.Status(); st.Running {
		return b.sendMessageWithKeyboard(ctx, chatID, fmt.Sprintf(
			"ℹ️ Already liking %s\\. Use /stop first\\.",
			escapeMarkdownV2("#"+st.Config.Hashtag),
		), b.menuKeyboard)
	}

	defaults, err := b.settings.LoadScheduleConfig(ctx)
	if err != nil {
		b.log.WarnContext(ctx, "Failed to load schedule config, using defaults",
			"error", err,
			"chatID", chatID)

		defaults = domain.ScheduleConfig{}
	}
	defaults.DailyQuota = b.dailyQuota

	cfg, err := parseRunArgs(args, defaults)
	if err != nil {
		return b.sendFailure(ctx, chatID, err.Error(), nil)
	}

	if err = b.controller.Start(cfg); err != nil {
		if errors.Is(err, domain.ErrInvalidConfig) {
			return b.sendFailure(ctx, chatID, err.Error(), nil)
		}

		return b.sendFailure(ctx, chatID, "Failed to start.", fmt.Errorf("start scheduler: %w", err))
	}

	st := b.controller.Status()

	return b.sendMessageWithKeyboard(ctx, chatID, fmt.Sprintf(
		"▶️ Liking %s between %s and %s, up to %d likes per day\\.",
		escapeMarkdownV2("#"+st.Config.Hashtag),
		st.Config.WindowStart,
		st.Config.WindowEnd,
		st.Config.DailyQuota,
	), b.menuKeyboard)
}

func (b *Bot) handleStopCommand(ctx context.Context, chatID int64) error {
	st := b.controller.Status()
	if !st.Running {
		return b.sendMessageWithKeyboard(ctx, chatID, "⏹ Not running\\.", b.menuKeyboard)
	}

	b.controller.Stop(domain.StopReasonManual)

	return b.sendMessageWithKeyboard(ctx, chatID, fmt.Sprintf(
		"⏹ Stopped liking %s\\.",
		escapeMarkdownV2("#"+st.Config.Hashtag),
	), b.menuKeyboard)
}

func (b *Bot) handleStatusCommand(ctx context.Context, chatID int64) error {
	now := b.now()
	likesToday := len(b.likes.RecordsForDay(now))

	return b.sendMessageWithKeyboard(
		ctx,
		chatID,
		formatStatus(b.controller.Status(), likesToday, b.dailyQuota, now),
		b.menuKeyboard,
	)
}

func (b *Bot) handleLikesCommand(ctx context.Context, chatID int64) error {
	var errs []error

	for _, message := range formatLikes(b.likes.All(), b.now().Location()) {
		if err := b.sendMessageWithKeyboard(ctx, chatID, message, b.menuKeyboard); err != nil {
			errs = append(errs, fmt.Errorf("send message with keyboard: %w", err))
		}
	}

	return errors.Join(errs...)
}

// parseRunArgs reads "[#hashtag] [HH:MM-HH:MM]" in any order on top of
// defaults. Values are checked later by the scheduler.
func parseRunArgs(args string, defaults domain.ScheduleConfig) (domain.ScheduleConfig, error) {
	cfg := defaults

	var hashtagSet, windowSet bool

	for _, field := range strings.Fields(args) {
		if start, end, ok := strings.Cut(field, "-"); ok && strings.Contains(start, ":") {
			if windowSet {
				return domain.ScheduleConfig{}, fmt.Errorf("time window is given twice: %q", field)
			}

			cfg.WindowStart, cfg.WindowEnd = start, end
			windowSet = true

			continue
		}

		if hashtagSet {
			return domain.ScheduleConfig{}, fmt.Errorf("only one hashtag is supported: %q", field)
		}

		cfg.Hashtag = field
		hashtagSet = true
	}

	return cfg.Normalize(), nil
}
