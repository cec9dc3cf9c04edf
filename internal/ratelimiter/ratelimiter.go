package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

const (
	privateChatRate = time.Second
	groupChatRate   = 3 * time.Second

	// Telegram allows about 30 messages per second across all chats.
	globalRate  = time.Second / 30
	globalBurst = 1
)

// Sender is the part of *tgbotapi.BotAPI the limiter needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// RateLimiter paces outgoing Telegram messages per chat and globally. Sends
// block the caller until the message may go out or ctx is done.
type RateLimiter struct {
	api    Sender
	global *rate.Limiter

	privateRate time.Duration
	groupRate   time.Duration

	mu    sync.Mutex
	chats map[int64]*rate.Limiter

	log *slog.Logger
}

func New(api Sender, log *slog.Logger) *RateLimiter {
	return &RateLimiter{
		api:         api,
		global:      rate.NewLimiter(rate.Every(globalRate), globalBurst),
		privateRate: privateChatRate,
		groupRate:   groupChatRate,
		chats:       make(map[int64]*rate.Limiter),
		log:         log,
	}
}

func (rl *RateLimiter) Send(ctx context.Context, message tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := rl.wait(ctx, message); err != nil {
		return tgbotapi.Message{}, err
	}

	return rl.api.Send(message)
}

// Request is for calls that do not post a message, such as chat actions and
// callback answers. They only count against the global limit.
func (rl *RateLimiter) Request(ctx context.Context, c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := rl.global.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait global limiter: %w", err)
	}

	return rl.api.Request(c)
}

func (rl *RateLimiter) wait(ctx context.Context, message tgbotapi.Chattable) error {
	if chatID := getChatID(message); chatID != 0 {
		reservation := rl.chatLimiter(chatID).Reserve()

		if delay := reservation.Delay(); delay > 0 {
			rl.log.DebugContext(ctx, "Rate limiting message",
				"chatID", chatID,
				"delay", delay,
				"chattableType", fmt.Sprintf("%T", message))

			timer := time.NewTimer(delay)
			defer timer.Stop()

			select {
			case <-timer.C:
			case <-ctx.Done():
				reservation.Cancel()
				return fmt.Errorf("wait chat limiter: %w", ctx.Err())
			}
		}
	}

	if err := rl.global.Wait(ctx); err != nil {
		return fmt.Errorf("wait global limiter: %w", err)
	}

	return nil
}

func (rl *RateLimiter) chatLimiter(chatID int64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.chats[chatID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(rl.rateFor(chatID)), 1)
		rl.chats[chatID] = limiter
	}

	return limiter
}

func (rl *RateLimiter) rateFor(chatID int64) time.Duration {
	if chatID < 0 {
		return rl.groupRate
	}
	return rl.privateRate
}

func getChatID(message tgbotapi.Chattable) int64 {
	switch m := message.(type) {
	case tgbotapi.MessageConfig:
		return m.ChatID
	case tgbotapi.EditMessageTextConfig:
		return m.ChatID
	case tgbotapi.DeleteMessageConfig:
		return m.ChatID
	case tgbotapi.ChatActionConfig:
		return m.ChatID
	default:
		return 0
	}
}
