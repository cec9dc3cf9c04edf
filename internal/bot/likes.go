package bot

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"robolike/internal/domain"
	"robolike/internal/scheduler"
)

const (
	telegramMessageMaxLength = 4096

	likesListLimit   = 20
	captionMaxLength = 100
	noCaptionText    = "No caption"

	likeTimeLayout = "2006-01-02 15:04"
)

// formatLikes renders the latest likes, newest first, split into messages
// that fit Telegram's length limit.
func formatLikes(records []domain.LikeRecord, loc *time.Location) []string {
	if len(records) == 0 {
		return []string{"✖️ No likes yet\\."}
	}

	if len(records) > likesListLimit {
		records = records[:likesListLimit]
	}

	var messages []string
	var currentMessage strings.Builder

	currentMessage.WriteString(fmt.Sprintf("❤️ *Latest %d likes*\n\n", len(records)))

	for i, rec := range records {
		entry := fmt.Sprintf("%d\\. `%s` %s\n%s\n\n",
			i+1,
			rec.CreatedAt.In(loc).Format(likeTimeLayout),
			markdownV2Link("open", rec.Permalink),
			escapeMarkdownV2(truncateCaption(rec.Caption)),
		)

		if currentMessage.Len()+len(entry) > telegramMessageMaxLength {
			messages = append(messages, currentMessage.String())
			currentMessage.Reset()
			currentMessage.WriteString("❤️ *Latest likes \\(continue\\)*\n\n")
		}

		currentMessage.WriteString(entry)
	}

	return append(messages, currentMessage.String())
}

// truncateCaption keeps the first captionMaxLength characters.
func truncateCaption(caption string) string {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return noCaptionText
	}

	if utf8.RuneCountInString(caption) <= captionMaxLength {
		return caption
	}

	return string([]rune(caption)[:captionMaxLength]) + "..."
}

func formatStatus(st scheduler.Status, likesToday int, dailyQuota int, now time.Time) string {
	var b strings.Builder

	b.WriteString("📊 *Status*\n\n")

	if !st.Running {
		b.WriteString("State: idle\n")
		b.WriteString(fmt.Sprintf("Likes today: %d / %d\n", likesToday, dailyQuota))

		return b.String()
	}

	b.WriteString("State: running\n")
	b.WriteString(fmt.Sprintf("Hashtag: %s\n", escapeMarkdownV2("#"+st.Config.Hashtag)))
	b.WriteString(fmt.Sprintf("Window: %s \\- %s\n", st.Config.WindowStart, st.Config.WindowEnd))
	b.WriteString(fmt.Sprintf("Likes today: %d / %d\n", likesToday, st.Config.DailyQuota))
	b.WriteString(fmt.Sprintf("Likes this run: %d\n", st.Likes))
	b.WriteString(fmt.Sprintf("Running for: %s\n", escapeMarkdownV2(now.Sub(st.StartedAt).Truncate(time.Second).String())))

	if !st.NextTick.IsZero() {
		b.WriteString(fmt.Sprintf("Next tick: %s\n", st.NextTick.In(now.Location()).Format("15:04:05")))
	}

	return b.String()
}
