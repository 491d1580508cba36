package usecase

import (
	"fmt"
	"time"

	"fxbot/internal/domain"
)

const summaryTimeLayout = "2006-01-02 15:04:05"

// FormatSummary renders a resolved post as the text body republished
// into the room: author line, post text, engagement counters, and the
// post timestamp in UTC.
func FormatSummary(post *domain.ResolvedPost) string {
	created := time.Unix(post.CreatedUnix, 0).UTC().Format(summaryTimeLayout)
	return fmt.Sprintf("%s (@%s)\n%s\n\U0001f4ac%d ♻️%d ❤️%d \U0001f441️%d\n%s",
		post.Author.Name, post.Author.ScreenName,
		post.Text,
		post.Replies, post.Reposts, post.Likes, post.Views,
		created)
}
