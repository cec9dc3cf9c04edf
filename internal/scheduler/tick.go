package scheduler

import (
	"context"
	"errors"
	"strconv"

	"robolike/internal/domain"
	"robolike/internal/feed"
)

const (
	alertUnauthorized    = "Unauthorized"
	alertPaymentRequired = "Payment required"
	alertFetchFailed     = "Failed to fetch posts"
)

func (s *Scheduler) tick(r *run) {
	ctx, cancel := context.WithTimeout(r.ctx, tickTimeout)
	defer cancel()

	if ctx.Err() != nil {
		s.log.DebugContext(ctx, "Run is stopped, skipping tick",
			"hashtag", r.cfg.Hashtag)
		return
	}

	now := s.now()

	if !r.window.Contains(now) {
		s.log.DebugContext(ctx, "Outside of time window, skipping tick",
			"window", r.window.String(),
			"now", now.Format("15:04"))
		return
	}

	if today := len(s.deps.Ledger.RecordsForDay(now)); today >= r.cfg.DailyQuota {
		s.log.InfoContext(ctx, "Daily quota is reached, skipping tick",
			"likesToday", today,
			"dailyQuota", r.cfg.DailyQuota)
		return
	}

	candidates, err := s.deps.Source.FetchRecent(ctx, r.cfg.Hashtag)
	if err != nil {
		if r.ctx.Err() != nil {
			s.log.InfoContext(ctx, "Run is stopped during fetch",
				"hashtag", r.cfg.Hashtag)
			return
		}

		s.reportFetchError(ctx, r, err)
		return
	}

	if len(candidates) == 0 {
		s.log.DebugContext(ctx, "No candidates are returned",
			"hashtag", r.cfg.Hashtag)
		return
	}

	candidate, ok := s.selectCandidate(candidates)
	if !ok {
		s.log.DebugContext(ctx, "All candidates are already liked",
			"hashtag", r.cfg.Hashtag,
			"candidates", len(candidates))
		return
	}

	path, err := candidate.Path()
	if err != nil {
		s.log.WarnContext(ctx, "Failed to parse candidate permalink",
			"error", err,
			"postID", candidate.ID,
			"permalink", candidate.Permalink)
		return
	}

	if err = s.deps.Browser.DispatchLikeAction(ctx, path); err != nil {
		s.log.WarnContext(ctx, "Like action dispatch reported an error",
			"error", err,
			"postID", candidate.ID,
			"path", path)
	}

	if candidate.Caption == "" && s.deps.Captions != nil && ctx.Err() == nil {
		caption, captionErr := s.deps.Captions.ResolveCaption(ctx, candidate)
		if captionErr != nil {
			s.log.WarnContext(ctx, "Failed to resolve caption",
				"error", captionErr,
				"postID", candidate.ID,
				"permalink", candidate.Permalink)
		}
		candidate.Caption = caption
	}

	s.commit(ctx, r, candidate)
}

// selectCandidate returns the first candidate not in the ledger, keeping the
// order of the API response.
func (s *Scheduler) selectCandidate(candidates []domain.Candidate) (domain.Candidate, bool) {
	for _, c := range candidates {
		if !s.deps.Ledger.Contains(c.ID) {
			return c, true
		}
	}

	return domain.Candidate{}, false
}

func (s *Scheduler) commit(ctx context.Context, r *run, c domain.Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		s.log.InfoContext(ctx, "Run is stopped, dropping like",
			"postID", c.ID,
			"hashtag", r.cfg.Hashtag)
		return
	}

	record := domain.NewLikeRecord(c, s.now())

	// The ledger write is not cut short by the tick deadline.
	if err := s.deps.Ledger.Append(context.WithoutCancel(ctx), record); err != nil {
		s.log.ErrorContext(ctx, "Failed to record like",
			"error", err,
			"postID", c.ID,
			"hashtag", r.cfg.Hashtag)
		return
	}
	r.likes++

	s.deps.Tracker.TrackPostLiked(ctx, c.ID, r.cfg.Hashtag, c.LikeCount)

	s.log.InfoContext(ctx, "Post is liked",
		"postID", c.ID,
		"permalink", c.Permalink,
		"hashtag", r.cfg.Hashtag,
		"runLikes", r.likes)
}

func (s *Scheduler) reportFetchError(ctx context.Context, r *run, err error) {
	var (
		errorType string
		errorCode string
		alert     string
	)

	var statusErr *feed.StatusError

	switch {
	case errors.Is(err, feed.ErrUnauthorized):
		errorType, errorCode, alert = domain.ErrorTypeAuthFailed, "401", alertUnauthorized
	case errors.Is(err, feed.ErrPaymentRequired):
		errorType, errorCode, alert = domain.ErrorTypePaymentRequired, "402", alertPaymentRequired
	case errors.As(err, &statusErr):
		errorType, errorCode, alert = domain.ErrorTypeNetworkError, strconv.Itoa(statusErr.StatusCode), alertFetchFailed
	default:
		errorType, alert = domain.ErrorTypeNetworkError, alertFetchFailed
	}

	s.log.ErrorContext(ctx, "Failed to fetch candidates",
		"error", err,
		"errorType", errorType,
		"hashtag", r.cfg.Hashtag)

	s.deps.Tracker.TrackAppError(ctx, errorType, err.Error(), errorCode)
	s.deps.Alerter.Alert(ctx, alert)
}
