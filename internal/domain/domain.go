package domain

import (
	"net/url"
	"strings"
	"time"
)

const (
	DefaultDailyQuota  = 500
	DefaultWindowStart = "00:00"
	DefaultWindowEnd   = "23:59"

	// MaxStoredFactor sizes the ledger relative to the daily quota.
	MaxStoredFactor = 3
)

// Candidate is a post returned by the hashtag search API.
type Candidate struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink"`
	Caption   string `json:"caption,omitempty"`
	LikeCount *int   `json:"like_count,omitempty"`
}

// Path returns the URL path of the candidate's permalink, which is what the
// browser page navigates to in place.
func (c Candidate) Path() (string, error) {
	u, err := url.Parse(strings.TrimSpace(c.Permalink))
	if err != nil {
		return "", err
	}

	if u.Path == "" {
		return "/", nil
	}

	return u.Path, nil
}

// LikeRecord is one entry of the like ledger. CreatedAt is the time the local
// action was recorded, not the publish time of the post.
type LikeRecord struct {
	ID        string    `json:"id"`
	Permalink string    `json:"permalink"`
	Caption   string    `json:"caption,omitempty"`
	LikeCount *int      `json:"like_count,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewLikeRecord(c Candidate, createdAt time.Time) LikeRecord {
	return LikeRecord{
		ID:        c.ID,
		Permalink: c.Permalink,
		Caption:   c.Caption,
		LikeCount: c.LikeCount,
		CreatedAt: createdAt,
	}
}

// Analytics event names.
const (
	EventAppSessionStart = "appSessionStart"
	EventAppSessionEnd   = "appSessionEnd"
	EventAppLogin        = "appLogin"
	EventLikesStarted    = "likesStarted"
	EventLikesStopped    = "likesStopped"
	EventPostLiked       = "postLiked"
	EventAppError        = "appError"
)

// Error types reported with EventAppError.
const (
	ErrorTypeAuthFailed      = "authFailed"
	ErrorTypePaymentRequired = "paymentRequired"
	ErrorTypeNetworkError    = "networkError"
)

// Reasons reported with EventLikesStopped.
const (
	StopReasonManual   = "manual"
	StopReasonShutdown = "shutdown"
)
