package search

import (
	"errors"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	apologyText = "Sorry, there was an error processing your request. Please try again."
)

var (
	ErrEmptyMessage = errors.New("search: empty message")
	ErrSearchFailed = errors.New("search: request failed")
	ErrChatNotFound = errors.New("search: chat not found")
)

type Influencer struct {
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	Bio           string `json:"bio"`
	Followers     int64  `json:"followers"`
	ProfilePicURL string `json:"profile_pic_url"`
	IsVerified    bool   `json:"is_verified"`
}

// Message is one turn of a chat. Influencers is set on assistant turns only.
type Message struct {
	Role        string       `json:"role"`
	Text        string       `json:"text"`
	Influencers []Influencer `json:"influencers"`
	CreatedAt   time.Time    `json:"created_at"`
}

type Chat struct {
	ID       string    `json:"id"`
	Owner    string    `json:"-"`
	Messages []Message `json:"messages"`
}

type findRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
}

type findResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Text             string       `json:"text"`
		InfluencersFound []Influencer `json:"influencers_found"`
	} `json:"data"`
}
