package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/fyuze/fyuze/pkg/apiclient"
	"github.com/fyuze/fyuze/pkg/logger"
)

const findPath = "/functions/v1/find-influencers"

type iAPIClient interface {
	Post(ctx context.Context, path string, body, result any) (*resty.Response, error)
}

type iSession interface {
	UserID() string
}

// Reply is the outcome of one chat turn.
type Reply struct {
	ChatID  string  `json:"chat_id"`
	Message Message `json:"message"`
}

type Service struct {
	api     iAPIClient
	session iSession
	chats   *Conversations
}

func NewService(api iAPIClient, s iSession, chats *Conversations) *Service {
	return &Service{
		api:     api,
		session: s,
		chats:   chats,
	}
}

// Send posts message to the influencer search function within chat chatID
// (a new chat when empty) and records both turns. A chat of another user is
// ErrChatNotFound.
//
// An authorization failure is returned as apiclient.ErrUnauthorized and adds
// no assistant turn; the session has already been cleared by then. Any other
// failure records an apology turn and returns it along with an error
// wrapping ErrSearchFailed.
func (s *Service) Send(ctx context.Context, chatID, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	userID := s.session.UserID()
	chatID, err := s.chats.Open(chatID, userID)
	if err != nil {
		return nil, err
	}
	s.chats.Append(chatID, Message{Role: RoleUser, Text: message})

	out := new(findResponse)
	_, err = s.api.Post(ctx, findPath, findRequest{
		SessionID: chatID,
		Message:   message,
		UserID:    userID,
	}, out)
	if err == nil && !out.Success {
		err = errors.New("backend reported failure")
	}

	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			logger.Log(ctx).Infof("search: chat `%s` lost authorization, %v", chatID, err)
			return nil, err
		}
		logger.Log(ctx).Errorf("search: can't get answer for chat `%s`, %v", chatID, err)

		apology := Message{Role: RoleAssistant, Text: apologyText, Influencers: []Influencer{}}
		s.chats.Append(chatID, apology)
		return &Reply{ChatID: chatID, Message: apology}, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}

	answer := Message{Role: RoleAssistant, Text: out.Data.Text, Influencers: out.Data.InfluencersFound}
	if answer.Influencers == nil {
		answer.Influencers = []Influencer{}
	}
	s.chats.Append(chatID, answer)
	return &Reply{ChatID: chatID, Message: answer}, nil
}

// History returns the chat if it belongs to the signed-in user.
func (s *Service) History(chatID string) (*Chat, error) {
	return s.chats.Get(chatID, s.session.UserID())
}
