package search

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fyuze/fyuze/pkg/apiclient"
	"github.com/fyuze/fyuze/pkg/common"
	"github.com/fyuze/fyuze/pkg/logger"
)

type iService interface {
	Send(ctx context.Context, chatID, message string) (*Reply, error)
	History(chatID string) (*Chat, error)
}

type Handler struct {
	service iService
}

func NewHandler(s iService) *Handler {
	return &Handler{
		service: s,
	}
}

type influencerView struct {
	Influencer
	FollowersLabel string   `json:"followers_label"`
	ImageURLs      []string `json:"image_urls"`
}

type messageView struct {
	Message
	Influencers []influencerView `json:"influencers"`
	Found       int              `json:"found"`
}

func newMessageView(m Message) messageView {
	v := messageView{Message: m, Influencers: make([]influencerView, 0, len(m.Influencers)), Found: len(m.Influencers)}
	for _, inf := range m.Influencers {
		v.Influencers = append(v.Influencers, influencerView{
			Influencer:     inf,
			FollowersLabel: FormatCount(inf.Followers),
			ImageURLs:      ProfileImageURLs(inf.ProfilePicURL),
		})
	}
	return v
}

type replyView struct {
	ChatID  string      `json:"chat_id"`
	Message messageView `json:"message"`
}

func (h Handler) Send(w http.ResponseWriter, r *http.Request) {
	body := &struct {
		ChatID  string `json:"chat_id"`
		Message string `json:"message"`
	}{}
	if err := common.ParseReqBody(r.Body, body); err != nil {
		logger.Log(r.Context()).Errorf("search: can't parse chat body, %v", err)
		common.WriteMsg(w, "bad request format", http.StatusBadRequest)
		return
	}

	reply, err := h.service.Send(r.Context(), body.ChatID, body.Message)
	switch {
	case errors.Is(err, ErrEmptyMessage):
		common.WriteMsg(w, "message is required", http.StatusBadRequest)
		return
	case errors.Is(err, ErrChatNotFound):
		common.WriteMsg(w, "chat not found", http.StatusNotFound)
		return
	case errors.Is(err, apiclient.ErrUnauthorized):
		common.WriteMsg(w, "authorization required", http.StatusUnauthorized)
		return
	case errors.Is(err, ErrSearchFailed):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
	case err != nil:
		common.WriteMsg(w, "chat failed", http.StatusInternalServerError)
		return
	}

	common.WriteRespJSON(w, replyView{ChatID: reply.ChatID, Message: newMessageView(reply.Message)})
}

func (h Handler) History(w http.ResponseWriter, r *http.Request) {
	chat, err := h.service.History(mux.Vars(r)["id"])
	if err != nil {
		common.WriteMsg(w, "chat not found", http.StatusNotFound)
		return
	}

	views := make([]messageView, 0, len(chat.Messages))
	for _, m := range chat.Messages {
		views = append(views, newMessageView(m))
	}
	common.WriteRespJSON(w, struct {
		ID       string        `json:"id"`
		Messages []messageView `json:"messages"`
	}{chat.ID, views})
}
