package search

import (
	"strconv"
	"sync"
	"time"
)

// Conversations keeps chat history in memory, keyed by chat id. Every chat
// belongs to the user that opened it and is invisible to anyone else.
type Conversations struct {
	mu    sync.RWMutex
	chats map[string]*Chat
	now   func() time.Time
}

func NewConversations() *Conversations {
	return &Conversations{
		chats: make(map[string]*Chat),
		now:   time.Now,
	}
}

// Open returns the id of the chat to append to. An empty id starts a new
// chat named session-<unix millis>; an unknown id is created as given. A chat
// owned by another user is reported as ErrChatNotFound.
func (c *Conversations) Open(id, owner string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id == "" {
		ms := c.now().UnixMilli()
		for {
			id = "session-" + strconv.FormatInt(ms, 10)
			if _, taken := c.chats[id]; !taken {
				break
			}
			ms++
		}
	}

	chat, ok := c.chats[id]
	if !ok {
		c.chats[id] = &Chat{ID: id, Owner: owner}
		return id, nil
	}
	if chat.Owner != owner {
		return "", ErrChatNotFound
	}
	return id, nil
}

// Append adds m to an opened chat.
func (c *Conversations) Append(id string, m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chat, ok := c.chats[id]
	if !ok {
		return
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = c.now()
	}
	chat.Messages = append(chat.Messages, m)
}

// Get returns a copy of the chat if owner opened it.
func (c *Conversations) Get(id, owner string) (*Chat, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	chat, ok := c.chats[id]
	if !ok || chat.Owner != owner {
		return nil, ErrChatNotFound
	}
	return &Chat{
		ID:       chat.ID,
		Owner:    chat.Owner,
		Messages: append([]Message(nil), chat.Messages...),
	}, nil
}

// Reset drops all chats. It runs on logout.
func (c *Conversations) Reset() {
	c.mu.Lock()
	c.chats = make(map[string]*Chat)
	c.mu.Unlock()
}
