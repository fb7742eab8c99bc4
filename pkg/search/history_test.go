package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversations(t *testing.T) {
	c := NewConversations()
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }

	first, err := c.Open("", "u1")
	require.NoError(t, err)
	second, err := c.Open("", "u1")
	require.NoError(t, err)
	assert.Equal(t, "session-1700000000000", first)
	assert.Equal(t, "session-1700000000001", second)

	custom, err := c.Open("custom", "u1")
	require.NoError(t, err)
	assert.Equal(t, "custom", custom)

	c.Append(first, Message{Role: RoleUser, Text: "hi"})
	chat, err := c.Get(first, "u1")
	require.NoError(t, err)
	require.Len(t, chat.Messages, 1)
	assert.False(t, chat.Messages[0].CreatedAt.IsZero())

	chat.Messages[0].Text = "changed"
	again, _ := c.Get(first, "u1")
	assert.Equal(t, "hi", again.Messages[0].Text)

	c.Reset()
	_, err = c.Get(first, "u1")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestConversations_OwnerOnly(t *testing.T) {
	c := NewConversations()

	id, err := c.Open("", "alice")
	require.NoError(t, err)
	c.Append(id, Message{Role: RoleUser, Text: "alice private query"})

	_, err = c.Get(id, "bob")
	assert.ErrorIs(t, err, ErrChatNotFound)
	_, err = c.Get(id, "")
	assert.ErrorIs(t, err, ErrChatNotFound)

	_, err = c.Open(id, "bob")
	assert.ErrorIs(t, err, ErrChatNotFound, "another user can't append to the chat")

	chat, err := c.Get(id, "alice")
	require.NoError(t, err)
	assert.Len(t, chat.Messages, 1)
}
