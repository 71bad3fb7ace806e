package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateContent(t *testing.T) {
	t.Run("empty content is rejected", func(t *testing.T) {
		assert.ErrorIs(t, validateContent(""), ErrContentEmpty)
	})

	t.Run("over-length content is rejected", func(t *testing.T) {
		assert.ErrorIs(t, validateContent(strings.Repeat("a", maxContentLength+1)), ErrContentTooLong)
	})

	t.Run("content at the limit is accepted", func(t *testing.T) {
		assert.NoError(t, validateContent(strings.Repeat("a", maxContentLength)))
	})
}

func newTestConversation(t *testing.T, repo *MemRepository, memberIds ...int) Conversation {
	t.Helper()

	for _, id := range memberIds {
		repo.AddProfile(Profile{Id: id, DisplayName: "profile"})
	}

	conv, err := repo.CreateConversation(CreateConversationParams{
		Name:       "test-conversation",
		ExternalId: "conv-ext",
		MemberIds:  memberIds,
	})
	require.NoError(t, err)
	return conv
}

func TestMemRepositoryMembership(t *testing.T) {
	t.Run("add member twice yields one row", func(t *testing.T) {
		repo := NewMemRepository()
		conv := newTestConversation(t, repo)

		first, err := repo.AddMember(conv.Id, 1)
		require.NoError(t, err)
		second, err := repo.AddMember(conv.Id, 1)
		require.NoError(t, err)

		assert.Equal(t, first.Id, second.Id, "expected the existing membership row back")

		members, err := repo.ListMembers(conv.Id)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, members, "expected exactly one membership for the pair")
	})

	t.Run("remove member deletes the row", func(t *testing.T) {
		repo := NewMemRepository()
		conv := newTestConversation(t, repo, 1, 2)

		require.True(t, repo.IsMember(conv.Id, 1))

		_, err := repo.RemoveMember(conv.Id, 1)
		require.NoError(t, err)

		assert.False(t, repo.IsMember(conv.Id, 1))
		assert.True(t, repo.IsMember(conv.Id, 2), "other memberships are untouched")
	})

	t.Run("remove missing member fails", func(t *testing.T) {
		repo := NewMemRepository()
		conv := newTestConversation(t, repo)

		_, err := repo.RemoveMember(conv.Id, 99)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemRepositoryAppendMessage(t *testing.T) {
	t.Run("assigns increasing sequence numbers", func(t *testing.T) {
		repo := NewMemRepository()
		conv := newTestConversation(t, repo, 1)

		m1, err := repo.AppendMessage(conv.Id, 1, "first")
		require.NoError(t, err)
		m2, err := repo.AppendMessage(conv.Id, 1, "second")
		require.NoError(t, err)

		assert.Equal(t, 1, m1.Seq)
		assert.Equal(t, 2, m2.Seq)
		assert.False(t, m2.SentAt.Before(m1.SentAt), "timestamps are non-decreasing")
	})

	t.Run("rejects invalid content without writing", func(t *testing.T) {
		repo := NewMemRepository()
		conv := newTestConversation(t, repo, 1)

		_, err := repo.AppendMessage(conv.Id, 1, "")
		assert.ErrorIs(t, err, ErrContentEmpty)

		count, err := repo.CountMessages(conv.Id)
		require.NoError(t, err)
		assert.Zero(t, count, "no partial write on validation failure")
	})

	t.Run("unknown conversation fails", func(t *testing.T) {
		repo := NewMemRepository()
		_, err := repo.AppendMessage(42, 1, "hello")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemRepositoryListMessages(t *testing.T) {
	repo := NewMemRepository()
	conv := newTestConversation(t, repo, 1)

	for _, content := range []string{"one", "two", "three"} {
		_, err := repo.AppendMessage(conv.Id, 1, content)
		require.NoError(t, err)
	}

	t.Run("returns pages oldest first", func(t *testing.T) {
		msgs, err := repo.ListMessages(conv.Id, 2, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "one", msgs[0].Content)
		assert.Equal(t, "two", msgs[1].Content)

		msgs, err = repo.ListMessages(conv.Id, 2, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "three", msgs[0].Content)
	})

	t.Run("offset beyond history is empty", func(t *testing.T) {
		msgs, err := repo.ListMessages(conv.Id, 10, 100)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("get by id", func(t *testing.T) {
		msgs, err := repo.ListMessages(conv.Id, 1, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		msg, err := repo.GetMessageById(msgs[0].Id)
		require.NoError(t, err)
		assert.Equal(t, msgs[0], msg)

		_, err = repo.GetMessageById(9999)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
