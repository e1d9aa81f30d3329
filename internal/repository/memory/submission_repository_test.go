package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"reflection-chat-be/internal/dto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionRepository(t *testing.T) {
	t.Run("second reserve waits for the first", func(t *testing.T) {
		repo := NewSubmissionRepository(time.Minute)

		first, owner := repo.Reserve("u1:s1:m1")
		require.True(t, owner)
		second, owner := repo.Reserve("u1:s1:m1")
		require.False(t, owner)
		assert.Same(t, first, second)

		want := &dto.SendChatResponse{SessionId: "s1"}
		go repo.Complete("u1:s1:m1", first, want, nil)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		got, err := second.Wait(ctx)
		require.NoError(t, err)
		assert.Same(t, want, got)

		// completed submissions stay reserved until they expire
		third, owner := repo.Reserve("u1:s1:m1")
		assert.False(t, owner)
		assert.Same(t, first, third)
	})

	t.Run("failed submission is forgotten", func(t *testing.T) {
		repo := NewSubmissionRepository(time.Minute)

		sub, owner := repo.Reserve("k")
		require.True(t, owner)
		repo.Complete("k", sub, nil, errors.New("boom"))

		_, err := sub.Wait(context.Background())
		assert.EqualError(t, err, "boom")

		_, owner = repo.Reserve("k")
		assert.True(t, owner)
	})

	t.Run("wait honours context", func(t *testing.T) {
		repo := NewSubmissionRepository(time.Minute)
		sub, _ := repo.Reserve("k")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := sub.Wait(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("entries expire", func(t *testing.T) {
		repo := NewSubmissionRepository(20 * time.Millisecond)
		sub, _ := repo.Reserve("k")
		repo.Complete("k", sub, &dto.SendChatResponse{}, nil)

		assert.Eventually(t, func() bool {
			_, owner := repo.Reserve("k")
			return owner
		}, time.Second, 5*time.Millisecond)
	})
}
