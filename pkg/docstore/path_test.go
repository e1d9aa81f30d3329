package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPath(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		want     Path
		wantErr  bool
	}{
		{name: "collection", segments: []string{"users"}, want: "users"},
		{name: "document", segments: []string{"users", "u1"}, want: "users/u1"},
		{name: "nested", segments: []string{"users", "u1", "chatHistory", "c1", "messages"}, want: "users/u1/chatHistory/c1/messages"},
		{name: "empty segment", segments: []string{"users", ""}, wantErr: true},
		{name: "slash in segment", segments: []string{"users", "a/b"}, wantErr: true},
		{name: "no segments", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewPath(tt.segments...)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPathNavigation(t *testing.T) {
	p := Path("users/u1/chatHistory/c1")

	assert.True(t, p.IsDocument())
	assert.False(t, p.IsCollection())
	assert.Equal(t, "c1", p.ID())
	assert.Equal(t, Path("users/u1/chatHistory"), p.Parent())
	assert.True(t, p.Parent().IsCollection())
	assert.Equal(t, Path("users/u1/chatHistory/c1/messages"), p.Child("messages"))
	assert.Equal(t, Path(""), Path("users").Parent())

	assert.NoError(t, RequireDocument(p))
	assert.ErrorIs(t, RequireCollection(p), ErrInvalidPath)
	assert.ErrorIs(t, RequireDocument(""), ErrInvalidPath)
	assert.ErrorIs(t, RequireCollection(""), ErrInvalidPath)
}
