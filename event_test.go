package aifetchly

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
)

func TestDecodeToolCall(t *testing.T) {
	t.Run("missing name is a protocol violation", func(t *testing.T) {
		_, err := DecodeToolCall(map[string]any{"id": "call-1"})
		gt.True(t, errors.Is(err, ErrMissingToolName))
	})

	t.Run("whitespace-only name is a protocol violation", func(t *testing.T) {
		_, err := DecodeToolCall(map[string]any{"id": "call-1", "name": "   "})
		gt.True(t, errors.Is(err, ErrMissingToolName))
	})

	t.Run("missing id is replaced with a generated one", func(t *testing.T) {
		call, err := DecodeToolCall(map[string]any{"name": "scrape_urls_from_google"})
		gt.NoError(t, err)
		gt.NotEqual(t, call.ID, "")
	})

	t.Run("params fall back to the arguments key", func(t *testing.T) {
		call, err := DecodeToolCall(map[string]any{
			"id":        "call-1",
			"name":      "scrape_urls_from_google",
			"arguments": map[string]any{"query": "q"},
		})
		gt.NoError(t, err)
		gt.Equal(t, call.Params["query"], "q")
	})
}

func TestDecodeToolResult(t *testing.T) {
	t.Run("requires a call id", func(t *testing.T) {
		_, err := DecodeToolResult(map[string]any{"name": "x"})
		gt.True(t, errors.Is(err, ErrInvalidEvent))
	})

	t.Run("success defaults to true", func(t *testing.T) {
		res, err := DecodeToolResult(map[string]any{"id": "call-1"})
		gt.NoError(t, err)
		gt.True(t, res.Success)
	})

	t.Run("carries result and error through", func(t *testing.T) {
		res, err := DecodeToolResult(map[string]any{
			"id":      "call-1",
			"success": false,
			"error":   "upstream 500",
			"result":  map[string]any{"partial": true},
		})
		gt.NoError(t, err)
		gt.False(t, res.Success)
		gt.Equal(t, res.Error, "upstream 500")
		gt.Equal(t, res.Result["partial"], true)
	})
}
