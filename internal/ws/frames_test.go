// ABOUTME: Tests for inbound action decoding
// ABOUTME: Covers valid actions, malformed JSON, missing tags, and unknown tags

package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAction_SendMessage(t *testing.T) {
	action, err := decodeAction([]byte(`{"action":"send_message","chatId":"c1","content":"hi"}`))
	require.NoError(t, err)

	send, ok := action.(SendMessage)
	require.True(t, ok)
	assert.Equal(t, "c1", send.ChatID)
	assert.Equal(t, "", send.RecipientID)
	assert.Equal(t, "hi", send.Content)
}

func TestDecodeAction_CaseInsensitiveTag(t *testing.T) {
	action, err := decodeAction([]byte(`{"action":"SEND_MESSAGE","recipientId":"r1","content":"hi"}`))
	require.NoError(t, err)

	_, ok := action.(SendMessage)
	assert.True(t, ok)
}

func TestDecodeAction_MalformedJSON(t *testing.T) {
	_, err := decodeAction([]byte(`{"action":`))
	assert.ErrorIs(t, err, errInvalidPayload)
}

func TestDecodeAction_NotAnObject(t *testing.T) {
	_, err := decodeAction([]byte(`"just a string"`))
	assert.ErrorIs(t, err, errInvalidPayload)
}

func TestDecodeAction_MissingActionTag(t *testing.T) {
	_, err := decodeAction([]byte(`{"content":"hi"}`))
	assert.ErrorIs(t, err, errInvalidPayload)
}

func TestDecodeAction_UnknownTag(t *testing.T) {
	action, err := decodeAction([]byte(`{"action":"delete_everything"}`))
	require.NoError(t, err)

	unknown, ok := action.(UnknownAction)
	require.True(t, ok)
	assert.Equal(t, "delete_everything", unknown.Name)
}

func TestDecodeAction_IgnoresUnknownFields(t *testing.T) {
	action, err := decodeAction([]byte(`{"action":"send_message","content":"hi","extra":true}`))
	require.NoError(t, err)

	_, ok := action.(SendMessage)
	assert.True(t, ok)
}
