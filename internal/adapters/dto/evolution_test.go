package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evolution-relay/internal/core/domain"
)

func TestDecodeEvolutionEvent_TextUpsert(t *testing.T) {
	raw := []byte(`{
		"event": "messages.upsert",
		"instance": "line-1",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "fromMe": false, "id": "abc123"},
			"message": {"conversation": "oi"},
			"messageTimestamp": 1700000000
		}
	}`)

	ev, err := DecodeEvolutionEvent(raw)
	require.NoError(t, err)

	assert.Equal(t, KindMessageUpsert, ev.Kind)
	assert.Equal(t, "line-1", ev.Instance)
	assert.Equal(t, "abc123", ev.ExternalMessageID)
	assert.True(t, ev.HasTime)
	assert.Equal(t, int64(1700000000), ev.Timestamp)
	require.NotNil(t, ev.Upsert)
	assert.True(t, ev.Upsert.HasKey)
	assert.Equal(t, "5511999999999@s.whatsapp.net", ev.Upsert.RemoteJID)
	assert.False(t, ev.Upsert.FromMe)
	assert.Equal(t, "oi", ev.Upsert.Text)
	assert.Nil(t, ev.Upsert.Media)
}

func TestDecodeEvolutionEvent_FlattenedPayload(t *testing.T) {
	raw := []byte(`{
		"event": "message.upsert",
		"instanceName": "line-2",
		"key": {"remoteJid": "5511@lid", "fromMe": "true", "id": "X1"},
		"message": {"extendedTextMessage": {"text": "hello"}},
		"messageTimestamp": "1700000001"
	}`)

	ev, err := DecodeEvolutionEvent(raw)
	require.NoError(t, err)

	assert.Equal(t, KindMessageUpsert, ev.Kind)
	assert.Equal(t, "line-2", ev.Instance)
	assert.Equal(t, "X1", ev.ExternalMessageID)
	assert.Equal(t, int64(1700000001), ev.Timestamp)
	assert.True(t, ev.Upsert.FromMe)
	assert.Equal(t, "hello", ev.Upsert.Text)
}

func TestDecodeEvolutionEvent_ImageMessage(t *testing.T) {
	raw := []byte(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "id": "IMG1"},
			"message": {"imageMessage": {
				"caption": "look",
				"url": "https://mmg.whatsapp.net/x",
				"directPath": "/v/t62/x",
				"mimetype": "image/jpeg",
				"fileLength": "2048",
				"jpegThumbnail": "AAAA"
			}}
		}
	}`)

	ev, err := DecodeEvolutionEvent(raw)
	require.NoError(t, err)
	require.NotNil(t, ev.Upsert.Media)

	media := ev.Upsert.Media
	assert.Equal(t, domain.MessageTypeImage, media.Kind)
	assert.Equal(t, "look", media.Caption)
	assert.Equal(t, "/v/t62/x", media.DirectPath)
	assert.Equal(t, int64(2048), media.FileLength)
	assert.Equal(t, "AAAA", media.Thumbnail)
	assert.Empty(t, media.Inline)
	assert.False(t, ev.HasTime)
}

func TestDecodeEvolutionEvent_InlineBase64Fields(t *testing.T) {
	raw := []byte(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "1@s.whatsapp.net", "id": "DOC1"},
			"message": {"documentMessage": {"fileName": "a.pdf", "mimetype": "application/pdf", "fileBase64": "JVBERg=="}}
		}
	}`)

	ev, err := DecodeEvolutionEvent(raw)
	require.NoError(t, err)
	require.NotNil(t, ev.Upsert.Media)
	assert.Equal(t, domain.MessageTypeFile, ev.Upsert.Media.Kind)
	assert.Equal(t, "JVBERg==", ev.Upsert.Media.Inline)
	assert.Equal(t, "a.pdf", ev.Upsert.Media.FileName)
}

func TestDecodeEvolutionEvent_StatusUpdateShapes(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		wantID   string
		isNumber bool
		code     int64
		text     string
	}{
		{
			name:     "numeric under update",
			raw:      `{"event":"messages.update","data":{"key":{"id":"abc"},"update":{"status":3}}}`,
			wantID:   "abc",
			isNumber: true,
			code:     3,
		},
		{
			name:   "string with keyId",
			raw:    `{"event":"messages.update","data":{"keyId":"def","status":"DELIVERY_ACK"}}`,
			wantID: "def",
			text:   "DELIVERY_ACK",
		},
		{
			name:   "array data",
			raw:    `{"event":"message.update","data":[{"keyId":"ghi","status":"READ"}]}`,
			wantID: "ghi",
			text:   "READ",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodeEvolutionEvent([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, KindStatusUpdate, ev.Kind)
			require.NotNil(t, ev.Status)
			assert.Equal(t, tc.wantID, ev.Status.ProviderMessageID)
			assert.True(t, ev.Status.Status.Present)
			assert.Equal(t, tc.isNumber, ev.Status.Status.IsNumber)
			if tc.isNumber {
				assert.Equal(t, tc.code, ev.Status.Status.Code)
			} else {
				assert.Equal(t, tc.text, ev.Status.Status.Name)
			}
		})
	}
}

func TestDecodeEvolutionEvent_MissingOrNonStringEvent(t *testing.T) {
	ev, err := DecodeEvolutionEvent([]byte(`{"event": 42, "data": {}}`))
	require.NoError(t, err)
	assert.Equal(t, "", ev.Event)
	assert.Equal(t, KindOther, ev.Kind)

	ev, err = DecodeEvolutionEvent([]byte(`{"event": "connection.update", "data": {"state": "open"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindOther, ev.Kind)
}

func TestDecodeEvolutionEvent_InvalidJSON(t *testing.T) {
	_, err := DecodeEvolutionEvent([]byte(`{not json`))
	assert.Error(t, err)
}

func TestIsMessageEvent(t *testing.T) {
	assert.True(t, IsMessageEvent("messages.upsert"))
	assert.True(t, IsMessageEvent("message.update"))
	assert.False(t, IsMessageEvent("connection.update"))
	assert.False(t, IsMessageEvent(""))
}
