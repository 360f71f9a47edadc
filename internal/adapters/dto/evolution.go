// Package dto contains data transfer objects for external APIs
// Separating DTOs from handlers prevents import cycles
package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"evolution-relay/internal/core/domain"
)

// Evolution API event names. Both spellings are seen in the wild.
const (
	EventMessagesUpsert = "messages.upsert"
	EventMessageUpsert  = "message.upsert"
	EventMessagesUpdate = "messages.update"
	EventMessageUpdate  = "message.update"
)

// EventKind tags which variant of EvolutionEvent is populated
type EventKind int

const (
	KindOther EventKind = iota
	KindMessageUpsert
	KindStatusUpdate
)

// EvolutionEvent is a webhook payload decoded once at the boundary.
// Exactly one of Upsert/Status is set, according to Kind.
type EvolutionEvent struct {
	Kind      EventKind
	Event     string // "" when missing or not a string
	Instance  string
	Timestamp int64 // unix seconds
	HasTime   bool

	// ExternalMessageID is data.keyId or data.key.id, whatever the event type
	ExternalMessageID string

	Upsert *MessageUpsert
	Status *StatusUpdate
}

// MessageUpsert is a new (or re-sent) message
type MessageUpsert struct {
	HasKey            bool
	ProviderMessageID string
	RemoteJID         string
	FromMe            bool
	Timestamp         int64 // 0 when absent
	Text              string
	Media             *MediaContent
}

// MediaContent is the first populated media field of a message
type MediaContent struct {
	Kind       domain.MessageType
	Caption    string
	SourceURL  string
	DirectPath string
	MimeType   string
	FileName   string
	FileLength int64
	Seconds    int64
	Thumbnail  string // base64 jpeg
	Inline     string // base64 bytes or a data URL, when the provider sent them
}

// StatusUpdate is a delivery/read receipt
type StatusUpdate struct {
	ProviderMessageID string
	Status            RawStatus
}

// RawStatus is a provider status code that may be numeric or textual
type RawStatus struct {
	Present  bool
	IsNumber bool
	Code     int64
	Name     string
}

// UnmarshalJSON accepts numbers and strings
func (s *RawStatus) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*s = RawStatus{Present: true, Name: name}
		return nil
	}
	var code json.Number
	if err := json.Unmarshal(b, &code); err != nil {
		// Objects and booleans are not statuses
		return nil
	}
	n, err := code.Int64()
	if err != nil {
		return nil
	}
	*s = RawStatus{Present: true, IsNumber: true, Code: n}
	return nil
}

func (s RawStatus) String() string {
	if s.IsNumber {
		return strconv.FormatInt(s.Code, 10)
	}
	return s.Name
}

// flexInt accepts a JSON number or a numeric string. Anything else decodes as absent.
type flexInt struct {
	Value int64
	Valid bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil
		}
		if raw == "" || strings.TrimLeft(raw, "0123456789") != "" {
			return nil
		}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*f = flexInt{Value: n, Valid: true}
		return nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	*f = flexInt{Value: int64(n), Valid: true}
	return nil
}

// flexBool accepts true/false and "true"/"false"
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(bytes.TrimSpace(b)), `"`) {
	case "true":
		*f = true
	default:
		*f = false
	}
	return nil
}

// flexString keeps string values and ignores any other JSON type
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	*f = flexString(s)
	return nil
}

type evolutionEnvelope struct {
	Event            json.RawMessage `json:"event"`
	Instance         flexString      `json:"instance"`
	InstanceName     flexString      `json:"instanceName"`
	Data             json.RawMessage `json:"data"`
	Timestamp        flexInt         `json:"timestamp"`
	MessageTimestamp flexInt         `json:"messageTimestamp"`
}

type evolutionData struct {
	Key              *evolutionKey     `json:"key"`
	KeyID            flexString        `json:"keyId"`
	Message          *evolutionMessage `json:"message"`
	MessageTimestamp flexInt           `json:"messageTimestamp"`
	Timestamp        flexInt           `json:"timestamp"`
	Status           RawStatus         `json:"status"`
	Update           *struct {
		Status RawStatus `json:"status"`
	} `json:"update"`
}

type evolutionKey struct {
	ID        flexString `json:"id"`
	RemoteJID flexString `json:"remoteJid"`
	FromMe    flexBool   `json:"fromMe"`
}

type evolutionMessage struct {
	Conversation        flexString `json:"conversation"`
	ExtendedTextMessage *struct {
		Text flexString `json:"text"`
	} `json:"extendedTextMessage"`
	ImageMessage    *evolutionMedia `json:"imageMessage"`
	VideoMessage    *evolutionMedia `json:"videoMessage"`
	AudioMessage    *evolutionMedia `json:"audioMessage"`
	DocumentMessage *evolutionMedia `json:"documentMessage"`
}

type evolutionMedia struct {
	Caption       flexString `json:"caption"`
	URL           flexString `json:"url"`
	DirectPath    flexString `json:"directPath"`
	Mimetype      flexString `json:"mimetype"`
	FileName      flexString `json:"fileName"`
	FileLength    flexInt    `json:"fileLength"`
	Seconds       flexInt    `json:"seconds"`
	JPEGThumbnail flexString `json:"jpegThumbnail"`

	// Inline bytes, under whichever name the provider build uses
	Base64     flexString `json:"base64"`
	Base64Data flexString `json:"base64Data"`
	MediaB64   flexString `json:"mediaBase64"`
	FileBase64 flexString `json:"fileBase64"`
	DataBase64 flexString `json:"dataBase64"`
	Media      flexString `json:"media"`
	File       flexString `json:"file"`
	Body       flexString `json:"body"`
}

func (m *evolutionMedia) inline() string {
	for _, v := range []flexString{m.Base64, m.Base64Data, m.MediaB64, m.FileBase64, m.DataBase64, m.Media, m.File, m.Body} {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

func (m *evolutionMedia) toContent(kind domain.MessageType) *MediaContent {
	return &MediaContent{
		Kind:       kind,
		Caption:    string(m.Caption),
		SourceURL:  string(m.URL),
		DirectPath: string(m.DirectPath),
		MimeType:   string(m.Mimetype),
		FileName:   string(m.FileName),
		FileLength: m.FileLength.Value,
		Seconds:    m.Seconds.Value,
		Thumbnail:  string(m.JPEGThumbnail),
		Inline:     m.inline(),
	}
}

// IsMessageEvent reports whether the event type creates or updates a message
func IsMessageEvent(eventType string) bool {
	switch eventType {
	case EventMessagesUpsert, EventMessageUpsert, EventMessagesUpdate, EventMessageUpdate:
		return true
	}
	return false
}

// DecodeEvolutionEvent parses a raw webhook body. The "data" object may be
// flattened onto the payload root, so both shapes are checked.
func DecodeEvolutionEvent(raw []byte) (*EvolutionEvent, error) {
	var env evolutionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode evolution payload: %w", err)
	}

	dataRaw := pickData(env.Data, raw)
	var data evolutionData
	if err := json.Unmarshal(dataRaw, &data); err != nil {
		return nil, fmt.Errorf("decode evolution data: %w", err)
	}

	ev := &EvolutionEvent{
		Instance: string(env.Instance),
	}
	if ev.Instance == "" {
		ev.Instance = string(env.InstanceName)
	}
	var eventName string
	if json.Unmarshal(env.Event, &eventName) == nil {
		ev.Event = eventName
	}

	// First timestamp found wins: data before root
	for _, ts := range []flexInt{data.MessageTimestamp, data.Timestamp, env.Timestamp, env.MessageTimestamp} {
		if ts.Valid {
			ev.Timestamp = ts.Value
			ev.HasTime = true
			break
		}
	}

	ev.ExternalMessageID = string(data.KeyID)
	if ev.ExternalMessageID == "" && data.Key != nil {
		ev.ExternalMessageID = string(data.Key.ID)
	}

	switch ev.Event {
	case EventMessagesUpsert, EventMessageUpsert:
		ev.Kind = KindMessageUpsert
		ev.Upsert = decodeUpsert(&data)
	case EventMessagesUpdate, EventMessageUpdate:
		ev.Kind = KindStatusUpdate
		status := data.Status
		if !status.Present && data.Update != nil {
			status = data.Update.Status
		}
		ev.Status = &StatusUpdate{
			ProviderMessageID: ev.ExternalMessageID,
			Status:            status,
		}
	default:
		ev.Kind = KindOther
	}

	return ev, nil
}

// pickData returns the "data" object, its first element when it is an array,
// or the whole payload when "data" is absent.
func pickData(data json.RawMessage, whole []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return whole
	}
	switch trimmed[0] {
	case '{':
		return trimmed
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil && len(items) > 0 {
			return items[0]
		}
	}
	return whole
}

func decodeUpsert(data *evolutionData) *MessageUpsert {
	up := &MessageUpsert{
		Timestamp: data.MessageTimestamp.Value,
	}
	if data.Key != nil {
		up.HasKey = true
		up.ProviderMessageID = string(data.Key.ID)
		up.RemoteJID = string(data.Key.RemoteJID)
		up.FromMe = bool(data.Key.FromMe)
	}

	msg := data.Message
	if msg == nil {
		return up
	}

	switch {
	case msg.Conversation != "":
		up.Text = string(msg.Conversation)
	case msg.ExtendedTextMessage != nil:
		up.Text = string(msg.ExtendedTextMessage.Text)
	case msg.ImageMessage != nil:
		up.Media = msg.ImageMessage.toContent(domain.MessageTypeImage)
	case msg.VideoMessage != nil:
		up.Media = msg.VideoMessage.toContent(domain.MessageTypeVideo)
	case msg.AudioMessage != nil:
		up.Media = msg.AudioMessage.toContent(domain.MessageTypeAudio)
		up.Media.Caption = "" // voice notes carry no caption
	case msg.DocumentMessage != nil:
		up.Media = msg.DocumentMessage.toContent(domain.MessageTypeFile)
	}
	return up
}
