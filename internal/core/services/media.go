package services

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/url"
	"sort"
	"strings"

	"github.com/vincent-petithory/dataurl"

	"evolution-relay/internal/adapters/dto"
	"evolution-relay/internal/core/domain"
)

const defaultMimeType = "application/octet-stream"

// defaultDocumentName is used when a document arrives without a file name
const defaultDocumentName = "documento"

// MediaProxyPath is the route that streams provider media by reference
const MediaProxyPath = "/api/chat/media"

var attachmentSuffix = map[domain.MessageType]string{
	domain.MessageTypeImage: "img",
	domain.MessageTypeVideo: "vid",
	domain.MessageTypeAudio: "aud",
	domain.MessageTypeFile:  "doc",
}

// AttachmentID derives the stable attachment id of an inbound media message
func AttachmentID(providerMessageID string, kind domain.MessageType) string {
	return fmt.Sprintf("att-%s-%s", providerMessageID, attachmentSuffix[kind])
}

// MediaProxyURL points at the internal proxy so provider credentials never
// reach the caller
func MediaProxyURL(providerMessageID, attachmentID string) string {
	return MediaProxyPath +
		"?providerMessageId=" + url.QueryEscape(providerMessageID) +
		"&attachmentId=" + url.QueryEscape(attachmentID)
}

// ToDataURL turns inline base64 media into a data URL.
// Returns "" when the payload is not decodable.
func ToDataURL(mimeType, payload string) string {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		if _, err := dataurl.DecodeString(payload); err != nil {
			return ""
		}
		return payload
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return ""
		}
	}

	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil || !strings.Contains(mediaType, "/") {
		mediaType, params = defaultMimeType, nil
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, params[k])
	}

	return dataurl.New(data, mediaType, pairs...).String()
}

// buildAttachment maps provider media to a domain attachment.
// Inline bytes become a data URL; a bare reference becomes a proxy URL.
func buildAttachment(providerMessageID, messageID string, media *dto.MediaContent) domain.Attachment {
	id := AttachmentID(providerMessageID, media.Kind)

	link := ""
	if media.Inline != "" {
		link = ToDataURL(media.MimeType, media.Inline)
	}
	if link == "" {
		link = MediaProxyURL(providerMessageID, id)
	}

	att := domain.Attachment{
		ID:        id,
		MessageID: messageID,
		Type:      media.Kind,
		URL:       link,
		Metadata: domain.AttachmentMetadata{
			MimeType:           media.MimeType,
			Size:               media.FileLength,
			EvolutionSourceURL: media.SourceURL,
			DirectPath:         media.DirectPath,
		},
	}

	switch media.Kind {
	case domain.MessageTypeImage, domain.MessageTypeVideo:
		att.Metadata.Filename = media.FileName
		if media.Thumbnail != "" {
			att.ThumbnailURL = ToDataURL("image/jpeg", media.Thumbnail)
		}
		if media.Kind == domain.MessageTypeVideo {
			att.Metadata.Duration = media.Seconds
		}
	case domain.MessageTypeAudio:
		att.Metadata.Duration = media.Seconds
	case domain.MessageTypeFile:
		att.Metadata.Filename = media.FileName
		if att.Metadata.Filename == "" {
			att.Metadata.Filename = defaultDocumentName
		}
	}

	return att
}
