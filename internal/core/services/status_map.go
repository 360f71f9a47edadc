package services

import (
	"strings"

	"evolution-relay/internal/adapters/dto"
	"evolution-relay/internal/core/domain"
)

var numericStatuses = map[int64]domain.MessageStatus{
	1: domain.MessageStatusSent,
	2: domain.MessageStatusDelivered,
	3: domain.MessageStatusRead,
}

var textStatuses = map[string]domain.MessageStatus{
	"SERVER_ACK":   domain.MessageStatusSent,
	"SENT":         domain.MessageStatusSent,
	"DELIVERY_ACK": domain.MessageStatusDelivered,
	"DELIVERED":    domain.MessageStatusDelivered,
	"READ":         domain.MessageStatusRead,
	"READED":       domain.MessageStatusRead,
	"PLAYED":       domain.MessageStatusRead,
}

// MapProviderStatus translates a provider status code. Unknown codes map to sent.
func MapProviderStatus(raw dto.RawStatus) domain.MessageStatus {
	var (
		status domain.MessageStatus
		ok     bool
	)
	if raw.IsNumber {
		status, ok = numericStatuses[raw.Code]
	} else {
		status, ok = textStatuses[strings.ToUpper(strings.TrimSpace(raw.Name))]
	}
	if !ok {
		return domain.MessageStatusSent
	}
	return status
}
