package redis

import (
	"fmt"

	"github.com/google/uuid"
)

const ns = "joynous:v1"

func KeyEventSummary(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:summary", ns, eventID)
}

func KeyEventAvailability(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:availability", ns, eventID)
}

func KeyEventList(kind string, limit, offset int) string {
	if kind == "" {
		kind = "all"
	}
	return fmt.Sprintf("%s:events:%s:%d:%d", ns, kind, limit, offset)
}

// KeyEventListIndex is a set holding every cached event list key.
func KeyEventListIndex() string {
	return ns + ":events:lists"
}

func KeyDraft(id uuid.UUID) string {
	return fmt.Sprintf("%s:draft:%s", ns, id)
}

func KeyProfile(clientID string) string {
	return fmt.Sprintf("%s:profile:%s", ns, clientID)
}

func KeyIdemCapture(token uuid.UUID) string {
	return fmt.Sprintf("%s:idem:capture:%s", ns, token)
}

func KeyCheckoutLock(draftID uuid.UUID) string {
	return fmt.Sprintf("%s:lock:checkout:%s", ns, draftID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelEventsChanged() string {
	return ns + ":events:changed"
}
