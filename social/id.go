package social

import (
	"fmt"
	"slices"
	"strings"

	"github.com/oklog/ulid/v2"
)

// comparable
// server generated ids are ulids and are ordered by create time.
// user ids are assigned by the identity service and are opaque.
type Id string

func NewId() Id {
	return Id(ulid.Make().String())
}

func ParseId(idStr string) (Id, error) {
	idStr = strings.TrimSpace(idStr)
	if idStr == "" {
		return "", fmt.Errorf("Id must not be empty")
	}
	if strings.ContainsAny(idStr, "/_") {
		return "", fmt.Errorf("Id must not contain a path separator: %s", idStr)
	}
	return Id(idStr), nil
}

func RequireParseId(idStr string) Id {
	id, err := ParseId(idStr)
	if err != nil {
		panic(err)
	}
	return id
}

func (self Id) LessThan(b Id) bool {
	return self < b
}

func (self Id) String() string {
	return string(self)
}

// the conversation between two users has the same id regardless of who opens it
func ConversationId(a Id, b Id) Id {
	ids := []string{string(a), string(b)}
	slices.Sort(ids)
	return Id(strings.Join(ids, "_"))
}

// the participants of a conversation in sorted order
func ConversationParticipants(conversationId Id) (Id, Id, error) {
	parts := strings.Split(string(conversationId), "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("Invalid conversation id: %s", conversationId)
	}
	return Id(parts[0]), Id(parts[1]), nil
}
