package backend

import (
	"context"
	"strings"

	"github.com/bringyour/social/social"
)

// collection patterns. Document ids are replaced with `*`.
const (
	usersPattern    = "users"
	postsPattern    = "posts"
	commentsPattern = "posts/*/comments"
	messagesPattern = "conversations/*/messages"
)

// Server side access rules. A request is checked before it reaches the store.
// Every denial is a `PermissionError`.
//
// Signed in users can read everything public. Messages are readable only by the
// two participants. Writes are limited to the writer's own records:
// - `users/<me>` is created and edited only by me. Others may only add themselves to `friends`.
// - posts, comments and messages carry the writer id (`uid` or `sender`).
// - a post update can only add or remove the writer id in `likes`.
// - comments and messages are append only.
// - blobs are written only under `posts/<me>/` and `avatars/<me>/`.
type Rules struct {
	store social.DocumentStore
}

func NewRules(store social.DocumentStore) *Rules {
	return &Rules{
		store: store,
	}
}

func collectionPattern(collection social.Path) string {
	segments := collection.Segments()
	for i := 1; i < len(segments); i += 2 {
		segments[i] = "*"
	}
	return strings.Join(segments, "/")
}

func isPrivate(path social.Path) bool {
	segments := path.Segments()
	if len(segments) == 0 {
		return false
	}
	switch social.Path(segments[0]) {
	case AccountsCollection, RevokedTokensCollection:
		return true
	default:
		return false
	}
}

func denied(format string, a ...any) error {
	return social.NewPermissionError(format, a...)
}

func (self *Rules) CheckQuery(identity *social.Identity, query *social.Query) error {
	return self.checkRead(identity, query.Collection)
}

func (self *Rules) CheckGet(identity *social.Identity, doc social.Path) error {
	if !doc.IsDocument() {
		return social.NewValidationError("Get requires a document path: %s", doc)
	}
	return self.checkRead(identity, doc.Parent())
}

func (self *Rules) checkRead(identity *social.Identity, collection social.Path) error {
	if identity == nil {
		return social.NewAuthError("Not signed in")
	}
	if isPrivate(collection) {
		return denied("Missing or insufficient permissions")
	}
	switch collectionPattern(collection) {
	case messagesPattern:
		if !self.participant(identity, collection) {
			return denied("Not a participant of %s", collection)
		}
	}
	return nil
}

// `conversations/<a>_<b>/messages`
func (self *Rules) participant(identity *social.Identity, collection social.Path) bool {
	segments := collection.Segments()
	a, b, err := social.ConversationParticipants(social.Id(segments[1]))
	if err != nil {
		return false
	}
	return identity.Id == a || identity.Id == b
}

func (self *Rules) CheckWrites(ctx context.Context, identity *social.Identity, writes []*social.Write) error {
	if identity == nil {
		return social.NewAuthError("Not signed in")
	}
	for _, write := range writes {
		if err := write.Validate(); err != nil {
			return err
		}
		if err := self.checkWrite(ctx, identity, write); err != nil {
			return err
		}
	}
	return nil
}

func (self *Rules) checkWrite(ctx context.Context, identity *social.Identity, write *social.Write) error {
	if isPrivate(write.Path) {
		return denied("Missing or insufficient permissions")
	}
	collection := write.Path
	if write.Path.IsDocument() {
		collection = write.Path.Parent()
	}
	me := string(identity.Id)

	switch collectionPattern(collection) {
	case usersPattern:
		own := collection.Doc(identity.Id)
		switch write.Op {
		case social.WriteOpCreate:
			if write.Path != own {
				return denied("Profiles are created only at %s", own)
			}
		default:
			if write.Path == own {
				return nil
			}
			// others may only add themselves as a friend
			if 0 < len(write.Set) || 0 < len(write.SetRemove) || len(write.SetAdd) != 1 {
				return denied("Cannot edit profile %s", write.Path)
			}
			if !onlyMember(write.SetAdd[social.FieldFriends], me) {
				return denied("Cannot edit profile %s", write.Path)
			}
		}
	case postsPattern:
		switch write.Op {
		case social.WriteOpCreate:
			if !isValue(write.Set[social.FieldUid], me) {
				return denied("Posts must carry the writer uid")
			}
			if likes, ok := write.Set[social.FieldLikes]; ok {
				if list, ok := social.NormalizeValue(likes).([]any); !ok || 0 < len(list) {
					return denied("Posts are created without likes")
				}
			}
		default:
			// likes only, and only the writer id
			if 0 < len(write.Set) {
				return denied("Cannot edit post %s", write.Path)
			}
			for field, members := range write.SetAdd {
				if field != social.FieldLikes || !onlyMember(members, me) {
					return denied("Cannot edit post %s", write.Path)
				}
			}
			for field, members := range write.SetRemove {
				if field != social.FieldLikes || !onlyMember(members, me) {
					return denied("Cannot edit post %s", write.Path)
				}
			}
		}
	case commentsPattern:
		if write.Op != social.WriteOpCreate {
			return denied("Comments are append only")
		}
		if !isValue(write.Set[social.FieldUid], me) {
			return denied("Comments must carry the writer uid")
		}
		if _, err := self.store.Get(ctx, collection.Parent()); err != nil {
			return err
		}
	case messagesPattern:
		if write.Op != social.WriteOpCreate {
			return denied("Messages are append only")
		}
		if !self.participant(identity, collection) {
			return denied("Not a participant of %s", collection)
		}
		if !isValue(write.Set[social.FieldSender], me) {
			return denied("Messages must carry the writer as sender")
		}
		a, b, _ := social.ConversationParticipants(social.Id(collection.Segments()[1]))
		other := a
		if other == identity.Id {
			other = b
		}
		if !isValue(write.Set[social.FieldRecipient], string(other)) {
			return denied("Messages must carry the other participant as recipient")
		}
	default:
		return denied("Unknown collection %s", collection)
	}
	return nil
}

func isValue(value any, s string) bool {
	v, ok := social.NormalizeValue(value).(string)
	return ok && v == s
}

func onlyMember(members []any, s string) bool {
	return len(members) == 1 && isValue(members[0], s)
}

func (self *Rules) CheckBlobWrite(identity *social.Identity, path string) error {
	if identity == nil {
		return social.NewAuthError("Not signed in")
	}
	if err := social.ValidateBlobPath(path); err != nil {
		return err
	}
	segments := strings.Split(path, "/")
	me := string(identity.Id)
	switch {
	case len(segments) == 3 && segments[0] == "posts" && segments[1] == me:
		return nil
	case len(segments) == 3 && segments[0] == "avatars" && segments[1] == me:
		return nil
	default:
		return denied("Cannot write blob %s", path)
	}
}
