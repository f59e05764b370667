package social

import (
	"time"
)

// document field names
const (
	FieldName       = "name"
	FieldEmail      = "email"
	FieldPhotoUrl   = "photoURL"
	FieldBio        = "bio"
	FieldFriends    = "friends"
	FieldUid        = "uid"
	FieldAuthorName = "authorName"
	FieldContent    = "content"
	FieldImageUrl   = "imageUrl"
	FieldLikes      = "likes"
	FieldTimestamp  = "timestamp"
	FieldSender     = "sender"
	FieldRecipient  = "recipient"
	FieldText       = "text"
)

// users/<id>
type Profile struct {
	Id       Id
	Name     string
	Email    string
	PhotoUrl string
	Bio      string
	Friends  []Id
}

func DecodeProfile(doc *Document) (*Profile, error) {
	return &Profile{
		Id:       doc.Id,
		Name:     doc.StringField(FieldName),
		Email:    doc.StringField(FieldEmail),
		PhotoUrl: doc.StringField(FieldPhotoUrl),
		Bio:      doc.StringField(FieldBio),
		Friends:  doc.IdsField(FieldFriends),
	}, nil
}

// the name, or the email when no name is set
func (self *Profile) DisplayName() string {
	if self.Name != "" {
		return self.Name
	}
	return self.Email
}

func (self *Profile) HasFriend(id Id) bool {
	for _, friendId := range self.Friends {
		if friendId == id {
			return true
		}
	}
	return false
}

// posts/<id>
type Post struct {
	Id         Id
	Uid        Id
	AuthorName string
	Content    string
	ImageUrl   *string
	Likes      []Id
	Timestamp  time.Time
}

func DecodePost(doc *Document) (*Post, error) {
	uid := doc.StringField(FieldUid)
	if uid == "" {
		return nil, NewValidationError("Post %s has no uid", doc.Id)
	}
	return &Post{
		Id:         doc.Id,
		Uid:        Id(uid),
		AuthorName: doc.StringField(FieldAuthorName),
		Content:    doc.StringField(FieldContent),
		ImageUrl:   doc.OptionalStringField(FieldImageUrl),
		Likes:      doc.IdsField(FieldLikes),
		Timestamp:  doc.TimeField(FieldTimestamp),
	}, nil
}

func (self *Post) LikeCount() int {
	return len(self.Likes)
}

func (self *Post) LikedBy(id Id) bool {
	for _, likeId := range self.Likes {
		if likeId == id {
			return true
		}
	}
	return false
}

// posts/<postId>/comments/<id>
type Comment struct {
	Id        Id
	PostId    Id
	Uid       Id
	Content   string
	Timestamp time.Time
}

func DecodeComment(doc *Document) (*Comment, error) {
	return &Comment{
		Id:        doc.Id,
		PostId:    doc.Path.Parent().Parent().Id(),
		Uid:       Id(doc.StringField(FieldUid)),
		Content:   doc.StringField(FieldContent),
		Timestamp: doc.TimeField(FieldTimestamp),
	}, nil
}

// conversations/<conversationId>/messages/<id>
type Message struct {
	Id        Id
	Sender    Id
	Recipient Id
	Text      string
	Timestamp time.Time
}

func DecodeMessage(doc *Document) (*Message, error) {
	sender := doc.StringField(FieldSender)
	if sender == "" {
		return nil, NewValidationError("Message %s has no sender", doc.Id)
	}
	return &Message{
		Id:        doc.Id,
		Sender:    Id(sender),
		Recipient: Id(doc.StringField(FieldRecipient)),
		Text:      doc.StringField(FieldText),
		Timestamp: doc.TimeField(FieldTimestamp),
	}, nil
}
