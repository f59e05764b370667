package social

import (
	"context"
)

const ChatIdleStatus = "Select a friend"

// One-to-one messages with a friend, oldest first.
// Without a friend the view is idle and opens no subscription.
type ChatView struct {
	viewChanges

	app            *App
	me             Id
	friendId       Id
	conversationId Id
	messages       *LiveQuery[*Message]
}

func MessagesQuery(conversationId Id) *Query {
	return NewQuery(MessagesCollection(conversationId)).OrderByAsc(FieldTimestamp)
}

// `friendId` may be empty
func NewChatView(app *App, friendId Id) (*ChatView, error) {
	identity, err := app.Router.Require()
	if err != nil {
		return nil, err
	}
	chat := &ChatView{
		viewChanges: newViewChanges(),
		app:         app,
		me:          identity.Id,
		friendId:    friendId,
	}
	if friendId == "" {
		return chat, nil
	}

	chat.conversationId = ConversationId(identity.Id, friendId)
	chat.messages = newViewQuery(app, MessagesQuery(chat.conversationId), DecodeMessage)
	chat.messages.AddSnapshotCallback(func(messages []*Message) {
		chat.changed()
	})
	chat.messages.AddErrorCallback(func(err error) {
		chat.changed()
	})
	if err := chat.messages.Subscribe(); err != nil {
		return nil, err
	}
	return chat, nil
}

func (self *ChatView) Idle() bool {
	return self.friendId == ""
}

// the idle placeholder, or empty
func (self *ChatView) Status() string {
	if self.Idle() {
		return ChatIdleStatus
	}
	return ""
}

func (self *ChatView) FriendId() Id {
	return self.friendId
}

func (self *ChatView) ConversationId() Id {
	return self.conversationId
}

func (self *ChatView) Messages() []*Message {
	if self.messages == nil {
		return []*Message{}
	}
	return self.messages.Items()
}

// messages sent by the signed in user are drawn on the other side
func (self *ChatView) IsMine(message *Message) bool {
	return message.Sender == self.me
}

func (self *ChatView) Err() error {
	if self.messages == nil {
		return nil
	}
	return self.messages.Err()
}

func (self *ChatView) WaitActive(ctx context.Context) error {
	if self.messages == nil {
		return nil
	}
	return self.messages.WaitActive(ctx)
}

func (self *ChatView) WaitMessageCount(ctx context.Context, count int) error {
	if self.messages == nil {
		return nil
	}
	for {
		if count <= len(self.messages.Items()) {
			return nil
		}
		if err := self.messages.WaitSnapshotCount(ctx, self.messages.SnapshotCount()+1); err != nil {
			return err
		}
	}
}

func (self *ChatView) Send(ctx context.Context, text string) (Id, error) {
	if self.Idle() {
		return "", NewValidationError("No friend selected")
	}
	return self.app.Mutations.SendMessage(ctx, self.friendId, text)
}

func (self *ChatView) Close() {
	if self.messages != nil {
		self.messages.Cancel()
	}
}
