package social

import (
	"context"
	"sync"
)

// One post with its live comments, oldest first.
type PostCardView struct {
	viewChanges

	app      *App
	comments *LiveQuery[*Comment]

	stateLock sync.Mutex
	post      *Post
}

func CommentsQuery(postId Id) *Query {
	return NewQuery(CommentsCollection(postId)).OrderByAsc(FieldTimestamp)
}

func newPostCardView(app *App, post *Post) (*PostCardView, error) {
	card := &PostCardView{
		viewChanges: newViewChanges(),
		app:         app,
		post:        post,
	}
	card.comments = newViewQuery(app, CommentsQuery(post.Id), DecodeComment)
	card.comments.AddSnapshotCallback(func(comments []*Comment) {
		card.changed()
	})
	if err := card.comments.Subscribe(); err != nil {
		return nil, err
	}
	return card, nil
}

// opens a card for a post outside of a feed, e.g. on a profile
func NewPostCardView(app *App, post *Post) (*PostCardView, error) {
	if _, err := app.Router.Require(); err != nil {
		return nil, err
	}
	return newPostCardView(app, post)
}

func (self *PostCardView) setPost(post *Post) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.post = post
}

func (self *PostCardView) Post() *Post {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.post
}

func (self *PostCardView) Comments() []*Comment {
	return self.comments.Items()
}

func (self *PostCardView) CommentCount() int {
	return len(self.comments.Items())
}

func (self *PostCardView) LikeCount() int {
	return self.Post().LikeCount()
}

func (self *PostCardView) LikedByMe() bool {
	identity := self.app.Session.Identity()
	if identity == nil {
		return false
	}
	return self.Post().LikedBy(identity.Id)
}

func (self *PostCardView) WaitActive(ctx context.Context) error {
	return self.comments.WaitActive(ctx)
}

// Returns whether the post is liked after the write.
// The like count updates with the next post snapshot.
func (self *PostCardView) ToggleLike(ctx context.Context) (bool, error) {
	return self.app.Mutations.ToggleLike(ctx, self.Post())
}

func (self *PostCardView) AddComment(ctx context.Context, text string) (Id, error) {
	return self.app.Mutations.AddComment(ctx, self.Post().Id, text)
}

func (self *PostCardView) Close() {
	self.comments.Cancel()
}
