package social

import (
	"context"
	"sync"
)

// All posts, newest first, with one card per post.
// Cards open when a post enters the result set and close when it leaves.
type FeedView struct {
	viewChanges

	app   *App
	posts *LiveQuery[*Post]

	stateLock sync.Mutex
	cards     map[Id]*PostCardView
	closed    bool
}

func FeedQuery() *Query {
	return NewQuery(PostsCollection).OrderByDesc(FieldTimestamp)
}

func NewFeedView(app *App) (*FeedView, error) {
	if _, err := app.Router.Require(); err != nil {
		return nil, err
	}

	feed := &FeedView{
		viewChanges: newViewChanges(),
		app:         app,
		cards:       map[Id]*PostCardView{},
	}
	feed.posts = newViewQuery(app, FeedQuery(), DecodePost)
	feed.posts.AddSnapshotCallback(feed.postsChanged)
	feed.posts.AddErrorCallback(func(err error) {
		feed.changed()
	})
	if err := feed.posts.Subscribe(); err != nil {
		return nil, err
	}
	return feed, nil
}

func (self *FeedView) postsChanged(posts []*Post) {
	var closeCards []*PostCardView
	var openPosts []*Post
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.closed {
			return
		}

		postIds := map[Id]bool{}
		for _, post := range posts {
			postIds[post.Id] = true
			if card, ok := self.cards[post.Id]; ok {
				card.setPost(post)
			} else {
				openPosts = append(openPosts, post)
			}
		}
		for postId, card := range self.cards {
			if !postIds[postId] {
				closeCards = append(closeCards, card)
				delete(self.cards, postId)
			}
		}
	}()

	for _, card := range closeCards {
		card.Close()
	}
	for _, post := range openPosts {
		card, err := newPostCardView(self.app, post)
		if err != nil {
			continue
		}
		added := func() bool {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			if self.closed {
				return false
			}
			self.cards[post.Id] = card
			return true
		}()
		if !added {
			card.Close()
		}
	}

	self.changed()
}

// newest first
func (self *FeedView) Posts() []*Post {
	return self.posts.Items()
}

func (self *FeedView) Card(postId Id) *PostCardView {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.cards[postId]
}

// cards in feed order
func (self *FeedView) Cards() []*PostCardView {
	posts := self.posts.Items()
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	cards := []*PostCardView{}
	for _, post := range posts {
		if card, ok := self.cards[post.Id]; ok {
			cards = append(cards, card)
		}
	}
	return cards
}

func (self *FeedView) State() SubscriptionState {
	return self.posts.State()
}

func (self *FeedView) Err() error {
	return self.posts.Err()
}

func (self *FeedView) WaitActive(ctx context.Context) error {
	return self.posts.WaitActive(ctx)
}

// the composer. `image` is optional.
func (self *FeedView) Compose(ctx context.Context, content string, image *Blob) (Id, error) {
	return self.app.Mutations.CreatePost(ctx, content, image)
}

func (self *FeedView) Close() {
	var cards []*PostCardView
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.closed = true
		for _, card := range self.cards {
			cards = append(cards, card)
		}
		self.cards = map[Id]*PostCardView{}
	}()
	self.posts.Cancel()
	for _, card := range cards {
		card.Close()
	}
}
