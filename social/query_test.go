package social

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testDoc(collection Path, id Id, fields Fields) *Document {
	return &Document{
		Id:     id,
		Path:   collection.Doc(id),
		Fields: NormalizeFields(fields),
	}
}

func TestQueryEvaluate(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := []*Document{
		testDoc(PostsCollection, "p1", Fields{"uid": "u1", "timestamp": t0, "likes": []string{"u2"}}),
		testDoc(PostsCollection, "p2", Fields{"uid": "u2", "timestamp": t0.Add(2 * time.Second), "likes": []string{}}),
		testDoc(PostsCollection, "p3", Fields{"uid": "u1", "timestamp": t0.Add(1 * time.Second), "likes": []string{"u1", "u2"}}),
		// no sort key
		testDoc(PostsCollection, "p4", Fields{"uid": "u1"}),
		// another collection
		testDoc(CommentsCollection("p1"), "c1", Fields{"uid": "u1", "timestamp": t0}),
	}

	ids := func(docs []*Document) []Id {
		ids := []Id{}
		for _, doc := range docs {
			ids = append(ids, doc.Id)
		}
		return ids
	}

	feed := NewQuery(PostsCollection).OrderByDesc("timestamp")
	assert.Equal(t, ids(feed.Evaluate(docs)), []Id{"p2", "p3", "p1"})

	asc := NewQuery(PostsCollection).OrderByAsc("timestamp")
	assert.Equal(t, ids(asc.Evaluate(docs)), []Id{"p1", "p3", "p2"})

	user := NewQuery(PostsCollection).Where("uid", FilterOpEqual, Id("u1")).OrderByDesc("timestamp")
	assert.Equal(t, ids(user.Evaluate(docs)), []Id{"p3", "p1"})

	// without a sort key every match is returned in insertion order
	unordered := NewQuery(PostsCollection).Where("uid", FilterOpEqual, "u1")
	assert.Equal(t, ids(unordered.Evaluate(docs)), []Id{"p1", "p3", "p4"})

	liked := NewQuery(PostsCollection).Where("likes", FilterOpArrayContains, "u2").OrderByAsc("timestamp")
	assert.Equal(t, ids(liked.Evaluate(docs)), []Id{"p1", "p3"})

	limited := NewQuery(PostsCollection).OrderByDesc("timestamp").WithLimit(2)
	assert.Equal(t, ids(limited.Evaluate(docs)), []Id{"p2", "p3"})

	after := NewQuery(PostsCollection).Where("timestamp", FilterOpGreaterThan, t0).OrderByAsc("timestamp")
	assert.Equal(t, ids(after.Evaluate(docs)), []Id{"p3", "p2"})
}

func TestQueryValidate(t *testing.T) {
	assert.Equal(t, NewQuery(PostsCollection).Validate(), nil)
	assert.NotEqual(t, NewQuery(PostsCollection.Doc("p1")).Validate(), nil)
	assert.NotEqual(t, NewQuery(PostsCollection).Where("uid", FilterOp("~"), "u1").Validate(), nil)
	assert.NotEqual(t, NewQuery(PostsCollection).WithLimit(-1).Validate(), nil)
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, CompareValues(1, 1.0), 0)
	assert.Equal(t, CompareValues(Id("u1"), "u1"), 0)
	assert.Equal(t, CompareValues("a", "b"), -1)
	assert.Equal(t, CompareValues(nil, false), -1)
	assert.Equal(t, CompareValues(2, "1"), -1)
	assert.Equal(t, CompareValues([]string{"a"}, []any{"a", "b"}), -1)
	t0 := time.Now()
	assert.Equal(t, CompareValues(t0.Add(time.Millisecond), t0), 1)
}

func TestWriteApplySets(t *testing.T) {
	now := time.Now()

	created := CreateWrite(PostsCollection, Fields{
		"content":   "Hello world",
		"likes":     []any{},
		"timestamp": ServerTimestamp,
	}).Apply(nil, now)
	assert.Equal(t, created["timestamp"], now)
	assert.Equal(t, created["likes"], []any{})

	// duplicate add is a no-op
	liked := SetAddWrite(PostsCollection.Doc("p1"), "likes", Id("u1")).Apply(created, now)
	liked = SetAddWrite(PostsCollection.Doc("p1"), "likes", Id("u1")).Apply(liked, now)
	assert.Equal(t, liked["likes"], []any{"u1"})

	// remove of absent is a no-op
	unliked := SetRemoveWrite(PostsCollection.Doc("p1"), "likes", Id("u2")).Apply(liked, now)
	assert.Equal(t, unliked["likes"], []any{"u1"})
	unliked = SetRemoveWrite(PostsCollection.Doc("p1"), "likes", Id("u1")).Apply(unliked, now)
	assert.Equal(t, unliked["likes"], []any{})

	// untouched fields survive an update
	updated := UpdateWrite(PostsCollection.Doc("p1"), Fields{"content": "edited"}).Apply(liked, now)
	assert.Equal(t, updated["content"], "edited")
	assert.Equal(t, updated["likes"], []any{"u1"})

	// the input is not modified
	assert.Equal(t, created["content"], "Hello world")
	assert.Equal(t, created["likes"], []any{})
}

func TestWriteValidate(t *testing.T) {
	assert.Equal(t, CreateWrite(PostsCollection, Fields{"a": 1}).Validate(), nil)
	assert.Equal(t, CreateWrite(UsersCollection.Doc("u1"), Fields{"a": 1}).Validate(), nil)
	assert.NotEqual(t, UpdateWrite(PostsCollection, Fields{"a": 1}).Validate(), nil)
	assert.NotEqual(t, UpdateWrite(PostsCollection.Doc("p1"), Fields{}).Validate(), nil)
	conflict := SetAddWrite(PostsCollection.Doc("p1"), "likes", "u1")
	conflict.SetRemove = map[string][]any{"likes": {"u1"}}
	assert.NotEqual(t, conflict.Validate(), nil)
}
