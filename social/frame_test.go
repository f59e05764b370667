package social

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestFrameSnapshot(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 30, 0, 123000000, time.UTC)
	doc := &Document{
		Id:   "p1",
		Path: PostsCollection.Doc("p1"),
		Fields: NormalizeFields(Fields{
			FieldUid:       Id("u1"),
			FieldContent:   "Hello world",
			FieldImageUrl:  nil,
			FieldLikes:     []Id{"u1", "u2"},
			FieldTimestamp: t0,
			"n":            3,
		}),
		CreateTime: t0,
		UpdateTime: t0.Add(time.Millisecond),
	}

	b, err := EncodeFrame(&Frame{
		Type: FrameTypeSnapshot,
		Body: SnapshotToMap(&Snapshot{
			Documents: []*Document{doc},
			ReadTime:  t0,
		}),
	})
	assert.Equal(t, err, nil)

	frame, err := DecodeFrame(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, frame.Type, FrameTypeSnapshot)
	snapshot, err := SnapshotFromMap(frame.Body)
	assert.Equal(t, err, nil)
	assert.Equal(t, snapshot.ReadTime, t0)
	assert.Equal(t, len(snapshot.Documents), 1)

	decoded := snapshot.Documents[0]
	assert.Equal(t, decoded.Id, Id("p1"))
	assert.Equal(t, decoded.Path, doc.Path)
	assert.Equal(t, decoded.Fields, doc.Fields)
	assert.Equal(t, decoded.UpdateTime, doc.UpdateTime)
	// times stay times
	assert.Equal(t, decoded.TimeField(FieldTimestamp), t0)
	assert.Equal(t, decoded.IdsField(FieldLikes), []Id{"u1", "u2"})
	assert.Equal(t, decoded.OptionalStringField(FieldImageUrl) == nil, true)
}

func TestFrameWrites(t *testing.T) {
	writes := []*Write{
		CreateWrite(PostsCollection, Fields{
			FieldContent:   "Hello world",
			FieldLikes:     []any{},
			FieldTimestamp: ServerTimestamp,
		}),
		SetAddWrite(UsersCollection.Doc("u1"), FieldFriends, Id("u2")),
		SetRemoveWrite(PostsCollection.Doc("p1"), FieldLikes, "u1"),
	}
	b, err := EncodeFrame(&Frame{
		Type: "commit",
		Body: map[string]any{
			"writes": WritesToList(writes),
		},
	})
	assert.Equal(t, err, nil)
	frame, err := DecodeFrame(b)
	assert.Equal(t, err, nil)

	decoded, err := WritesFromList(frame.Body["writes"])
	assert.Equal(t, err, nil)
	assert.Equal(t, len(decoded), 3)
	assert.Equal(t, decoded[0].Op, WriteOpCreate)
	assert.Equal(t, IsServerTimestamp(decoded[0].Set[FieldTimestamp]), true)
	assert.Equal(t, decoded[0].Set[FieldLikes], []any{})
	assert.Equal(t, decoded[1].SetAdd[FieldFriends], []any{"u2"})
	assert.Equal(t, decoded[2].SetRemove[FieldLikes], []any{"u1"})

	// invalid writes are rejected on decode
	_, err = WritesFromList([]any{map[string]any{"op": "update", "path": "posts"}})
	assert.NotEqual(t, err, nil)
}

func TestFrameQuery(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	query := UserPostsQuery("u1").Where(FieldTimestamp, FilterOpGreaterThan, t0).WithLimit(10)

	decoded, err := QueryFromMap(DecodeValue(EncodeValue(QueryToMap(query))).(map[string]any))
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded.String(), query.String())
	assert.Equal(t, decoded.Filters[1].Value, t0)
	assert.Equal(t, decoded.Limit, 10)

	_, err = QueryFromMap(map[string]any{"collection": "posts/p1"})
	assert.NotEqual(t, err, nil)
}

func TestFrameError(t *testing.T) {
	b, err := EncodeFrame(&Frame{
		Type: FrameTypeError,
		Body: ErrorToMap(NewPermissionError("Missing or insufficient permissions")),
	})
	assert.Equal(t, err, nil)
	frame, err := DecodeFrame(b)
	assert.Equal(t, err, nil)
	frameErr := ErrorFromMap(frame.Body)
	assert.Equal(t, errors.Is(frameErr, ErrPermission), true)
	assert.Equal(t, frameErr.Message, "Missing or insufficient permissions")

	// unknown kinds are transient
	assert.Equal(t, ErrorFromMap(map[string]any{"kind": "Teapot"}).Kind, ErrorKindNetwork)

	_, err = DecodeFrame([]byte{0xff, 0xff})
	assert.NotEqual(t, err, nil)
}
