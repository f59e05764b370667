package social

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/maps"
)

// slash separated path
// collection paths have an odd number of segments, e.g. `posts/<id>/comments`
// document paths have an even number of segments, e.g. `posts/<id>`
type Path string

func CollectionPath(segments ...string) Path {
	return Path(strings.Join(segments, "/"))
}

func (self Path) Segments() []string {
	if self == "" {
		return []string{}
	}
	return strings.Split(string(self), "/")
}

func (self Path) Validate() error {
	for _, segment := range self.Segments() {
		if segment == "" {
			return NewValidationError("Path has an empty segment: %s", self)
		}
	}
	if len(self.Segments()) == 0 {
		return NewValidationError("Path is empty")
	}
	return nil
}

func (self Path) IsCollection() bool {
	return self.Validate() == nil && len(self.Segments())%2 == 1
}

func (self Path) IsDocument() bool {
	return self.Validate() == nil && len(self.Segments())%2 == 0
}

// the document with `id` in this collection
func (self Path) Doc(id Id) Path {
	return Path(fmt.Sprintf("%s/%s", self, id))
}

// the sub collection of this document
func (self Path) Collection(name string) Path {
	return Path(fmt.Sprintf("%s/%s", self, name))
}

// the collection of a document path
func (self Path) Parent() Path {
	segments := self.Segments()
	if len(segments) <= 1 {
		return ""
	}
	return Path(strings.Join(segments[:len(segments)-1], "/"))
}

// the last segment of a document path
func (self Path) Id() Id {
	segments := self.Segments()
	if len(segments) == 0 {
		return ""
	}
	return Id(segments[len(segments)-1])
}

func (self Path) String() string {
	return string(self)
}

// well known collections
const (
	UsersCollection         Path = "users"
	PostsCollection         Path = "posts"
	ConversationsCollection Path = "conversations"
)

func CommentsCollection(postId Id) Path {
	return PostsCollection.Doc(postId).Collection("comments")
}

func MessagesCollection(conversationId Id) Path {
	return ConversationsCollection.Doc(conversationId).Collection("messages")
}

// json-like values
// supported values are nil, bool, string, numbers, time.Time, []any and map[string]any
type Fields = map[string]any

type Document struct {
	Id         Id
	Path       Path
	Fields     Fields
	CreateTime time.Time
	UpdateTime time.Time
}

func (self *Document) Clone() *Document {
	return &Document{
		Id:         self.Id,
		Path:       self.Path,
		Fields:     cloneFields(self.Fields),
		CreateTime: self.CreateTime,
		UpdateTime: self.UpdateTime,
	}
}

func (self *Document) StringField(field string) string {
	if v, ok := self.Fields[field].(string); ok {
		return v
	}
	return ""
}

func (self *Document) OptionalStringField(field string) *string {
	if v, ok := self.Fields[field].(string); ok {
		return &v
	}
	return nil
}

func (self *Document) TimeField(field string) time.Time {
	if v, ok := self.Fields[field].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func (self *Document) IdsField(field string) []Id {
	ids := []Id{}
	switch v := self.Fields[field].(type) {
	case []any:
		for _, member := range v {
			if s, ok := member.(string); ok {
				ids = append(ids, Id(s))
			}
		}
	case []string:
		for _, s := range v {
			ids = append(ids, Id(s))
		}
	case []Id:
		ids = append(ids, v...)
	}
	return ids
}

func cloneFields(fields Fields) Fields {
	if fields == nil {
		return Fields{}
	}
	clone := maps.Clone(fields)
	for k, v := range clone {
		clone[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case []any:
		c := make([]any, len(v))
		for i, e := range v {
			c[i] = cloneValue(e)
		}
		return c
	case map[string]any:
		return cloneFields(v)
	default:
		return v
	}
}

type serverTimestamp struct{}

// replaced with the store clock when the write is committed
var ServerTimestamp any = serverTimestamp{}

func IsServerTimestamp(value any) bool {
	_, ok := value.(serverTimestamp)
	return ok
}

type WriteOp string

const (
	WriteOpCreate WriteOp = "create"
	WriteOpUpdate WriteOp = "update"
)

// a single document write
// `Set` modifies only the named fields
// `SetAdd` and `SetRemove` treat the named array fields as sets
type Write struct {
	Op        WriteOp
	Path      Path
	Set       Fields
	SetAdd    map[string][]any
	SetRemove map[string][]any
}

// `path` is a collection, for a generated id, or a document
func CreateWrite(path Path, fields Fields) *Write {
	return &Write{
		Op:   WriteOpCreate,
		Path: path,
		Set:  fields,
	}
}

func UpdateWrite(doc Path, fields Fields) *Write {
	return &Write{
		Op:   WriteOpUpdate,
		Path: doc,
		Set:  fields,
	}
}

func SetAddWrite(doc Path, field string, members ...any) *Write {
	return &Write{
		Op:     WriteOpUpdate,
		Path:   doc,
		SetAdd: map[string][]any{field: members},
	}
}

func SetRemoveWrite(doc Path, field string, members ...any) *Write {
	return &Write{
		Op:        WriteOpUpdate,
		Path:      doc,
		SetRemove: map[string][]any{field: members},
	}
}

func (self *Write) Validate() error {
	switch self.Op {
	case WriteOpCreate:
		if !self.Path.IsCollection() && !self.Path.IsDocument() {
			return NewValidationError("Create requires a collection or document path: %s", self.Path)
		}
		if 0 < len(self.SetAdd) || 0 < len(self.SetRemove) {
			return NewValidationError("Create cannot modify set fields")
		}
	case WriteOpUpdate:
		if !self.Path.IsDocument() {
			return NewValidationError("Update requires a document path: %s", self.Path)
		}
		if len(self.Set) == 0 && len(self.SetAdd) == 0 && len(self.SetRemove) == 0 {
			return NewValidationError("Update has no fields")
		}
		for field := range self.SetAdd {
			if _, ok := self.SetRemove[field]; ok {
				return NewValidationError("Update adds and removes the same field: %s", field)
			}
		}
	default:
		return NewValidationError("Unknown write op: %s", self.Op)
	}
	return nil
}

// the fields touched by the write
func (self *Write) FieldNames() []string {
	names := map[string]bool{}
	for field := range self.Set {
		names[field] = true
	}
	for field := range self.SetAdd {
		names[field] = true
	}
	for field := range self.SetRemove {
		names[field] = true
	}
	return maps.Keys(names)
}

// applies the write to the current fields of the document and returns the next fields.
// `current` is nil for a create.
func (self *Write) Apply(current Fields, now time.Time) Fields {
	next := cloneFields(current)
	for field, value := range self.Set {
		if IsServerTimestamp(value) {
			next[field] = now
		} else {
			next[field] = NormalizeValue(value)
		}
	}
	for field, members := range self.SetAdd {
		set, _ := next[field].([]any)
		for _, member := range members {
			if !containsValue(set, member) {
				set = append(set, NormalizeValue(member))
			}
		}
		if set == nil {
			set = []any{}
		}
		next[field] = set
	}
	for field, members := range self.SetRemove {
		set, _ := next[field].([]any)
		nextSet := []any{}
		for _, value := range set {
			if !containsValue(members, value) {
				nextSet = append(nextSet, value)
			}
		}
		next[field] = nextSet
	}
	return next
}

func containsValue(values []any, value any) bool {
	for _, v := range values {
		if CompareValues(v, value) == 0 {
			return true
		}
	}
	return false
}

// a full result set at a point in time
type Snapshot struct {
	Documents []*Document
	ReadTime  time.Time
}
