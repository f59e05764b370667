package social

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Live frames are a protobuf `Struct` with a `type` and a `body`.
// Field values use a tagged encoding for the types that json does not carry:
//   time.Time        {"$time": "<rfc3339 nano>"}
//   ServerTimestamp  {"$serverTimestamp": true}
// The same value encoding is used for the json http bodies.

type FrameType string

const (
	// client -> server, first frame. body {jwt}
	FrameTypeAuth FrameType = "auth"
	// server -> client, the auth result. body {uid}
	FrameTypeAuthResult FrameType = "authResult"
	// client -> server. body {query}
	FrameTypeSubscribe FrameType = "subscribe"
	// server -> client. body {documents, readTime}
	FrameTypeSnapshot FrameType = "snapshot"
	// server -> client, terminal. body {kind, message}
	FrameTypeError FrameType = "error"
)

type Frame struct {
	Type FrameType
	Body map[string]any
}

func EncodeFrame(frame *Frame) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"type": string(frame.Type),
		"body": EncodeValue(frame.Body),
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func RequireEncodeFrame(frame *Frame) []byte {
	b, err := EncodeFrame(frame)
	if err != nil {
		panic(err)
	}
	return b
}

func DecodeFrame(b []byte) (*Frame, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(b, s); err != nil {
		return nil, err
	}
	m := s.AsMap()
	frameType, ok := m["type"].(string)
	if !ok {
		return nil, fmt.Errorf("Frame has no type.")
	}
	body, _ := DecodeValue(m["body"]).(map[string]any)
	if body == nil {
		body = map[string]any{}
	}
	return &Frame{
		Type: FrameType(frameType),
		Body: body,
	}, nil
}

const timeTag = "$time"
const serverTimestampTag = "$serverTimestamp"

func EncodeValue(value any) any {
	switch v := NormalizeValue(value).(type) {
	case time.Time:
		return map[string]any{timeTag: v.UTC().Format(time.RFC3339Nano)}
	case serverTimestamp:
		return map[string]any{serverTimestampTag: true}
	case []any:
		values := make([]any, len(v))
		for i, e := range v {
			values[i] = EncodeValue(e)
		}
		return values
	case map[string]any:
		values := make(map[string]any, len(v))
		for k, e := range v {
			values[k] = EncodeValue(e)
		}
		return values
	default:
		return v
	}
}

func DecodeValue(value any) any {
	switch v := value.(type) {
	case []any:
		values := make([]any, len(v))
		for i, e := range v {
			values[i] = DecodeValue(e)
		}
		return values
	case map[string]any:
		if len(v) == 1 {
			if s, ok := v[timeTag].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					return t.UTC()
				}
			}
			if b, ok := v[serverTimestampTag].(bool); ok && b {
				return ServerTimestamp
			}
		}
		values := make(map[string]any, len(v))
		for k, e := range v {
			values[k] = DecodeValue(e)
		}
		return values
	default:
		return NormalizeValue(v)
	}
}

func EncodeFields(fields Fields) map[string]any {
	encoded := make(map[string]any, len(fields))
	for k, v := range fields {
		encoded[k] = EncodeValue(v)
	}
	return encoded
}

func DecodeFields(value any) Fields {
	m, _ := value.(map[string]any)
	fields := make(Fields, len(m))
	for k, v := range m {
		fields[k] = DecodeValue(v)
	}
	return fields
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(value any) time.Time {
	switch v := value.(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func QueryToMap(query *Query) map[string]any {
	filters := make([]any, len(query.Filters))
	for i, filter := range query.Filters {
		filters[i] = map[string]any{
			"field": filter.Field,
			"op":    string(filter.Op),
			"value": EncodeValue(filter.Value),
		}
	}
	return map[string]any{
		"collection": string(query.Collection),
		"filters":    filters,
		"orderBy":    query.OrderBy,
		"descending": query.Descending,
		"limit":      float64(query.Limit),
	}
}

func QueryFromMap(m map[string]any) (*Query, error) {
	collection, _ := m["collection"].(string)
	query := NewQuery(Path(collection))
	if filters, ok := m["filters"].([]any); ok {
		for _, f := range filters {
			filter, ok := f.(map[string]any)
			if !ok {
				return nil, NewValidationError("Bad filter.")
			}
			field, _ := filter["field"].(string)
			op, _ := filter["op"].(string)
			query.Where(field, FilterOp(op), DecodeValue(filter["value"]))
		}
	}
	query.OrderBy, _ = m["orderBy"].(string)
	query.Descending, _ = m["descending"].(bool)
	if limit, ok := m["limit"].(float64); ok {
		query.Limit = int(limit)
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}
	return query, nil
}

func DocumentToMap(doc *Document) map[string]any {
	return map[string]any{
		"id":         string(doc.Id),
		"path":       string(doc.Path),
		"fields":     EncodeFields(doc.Fields),
		"createTime": encodeTime(doc.CreateTime),
		"updateTime": encodeTime(doc.UpdateTime),
	}
}

func DocumentFromMap(m map[string]any) (*Document, error) {
	path, _ := m["path"].(string)
	if !Path(path).IsDocument() {
		return nil, NewValidationError("Bad document path: %s", path)
	}
	return &Document{
		Id:         Path(path).Id(),
		Path:       Path(path),
		Fields:     DecodeFields(m["fields"]),
		CreateTime: decodeTime(m["createTime"]),
		UpdateTime: decodeTime(m["updateTime"]),
	}, nil
}

func DocumentsToList(docs []*Document) []any {
	list := make([]any, len(docs))
	for i, doc := range docs {
		list[i] = DocumentToMap(doc)
	}
	return list
}

func DocumentsFromList(value any) ([]*Document, error) {
	list, _ := value.([]any)
	docs := make([]*Document, 0, len(list))
	for _, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, NewValidationError("Bad document.")
		}
		doc, err := DocumentFromMap(m)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func setFieldsToMap(setFields map[string][]any) map[string]any {
	m := make(map[string]any, len(setFields))
	for field, members := range setFields {
		m[field] = EncodeValue(members)
	}
	return m
}

func setFieldsFromMap(value any) map[string][]any {
	m, _ := value.(map[string]any)
	if len(m) == 0 {
		return nil
	}
	setFields := make(map[string][]any, len(m))
	for field, members := range m {
		if list, ok := DecodeValue(members).([]any); ok {
			setFields[field] = list
		}
	}
	return setFields
}

func WriteToMap(write *Write) map[string]any {
	return map[string]any{
		"op":        string(write.Op),
		"path":      string(write.Path),
		"set":       EncodeFields(write.Set),
		"setAdd":    setFieldsToMap(write.SetAdd),
		"setRemove": setFieldsToMap(write.SetRemove),
	}
}

func WriteFromMap(m map[string]any) (*Write, error) {
	op, _ := m["op"].(string)
	path, _ := m["path"].(string)
	write := &Write{
		Op:        WriteOp(op),
		Path:      Path(path),
		SetAdd:    setFieldsFromMap(m["setAdd"]),
		SetRemove: setFieldsFromMap(m["setRemove"]),
	}
	if set := DecodeFields(m["set"]); 0 < len(set) {
		write.Set = set
	}
	if err := write.Validate(); err != nil {
		return nil, err
	}
	return write, nil
}

func WritesToList(writes []*Write) []any {
	list := make([]any, len(writes))
	for i, write := range writes {
		list[i] = WriteToMap(write)
	}
	return list
}

func WritesFromList(value any) ([]*Write, error) {
	list, _ := value.([]any)
	writes := make([]*Write, 0, len(list))
	for _, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, NewValidationError("Bad write.")
		}
		write, err := WriteFromMap(m)
		if err != nil {
			return nil, err
		}
		writes = append(writes, write)
	}
	return writes, nil
}

func SnapshotToMap(snapshot *Snapshot) map[string]any {
	return map[string]any{
		"documents": DocumentsToList(snapshot.Documents),
		"readTime":  encodeTime(snapshot.ReadTime),
	}
}

func SnapshotFromMap(m map[string]any) (*Snapshot, error) {
	docs, err := DocumentsFromList(m["documents"])
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Documents: docs,
		ReadTime:  decodeTime(m["readTime"]),
	}, nil
}

func ErrorToMap(err error) map[string]any {
	socialErr := AsError(err)
	message := socialErr.Message
	if message == "" && socialErr.Err != nil {
		message = socialErr.Err.Error()
	}
	return map[string]any{
		"kind":    string(socialErr.Kind),
		"message": message,
	}
}

func ErrorFromMap(m map[string]any) *Error {
	kind, _ := m["kind"].(string)
	message, _ := m["message"].(string)
	switch ErrorKind(kind) {
	case ErrorKindAuth, ErrorKindPermission, ErrorKindNetwork, ErrorKindNotFound, ErrorKindValidation:
	default:
		kind = string(ErrorKindNetwork)
	}
	return NewError(ErrorKind(kind), "%s", message)
}
