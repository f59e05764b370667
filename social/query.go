package social

import (
	"fmt"
	"slices"
	"time"
)

type FilterOp string

const (
	FilterOpEqual           FilterOp = "=="
	FilterOpNotEqual        FilterOp = "!="
	FilterOpLessThan        FilterOp = "<"
	FilterOpLessThanOrEqual FilterOp = "<="
	FilterOpGreaterThan     FilterOp = ">"
	FilterOpGreaterOrEqual  FilterOp = ">="
	FilterOpArrayContains   FilterOp = "array-contains"
)

type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

func Where(field string, op FilterOp, value any) Filter {
	return Filter{
		Field: field,
		Op:    op,
		Value: NormalizeValue(value),
	}
}

func (self Filter) Matches(doc *Document) bool {
	value, ok := doc.Fields[self.Field]
	if !ok {
		return false
	}
	value = NormalizeValue(value)
	switch self.Op {
	case FilterOpEqual:
		return CompareValues(value, self.Value) == 0
	case FilterOpNotEqual:
		return CompareValues(value, self.Value) != 0
	case FilterOpLessThan:
		return CompareValues(value, self.Value) < 0
	case FilterOpLessThanOrEqual:
		return CompareValues(value, self.Value) <= 0
	case FilterOpGreaterThan:
		return 0 < CompareValues(value, self.Value)
	case FilterOpGreaterOrEqual:
		return 0 <= CompareValues(value, self.Value)
	case FilterOpArrayContains:
		if values, ok := value.([]any); ok {
			return containsValue(values, self.Value)
		}
		return false
	default:
		return false
	}
}

// A filtered, ordered query over one collection.
//
// Documents that do not have the `OrderBy` field are excluded from the result.
// The relative order of documents with equal `OrderBy` values is unspecified
// and must not be relied upon. The local store keeps insertion order for ties
// but remote stores make no such promise.
type Query struct {
	Collection Path
	Filters    []Filter
	OrderBy    string
	Descending bool
	// 0 means no limit
	Limit int
}

func NewQuery(collection Path) *Query {
	return &Query{
		Collection: collection,
	}
}

func (self *Query) Where(field string, op FilterOp, value any) *Query {
	self.Filters = append(self.Filters, Where(field, op, value))
	return self
}

func (self *Query) OrderByAsc(field string) *Query {
	self.OrderBy = field
	self.Descending = false
	return self
}

func (self *Query) OrderByDesc(field string) *Query {
	self.OrderBy = field
	self.Descending = true
	return self
}

func (self *Query) WithLimit(limit int) *Query {
	self.Limit = limit
	return self
}

func (self *Query) Validate() error {
	if !self.Collection.IsCollection() {
		return NewValidationError("Query requires a collection path: %s", self.Collection)
	}
	for _, filter := range self.Filters {
		switch filter.Op {
		case FilterOpEqual, FilterOpNotEqual, FilterOpLessThan, FilterOpLessThanOrEqual,
			FilterOpGreaterThan, FilterOpGreaterOrEqual, FilterOpArrayContains:
		default:
			return NewValidationError("Unknown filter op: %s", filter.Op)
		}
		if filter.Field == "" {
			return NewValidationError("Filter field is empty")
		}
	}
	if self.Limit < 0 {
		return NewValidationError("Query limit must be positive: %d", self.Limit)
	}
	return nil
}

func (self *Query) Matches(doc *Document) bool {
	if doc.Path.Parent() != self.Collection {
		return false
	}
	if self.OrderBy != "" {
		if _, ok := doc.Fields[self.OrderBy]; !ok {
			return false
		}
	}
	for _, filter := range self.Filters {
		if !filter.Matches(doc) {
			return false
		}
	}
	return true
}

// filters, orders and limits `docs`. `docs` are in store insertion order.
func (self *Query) Evaluate(docs []*Document) []*Document {
	matches := []*Document{}
	for _, doc := range docs {
		if self.Matches(doc) {
			matches = append(matches, doc)
		}
	}
	if self.OrderBy != "" {
		slices.SortStableFunc(matches, func(a *Document, b *Document) int {
			c := CompareValues(a.Fields[self.OrderBy], b.Fields[self.OrderBy])
			if self.Descending {
				return -c
			}
			return c
		})
	}
	if 0 < self.Limit && self.Limit < len(matches) {
		matches = matches[:self.Limit]
	}
	return matches
}

func (self *Query) String() string {
	s := string(self.Collection)
	for _, filter := range self.Filters {
		s += fmt.Sprintf(" where %s %s %v", filter.Field, filter.Op, filter.Value)
	}
	if self.OrderBy != "" {
		direction := "asc"
		if self.Descending {
			direction = "desc"
		}
		s += fmt.Sprintf(" order by %s %s", self.OrderBy, direction)
	}
	if 0 < self.Limit {
		s += fmt.Sprintf(" limit %d", self.Limit)
	}
	return s
}

// maps equivalent go values onto the canonical field value types
func NormalizeValue(value any) any {
	switch v := value.(type) {
	case Id:
		return string(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case []string:
		values := make([]any, len(v))
		for i, s := range v {
			values[i] = s
		}
		return values
	case []Id:
		values := make([]any, len(v))
		for i, id := range v {
			values[i] = string(id)
		}
		return values
	case []any:
		values := make([]any, len(v))
		for i, e := range v {
			values[i] = NormalizeValue(e)
		}
		return values
	case map[string]any:
		values := make(map[string]any, len(v))
		for k, e := range v {
			values[k] = NormalizeValue(e)
		}
		return values
	default:
		return v
	}
}

func NormalizeFields(fields Fields) Fields {
	normalized := make(Fields, len(fields))
	for k, v := range fields {
		if IsServerTimestamp(v) {
			normalized[k] = v
		} else {
			normalized[k] = NormalizeValue(v)
		}
	}
	return normalized
}

// type order: nil < bool < number < time < string < array < map
func valueTypeRank(value any) int {
	switch value.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	case []any:
		return 5
	case map[string]any:
		return 6
	default:
		return 7
	}
}

// total order over field values
func CompareValues(a any, b any) int {
	a = NormalizeValue(a)
	b = NormalizeValue(b)
	ra := valueTypeRank(a)
	rb := valueTypeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch va := a.(type) {
	case nil:
		return 0
	case bool:
		vb := b.(bool)
		if va == vb {
			return 0
		} else if !va {
			return -1
		}
		return 1
	case float64:
		vb := b.(float64)
		if va < vb {
			return -1
		} else if vb < va {
			return 1
		}
		return 0
	case time.Time:
		return va.Compare(b.(time.Time))
	case string:
		vb := b.(string)
		if va < vb {
			return -1
		} else if vb < va {
			return 1
		}
		return 0
	case []any:
		vb := b.([]any)
		for i := 0; i < len(va) && i < len(vb); i += 1 {
			if c := CompareValues(va[i], vb[i]); c != 0 {
				return c
			}
		}
		if len(va) < len(vb) {
			return -1
		} else if len(vb) < len(va) {
			return 1
		}
		return 0
	default:
		// maps and unknown types compare by their printed form
		sa := fmt.Sprintf("%v", a)
		sb := fmt.Sprintf("%v", b)
		if sa < sb {
			return -1
		} else if sb < sa {
			return 1
		}
		return 0
	}
}
