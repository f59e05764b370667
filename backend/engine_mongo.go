package backend

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bringyour/social/social"
)

type MongoSettings struct {
	Url      string
	Database string
	// multi document transactions need a replica set.
	// Without transactions a commit is applied write by write.
	Transactions   bool
	ConnectTimeout time.Duration
}

func DefaultMongoSettings() *MongoSettings {
	return &MongoSettings{
		Url:            "mongodb://localhost:27017",
		Database:       "social",
		Transactions:   true,
		ConnectTimeout: 10 * time.Second,
	}
}

const mongoDocumentsCollection = "documents"
const mongoCountersCollection = "counters"
const mongoClockCounter = "clock"

// one record per document. `seq` keeps insertion order.
type mongoDocument struct {
	Path       string    `bson:"_id"`
	Collection string    `bson:"collection"`
	Fields     bson.M    `bson:"fields"`
	CreateTime time.Time `bson:"createTime"`
	UpdateTime time.Time `bson:"updateTime"`
	Seq        int64     `bson:"seq"`
}

// Document engine over a mongo collection. Queries push equality filters down
// to mongo and evaluate the full query on the candidates, so results match
// every other engine.
type MongoEngine struct {
	client   *mongo.Client
	docs     *mongo.Collection
	counters *mongo.Collection
	settings *MongoSettings
}

func NewMongoEngine(ctx context.Context, settings *MongoSettings) (*MongoEngine, error) {
	connectCtx, cancel := context.WithTimeout(ctx, settings.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(settings.Url))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	db := client.Database(settings.Database)
	engine := &MongoEngine{
		client:   client,
		docs:     db.Collection(mongoDocumentsCollection),
		counters: db.Collection(mongoCountersCollection),
		settings: settings,
	}
	index := mongo.IndexModel{
		Keys: bson.D{{Key: "collection", Value: 1}, {Key: "seq", Value: 1}},
	}
	if _, err := engine.docs.Indexes().CreateOne(connectCtx, index); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	glog.Infof("[mongo]connected %s/%s\n", settings.Url, settings.Database)
	return engine, nil
}

func (self *MongoEngine) Close(ctx context.Context) error {
	return self.client.Disconnect(ctx)
}

func mongoError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return social.WrapError(social.ErrorKindValidation, err, "Document already exists")
	}
	var socialErr *social.Error
	if errors.As(err, &socialErr) {
		return socialErr
	}
	return social.NewNetworkError(err)
}

func (self *MongoEngine) Get(ctx context.Context, doc social.Path) (*social.Document, error) {
	var record mongoDocument
	err := self.docs.FindOne(ctx, bson.M{"_id": string(doc)}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, social.NewNotFoundError("Document does not exist: %s", doc)
	}
	if err != nil {
		return nil, mongoError(err)
	}
	return record.toDocument(), nil
}

func (self *MongoEngine) Scan(ctx context.Context, collection social.Path) ([]*social.Document, error) {
	return self.find(ctx, bson.M{"collection": string(collection)})
}

func (self *MongoEngine) Query(ctx context.Context, query *social.Query) ([]*social.Document, error) {
	conds := bson.A{
		bson.M{"collection": string(query.Collection)},
	}
	if query.OrderBy != "" {
		conds = append(conds, bson.M{"fields." + query.OrderBy: bson.M{"$exists": true}})
	}
	for _, filter := range query.Filters {
		if cond, ok := pushDownFilter(filter); ok {
			conds = append(conds, cond)
		}
	}
	docs, err := self.find(ctx, bson.M{"$and": conds})
	if err != nil {
		return nil, err
	}
	return query.Evaluate(docs), nil
}

// mongo and `CompareValues` agree on equality of scalars.
// For an array field mongo equality also matches members, which is `array-contains`.
// Candidates are re-evaluated, so a pushed down condition only needs to be a superset.
func pushDownFilter(filter social.Filter) (bson.M, bool) {
	switch filter.Op {
	case social.FilterOpEqual, social.FilterOpArrayContains:
		switch filter.Value.(type) {
		case string, bool, float64:
			return bson.M{"fields." + filter.Field: filter.Value}, true
		}
	}
	return nil, false
}

func (self *MongoEngine) find(ctx context.Context, filter bson.M) ([]*social.Document, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cur, err := self.docs.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, mongoError(err)
	}
	defer cur.Close(ctx)

	docs := []*social.Document{}
	for cur.Next(ctx) {
		var record mongoDocument
		if err := cur.Decode(&record); err != nil {
			return nil, mongoError(err)
		}
		docs = append(docs, record.toDocument())
	}
	if err := cur.Err(); err != nil {
		return nil, mongoError(err)
	}
	return docs, nil
}

func (self *MongoEngine) Apply(ctx context.Context, writes []*social.EngineWrite, now time.Time) ([]*social.Document, error) {
	if !self.settings.Transactions {
		return self.apply(ctx, writes, now)
	}

	session, err := self.client.StartSession()
	if err != nil {
		return nil, mongoError(err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sessionCtx mongo.SessionContext) (any, error) {
		return self.apply(sessionCtx, writes, now)
	})
	if err != nil {
		return nil, mongoError(err)
	}
	return result.([]*social.Document), nil
}

func (self *MongoEngine) apply(ctx context.Context, writes []*social.EngineWrite, now time.Time) ([]*social.Document, error) {
	now, err := self.nextCommitTime(ctx, now)
	if err != nil {
		return nil, err
	}
	docs, err := social.StageWrites(writes, now, func(doc social.Path) (*social.Document, error) {
		return self.Get(ctx, doc)
	})
	if err != nil {
		return nil, err
	}

	// the commit time is strictly increasing, so only documents created by this apply have `now` as the create time
	created := 0
	for _, doc := range docs {
		if doc.CreateTime.Equal(now) {
			created += 1
		}
	}
	var seq int64
	if 0 < created {
		seq, err = self.nextSeq(ctx, created)
		if err != nil {
			return nil, err
		}
	}

	for _, doc := range docs {
		fields := bson.M(social.NormalizeFields(doc.Fields))
		if doc.CreateTime.Equal(now) {
			_, err := self.docs.InsertOne(ctx, &mongoDocument{
				Path:       string(doc.Path),
				Collection: string(doc.Path.Parent()),
				Fields:     fields,
				CreateTime: doc.CreateTime,
				UpdateTime: doc.UpdateTime,
				Seq:        seq,
			})
			if err != nil {
				return nil, mongoError(err)
			}
			seq += 1
		} else {
			update := bson.M{"$set": bson.M{
				"fields":     fields,
				"updateTime": doc.UpdateTime,
			}}
			if _, err := self.docs.UpdateByID(ctx, string(doc.Path), update); err != nil {
				return nil, mongoError(err)
			}
		}
	}
	return docs, nil
}

// reserves `n` sequence numbers and returns the first
func (self *MongoEngine) nextSeq(ctx context.Context, n int) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := self.counters.FindOneAndUpdate(
		ctx,
		bson.M{"_id": mongoDocumentsCollection},
		bson.M{"$inc": bson.M{"seq": int64(n)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, mongoError(err)
	}
	return counter.Seq - int64(n) + 1, nil
}

// raises the shared clock to `max(now, last + 1ms)` in one atomic update
func (self *MongoEngine) nextCommitTime(ctx context.Context, now time.Time) (time.Time, error) {
	now = social.NextCommitTime(now, time.Time{})
	var clock struct {
		Last time.Time `bson:"last"`
	}
	update := bson.A{
		bson.M{"$set": bson.M{
			"last": bson.M{"$max": bson.A{
				now,
				bson.M{"$add": bson.A{"$last", 1}},
			}},
		}},
	}
	err := self.counters.FindOneAndUpdate(
		ctx,
		bson.M{"_id": mongoClockCounter},
		update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&clock)
	if err != nil {
		return time.Time{}, mongoError(err)
	}
	return clock.Last.UTC(), nil
}

func (self *mongoDocument) toDocument() *social.Document {
	path := social.Path(self.Path)
	fields := social.Fields{}
	for k, v := range self.Fields {
		fields[k] = fromBson(v)
	}
	return &social.Document{
		Id:         path.Id(),
		Path:       path,
		Fields:     fields,
		CreateTime: self.CreateTime.UTC(),
		UpdateTime: self.UpdateTime.UTC(),
	}
}

// converts decoded bson values to document values
func fromBson(value any) any {
	switch v := value.(type) {
	case primitive.DateTime:
		return v.Time().UTC()
	case time.Time:
		return v.UTC()
	case primitive.A:
		values := make([]any, len(v))
		for i, e := range v {
			values[i] = fromBson(e)
		}
		return values
	case primitive.M:
		values := make(map[string]any, len(v))
		for k, e := range v {
			values[k] = fromBson(e)
		}
		return values
	case primitive.D:
		values := make(map[string]any, len(v))
		for _, e := range v {
			values[e.Key] = fromBson(e.Value)
		}
		return values
	default:
		return social.NormalizeValue(v)
	}
}
