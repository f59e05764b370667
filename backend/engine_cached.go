package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/bringyour/social/social"
)

// Read-through, write-through document cache in redis in front of another engine.
// Cache failures are logged and fall through to the engine.
// Scans and queries always go to the engine.
type CachedEngine struct {
	engine    social.DocumentEngine
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

func NewCachedEngine(engine social.DocumentEngine, client *redis.Client, settings *RedisSettings) *CachedEngine {
	return &CachedEngine{
		engine:    engine,
		client:    client,
		ttl:       settings.CacheTtl,
		keyPrefix: settings.KeyPrefix,
	}
}

func (self *CachedEngine) redisKey(doc social.Path) string {
	return fmt.Sprintf("%s:doc:%s", self.keyPrefix, doc)
}

func (self *CachedEngine) Get(ctx context.Context, doc social.Path) (*social.Document, error) {
	if d := self.load(ctx, doc); d != nil {
		return d, nil
	}
	d, err := self.engine.Get(ctx, doc)
	if err != nil {
		return nil, err
	}
	self.store(ctx, d)
	return d, nil
}

func (self *CachedEngine) Scan(ctx context.Context, collection social.Path) ([]*social.Document, error) {
	return self.engine.Scan(ctx, collection)
}

func (self *CachedEngine) Query(ctx context.Context, query *social.Query) ([]*social.Document, error) {
	if queryEngine, ok := self.engine.(social.QueryEngine); ok {
		return queryEngine.Query(ctx, query)
	}
	docs, err := self.engine.Scan(ctx, query.Collection)
	if err != nil {
		return nil, err
	}
	return query.Evaluate(docs), nil
}

func (self *CachedEngine) Apply(ctx context.Context, writes []*social.EngineWrite, now time.Time) ([]*social.Document, error) {
	docs, err := self.engine.Apply(ctx, writes, now)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		self.store(ctx, doc)
	}
	return docs, nil
}

func (self *CachedEngine) store(ctx context.Context, doc *social.Document) {
	value, err := json.Marshal(social.DocumentToMap(doc))
	if err != nil {
		glog.Infof("[cache]encode %s error = %s\n", doc.Path, err)
		return
	}
	if err := self.client.Set(ctx, self.redisKey(doc.Path), value, self.ttl).Err(); err != nil {
		glog.Infof("[cache]store %s error = %s\n", doc.Path, err)
		// a stale entry must not outlive the write
		self.client.Del(ctx, self.redisKey(doc.Path))
	}
}

func (self *CachedEngine) load(ctx context.Context, doc social.Path) *social.Document {
	result, err := self.client.Get(ctx, self.redisKey(doc)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		glog.Infof("[cache]load %s error = %s\n", doc, err)
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(result), &m); err != nil {
		glog.Infof("[cache]decode %s error = %s\n", doc, err)
		return nil
	}
	d, err := social.DocumentFromMap(m)
	if err != nil {
		glog.Infof("[cache]decode %s error = %s\n", doc, err)
		return nil
	}
	glog.V(2).Infof("[cache]hit %s\n", doc)
	return d
}
