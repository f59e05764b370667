package social

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

// a write with its document path resolved
type EngineWrite struct {
	Doc    Path
	Create bool
	Write  *Write
}

// Persists documents. Implementations must make `Apply` atomic.
type DocumentEngine interface {
	// returns a `NotFoundError` if the document does not exist
	Get(ctx context.Context, doc Path) (*Document, error)
	// all documents in the collection in insertion order
	Scan(ctx context.Context, collection Path) ([]*Document, error)
	// applies all writes or none. Returns the written documents.
	// `now` is a lower bound. The engine stamps the writes with `NextCommitTime(now, last)`
	// where `last` is its previous commit time, kept inside the same transaction,
	// so commit times increase across every store that shares the engine.
	Apply(ctx context.Context, writes []*EngineWrite, now time.Time) ([]*Document, error)
}

// optional. Engines that can evaluate a query natively.
type QueryEngine interface {
	Query(ctx context.Context, query *Query) ([]*Document, error)
}

// stages writes on top of `get` and returns the next version of each touched document,
// in the order first touched. Engines use this inside their transaction.
func StageWrites(
	writes []*EngineWrite,
	now time.Time,
	get func(doc Path) (*Document, error),
) ([]*Document, error) {
	staged := map[Path]*Document{}
	order := []Path{}
	for _, engineWrite := range writes {
		current, ok := staged[engineWrite.Doc]
		if !ok {
			var err error
			current, err = get(engineWrite.Doc)
			if err != nil && !errorsIsNotFound(err) {
				return nil, err
			}
		}

		var next *Document
		if engineWrite.Create {
			if current != nil {
				return nil, NewValidationError("Document already exists: %s", engineWrite.Doc)
			}
			next = &Document{
				Id:         engineWrite.Doc.Id(),
				Path:       engineWrite.Doc,
				Fields:     engineWrite.Write.Apply(nil, now),
				CreateTime: now,
				UpdateTime: now,
			}
		} else {
			if current == nil {
				return nil, NewNotFoundError("Document does not exist: %s", engineWrite.Doc)
			}
			next = &Document{
				Id:         current.Id,
				Path:       current.Path,
				Fields:     engineWrite.Write.Apply(current.Fields, now),
				CreateTime: current.CreateTime,
				UpdateTime: now,
			}
		}
		if !ok {
			order = append(order, engineWrite.Doc)
		}
		staged[engineWrite.Doc] = next
	}

	docs := make([]*Document, 0, len(order))
	for _, doc := range order {
		docs = append(docs, staged[doc])
	}
	return docs, nil
}

func errorsIsNotFound(err error) bool {
	return KindOf(err) == ErrorKindNotFound
}

type MemoryEngine struct {
	mutex      sync.Mutex
	lastCommit time.Time
	docs       map[Path]*Document
	// collection -> document paths in insertion order
	collectionDocs map[Path][]Path
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		docs:           map[Path]*Document{},
		collectionDocs: map[Path][]Path{},
	}
}

func (self *MemoryEngine) Get(ctx context.Context, doc Path) (*Document, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if d, ok := self.docs[doc]; ok {
		return d.Clone(), nil
	}
	return nil, NewNotFoundError("Document does not exist: %s", doc)
}

func (self *MemoryEngine) Scan(ctx context.Context, collection Path) ([]*Document, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	docs := []*Document{}
	for _, doc := range self.collectionDocs[collection] {
		docs = append(docs, self.docs[doc].Clone())
	}
	return docs, nil
}

func (self *MemoryEngine) Apply(ctx context.Context, writes []*EngineWrite, now time.Time) ([]*Document, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	now = NextCommitTime(now, self.lastCommit)
	docs, err := StageWrites(writes, now, func(doc Path) (*Document, error) {
		if d, ok := self.docs[doc]; ok {
			return d.Clone(), nil
		}
		return nil, NewNotFoundError("Document does not exist: %s", doc)
	})
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if _, ok := self.docs[doc.Path]; !ok {
			collection := doc.Path.Parent()
			self.collectionDocs[collection] = append(self.collectionDocs[collection], doc.Path)
		}
		self.docs[doc.Path] = doc.Clone()
	}
	self.lastCommit = now
	return docs, nil
}

// the commit time for a write at `now` after a commit at `last`.
// Millisecond precision so that every engine stores it exactly.
func NextCommitTime(now time.Time, last time.Time) time.Time {
	next := now.UTC().Truncate(time.Millisecond)
	if !last.Before(next) {
		next = last.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return next
}

// strictly increasing time source for server timestamps within one store.
// The engine raises the time above its own last commit, which orders commits
// from stores in other processes.
type StoreClock struct {
	mutex sync.Mutex
	last  time.Time
	now   func() time.Time
}

func NewStoreClock() *StoreClock {
	return NewStoreClockWithNow(time.Now)
}

func NewStoreClockWithNow(now func() time.Time) *StoreClock {
	return &StoreClock{
		now: now,
	}
}

func (self *StoreClock) Next() time.Time {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	next := NextCommitTime(self.now(), self.last)
	self.last = next
	return next
}

type CollectionChangeFunction = func(collection Path)

// fans out collection changes to subscriptions, possibly across processes
type ChangeBus interface {
	Publish(ctx context.Context, collections []Path) error
	AddChangeCallback(changeCallback CollectionChangeFunction) func()
}

// in-process change bus
type LocalChangeBus struct {
	changeCallbacks *CallbackList[CollectionChangeFunction]
}

func NewLocalChangeBus() *LocalChangeBus {
	return &LocalChangeBus{
		changeCallbacks: NewCallbackList[CollectionChangeFunction](),
	}
}

func (self *LocalChangeBus) Publish(ctx context.Context, collections []Path) error {
	for _, collection := range collections {
		self.Notify(collection)
	}
	return nil
}

// delivers a change to the local callbacks only
func (self *LocalChangeBus) Notify(collection Path) {
	for _, changeCallback := range self.changeCallbacks.Get() {
		HandleError(func() {
			changeCallback(collection)
		})
	}
}

func (self *LocalChangeBus) AddChangeCallback(changeCallback CollectionChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

// A document store over an engine. Queries are re-evaluated against the engine
// whenever the bus reports a change to the query collection, and the full result
// set is delivered to the subscriber.
type LocalDocumentStore struct {
	engine DocumentEngine
	bus    ChangeBus
	clock  *StoreClock

	// serializes the clock with the engine apply, so that server timestamps
	// are ordered the same as commits
	writeLock sync.Mutex
}

func NewLocalDocumentStoreWithDefaults() *LocalDocumentStore {
	return NewLocalDocumentStore(NewMemoryEngine(), NewLocalChangeBus(), NewStoreClock())
}

func NewLocalDocumentStore(engine DocumentEngine, bus ChangeBus, clock *StoreClock) *LocalDocumentStore {
	return &LocalDocumentStore{
		engine: engine,
		bus:    bus,
		clock:  clock,
	}
}

func (self *LocalDocumentStore) Engine() DocumentEngine {
	return self.engine
}

func (self *LocalDocumentStore) Subscribe(
	ctx context.Context,
	query *Query,
	snapshotCallback SnapshotCallback,
) (func(), error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	changeMonitor := NewMonitor()
	changeUnsub := self.bus.AddChangeCallback(func(collection Path) {
		if collection == query.Collection {
			changeMonitor.NotifyAll()
		}
	})

	go HandleError(func() {
		defer changeUnsub()
		defer cancel()

		var lastSignature string
		first := true
		for {
			notify := changeMonitor.NotifyChannel()
			docs, err := self.List(cancelCtx, query)
			select {
			case <-cancelCtx.Done():
				return
			default:
			}
			if err != nil {
				glog.Infof("[store]%s subscription error = %s\n", query, err)
				snapshotCallback(nil, AsError(err))
				return
			}
			signature := snapshotSignature(docs)
			if first || signature != lastSignature {
				first = false
				lastSignature = signature
				snapshotCallback(&Snapshot{
					Documents: docs,
					ReadTime:  time.Now(),
				}, nil)
			}
			select {
			case <-cancelCtx.Done():
				return
			case <-notify:
			}
		}
	})

	return cancel, nil
}

// identifies a result set by its documents and their versions
func snapshotSignature(docs []*Document) string {
	signature := ""
	for _, doc := range docs {
		signature += fmt.Sprintf("%s@%d;", doc.Path, doc.UpdateTime.UnixNano())
	}
	return signature
}

func (self *LocalDocumentStore) Create(ctx context.Context, collection Path, fields Fields) (Id, error) {
	ids, err := self.Commit(ctx, []*Write{CreateWrite(collection, fields)})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (self *LocalDocumentStore) Update(ctx context.Context, doc Path, write *Write) error {
	if write.Path == "" {
		write.Path = doc
	} else if write.Path != doc {
		return NewValidationError("Write path %s does not match %s", write.Path, doc)
	}
	if write.Op == "" {
		write.Op = WriteOpUpdate
	}
	_, err := self.Commit(ctx, []*Write{write})
	return err
}

// returns the id of each written document, in write order
func (self *LocalDocumentStore) Commit(ctx context.Context, writes []*Write) ([]Id, error) {
	engineWrites, err := ResolveWrites(writes)
	if err != nil {
		return nil, err
	}

	err = func() error {
		self.writeLock.Lock()
		defer self.writeLock.Unlock()
		_, err := self.engine.Apply(ctx, engineWrites, self.clock.Next())
		return err
	}()
	if err != nil {
		return nil, AsError(err)
	}

	if err := self.bus.Publish(ctx, changedCollections(engineWrites)); err != nil {
		// the write landed. Subscribers catch up on the next change.
		glog.Infof("[store]publish error = %s\n", err)
	}

	ids := make([]Id, len(engineWrites))
	for i, engineWrite := range engineWrites {
		ids[i] = engineWrite.Doc.Id()
	}
	return ids, nil
}

// validates the writes and assigns ids to creates
func ResolveWrites(writes []*Write) ([]*EngineWrite, error) {
	if len(writes) == 0 {
		return nil, NewValidationError("Commit has no writes")
	}
	engineWrites := make([]*EngineWrite, 0, len(writes))
	for _, write := range writes {
		if err := write.Validate(); err != nil {
			return nil, err
		}
		switch write.Op {
		case WriteOpCreate:
			if write.Path.IsDocument() {
				engineWrites = append(engineWrites, &EngineWrite{
					Doc:    write.Path,
					Create: true,
					Write:  write,
				})
				continue
			}
			engineWrites = append(engineWrites, &EngineWrite{
				Doc:    write.Path.Doc(NewId()),
				Create: true,
				Write:  write,
			})
		default:
			engineWrites = append(engineWrites, &EngineWrite{
				Doc:   write.Path,
				Write: write,
			})
		}
	}
	return engineWrites, nil
}

func changedCollections(engineWrites []*EngineWrite) []Path {
	collections := []Path{}
	seen := map[Path]bool{}
	for _, engineWrite := range engineWrites {
		collection := engineWrite.Doc.Parent()
		if !seen[collection] {
			seen[collection] = true
			collections = append(collections, collection)
		}
	}
	return collections
}

func (self *LocalDocumentStore) Get(ctx context.Context, doc Path) (*Document, error) {
	if !doc.IsDocument() {
		return nil, NewValidationError("Get requires a document path: %s", doc)
	}
	d, err := self.engine.Get(ctx, doc)
	if err != nil {
		return nil, AsError(err)
	}
	return d, nil
}

func (self *LocalDocumentStore) List(ctx context.Context, query *Query) ([]*Document, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	if queryEngine, ok := self.engine.(QueryEngine); ok {
		docs, err := queryEngine.Query(ctx, query)
		if err != nil {
			return nil, AsError(err)
		}
		return docs, nil
	}
	docs, err := self.engine.Scan(ctx, query.Collection)
	if err != nil {
		return nil, AsError(err)
	}
	return query.Evaluate(docs), nil
}
