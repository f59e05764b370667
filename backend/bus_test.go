package backend

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/bringyour/social/social"
)

func collectChanges(bus social.ChangeBus) (chan social.Path, func()) {
	changes := make(chan social.Path, 64)
	unsub := bus.AddChangeCallback(func(collection social.Path) {
		changes <- collection
	})
	return changes, unsub
}

func nextChange(t *testing.T, changes chan social.Path) social.Path {
	t.Helper()
	select {
	case collection := <-changes:
		return collection
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for change.")
		return ""
	}
}

func TestChangeOrigin(t *testing.T) {
	a := newChangeOrigin()
	b := newChangeOrigin()
	changes, unsub := collectChanges(&b)
	defer unsub()

	value, err := a.encode(social.PostsCollection)
	assert.Equal(t, err, nil)

	// own messages are skipped
	err = a.receive(value)
	assert.Equal(t, err, nil)
	err = b.receive(value)
	assert.Equal(t, err, nil)
	assert.Equal(t, nextChange(t, changes), social.PostsCollection)

	ownValue, err := b.encode(social.UsersCollection)
	assert.Equal(t, err, nil)
	err = b.receive(ownValue)
	assert.Equal(t, err, nil)
	select {
	case collection := <-changes:
		t.Fatalf("Unexpected change %s.", collection)
	default:
	}

	err = b.receive([]byte("not json"))
	assert.NotEqual(t, err, nil)
}

// two buses stand in for two server processes
func testSharedChangeBus(t *testing.T, a social.ChangeBus, b social.ChangeBus) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aChanges, aUnsub := collectChanges(a)
	defer aUnsub()
	bChanges, bUnsub := collectChanges(b)
	defer bUnsub()

	err := a.Publish(ctx, []social.Path{social.PostsCollection, social.CommentsCollection("p1")})
	assert.Equal(t, err, nil)

	// local delivery is immediate
	assert.Equal(t, nextChange(t, aChanges), social.PostsCollection)
	assert.Equal(t, nextChange(t, aChanges), social.CommentsCollection("p1"))

	received := map[social.Path]bool{}
	received[nextChange(t, bChanges)] = true
	received[nextChange(t, bChanges)] = true
	assert.Equal(t, received, map[social.Path]bool{
		social.PostsCollection:          true,
		social.CommentsCollection("p1"): true,
	})

	// a live query on one process sees a commit on the other.
	// The engine stands in for the shared database.
	engine := social.NewMemoryEngine()
	aStore := social.NewLocalDocumentStore(engine, a, social.NewStoreClock())
	bStore := social.NewLocalDocumentStore(engine, b, social.NewStoreClock())
	snapshots := make(chan int, 64)
	unsub, err := bStore.Subscribe(ctx, social.FeedQuery(), func(snapshot *social.Snapshot, err error) {
		if err == nil {
			snapshots <- len(snapshot.Documents)
		}
	})
	assert.Equal(t, err, nil)
	defer unsub()
	assert.Equal(t, <-snapshots, 0)

	_, err = aStore.Create(ctx, social.PostsCollection, social.Fields{
		social.FieldTimestamp: social.ServerTimestamp,
	})
	assert.Equal(t, err, nil)
	select {
	case count := <-snapshots:
		assert.Equal(t, count, 1)
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for snapshot.")
	}
}

func TestRedisChangeBus(t *testing.T) {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := DefaultRedisSettings()
	settings.Addr = redisAddr
	settings.KeyPrefix = "social_test_" + string(social.NewId())
	client, err := NewRedisClient(ctx, settings)
	assert.Equal(t, err, nil)
	defer client.Close()

	a, err := NewRedisChangeBus(ctx, client, settings)
	assert.Equal(t, err, nil)
	defer a.Close()
	b, err := NewRedisChangeBus(ctx, client, settings)
	assert.Equal(t, err, nil)
	defer b.Close()

	testSharedChangeBus(t, a, b)
}

func TestKafkaChangeBus(t *testing.T) {
	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		t.Skip("KAFKA_BROKERS not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := DefaultKafkaSettings()
	settings.Brokers = strings.Split(kafkaBrokers, ",")
	a := NewKafkaChangeBus(ctx, settings)
	defer a.Close()
	b := NewKafkaChangeBus(ctx, settings)
	defer b.Close()

	// consumer groups join asynchronously and start at the last offset
	time.Sleep(5 * time.Second)

	testSharedChangeBus(t, a, b)
}
