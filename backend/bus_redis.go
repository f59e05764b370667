package backend

import (
	"context"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/bringyour/social/social"
)

// Change bus over redis pub/sub, so that several servers share live queries.
type RedisChangeBus struct {
	changeOrigin

	ctx    context.Context
	cancel context.CancelFunc

	client  *redis.Client
	channel string
}

func NewRedisChangeBus(ctx context.Context, client *redis.Client, settings *RedisSettings) (*RedisChangeBus, error) {
	cancelCtx, cancel := context.WithCancel(ctx)
	bus := &RedisChangeBus{
		changeOrigin: newChangeOrigin(),
		ctx:          cancelCtx,
		cancel:       cancel,
		client:       client,
		channel:      settings.KeyPrefix + ":changes",
	}

	pubsub := client.Subscribe(cancelCtx, bus.channel)
	// wait for the subscription so that no change published after this returns is missed
	if _, err := pubsub.Receive(cancelCtx); err != nil {
		pubsub.Close()
		cancel()
		return nil, err
	}
	go social.HandleError(func() {
		bus.run(pubsub)
	}, cancel)
	return bus, nil
}

func (self *RedisChangeBus) run(pubsub *redis.PubSub) {
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-self.ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			if err := self.receive([]byte(message.Payload)); err != nil {
				glog.Infof("[bus]redis receive error = %s\n", err)
			}
		}
	}
}

func (self *RedisChangeBus) Publish(ctx context.Context, collections []social.Path) error {
	self.local.Publish(ctx, collections)
	for _, collection := range collections {
		value, err := self.encode(collection)
		if err != nil {
			return err
		}
		if err := self.client.Publish(ctx, self.channel, value).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (self *RedisChangeBus) Close() {
	self.cancel()
}
