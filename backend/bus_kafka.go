package backend

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/segmentio/kafka-go"

	"github.com/bringyour/social/social"
)

type KafkaSettings struct {
	Brokers []string
	Topic   string
	// fetch errors are retried after this
	RetryTimeout time.Duration
	BatchTimeout time.Duration
}

func DefaultKafkaSettings() *KafkaSettings {
	return &KafkaSettings{
		Topic:        "social-changes",
		RetryTimeout: 1 * time.Second,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Change bus over a kafka topic.
// Each process reads in its own consumer group, so every process sees every change.
type KafkaChangeBus struct {
	changeOrigin

	ctx    context.Context
	cancel context.CancelFunc

	writer   *kafka.Writer
	reader   *kafka.Reader
	settings *KafkaSettings
}

func NewKafkaChangeBus(ctx context.Context, settings *KafkaSettings) *KafkaChangeBus {
	cancelCtx, cancel := context.WithCancel(ctx)
	origin := newChangeOrigin()
	bus := &KafkaChangeBus{
		changeOrigin: origin,
		ctx:          cancelCtx,
		cancel:       cancel,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(settings.Brokers...),
			Topic:        settings.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: settings.BatchTimeout,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        settings.Brokers,
			GroupID:        "social-" + origin.origin,
			Topic:          settings.Topic,
			StartOffset:    kafka.LastOffset,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
		}),
		settings: settings,
	}
	go social.HandleError(bus.run, cancel)
	return bus
}

func (self *KafkaChangeBus) run() {
	defer self.reader.Close()

	glog.Infof("[bus]kafka consumer started topic=%s brokers=%v\n", self.settings.Topic, self.settings.Brokers)
	for {
		message, err := self.reader.FetchMessage(self.ctx)
		if err != nil {
			if self.ctx.Err() != nil {
				return
			}
			glog.Infof("[bus]kafka fetch error = %s\n", err)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(self.settings.RetryTimeout):
			}
			continue
		}
		if err := self.receive(message.Value); err != nil {
			glog.Infof("[bus]kafka receive error = %s\n", err)
		}
		if err := self.reader.CommitMessages(self.ctx, message); err != nil {
			glog.V(1).Infof("[bus]kafka commit error = %s\n", err)
		}
	}
}

func (self *KafkaChangeBus) Publish(ctx context.Context, collections []social.Path) error {
	self.local.Publish(ctx, collections)
	messages := make([]kafka.Message, 0, len(collections))
	for _, collection := range collections {
		value, err := self.encode(collection)
		if err != nil {
			return err
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(collection),
			Value: value,
			Time:  time.Now(),
		})
	}
	return self.writer.WriteMessages(ctx, messages...)
}

func (self *KafkaChangeBus) Close() error {
	self.cancel()
	return self.writer.Close()
}
