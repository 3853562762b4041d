// Package kafka provides an Apache Kafka signal-broadcast transport so an
// execution persisted by one process can be resumed from another.
package kafka

import (
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	wkafka "github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"

	"github.com/soehq/soe/pkg/eventbus"
)

// NewBus builds a Broadcaster over kafka brokers. consumerGroup scopes
// delivery: within one group, each broadcast is consumed by a single member.
func NewBus(brokers string, consumerGroup string) (*eventbus.WatermillBus, error) {
	brokerList := strings.Split(brokers, ",")
	if len(brokerList) == 0 || brokerList[0] == "" {
		return nil, fmt.Errorf("kafka brokers must not be empty")
	}

	logger := watermill.NopLogger{}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	publisher, err := wkafka.NewPublisher(wkafka.PublisherConfig{
		Brokers:               brokerList,
		Marshaler:             wkafka.DefaultMarshaler{},
		OverwriteSaramaConfig: saramaConfig,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}

	subscriber, err := wkafka.NewSubscriber(wkafka.SubscriberConfig{
		Brokers:               brokerList,
		Unmarshaler:           wkafka.DefaultMarshaler{},
		ConsumerGroup:         consumerGroup,
		OverwriteSaramaConfig: saramaConfig,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create kafka subscriber: %w", err)
	}

	return eventbus.NewWatermillBus(publisher, subscriber), nil
}
