//go:build integration

package stream_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"attestra/internal/audit"
	"attestra/internal/audit/store/memory"
	"attestra/internal/audit/stream"
	"attestra/pkg/testutil/containers"
)

type KafkaSinkSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
}

func TestKafkaSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
}

func (s *KafkaSinkSuite) TestPublishedEntriesAreConsumable() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const topic = "attestra.audit.test"
	sink, err := stream.NewKafkaSink(ctx, s.redpanda.Brokers, topic)
	s.Require().NoError(err)
	defer sink.Close()

	s.Run("ensuring an existing topic is not an error", func() {
		again, err := stream.NewKafkaSink(ctx, s.redpanda.Brokers, topic)
		s.Require().NoError(err)
		again.Close()
	})

	pub := stream.NewPublisher(memory.NewInMemoryStore(), sink)
	entry, err := audit.NewEntry(audit.KindVerification, "asset-kafka", "tester", map[string]bool{"verified": true})
	s.Require().NoError(err)
	id, err := pub.Append(ctx, entry)
	s.Require().NoError(err)
	s.Require().NoError(pub.Close(ctx))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().NoError(fetches.Err())
	records := fetches.Records()
	s.Require().NotEmpty(records)

	var got audit.Entry
	s.Require().NoError(json.Unmarshal(records[0].Value, &got))
	s.Equal(id, got.ID)
	s.Equal("asset-kafka", string(records[0].Key))
}
