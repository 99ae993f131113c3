//go:build integration

package distribution_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"auditchain/internal/audit/distribution"
	"auditchain/internal/audit/models"
	"auditchain/pkg/testutil/containers"
)

type KafkaSinkSuite struct {
	suite.Suite
	broker *containers.RedpandaContainer
}

func TestKafkaSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupSuite() {
	s.broker = containers.GetManager().GetRedpanda(s.T())
}

func (s *KafkaSinkSuite) TestProduceThroughManager() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topic := "audit-entries"

	sink, err := distribution.NewKafkaSink("kafka", s.broker.Brokers, topic)
	s.Require().NoError(err)
	defer sink.Close()
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1))

	s.Run("ensure topic is idempotent", func() {
		s.Require().NoError(sink.EnsureTopic(ctx, 1, 1))
	})

	mgr := distribution.New(distribution.WithTick(10 * time.Millisecond))
	cfg := distribution.DefaultSinkConfig()
	cfg.BatchSize = 2
	cfg.BatchTimeout = 50 * time.Millisecond
	s.Require().NoError(mgr.AddSink(sink, cfg))
	mgr.Start(ctx)
	for seq := uint64(1); seq <= 3; seq++ {
		mgr.Enqueue(entry(seq))
	}
	s.Eventually(func() bool {
		st, _ := mgr.Stats("kafka")
		return st.Delivered == 3
	}, 20*time.Second, 50*time.Millisecond)
	s.Require().NoError(mgr.Close(ctx))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var got []models.Entry
	for len(got) < 3 && ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		s.Require().Empty(fetches.Errors())
		fetches.EachRecord(func(r *kgo.Record) {
			var e models.Entry
			s.Require().NoError(json.Unmarshal(r.Value, &e))
			s.Equal(e.ID, string(r.Key))
			got = append(got, e)
		})
	}
	s.Require().Len(got, 3)
	s.Equal(uint64(1), got[0].Sequence)
	s.Equal(uint64(3), got[2].Sequence)
}
