package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moxie-stats/internal/config"
	"github.com/moxie-stats/internal/domain"
)

type recordingHandler struct {
	mu      sync.Mutex
	batches [][]domain.ReputationUpdate
}

func (h *recordingHandler) ApplyReputationBatch(_ context.Context, updates []domain.ReputationUpdate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, append([]domain.ReputationUpdate(nil), updates...))
	return nil
}

func (h *recordingHandler) snapshot() [][]domain.ReputationUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]domain.ReputationUpdate(nil), h.batches...)
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked int
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(*sarama.ConsumerMessage, string) {
	s.mu.Lock()
	s.marked++
	s.mu.Unlock()
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestDecodeUpdate(t *testing.T) {
	sent := time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)

	u, err := DecodeUpdate([]byte(`{"fid":"3","score":1234.5,"username":"dwr"}`), sent)
	require.NoError(t, err)
	assert.Equal(t, "3", u.FID)
	assert.Equal(t, 1234.5, u.Score)
	assert.Equal(t, "dwr", u.Username)
	assert.Equal(t, sent, u.Timestamp)

	tests := map[string]string{
		"malformed":      `{"fid":`,
		"missing fid":    `{"score":1}`,
		"negative score": `{"fid":"1","score":-5}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeUpdate([]byte(body), sent)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		})
	}
}

func TestConsumeClaim_BatchesBySize(t *testing.T) {
	recorder := &recordingHandler{}
	cfg := &config.KafkaConfig{BatchSize: 2, BatchTimeout: time.Hour}
	h := newGroupHandler(cfg, recorder, zerolog.Nop(), make(chan bool))

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 8)}
	claim.messages <- &sarama.ConsumerMessage{Value: []byte(`{"fid":"1","score":10}`)}
	claim.messages <- &sarama.ConsumerMessage{Value: []byte(`not json`)}
	claim.messages <- &sarama.ConsumerMessage{Value: []byte(`{"fid":"2","score":20}`)}
	claim.messages <- &sarama.ConsumerMessage{Value: []byte(`{"fid":"3","score":30}`)}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claim))

	batches := recorder.snapshot()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, "3", batches[1][0].FID)
	assert.Equal(t, 4, session.marked)
}

func TestConsumeClaim_FlushesOnTimeout(t *testing.T) {
	recorder := &recordingHandler{}
	cfg := &config.KafkaConfig{BatchSize: 100, BatchTimeout: 20 * time.Millisecond}
	h := newGroupHandler(cfg, recorder, zerolog.Nop(), make(chan bool))

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	session := &fakeSession{ctx: ctx}

	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(session, claim) }()

	claim.messages <- &sarama.ConsumerMessage{Value: []byte(`{"fid":"9","score":1}`)}

	assert.Eventually(t, func() bool { return len(recorder.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

// fakeGroup ends its first sessions immediately, like a rebalance, then
// blocks until the consumer is stopped.
type fakeGroup struct {
	sarama.ConsumerGroup
	sessions atomic.Int32
	errs     chan error
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, h sarama.ConsumerGroupHandler) error {
	if err := h.Setup(nil); err != nil {
		return err
	}
	if g.sessions.Add(1) < 3 {
		return nil
	}
	<-ctx.Done()
	return nil
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	close(g.errs)
	return nil
}

func TestConsumer_StartAcrossRebalances(t *testing.T) {
	group := &fakeGroup{errs: make(chan error)}
	cfg := &config.KafkaConfig{Topic: "reputation-updates", BatchSize: 10, BatchTimeout: time.Second}
	c := newConsumer(cfg, group, &recordingHandler{}, zerolog.Nop())

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return group.sessions.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop())
	assert.EqualValues(t, 3, group.sessions.Load())
}
