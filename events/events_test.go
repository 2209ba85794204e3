package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"newsindex/partition"
	"newsindex/types"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var published = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func articles(n int) []*types.Article {
	out := make([]*types.Article, n)
	for i := range out {
		out[i] = &types.Article{
			ID:          fmt.Sprintf("id-%d", i),
			Title:       fmt.Sprintf("Story %d", i),
			URL:         fmt.Sprintf("https://wire.example/%d", i),
			SourceName:  "Wire",
			PublishedAt: published,
		}
	}
	return out
}

func TestPublisherSendsOneKeyedEventPerArticle(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	for i := range 2 {
		want := fmt.Sprintf("id-%d", i)
		producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			key, _ := msg.Key.Encode()
			if string(key) != want {
				return fmt.Errorf("key %q, want %q", key, want)
			}
			if msg.Topic != "indexed" {
				return fmt.Errorf("topic %q", msg.Topic)
			}
			value, _ := msg.Value.Encode()
			var ev IndexedEvent
			if err := json.Unmarshal(value, &ev); err != nil {
				return err
			}
			if ev.ArticleID != want || ev.SourceName != "Wire" || !ev.PublishedAt.Equal(published) {
				return fmt.Errorf("unexpected event %+v", ev)
			}
			return nil
		})
	}

	p := NewPublisherWithProducer(producer, "indexed", nil)
	p.now = func() time.Time { return published.Add(time.Minute) }
	require.NoError(t, p.Deliver(context.Background(), articles(2)))
	require.NoError(t, p.Close())
}

func TestPublisherReportsBrokerFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisherWithProducer(producer, "indexed", nil)
	err := p.Deliver(context.Background(), articles(1))
	require.Error(t, err)
	assert.ErrorContains(t, err, "publish 1 events")
	require.NoError(t, p.Close())
}

func TestPublisherSkipsEmptyAndCancelled(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	p := NewPublisherWithProducer(producer, "indexed", nil)

	require.NoError(t, p.Deliver(context.Background(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Deliver(ctx, articles(1)), context.Canceled)
	require.NoError(t, p.Close())
}

type replayCall struct{ id, cursor string }

type fakeReplayer struct {
	calls []replayCall
	err   error
}

func (f *fakeReplayer) Replay(_ context.Context, id, cursor string) error {
	f.calls = append(f.calls, replayCall{id, cursor})
	return f.err
}

func TestReplayHandler(t *testing.T) {
	cases := []struct {
		name      string
		message   string
		err       error
		wantMark  bool
		wantErr   bool
		wantCalls int
	}{
		{"applied", `{"partition":"newsapi","cursor":"page=3"}`, nil, true, false, 1},
		{"empty cursor", `{"partition":"newsapi"}`, nil, true, false, 1},
		{"missing partition", `{"cursor":"x"}`, nil, true, false, 0},
		{"not json", `replay newsapi`, nil, true, false, 0},
		{"unknown partition", `{"partition":"nope"}`, partition.ErrUnknownPartition, true, false, 1},
		{"store down", `{"partition":"newsapi"}`, errors.New("redis down"), false, true, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := &fakeReplayer{err: c.err}
			mark, err := NewReplayHandler(r, nil).HandleMessage(context.Background(), []byte(c.message))
			assert.Equal(t, c.wantMark, mark)
			if c.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, r.calls, c.wantCalls)
		})
	}
}

func TestReplayHandlerPassesCursor(t *testing.T) {
	r := &fakeReplayer{}
	_, err := NewReplayHandler(r, nil).HandleMessage(context.Background(), []byte(`{"partition":"rss:hn","cursor":"hwm=1717228800"}`))
	require.NoError(t, err)
	assert.Equal(t, []replayCall{{"rss:hn", "hwm=1717228800"}}, r.calls)
}
