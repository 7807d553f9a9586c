package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/realtime-poi-crawler/internal/progress"
	"github.com/JakeFAU/realtime-poi-crawler/internal/publisher/memory"
)

func jobEvents() []progress.Event {
	now := time.Now()
	return []progress.Event{
		{JobID: "coffee-1", TS: now, Stage: progress.StageJobStart, Keyword: "coffee", Total: 1},
		{JobID: "coffee-1", TS: now, Stage: progress.StageRegionDone, Keyword: "coffee", Region: "南京市", Count: 30, Current: 1, Total: 1},
		{JobID: "coffee-1", TS: now, Stage: progress.StageJobDone, Keyword: "coffee", Count: 30, Current: 1, Total: 1},
	}
}

func TestPublisherSinkForwardsLifecycleEvents(t *testing.T) {
	t.Parallel()

	pub := memory.New(0)
	sink, err := NewPublisherSink(pub, "poi-progress", false)
	require.NoError(t, err)
	require.NoError(t, sink.Consume(context.Background(), jobEvents()))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "poi-progress", msgs[0].Topic)
	require.Equal(t, progress.StageJobStart, msgs[0].Payload.(progress.Event).Stage)
	require.Equal(t, progress.StageJobDone, msgs[1].Payload.(progress.Event).Stage)
}

func TestPublisherSinkVerboseIncludesRegions(t *testing.T) {
	t.Parallel()

	pub := memory.New(0)
	sink, err := NewPublisherSink(pub, "poi-progress", true)
	require.NoError(t, err)
	require.NoError(t, sink.Consume(context.Background(), jobEvents()))
	require.Len(t, pub.Messages(), 3)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("unavailable")
}

func TestPublisherSinkSurfacesErrors(t *testing.T) {
	t.Parallel()

	sink, err := NewPublisherSink(failingPublisher{}, "poi-progress", false)
	require.NoError(t, err)
	require.ErrorContains(t, sink.Consume(context.Background(), jobEvents()), "unavailable")

	_, err = NewPublisherSink(nil, "t", false)
	require.Error(t, err)
	_, err = NewPublisherSink(failingPublisher{}, "", false)
	require.Error(t, err)
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	batch := append(jobEvents(), progress.Event{JobID: "coffee-1", TS: time.Now(), Stage: progress.StageJobError, Note: "store down"})
	require.NoError(t, sink.Consume(context.Background(), batch))

	entries := logs.All()
	require.Len(t, entries, 4)
	require.Equal(t, zap.WarnLevel, entries[3].Level)
	require.Equal(t, "store down", entries[3].ContextMap()["note"])
	require.Equal(t, "南京市", entries[1].ContextMap()["region"])
}
