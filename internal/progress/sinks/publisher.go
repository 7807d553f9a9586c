package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/realtime-poi-crawler/internal/progress"
)

// Publisher sends one payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublisherSink forwards job lifecycle events to a topic. REGION_DONE events
// are forwarded only when Verbose is set.
type PublisherSink struct {
	pub     Publisher
	topic   string
	verbose bool
}

// NewPublisherSink builds a PublisherSink.
func NewPublisherSink(pub Publisher, topic string, verbose bool) (*PublisherSink, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	return &PublisherSink{pub: pub, topic: topic, verbose: verbose}, nil
}

// Consume publishes the batch, stopping at the first failure.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if evt.Stage == progress.StageRegionDone && !s.verbose {
			continue
		}
		if _, err := s.pub.Publish(ctx, s.topic, evt); err != nil {
			return fmt.Errorf("publish %s for %s: %w", evt.Stage, evt.JobID, err)
		}
	}
	return nil
}

// Close implements progress.Sink. The publisher is owned by the caller.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
