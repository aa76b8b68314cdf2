package dispatch

import (
	"context"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// Publisher is the ordered-channel surface the coordinator depends on.
type Publisher interface {
	Publish(context.Context, *gcppubsub.Message) PublishResult
	// ResumePublish re-opens an ordering key after a failed publish paused it.
	ResumePublish(orderingKey string)
}

type PublishResult interface {
	Get(context.Context) (string, error)
}

// NewPubSubPublisher adapts an ordering-enabled Pub/Sub publisher.
func NewPubSubPublisher(p *gcppubsub.Publisher) Publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) PublishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}
