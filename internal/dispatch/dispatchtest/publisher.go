// Package dispatchtest provides an in-memory Publisher for tests.
package dispatchtest

import (
	"context"
	"fmt"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/terminalpay-backend/internal/dispatch"
)

// Publisher records published messages. Set Err to fail every publish, or
// Block to hold acknowledgements until the publish context expires.
type Publisher struct {
	mu       sync.Mutex
	Err      error
	Block    bool
	messages []*gcppubsub.Message
	resumed  []string
}

func (p *Publisher) Publish(ctx context.Context, msg *gcppubsub.Message) dispatch.PublishResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return result{id: fmt.Sprintf("msg-%d", len(p.messages)), err: p.Err, block: p.Block}
}

func (p *Publisher) ResumePublish(orderingKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumed = append(p.resumed, orderingKey)
}

// SetErr changes the failure mode between calls.
func (p *Publisher) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

func (p *Publisher) Messages() []*gcppubsub.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*gcppubsub.Message, len(p.messages))
	copy(out, p.messages)
	return out
}

func (p *Publisher) Resumed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.resumed))
	copy(out, p.resumed)
	return out
}

type result struct {
	id    string
	err   error
	block bool
}

func (r result) Get(ctx context.Context) (string, error) {
	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if r.err != nil {
		return "", r.err
	}
	return r.id, nil
}
