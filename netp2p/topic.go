package netp2p

import (
	"bytes"
	"context"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

// Topic is a typed pub/sub topic. Validation (before relay, per §6) and the
// actual gossip transport are external collaborators; this interface is the
// contract the mempool's executor consumes.
type Topic[T any] interface {
	Name() string
	Publish(ctx context.Context, msg T) error
	// Subscribe returns a channel of decoded messages; the channel is
	// closed when ctx is done or the subscription ends.
	Subscribe(ctx context.Context) (<-chan T, error)
}

// PubSubTopic adapts a github.com/libp2p/go-libp2p-pubsub *pubsub.Topic into
// the typed Topic interface above, using a Codec for the payload encoding.
// This is the production Topic implementation; tests may use a simpler
// in-process fake instead (see mempool's test helpers).
type PubSubTopic[T any] struct {
	name  string
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	codec Codec
}

// NewPubSubTopic joins name with the given buffer size and wraps it.
func NewPubSubTopic[T any](ctx context.Context, ps *pubsub.PubSub, name string, bufferSize int, codec Codec) (*PubSubTopic[T], error) {
	t, err := ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic %q: %w", name, err)
	}
	sub, err := t.Subscribe(pubsub.WithBufferSize(bufferSize))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to topic %q: %w", name, err)
	}
	return &PubSubTopic[T]{name: name, topic: t, sub: sub, codec: codec}, nil
}

func (t *PubSubTopic[T]) Name() string { return t.name }

func (t *PubSubTopic[T]) Publish(ctx context.Context, msg T) error {
	var buf bytes.Buffer
	if err := t.codec.Encode(&buf, msg); err != nil {
		return fmt.Errorf("failed to encode message for topic %q: %w", t.name, err)
	}
	return t.topic.Publish(ctx, buf.Bytes())
}

func (t *PubSubTopic[T]) Subscribe(ctx context.Context) (<-chan T, error) {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			msg, err := t.sub.Next(ctx)
			if err != nil {
				return
			}
			var v T
			if err := t.codec.Decode(bytes.NewReader(msg.Data), &v); err != nil {
				continue
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
