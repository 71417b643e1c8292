package redis

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher publishes JSON messages on a pub/sub channel.
type Publisher struct {
	client  *Client
	channel string
}

func NewPublisher(client *Client, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

// Publish marshals v and publishes it. It returns the number of subscribers
// that received the message.
func (p *Publisher) Publish(ctx context.Context, v any) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}
	n, err := p.client.rdb.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return n, nil
}

func (p *Publisher) Channel() string {
	return p.channel
}
