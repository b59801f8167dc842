package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"multiplayer-quiz-service/internal/app"
	"multiplayer-quiz-service/internal/domain"
)

// DefaultPatchChannel is the pub/sub channel patches travel on between instances.
const DefaultPatchChannel = "quiz:patches"

// PatchRelay fans patches out across service instances. Publishing goes through Redis
// pub/sub; Run feeds every received patch into the local notifier that websocket
// subscribers listen on.
type PatchRelay struct {
	client  *redis.Client
	channel string
	local   app.Notifier
}

func NewPatchRelay(client *redis.Client, channel string, local app.Notifier) *PatchRelay {
	if channel == "" {
		channel = DefaultPatchChannel
	}
	return &PatchRelay{client: client, channel: channel, local: local}
}

var _ app.Notifier = (*PatchRelay)(nil)

func (r *PatchRelay) Publish(ctx context.Context, patch domain.Patch) {
	data, err := json.Marshal(patch)
	if err != nil {
		log.Printf("patch relay: encode %s patch: %v", patch.Kind, err)
		return
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		// at least local subscribers hear about it; remote ones catch up by polling
		log.Printf("patch relay: %v, delivering locally", fmt.Errorf("%w: %v", domain.ErrPatchDelivery, err))
		r.local.Publish(ctx, patch)
	}
}

func (r *PatchRelay) Subscribe(sessionID string) (<-chan domain.Patch, func()) {
	return r.local.Subscribe(sessionID)
}

// Run relays patches from Redis to the local notifier until ctx is done.
func (r *PatchRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	log.Printf("patch relay: listening on %s", r.channel)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var patch domain.Patch
			if err := json.Unmarshal([]byte(msg.Payload), &patch); err != nil {
				log.Printf("patch relay: dropping malformed message: %v", err)
				continue
			}
			r.local.Publish(ctx, patch)
		}
	}
}
