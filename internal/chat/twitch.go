// Package chat connects the poll engine to a live Twitch IRC channel. The
// HTTP ingest endpoint works without it; the IRC reader is an optional second
// message source enabled by configuration.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/samber/lo"

	"github.com/awfultie/chatpoll/internal/domain"
)

// TwitchReader joins one Twitch channel and feeds every chat message into
// the poll engine.
type TwitchReader struct {
	client  *twitch.Client
	channel string
	engine  domain.PollEngine
}

func NewTwitchReader(channel, botUsername, oauthToken string, engine domain.PollEngine) *TwitchReader {
	r := &TwitchReader{
		client:  twitch.NewClient(botUsername, oauthToken),
		channel: channel,
		engine:  engine,
	}

	r.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		badges := make([]string, 0, len(msg.User.Badges))
		for name, version := range msg.User.Badges {
			badges = append(badges, fmt.Sprintf("%s:%d", name, version))
		}
		emotes := lo.Map(msg.Emotes, func(e *twitch.Emote, _ int) string {
			return e.Name
		})
		r.engine.IngestMessage(msg.Message, msg.User.Name, emotes, badges)
	})

	return r
}

// Run connects to Twitch IRC and blocks until the context is cancelled or
// the connection fails. A nil error is returned on context cancellation.
func (r *TwitchReader) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = r.client.Disconnect()
		close(done)
	}()

	r.client.Join(r.channel)
	slog.Info("Connecting to Twitch IRC", "channel", r.channel)

	err := r.client.Connect()
	select {
	case <-done:
		return nil
	default:
	}
	if err != nil {
		return fmt.Errorf("twitch chat connection failed: %w", err)
	}
	return nil
}
