// Package discord exposes a Discord voice channel as an [audio.Microphone]
// and an [audio.Speaker] via the bwmarrin/discordgo library. It bridges
// Discord's Opus transport with the PCM [audio.AudioFrame] pipeline.
//
// The microphone follows a single participant: each opened stream locks to
// the first SSRC heard after Open. Speak-back frames are encoded to Opus and
// sent with the speaking flag raised.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/handsfree/pkg/audio"
)

var (
	_ audio.Microphone  = (*Microphone)(nil)
	_ audio.InputStream = (*captureStream)(nil)
	_ audio.Speaker     = (*Speaker)(nil)
)

// Config identifies the voice channel to join.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token     string
	GuildID   string
	ChannelID string
}

// Voice is a joined voice channel.
//
// Voice is safe for concurrent use.
type Voice struct {
	conn    *connection
	session *discordgo.Session // owned only when created by Dial
}

// Dial opens a gateway session with cfg.Token and joins the configured voice
// channel. Close releases both.
func Dial(ctx context.Context, cfg Config) (*Voice, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	v, err := Join(ctx, session, cfg.GuildID, cfg.ChannelID)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	v.session = session
	return v, nil
}

// Join joins channelID on an existing session. The caller keeps ownership of
// session. The supplied ctx is checked before joining only; once returned the
// Voice lives until [Voice.Close].
func Join(ctx context.Context, session *discordgo.Session, guildID, channelID string) (*Voice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// mute=false (we speak back), deaf=false (we listen).
	vc, err := session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	slog.Info("discord: joined voice channel", "guild_id", guildID, "channel_id", channelID)
	return &Voice{conn: newConnection(vc)}, nil
}

// Microphone returns the capture side of the channel.
func (v *Voice) Microphone() *Microphone { return &Microphone{conn: v.conn} }

// Speaker returns the playback side of the channel.
func (v *Voice) Speaker() *Speaker { return &Speaker{conn: v.conn} }

// Close leaves the voice channel and, for a dialled Voice, closes the session.
// Open capture streams end as if the device went away.
func (v *Voice) Close() error {
	err := v.conn.disconnect()
	if v.session != nil {
		if sErr := v.session.Close(); sErr != nil && err == nil {
			err = sErr
		}
	}
	if err != nil {
		return fmt.Errorf("discord: close voice: %w", err)
	}
	return nil
}

// Microphone implements [audio.Microphone] over the joined channel. Only one
// stream may be open at a time.
type Microphone struct {
	conn *connection
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(ctx context.Context) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.conn.attach()
}

// Speaker implements [audio.Speaker] over the joined channel.
type Speaker struct {
	conn *connection
}

// Write implements [audio.Speaker]. It blocks while the send buffer is full.
func (s *Speaker) Write(frame audio.AudioFrame) error {
	select {
	case <-s.conn.done:
		return errClosed
	default:
	}
	select {
	case s.conn.output <- frame:
		return nil
	case <-s.conn.done:
		return errClosed
	}
}

// Close implements [audio.Speaker]. The connection stays joined until
// [Voice.Close].
func (s *Speaker) Close() error { return nil }
