package script

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// Messenger is the part of *discordgo.Session used to deliver scripts.
type Messenger interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookMessageEdit(webhookID, token, messageID string, data *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Outgoing is a rendered script ready for a Destination.
type Outgoing struct {
	Content         string
	Embeds          []*discordgo.MessageEmbed
	Components      []discordgo.MessageComponent
	StickerIDs      []string
	Reference       *discordgo.MessageReference
	AllowedMentions *discordgo.MessageAllowedMentions
	Flags           discordgo.MessageFlags
}

// Destination is anywhere a script can be sent. Transport errors are
// returned unchanged.
type Destination interface {
	Send(ctx context.Context, m *Outgoing) (*discordgo.Message, error)
	Edit(ctx context.Context, messageID string, m *Outgoing) (*discordgo.Message, error)
}

// SendOption adjusts an outgoing message.
type SendOption func(*Outgoing)

// WithReply sends the message as a reply.
func WithReply(ref *discordgo.MessageReference) SendOption {
	return func(o *Outgoing) { o.Reference = ref }
}

// WithAllowedMentions restricts who the message may ping.
func WithAllowedMentions(am *discordgo.MessageAllowedMentions) SendOption {
	return func(o *Outgoing) { o.AllowedMentions = am }
}

// WithFlags sets message flags such as suppressed notifications.
func WithFlags(flags discordgo.MessageFlags) SendOption {
	return func(o *Outgoing) { o.Flags = flags }
}

func (s *Script) outgoing(opts []SendOption) *Outgoing {
	d := s.Data()
	o := &Outgoing{
		Content:    d.Content,
		Embeds:     d.Embeds,
		Components: d.View.Components(),
	}
	for _, st := range d.Stickers {
		o.StickerIDs = append(o.StickerIDs, st.ID)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Send renders the script and delivers it to dest.
func (s *Script) Send(ctx context.Context, dest Destination, opts ...SendOption) (*discordgo.Message, error) {
	return dest.Send(ctx, s.outgoing(opts))
}

// Edit replaces the content, embeds and buttons of an existing message.
// Stickers cannot be edited and are left alone.
func (s *Script) Edit(ctx context.Context, dest Destination, messageID string, opts ...SendOption) (*discordgo.Message, error) {
	o := s.outgoing(opts)
	o.StickerIDs = nil
	return dest.Edit(ctx, messageID, o)
}

// ChannelDestination sends through the bot user to a channel or thread.
type ChannelDestination struct {
	Session   Messenger
	ChannelID string
}

func (c ChannelDestination) Send(ctx context.Context, m *Outgoing) (*discordgo.Message, error) {
	return c.Session.ChannelMessageSendComplex(c.ChannelID, &discordgo.MessageSend{
		Content:         m.Content,
		Embeds:          m.Embeds,
		Components:      m.Components,
		StickerIDs:      m.StickerIDs,
		Reference:       m.Reference,
		AllowedMentions: m.AllowedMentions,
		Flags:           m.Flags,
	}, discordgo.WithContext(ctx))
}

func (c ChannelDestination) Edit(ctx context.Context, messageID string, m *Outgoing) (*discordgo.Message, error) {
	content, embeds, components := m.Content, m.Embeds, m.Components
	if embeds == nil {
		embeds = []*discordgo.MessageEmbed{}
	}
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	return c.Session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:              messageID,
		Channel:         c.ChannelID,
		Content:         &content,
		Embeds:          &embeds,
		Components:      &components,
		AllowedMentions: m.AllowedMentions,
		Flags:           m.Flags,
	}, discordgo.WithContext(ctx))
}

// WebhookDestination sends through a webhook. Webhooks cannot carry
// stickers, so they are dropped.
type WebhookDestination struct {
	Session   Messenger
	ID        string
	Token     string
	Username  string
	AvatarURL string
}

func (w WebhookDestination) Send(ctx context.Context, m *Outgoing) (*discordgo.Message, error) {
	return w.Session.WebhookExecute(w.ID, w.Token, true, &discordgo.WebhookParams{
		Content:         m.Content,
		Username:        w.Username,
		AvatarURL:       w.AvatarURL,
		Embeds:          m.Embeds,
		Components:      m.Components,
		AllowedMentions: m.AllowedMentions,
		Flags:           m.Flags,
	}, discordgo.WithContext(ctx))
}

func (w WebhookDestination) Edit(ctx context.Context, messageID string, m *Outgoing) (*discordgo.Message, error) {
	content, embeds, components := m.Content, m.Embeds, m.Components
	if embeds == nil {
		embeds = []*discordgo.MessageEmbed{}
	}
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	return w.Session.WebhookMessageEdit(w.ID, w.Token, messageID, &discordgo.WebhookEdit{
		Content:         &content,
		Embeds:          &embeds,
		Components:      &components,
		AllowedMentions: m.AllowedMentions,
	}, discordgo.WithContext(ctx))
}
