package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"scriptbot/internal/script"
	"scriptbot/internal/store"
)

const (
	dispatchTimeout = 30 * time.Second
	// how long a welcome message stays eligible for removal when the member leaves
	welcomeTTL = 50 * time.Minute
	// how long a departed member's return counts as a rejoin
	rejoinTTL = 50 * time.Minute
	// a boost from a member missing from the state cache counts as new for this long
	boostWindow = time.Minute
)

// systemMentions lets system messages ping members and roles but never
// @everyone or @here.
var systemMentions = &discordgo.MessageAllowedMentions{
	Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers, discordgo.AllowedMentionTypeRoles},
}

// discordAPI is the part of *discordgo.Session the bot's event handlers use.
type discordAPI interface {
	script.Messenger
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	UpdateStatusComplex(usd discordgo.UpdateStatusData) error
}

// sentMessage identifies a message the bot (or Discord) posted for a member.
type sentMessage struct {
	ChannelID string
	MessageID string
}

// welcomeCache remembers welcome messages per guild member until they expire.
type welcomeCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*welcomeEntry
}

type welcomeEntry struct {
	messages []sentMessage
	expires  time.Time
}

func newWelcomeCache(ttl time.Duration) *welcomeCache {
	return &welcomeCache{ttl: ttl, now: time.Now, entries: make(map[string]*welcomeEntry)}
}

func welcomeKey(guildID, userID string) string {
	return guildID + ":" + userID
}

// add records messages and refreshes the entry's expiry.
func (c *welcomeCache) add(guildID, userID string, msgs ...sentMessage) {
	if len(msgs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	key := welcomeKey(guildID, userID)
	e, ok := c.entries[key]
	if !ok {
		e = &welcomeEntry{}
		c.entries[key] = e
	}
	e.messages = append(e.messages, msgs...)
	e.expires = now.Add(c.ttl)
}

// take removes and returns the member's live messages grouped by channel.
func (c *welcomeCache) take(guildID, userID string) map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := welcomeKey(guildID, userID)
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	delete(c.entries, key)
	if c.now().After(e.expires) {
		return nil
	}
	byChannel := make(map[string][]string)
	for _, m := range e.messages {
		byChannel[m.ChannelID] = append(byChannel[m.ChannelID], m.MessageID)
	}
	return byChannel
}

// departures remembers members who left recently.
type departures struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	left map[string]time.Time
}

func newDepartures(ttl time.Duration) *departures {
	return &departures{ttl: ttl, now: time.Now, left: make(map[string]time.Time)}
}

func (d *departures) add(guildID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.left {
		if now.Sub(at) > d.ttl {
			delete(d.left, k)
		}
	}
	d.left[welcomeKey(guildID, userID)] = now
}

// take reports whether the member left within the ttl and forgets them.
func (d *departures) take(guildID, userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := welcomeKey(guildID, userID)
	at, ok := d.left[key]
	if !ok {
		return false
	}
	delete(d.left, key)
	return d.now().Sub(at) <= d.ttl
}

func isTextChannel(ch *discordgo.Channel) bool {
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		return true
	}
	return false
}

// onGuildMemberAdd greets a returning member with the rejoin messages when the
// guild has any, and with the welcome messages otherwise.
func (b *Bot) onGuildMemberAdd(s *discordgo.Session, e *discordgo.GuildMemberAdd) {
	if e.Member == nil || e.User == nil || e.User.Bot {
		return
	}
	if b.departed.take(e.GuildID, e.User.ID) && b.dispatch(store.EventRejoin, e.GuildID, e.Member) {
		return
	}
	b.dispatch(store.EventWelcome, e.GuildID, e.Member)
}

func (b *Bot) onGuildMemberRemove(s *discordgo.Session, e *discordgo.GuildMemberRemove) {
	if e.Member == nil || e.User == nil {
		return
	}
	b.departed.add(e.GuildID, e.User.ID)
	b.removeWelcomes(e.GuildID, e.User.ID)
	if !e.User.Bot {
		b.dispatch(store.EventGoodbye, e.GuildID, e.Member)
	}
}

func (b *Bot) onGuildMemberUpdate(s *discordgo.Session, e *discordgo.GuildMemberUpdate) {
	if e.Member == nil || e.User == nil {
		return
	}
	if isNewBoost(e.BeforeUpdate, e.Member, b.now()) {
		b.dispatch(store.EventBoost, e.GuildID, e.Member)
	}
}

// isNewBoost reports whether an update starts a boost. Without the cached
// member to compare against, a boost that began within boostWindow is new.
func isNewBoost(before, after *discordgo.Member, now time.Time) bool {
	if after == nil || after.PremiumSince == nil {
		return false
	}
	if before != nil {
		return before.PremiumSince == nil
	}
	age := now.Sub(*after.PremiumSince)
	return age >= -boostWindow && age <= boostWindow
}

// onMessageCreate tracks Discord's own join notices so they are removed with ours.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Type != discordgo.MessageTypeGuildMemberJoin || m.GuildID == "" || m.Author == nil {
		return
	}
	b.welcomes.add(m.GuildID, m.Author.ID, sentMessage{ChannelID: m.ChannelID, MessageID: m.ID})
}

// dispatch renders and sends every stored template of event for the member.
// It reports whether the guild has any template for event.
func (b *Bot) dispatch(event store.Event, guildID string, member *discordgo.Member) bool {
	ctx, cancel := context.WithTimeout(b.ctx, dispatchTimeout)
	defer cancel()
	log := b.log.With(zap.String("event", string(event)), zap.String("guild", guildID), zap.String("user", member.User.ID))

	records, err := b.store.Messages(ctx, guildID, event)
	if err != nil {
		log.Error("load system messages", zap.Error(err))
		return false
	}
	if len(records) == 0 {
		return false
	}
	if event == store.EventWelcome && !b.guildLimit.Allow(guildID) {
		log.Debug("welcome dispatch rate limited")
		return true
	}

	guild, err := b.state.Guild(guildID)
	if err != nil {
		log.Warn("guild not cached", zap.Error(err))
		return true
	}

	var published []sentMessage
	for _, record := range records {
		ch, err := b.state.Channel(record.ChannelID)
		if err != nil || !isTextChannel(ch) {
			continue
		}

		sc := script.New(record.Template, []script.Block{
			script.NewGuild(guild), script.NewChannel(ch), script.NewMember(guild, member),
		})
		if sc.IsEmpty() {
			continue
		}
		if err := b.sendLimit.Wait(ctx, "global"); err != nil {
			log.Warn("send pacing interrupted", zap.Error(err))
			break
		}

		msg, err := sc.Send(ctx, script.ChannelDestination{Session: b.api, ChannelID: ch.ID}, script.WithAllowedMentions(systemMentions))
		if err != nil {
			log.Warn("send system message", zap.String("channel", ch.ID), zap.Error(err))
			var restErr *discordgo.RESTError
			if errors.As(err, &restErr) {
				b.notifyFailure(string(event), guild, member, ch, sc, restErr)
				if _, err := b.store.DeleteMessage(ctx, guildID, ch.ID, event); err != nil {
					log.Error("delete failing system message", zap.Error(err))
				}
			}
			continue
		}

		if record.DeleteAfter > 0 {
			b.deleteAfter(msg.ChannelID, msg.ID, time.Duration(record.DeleteAfter)*time.Second)
		} else if event == store.EventWelcome || event == store.EventRejoin {
			published = append(published, sentMessage{ChannelID: msg.ChannelID, MessageID: msg.ID})
		}
	}

	b.welcomes.add(guildID, member.User.ID, published...)
	return true
}

func (b *Bot) deleteAfter(channelID, messageID string, d time.Duration) {
	b.afterFunc(d, func() {
		if err := b.api.ChannelMessageDelete(channelID, messageID); err != nil {
			b.log.Debug("scheduled delete", zap.String("message", messageID), zap.Error(err))
		}
	})
}

// removeWelcomes deletes the welcome messages of a departed member when the guild asked for it.
func (b *Bot) removeWelcomes(guildID, userID string) {
	byChannel := b.welcomes.take(guildID, userID)
	if len(byChannel) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, dispatchTimeout)
	defer cancel()

	settings, err := b.store.Settings(ctx, guildID)
	if err != nil {
		b.log.Error("load guild settings", zap.String("guild", guildID), zap.Error(err))
		return
	}
	if !settings.WelcomeRemoval {
		return
	}

	for channelID, ids := range byChannel {
		var err error
		if len(ids) == 1 {
			err = b.api.ChannelMessageDelete(channelID, ids[0], discordgo.WithContext(ctx))
		} else {
			err = b.api.ChannelMessagesBulkDelete(channelID, ids, discordgo.WithContext(ctx))
		}
		if err != nil {
			b.log.Debug("remove welcome messages", zap.String("channel", channelID), zap.Error(err))
		}
	}
}

// notifyFailure tells the guild owner a system message could not be
// delivered. member is nil for scheduled messages.
func (b *Bot) notifyFailure(name string, guild *discordgo.Guild, member *discordgo.Member, ch *discordgo.Channel, sc *script.Script, cause *discordgo.RESTError) {
	if guild.OwnerID == "" {
		return
	}
	dm, err := b.api.UserChannelCreate(guild.OwnerID)
	if err != nil {
		b.log.Debug("open owner DM", zap.String("guild", guild.ID), zap.Error(err))
		return
	}

	reason := string(cause.ResponseBody)
	if cause.Message != nil {
		reason = fmt.Sprintf("%d: %s", cause.Message.Code, cause.Message.Message)
	}
	target := fmt.Sprintf("in <#%s>", ch.ID)
	if member != nil && member.User != nil {
		target = fmt.Sprintf("for `%s` %s", member.User.Username, target)
	}
	embed := &discordgo.MessageEmbed{
		Title:       strings.ToUpper(name[:1]) + name[1:] + " Failure",
		Description: fmt.Sprintf("Could not send a %s message %s\n%s", name, target, codeblock(reason, "yaml")),
		Color:       colorWarn,
	}
	send := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
	if len(sc.Template()) <= 1000 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Script",
			Value: codeblock(sc.Template(), "yaml"),
		})
	} else {
		send.Files = []*discordgo.File{{
			Name:        "script.txt",
			ContentType: "text/plain",
			Reader:      strings.NewReader(sc.Template()),
		}}
	}
	createFooter(embed, b.state)

	if _, err := b.api.ChannelMessageSendComplex(dm.ID, send); err != nil {
		b.log.Debug("notify owner", zap.String("guild", guild.ID), zap.Error(err))
	}
}

func codeblock(text, lang string) string {
	text = strings.ReplaceAll(text, "```", "`\u200b``")
	return "```" + lang + "\n" + text + "\n```"
}
