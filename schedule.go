package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"scriptbot/internal/script"
	"scriptbot/internal/store"
)

// interval bounds, in minutes
const (
	minScheduleMinutes = 30
	maxScheduleMinutes = 31 * 24 * 60
)

func scheduleCommand() *discordgo.ApplicationCommand {
	minInterval := float64(minScheduleMinutes)
	return &discordgo.ApplicationCommand{
		Name:                     "schedule",
		Description:              "Send recurring messages at a set interval",
		DefaultMemberPermissions: &manageChannels,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "add",
				Description: "Add a recurring message to a channel",
				Options: []*discordgo.ApplicationCommandOption{
					channelOption("The channel to send the message in"),
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "interval",
						Description: "Minutes between messages",
						Required:    true,
						MinValue:    &minInterval,
						MaxValue:    maxScheduleMinutes,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "template",
						Description: "The script to send",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "remove",
				Description: "Remove a channel from the schedule",
				Options:     []*discordgo.ApplicationCommandOption{channelOption("The channel to stop sending to")},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "view",
				Description: "View the scheduled message for a channel",
				Options:     []*discordgo.ApplicationCommandOption{channelOption("The channel to view")},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "View all channels receiving scheduled messages",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "clear",
				Description: "Remove all scheduled messages",
			},
		},
	}
}

func (b *Bot) startScheduler(stop <-chan struct{}, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.runSchedules(b.now())
		case <-stop:
			return
		}
	}
}

// runSchedules sends every schedule that is due at now. A schedule whose
// channel is gone from a cached guild, or that Discord rejects, is removed.
func (b *Bot) runSchedules(now time.Time) {
	ctx, cancel := context.WithTimeout(b.ctx, dispatchTimeout)
	defer cancel()

	due, err := b.store.ClaimDueSchedules(ctx, now)
	if err != nil {
		b.log.Error("claim due schedules", zap.Error(err))
		return
	}
	for _, sch := range due {
		log := b.log.With(zap.String("guild", sch.GuildID), zap.String("channel", sch.ChannelID))

		guild, err := b.state.Guild(sch.GuildID)
		if err != nil {
			log.Debug("schedule guild not cached", zap.Error(err))
			continue
		}
		ch, err := b.state.Channel(sch.ChannelID)
		if err != nil || !isTextChannel(ch) {
			log.Info("dropping schedule for missing channel")
			b.dropSchedule(ctx, log, sch)
			continue
		}

		sc := script.New(sch.Template, []script.Block{script.NewGuild(guild), script.NewChannel(ch)})
		if sc.IsEmpty() {
			continue
		}
		if err := b.sendLimit.Wait(ctx, "global"); err != nil {
			log.Warn("send pacing interrupted", zap.Error(err))
			return
		}
		if _, err := sc.Send(ctx, script.ChannelDestination{Session: b.api, ChannelID: ch.ID}, script.WithAllowedMentions(systemMentions)); err != nil {
			log.Warn("send scheduled message", zap.Error(err))
			var restErr *discordgo.RESTError
			if errors.As(err, &restErr) {
				b.notifyFailure("schedule", guild, nil, ch, sc, restErr)
				b.dropSchedule(ctx, log, sch)
			}
		}
	}
}

func (b *Bot) dropSchedule(ctx context.Context, log *zap.Logger, sch store.Schedule) {
	if _, err := b.store.DeleteSchedule(ctx, sch.GuildID, sch.ChannelID); err != nil {
		log.Error("delete schedule", zap.Error(err))
	}
}

func (b *Bot) onScheduleCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(sub.Options)
	switch sub.Name {
	case "add":
		b.scheduleAdd(ctx, s, i, opts)
	case "remove":
		b.scheduleRemove(ctx, s, i, opts)
	case "view":
		b.scheduleView(ctx, s, i, opts)
	case "list":
		b.scheduleList(ctx, s, i)
	case "clear":
		b.scheduleClear(ctx, s, i)
	}
}

func (b *Bot) scheduleAdd(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, opts options) {
	channelID := opts.channelID("channel")
	minutes := opts.intValue("interval")
	if minutes < minScheduleMinutes || minutes > maxScheduleMinutes {
		b.warn(s, i, fmt.Sprintf("The interval must be between %s and %s",
			formatSeconds(minScheduleMinutes*60), formatSeconds(maxScheduleMinutes*60)))
		return
	}

	sc := script.New(opts.stringValue("template"), b.blocksFor(s, i, channelID))
	if sc.IsEmpty() {
		b.warn(s, i, "That script renders an empty message")
		return
	}
	if _, err := sc.Send(ctx, script.ChannelDestination{Session: s, ChannelID: channelID}, script.WithAllowedMentions(systemMentions)); err != nil {
		b.warn(s, i, fmt.Sprintf("Could not send that script to <#%s>", channelID), codeblock(err.Error(), "yaml"))
		return
	}

	interval := time.Duration(minutes) * time.Minute
	_, err := b.store.UpsertSchedule(ctx, store.Schedule{
		GuildID:   i.GuildID,
		ChannelID: channelID,
		Template:  sc.Template(),
		Interval:  interval,
		NextRun:   b.now().Add(interval),
	})
	if err != nil {
		b.fail(s, i, "save schedule", err)
		return
	}
	b.approve(s, i, fmt.Sprintf("Now dispatching %s message in <#%s> every `%s`",
		article(sc.Format()), channelID, formatSeconds(minutes*60)))
}

func (b *Bot) scheduleRemove(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, opts options) {
	channelID := opts.channelID("channel")
	removed, err := b.store.DeleteSchedule(ctx, i.GuildID, channelID)
	if err != nil {
		b.fail(s, i, "delete schedule", err)
		return
	}
	if !removed {
		b.warn(s, i, fmt.Sprintf("No scheduled message was found for <#%s>", channelID))
		return
	}
	b.approve(s, i, fmt.Sprintf("Removed the scheduled message in <#%s>", channelID))
}

func (b *Bot) scheduleView(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, opts options) {
	channelID := opts.channelID("channel")
	sch, err := b.store.Schedule(ctx, i.GuildID, channelID)
	if err != nil {
		b.fail(s, i, "load schedule", err)
		return
	}
	if sch == nil {
		b.warn(s, i, fmt.Sprintf("No scheduled message was found for <#%s>", channelID))
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Scheduled Message",
		Description: codeblock(sch.Template, "yaml"),
		Color:       colorInfo,
		Fields: []*discordgo.MessageEmbedField{{
			Name: "Interval",
			Value: fmt.Sprintf("Every `%s` in <#%s>\n> Next dispatch <t:%d:R>",
				formatSeconds(int(sch.Interval/time.Second)), channelID, sch.NextRun.Unix()),
		}},
	}
	createFooter(embed, s.State)
	err = respond(s, i, &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{embed},
		Flags:  discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		b.log.Debug("respond to interaction", zap.Error(err))
		return
	}

	sc := script.New(sch.Template, b.blocksFor(s, i, channelID))
	if sc.IsEmpty() {
		return
	}
	followup := script.WebhookDestination{Session: s, ID: i.AppID, Token: i.Token}
	if _, err := sc.Send(ctx, followup, script.WithFlags(discordgo.MessageFlagsEphemeral)); err != nil {
		b.log.Debug("send preview followup", zap.Error(err))
	}
}

func (b *Bot) scheduleList(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	schedules, err := b.store.Schedules(ctx, i.GuildID)
	if err != nil {
		b.fail(s, i, "list schedules", err)
		return
	}
	var lines []string
	for _, sch := range schedules {
		if _, err := s.State.Channel(sch.ChannelID); err != nil {
			continue
		}
		format := strings.ToUpper(string(script.New(sch.Template, nil).Format()))
		lines = append(lines, fmt.Sprintf("<#%s> [`%s`] every `%s`",
			sch.ChannelID, format, formatSeconds(int(sch.Interval/time.Second))))
	}
	if len(lines) == 0 {
		b.warn(s, i, "No channels are receiving scheduled messages")
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Scheduled Messages",
		Description: strings.Join(lines, "\n"),
		Color:       colorInfo,
	}
	createFooter(embed, s.State)
	if err := respond(s, i, &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}); err != nil {
		b.log.Debug("respond to interaction", zap.Error(err))
	}
}

func (b *Bot) scheduleClear(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	n, err := b.store.ClearSchedules(ctx, i.GuildID)
	if err != nil {
		b.fail(s, i, "clear schedules", err)
		return
	}
	if n == 0 {
		b.warn(s, i, "No channels are dispatching scheduled messages")
		return
	}
	b.approve(s, i, "No longer dispatching scheduled messages")
}
