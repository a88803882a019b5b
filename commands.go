package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"scriptbot/internal/script"
	"scriptbot/internal/store"
)

const (
	colorApprove = 0x78b159
	colorWarn    = 0xff0000
	colorInfo    = 0x7289DA

	minDeleteAfter = 3
	maxDeleteAfter = 360
)

var manageChannels int64 = discordgo.PermissionManageChannels

var textChannelTypes = []discordgo.ChannelType{
	discordgo.ChannelTypeGuildText,
	discordgo.ChannelTypeGuildNews,
	discordgo.ChannelTypeGuildPublicThread,
	discordgo.ChannelTypeGuildPrivateThread,
	discordgo.ChannelTypeGuildNewsThread,
}

func channelOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         "channel",
		Description:  description,
		ChannelTypes: textChannelTypes,
		Required:     true,
	}
}

// eventCommand builds the management group for one system message event.
func eventCommand(event store.Event) *discordgo.ApplicationCommand {
	name := string(event)
	minDelete := float64(minDeleteAfter)
	subcommands := []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "add",
			Description: fmt.Sprintf("Add a channel to receive %s messages", name),
			Options: []*discordgo.ApplicationCommandOption{
				channelOption(fmt.Sprintf("The channel to send %s messages in", name)),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "template",
					Description: "The script to send",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "delete_after",
					Description: "Delete the message after this many seconds",
					MinValue:    &minDelete,
					MaxValue:    maxDeleteAfter,
				},
			},
		},
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "remove",
			Description: fmt.Sprintf("Remove an existing %s message", name),
			Options:     []*discordgo.ApplicationCommandOption{channelOption("The channel to stop sending to")},
		},
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "view",
			Description: fmt.Sprintf("View the %s message for a channel", name),
			Options:     []*discordgo.ApplicationCommandOption{channelOption("The channel to view")},
		},
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "list",
			Description: fmt.Sprintf("View all channels receiving %s messages", name),
		},
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "clear",
			Description: fmt.Sprintf("Remove all %s messages", name),
		},
	}
	if event == store.EventWelcome {
		subcommands = append(subcommands, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "removal",
			Description: "Toggle deletion of welcome messages when the member leaves",
		})
	}
	return &discordgo.ApplicationCommand{
		Name:                     name,
		Description:              fmt.Sprintf("Configure %s messages", name),
		DefaultMemberPermissions: &manageChannels,
		Options:                  subcommands,
	}
}

func applicationCommands() []*discordgo.ApplicationCommand {
	commands := make([]*discordgo.ApplicationCommand, 0, len(store.Events)+4)
	for _, event := range store.Events {
		commands = append(commands, eventCommand(event))
	}
	return append(commands,
		scheduleCommand(),
		&discordgo.ApplicationCommand{
			Name:        "script",
			Description: "Work with message scripts",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "preview",
					Description: "Render a script against yourself and this channel",
					Options: []*discordgo.ApplicationCommandOption{{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "template",
						Description: "The script to render",
						Required:    true,
					}},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "import",
					Description: "Build a script from an existing message",
					Options: []*discordgo.ApplicationCommandOption{
						channelOption("The channel the message is in"),
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "message_id",
							Description: "The message to copy",
							Required:    true,
						},
					},
				},
			},
		},
		&discordgo.ApplicationCommand{
			Name:        "about",
			Description: "Show information about the bot",
		},
		&discordgo.ApplicationCommand{
			Name:        "owner",
			Description: "Owner-only command: lists guilds the bot is in",
		},
	)
}

// syncCommands replaces a guild's commands with the current set.
func (b *Bot) syncCommands(s *discordgo.Session, guildID string) error {
	_, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, guildID, applicationCommands())
	return err
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) options {
	m := make(options, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func (o options) stringValue(name string) string {
	if v, ok := o[name]; ok {
		return v.StringValue()
	}
	return ""
}

func (o options) intValue(name string) int {
	if v, ok := o[name]; ok {
		return int(v.IntValue())
	}
	return 0
}

func (o options) channelID(name string) string {
	if v, ok := o[name]; ok {
		return v.ChannelValue(nil).ID
	}
	return ""
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

func (b *Bot) reply(s *discordgo.Session, i *discordgo.InteractionCreate, color int, lines ...string) {
	embed := &discordgo.MessageEmbed{
		Description: strings.TrimSpace(strings.Join(lines, "\n")),
		Color:       color,
	}
	err := respond(s, i, &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{embed},
		Flags:  discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		b.log.Debug("respond to interaction", zap.Error(err))
	}
}

func (b *Bot) approve(s *discordgo.Session, i *discordgo.InteractionCreate, line string, extra ...string) {
	b.reply(s, i, colorApprove, append([]string{"✅ " + line}, extra...)...)
}

func (b *Bot) warn(s *discordgo.Session, i *discordgo.InteractionCreate, line string, extra ...string) {
	b.reply(s, i, colorWarn, append([]string{"⚠️ " + line}, extra...)...)
}

func invoker(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// article picks "a" or "an" for a script format.
func article(f script.Format) string {
	if strings.ContainsRune("aeiou", rune(f[0])) {
		return "an " + string(f)
	}
	return "a " + string(f)
}

func formatSeconds(seconds int) string {
	d := time.Duration(seconds) * time.Second
	now := time.Now()
	return strings.TrimSpace(humanize.RelTime(now, now.Add(d), "", ""))
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	ctx, cancel := context.WithTimeout(b.ctx, dispatchTimeout)
	defer cancel()

	switch data.Name {
	case "about":
		b.about(s, i)
		return
	case "owner":
		b.owner(s, i)
		return
	}

	if i.GuildID == "" || i.Member == nil || len(data.Options) == 0 {
		b.warn(s, i, "This command can only be used in a server")
		return
	}
	sub := data.Options[0]
	opts := optionMap(sub.Options)

	if data.Name == "script" {
		switch sub.Name {
		case "preview":
			b.scriptPreview(ctx, s, i, opts)
		case "import":
			b.scriptImport(ctx, s, i, opts)
		}
		return
	}

	event := store.Event(data.Name)
	if !event.Valid() && data.Name != "schedule" {
		return
	}
	if i.Member.Permissions&discordgo.PermissionManageChannels == 0 {
		b.warn(s, i, "You need the **Manage Channels** permission to use this command")
		return
	}
	if data.Name == "schedule" {
		b.onScheduleCommand(ctx, s, i, sub)
		return
	}

	switch sub.Name {
	case "add":
		b.eventAdd(ctx, s, i, event, opts)
	case "remove":
		b.eventRemove(ctx, s, i, event, opts)
	case "view":
		b.eventView(ctx, s, i, event, opts)
	case "list":
		b.eventList(ctx, s, i, event)
	case "clear":
		b.eventClear(ctx, s, i, event)
	case "removal":
		b.welcomeRemoval(ctx, s, i)
	}
}

func (b *Bot) eventAdd(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, event store.Event, opts options) {
	channelID := opts.channelID("channel")
	sc := script.New(opts.stringValue("template"), nil)
	if sc.IsEmpty() {
		b.warn(s, i, "That script renders an empty message")
		return
	}
	deleteAfter := opts.intValue("delete_after")
	if deleteAfter != 0 && (deleteAfter < minDeleteAfter || deleteAfter > maxDeleteAfter) {
		b.warn(s, i, fmt.Sprintf("Delete after must be between %d and %d seconds", minDeleteAfter, maxDeleteAfter))
		return
	}

	existing, err := b.store.Messages(ctx, i.GuildID, event)
	if err != nil {
		b.fail(s, i, "list system messages", err)
		return
	}
	replacing, live := false, 0
	for _, m := range existing {
		if m.ChannelID == channelID {
			replacing = true
		}
		if _, err := s.State.Channel(m.ChannelID); err == nil {
			live++
		}
	}
	if !replacing && live >= store.MaxMessagesPerEvent {
		b.warn(s, i, fmt.Sprintf("You can only have up to %d %s messages", store.MaxMessagesPerEvent, event))
		return
	}

	created, err := b.store.UpsertMessage(ctx, store.Message{
		GuildID:     i.GuildID,
		ChannelID:   channelID,
		Event:       event,
		Template:    sc.Template(),
		DeleteAfter: deleteAfter,
	})
	if err != nil {
		b.fail(s, i, "save system message", err)
		return
	}

	line := fmt.Sprintf("Updated the %s message for <#%s>", event, channelID)
	if created {
		line = fmt.Sprintf("Added %s %s message to <#%s>", article(sc.Format()), event, channelID)
	}
	var extra string
	if deleteAfter > 0 {
		extra = fmt.Sprintf("The message will be deleted after `%s`", formatSeconds(deleteAfter))
	}
	b.approve(s, i, line, extra)
}

func (b *Bot) eventRemove(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, event store.Event, opts options) {
	channelID := opts.channelID("channel")
	removed, err := b.store.DeleteMessage(ctx, i.GuildID, channelID, event)
	if err != nil {
		b.fail(s, i, "delete system message", err)
		return
	}
	if !removed {
		b.warn(s, i, fmt.Sprintf("No %s message was found for <#%s>", event, channelID))
		return
	}
	b.approve(s, i, fmt.Sprintf("No longer sending %s messages to <#%s>", event, channelID))
}

func (b *Bot) eventView(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, event store.Event, opts options) {
	channelID := opts.channelID("channel")
	record, err := b.store.Message(ctx, i.GuildID, channelID, event)
	if err != nil {
		b.fail(s, i, "load system message", err)
		return
	}
	if record == nil {
		b.warn(s, i, fmt.Sprintf("No %s message was found for <#%s>", event, channelID))
		return
	}

	err = respond(s, i, &discordgo.InteractionResponseData{
		Content: codeblock(record.Template, "yaml"),
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		b.log.Debug("respond to interaction", zap.Error(err))
		return
	}

	sc := script.New(record.Template, b.blocksFor(s, i, channelID))
	if sc.IsEmpty() {
		return
	}
	followup := script.WebhookDestination{Session: s, ID: i.AppID, Token: i.Token}
	if _, err := sc.Send(ctx, followup, script.WithFlags(discordgo.MessageFlagsEphemeral)); err != nil {
		b.log.Debug("send preview followup", zap.Error(err))
	}
}

func (b *Bot) eventList(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, event store.Event) {
	records, err := b.store.Messages(ctx, i.GuildID, event)
	if err != nil {
		b.fail(s, i, "list system messages", err)
		return
	}
	var lines []string
	for _, r := range records {
		if _, err := s.State.Channel(r.ChannelID); err != nil {
			continue
		}
		line := fmt.Sprintf("<#%s> [`%s`]", r.ChannelID, strings.ToUpper(string(script.New(r.Template, nil).Format())))
		if r.DeleteAfter > 0 {
			line += fmt.Sprintf(" deleted after `%s`", formatSeconds(r.DeleteAfter))
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		b.warn(s, i, fmt.Sprintf("No channels are receiving %s messages", event))
		return
	}

	title := strings.ToUpper(string(event)[:1]) + string(event)[1:] + " Channels"
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: strings.Join(lines, "\n"),
		Color:       colorInfo,
	}
	createFooter(embed, s.State)
	if err := respond(s, i, &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}); err != nil {
		b.log.Debug("respond to interaction", zap.Error(err))
	}
}

func (b *Bot) eventClear(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, event store.Event) {
	n, err := b.store.ClearMessages(ctx, i.GuildID, event)
	if err != nil {
		b.fail(s, i, "clear system messages", err)
		return
	}
	if n == 0 {
		b.warn(s, i, fmt.Sprintf("No channels are receiving %s messages", event))
		return
	}
	b.approve(s, i, fmt.Sprintf("No longer sending %s messages", event))
}

func (b *Bot) welcomeRemoval(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	settings, err := b.store.Settings(ctx, i.GuildID)
	if err != nil {
		b.fail(s, i, "load guild settings", err)
		return
	}
	enabled := !settings.WelcomeRemoval
	if err := b.store.SetWelcomeRemoval(ctx, i.GuildID, enabled); err != nil {
		b.fail(s, i, "save guild settings", err)
		return
	}
	state := "no longer"
	if enabled {
		state = "now"
	}
	b.approve(s, i, fmt.Sprintf("Welcome messages will %s be deleted when a member leaves", state))
}

// blocksFor builds the guild, channel and member context of an interaction.
func (b *Bot) blocksFor(s *discordgo.Session, i *discordgo.InteractionCreate, channelID string) []script.Block {
	var blocks []script.Block
	guild, err := s.State.Guild(i.GuildID)
	if err == nil {
		blocks = append(blocks, script.NewGuild(guild))
	}
	if ch, err := s.State.Channel(channelID); err == nil {
		blocks = append(blocks, script.NewChannel(ch))
	}
	if i.Member != nil {
		blocks = append(blocks, script.NewMember(guild, i.Member))
	}
	return blocks
}

func (b *Bot) scriptPreview(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, opts options) {
	sc := script.New(opts.stringValue("template"), b.blocksFor(s, i, i.ChannelID))
	if sc.IsEmpty() {
		b.warn(s, i, "That script renders an empty message")
		return
	}
	err := respond(s, i, &discordgo.InteractionResponseData{
		Content:    sc.Content(),
		Embeds:     sc.Embeds(),
		Components: sc.Components(),
		Flags:      discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		b.warn(s, i, "Discord rejected that script", codeblock(err.Error(), "yaml"))
	}
}

func (b *Bot) scriptImport(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, opts options) {
	channelID := opts.channelID("channel")
	msg, err := s.ChannelMessage(channelID, strings.TrimSpace(opts.stringValue("message_id")), discordgo.WithContext(ctx))
	if err != nil {
		b.warn(s, i, fmt.Sprintf("Could not fetch that message from <#%s>", channelID))
		return
	}
	sc := script.FromMessage(msg)
	if sc.Template() == "" {
		b.warn(s, i, "That message has nothing to copy")
		return
	}

	data := &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	if block := codeblock(sc.Template(), "yaml"); len(block) <= 2000 {
		data.Content = block
	} else {
		data.Files = []*discordgo.File{{
			Name:        "script.txt",
			ContentType: "text/plain",
			Reader:      strings.NewReader(sc.Template()),
		}}
	}
	if err := respond(s, i, data); err != nil {
		b.log.Debug("respond to interaction", zap.Error(err))
	}
}

func (b *Bot) about(s *discordgo.Session, i *discordgo.InteractionCreate) {
	embed := &discordgo.MessageEmbed{
		Title:       "About",
		Description: "Greets new and returning members, says goodbye, thanks boosters and posts recurring messages, all built from scripts.",
		Color:       colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "📜 Scripts",
				Value: "- `{user}`, `{guild.name}`, `{channel.mention}` insert details about the event\n" +
					"- `{title: ...}`, `{description: ...}`, `{field: name && value}` build an embed\n" +
					"- `{button: label && url}` adds a link button, `{embed}` starts another embed",
			},
			{
				Name:  "🛠️ Commands",
				Value: "`/welcome`, `/rejoin`, `/goodbye`, `/boost`, `/schedule` and `/script`",
			},
		},
	}
	createFooter(embed, s.State)
	if err := respond(s, i, &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}); err != nil {
		b.log.Debug("respond to interaction", zap.Error(err))
	}
}

// owner lists the guilds the bot is in for the configured owner.
func (b *Bot) owner(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := invoker(i)
	if b.cfg.OwnerID == "" || user == nil || user.ID != b.cfg.OwnerID {
		b.warn(s, i, "You are not authorized to use this command.")
		return
	}

	var sb strings.Builder
	for _, g := range s.State.Guilds {
		fmt.Fprintf(&sb, "%s (ID: %s) %s members\n", g.Name, g.ID, humanize.Comma(int64(g.MemberCount)))
	}
	if sb.Len() == 0 {
		sb.WriteString("Bot is not in any guilds.")
	}
	err := respond(s, i, &discordgo.InteractionResponseData{
		Content: sb.String(),
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		b.log.Debug("respond to interaction", zap.Error(err))
	}
}

func (b *Bot) fail(s *discordgo.Session, i *discordgo.InteractionCreate, action string, err error) {
	b.log.Error(action, zap.String("guild", i.GuildID), zap.Error(err))
	b.warn(s, i, "Something went wrong, try again later")
}
