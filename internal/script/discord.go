package script

import (
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

var channelTypeNames = map[discordgo.ChannelType]string{
	discordgo.ChannelTypeGuildText:          "text",
	discordgo.ChannelTypeDM:                 "private",
	discordgo.ChannelTypeGuildVoice:         "voice",
	discordgo.ChannelTypeGroupDM:            "group",
	discordgo.ChannelTypeGuildCategory:      "category",
	discordgo.ChannelTypeGuildNews:          "news",
	discordgo.ChannelTypeGuildNewsThread:    "news_thread",
	discordgo.ChannelTypeGuildPublicThread:  "public_thread",
	discordgo.ChannelTypeGuildPrivateThread: "private_thread",
	discordgo.ChannelTypeGuildStageVoice:    "stage_voice",
	discordgo.ChannelTypeGuildForum:         "forum",
}

func snowflakeTime(id string) time.Time {
	t, err := discordgo.SnowflakeTimestamp(id)
	if err != nil {
		return time.Time{}
	}
	return t
}

func userTag(u *discordgo.User) string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

func baseFields(id, name, mention string) []Field {
	created := snowflakeTime(id)
	return []Field{
		F("id", id),
		F("name", name),
		F("mention", mention),
		F("created_at", created),
		F("created_at_timestamp", created),
	}
}

// byPosition sorts roles highest first.
func byPosition(roles []*discordgo.Role) []*discordgo.Role {
	sorted := slices.Clone(roles)
	slices.SortStableFunc(sorted, func(a, b *discordgo.Role) int {
		return b.Position - a.Position
	})
	return sorted
}

func roleMentions(roles []*discordgo.Role) (mentions, ids string) {
	m := make([]string, 0, len(roles))
	i := make([]string, 0, len(roles))
	for _, r := range roles {
		m = append(m, r.Mention())
		i = append(i, r.ID)
	}
	return strings.Join(m, ", "), strings.Join(i, ", ")
}

type userBlock struct {
	user *discordgo.User
}

// NewUser exposes a Discord user as {user}.
func NewUser(u *discordgo.User) Block {
	if u == nil {
		return nil
	}
	return &userBlock{user: u}
}

func (b *userBlock) Kind() Kind { return KindUser }

func (b *userBlock) String() string { return userTag(b.user) }

func (b *userBlock) Fields() []Field {
	u := b.user
	display := u.GlobalName
	if display == "" {
		display = u.Username
	}
	fields := baseFields(u.ID, u.Username, u.Mention())
	return append(fields,
		F("display_name", display),
		F("global_name", u.GlobalName),
		F("discriminator", u.Discriminator),
		F("avatar", Asset(u.AvatarURL(""))),
		F("avatar_url", Asset(u.AvatarURL(""))),
		F("display_avatar", Asset(u.AvatarURL(""))),
		F("banner", Asset(u.BannerURL(""))),
		F("accent_color", Color(u.AccentColor)),
		F("bot", u.Bot),
	)
}

type memberBlock struct {
	guild  *discordgo.Guild
	member *discordgo.Member
}

// NewMember exposes a guild member as {user}. The guild resolves role
// mentions and the top role; it may be nil.
func NewMember(guild *discordgo.Guild, m *discordgo.Member) Block {
	if m == nil || m.User == nil {
		return nil
	}
	return &memberBlock{guild: guild, member: m}
}

func (b *memberBlock) Kind() Kind { return KindUser }

func (b *memberBlock) String() string { return userTag(b.member.User) }

// roles returns the member's roles highest first, without @everyone.
func (b *memberBlock) roles() []*discordgo.Role {
	if b.guild == nil {
		return nil
	}
	var roles []*discordgo.Role
	for _, r := range b.guild.Roles {
		if r.ID != b.guild.ID && slices.Contains(b.member.Roles, r.ID) {
			roles = append(roles, r)
		}
	}
	return byPosition(roles)
}

func (b *memberBlock) everyone() *discordgo.Role {
	if b.guild == nil {
		return nil
	}
	for _, r := range b.guild.Roles {
		if r.ID == b.guild.ID {
			return r
		}
	}
	return nil
}

func (b *memberBlock) Fields() []Field {
	m, u := b.member, b.member.User
	display := m.Nick
	if display == "" {
		display = u.GlobalName
	}
	if display == "" {
		display = u.Username
	}

	roles := b.roles()
	top := b.everyone()
	if len(roles) > 0 {
		top = roles[0]
	}
	var color Color
	for _, r := range roles {
		if r.Color != 0 {
			color = Color(r.Color)
			break
		}
	}
	joined := m.JoinedAt
	if joined.IsZero() {
		joined = snowflakeTime(u.ID)
	}
	avatar := Asset(m.AvatarURL(""))
	mentions, ids := roleMentions(roles)

	fields := baseFields(u.ID, u.Username, u.Mention())
	fields = append(fields,
		F("color", color),
		F("colour", color),
		F("nick", display),
		F("display_name", display),
		F("avatar", avatar),
		F("avatar_url", avatar),
		F("display_avatar", avatar),
		F("bot", u.Bot),
		F("booster", m.PremiumSince != nil),
		F("booster_since", m.PremiumSince),
		F("booster_since_timestamp", m.PremiumSince),
		F("joined_at", joined),
		F("joined_at_timestamp", joined),
		F("roles", mentions),
		F("role_ids", ids),
		F("role_count", len(roles)),
	)
	if top != nil {
		fields = append(fields, F("top_role", NewRole(top)))
	}
	return fields
}

type guildBlock struct {
	guild *discordgo.Guild
}

// NewGuild exposes a guild as {guild}.
func NewGuild(g *discordgo.Guild) Block {
	if g == nil {
		return nil
	}
	return &guildBlock{guild: g}
}

func (b *guildBlock) Kind() Kind { return KindGuild }

func (b *guildBlock) String() string { return b.guild.Name }

// Stickers returns the stickers owned by the guild.
func (b *guildBlock) Stickers() []*discordgo.Sticker { return b.guild.Stickers }

func (b *guildBlock) channels(types ...discordgo.ChannelType) (mentions string, count int) {
	var m []string
	for _, ch := range b.guild.Channels {
		if slices.Contains(types, ch.Type) {
			m = append(m, ch.Mention())
		}
	}
	return strings.Join(m, ", "), len(m)
}

func (b *guildBlock) owner() Block {
	for _, m := range b.guild.Members {
		if m.User != nil && m.User.ID == b.guild.OwnerID {
			return NewMember(b.guild, m)
		}
	}
	return nil
}

// randomMember picks a member on every call; guilds are not cached between
// renders.
func (b *guildBlock) randomMember() Block {
	members := b.guild.Members
	if len(members) == 0 {
		return nil
	}
	return NewMember(b.guild, members[rand.IntN(len(members))])
}

func (b *guildBlock) Fields() []Field {
	g := b.guild
	text, textCount := b.channels(discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews)
	voice, voiceCount := b.channels(discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice)
	categories, categoryCount := b.channels(discordgo.ChannelTypeGuildCategory)
	roles, roleIDs := roleMentions(byPosition(g.Roles))

	var splash Asset
	if g.Splash != "" {
		splash = Asset(discordgo.EndpointGuildSplash(g.ID, g.Splash))
	}
	memberCount := g.MemberCount
	if memberCount == 0 {
		memberCount = len(g.Members)
	}

	fields := baseFields(g.ID, g.Name, g.ID)
	return append(fields,
		F("icon", Asset(g.IconURL(""))),
		F("icon_url", Asset(g.IconURL(""))),
		F("banner", Asset(g.BannerURL(""))),
		F("banner_url", Asset(g.BannerURL(""))),
		F("splash", splash),
		F("splash_url", splash),
		F("description", g.Description),
		F("vanity", g.VanityURLCode),
		F("owner_id", g.OwnerID),
		F("owner", b.owner()),
		F("roles", roles),
		F("role_ids", roleIDs),
		F("text_channels", text),
		F("voice_channels", voice),
		F("category_channels", categories),
		F("text_channel_count", textCount),
		F("voice_channel_count", voiceCount),
		F("category_channel_count", categoryCount),
		F("member_count", memberCount),
		F("emoji_count", len(g.Emojis)),
		F("sticker_count", len(g.Stickers)),
		F("role_count", len(g.Roles)),
		F("boost_count", g.PremiumSubscriptionCount),
		F("boost_tier", int(g.PremiumTier)),
		F("member", b.randomMember()),
	)
}

type channelBlock struct {
	channel *discordgo.Channel
}

// NewChannel exposes a channel or thread as {channel}.
func NewChannel(ch *discordgo.Channel) Block {
	if ch == nil {
		return nil
	}
	return &channelBlock{channel: ch}
}

func (b *channelBlock) Kind() Kind { return KindChannel }

func (b *channelBlock) String() string { return b.channel.Name }

func (b *channelBlock) Fields() []Field {
	ch := b.channel
	fields := baseFields(ch.ID, ch.Name, ch.Mention())
	fields = append(fields,
		F("type", channelTypeNames[ch.Type]),
		F("category_id", ch.ParentID),
	)
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews, discordgo.ChannelTypeGuildForum:
		slowmode := time.Duration(ch.RateLimitPerUser) * time.Second
		fields = append(fields,
			F("topic", ch.Topic),
			F("nsfw", ch.NSFW),
			F("position", ch.Position),
			F("slowmode", slowmode),
			F("slowmode_delay", ch.RateLimitPerUser),
		)
	case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
		fields = append(fields,
			F("position", ch.Position),
			F("bitrate", ch.Bitrate),
			F("user_limit", ch.UserLimit),
		)
	}
	return fields
}

type roleBlock struct {
	role *discordgo.Role
}

// NewRole exposes a role as {role}.
func NewRole(r *discordgo.Role) Block {
	if r == nil {
		return nil
	}
	return &roleBlock{role: r}
}

func (b *roleBlock) Kind() Kind { return KindRole }

func (b *roleBlock) String() string { return b.role.Name }

func (b *roleBlock) Fields() []Field {
	r := b.role
	fields := baseFields(r.ID, r.Name, r.Mention())
	return append(fields,
		F("color", Color(r.Color)),
		F("colour", Color(r.Color)),
		F("position", r.Position),
		F("hoist", r.Hoist),
		F("mentionable", r.Mentionable),
		F("managed", r.Managed),
	)
}
