package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"scriptbot/internal/store"
)

type sentCall struct {
	channelID string
	data      *discordgo.MessageSend
}

// fakeDiscord records every call the bot makes and fails sends to the
// channels listed in sendErr.
type fakeDiscord struct {
	mu      sync.Mutex
	sendErr map[string]error
	sent    []sentCall
	deleted []string
	bulk    map[string][]string
	dms     []string
	nextID  int
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{sendErr: map[string]error{}, bulk: map[string][]string{}}
}

func (f *fakeDiscord) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[channelID]; err != nil {
		return nil, err
	}
	f.sent = append(f.sent, sentCall{channelID: channelID, data: data})
	f.nextID++
	return &discordgo.Message{ID: fmt.Sprintf("m%d", f.nextID), ChannelID: channelID}, nil
}

func (f *fakeDiscord) ChannelMessageEditComplex(m *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return &discordgo.Message{ID: m.ID, ChannelID: m.Channel}, nil
}

func (f *fakeDiscord) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return &discordgo.Message{ID: "webhook"}, nil
}

func (f *fakeDiscord) WebhookMessageEdit(webhookID, token, messageID string, data *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return &discordgo.Message{ID: messageID}, nil
}

func (f *fakeDiscord) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, channelID+"/"+messageID)
	return nil
}

func (f *fakeDiscord) ChannelMessagesBulkDelete(channelID string, messages []string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulk[channelID] = append(f.bulk[channelID], messages...)
	return nil
}

func (f *fakeDiscord) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = append(f.dms, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (f *fakeDiscord) UpdateStatusComplex(discordgo.UpdateStatusData) error { return nil }

// sentTo returns the messages delivered to channelID.
func (f *fakeDiscord) sentTo(channelID string) []*discordgo.MessageSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*discordgo.MessageSend
	for _, c := range f.sent {
		if c.channelID == channelID {
			out = append(out, c.data)
		}
	}
	return out
}

func testState(t *testing.T) *discordgo.State {
	t.Helper()
	state := discordgo.NewState()
	require.NoError(t, state.GuildAdd(&discordgo.Guild{
		ID:          "g",
		Name:        "Test Guild",
		OwnerID:     "owner",
		MemberCount: 42,
		Channels: []*discordgo.Channel{
			{ID: "c1", GuildID: "g", Name: "welcome", Type: discordgo.ChannelTypeGuildText},
			{ID: "c2", GuildID: "g", Name: "lobby", Type: discordgo.ChannelTypeGuildText},
			{ID: "voice", GuildID: "g", Name: "voice", Type: discordgo.ChannelTypeGuildVoice},
		},
	}))
	return state
}

type scheduledDelete struct {
	after time.Duration
	run   func()
}

func testBot(t *testing.T) (*Bot, *fakeDiscord, *[]scheduledDelete) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	api := newFakeDiscord()
	b := newBot(context.Background(), &Config{}, zaptest.NewLogger(t), api, testState(t), db)
	var timers []scheduledDelete
	b.afterFunc = func(d time.Duration, f func()) {
		timers = append(timers, scheduledDelete{after: d, run: f})
	}
	return b, api, &timers
}

func newcomer() *discordgo.Member {
	return &discordgo.Member{
		GuildID: "g",
		User:    &discordgo.User{ID: "u1", Username: "newcomer"},
	}
}

func addMessage(t *testing.T, b *Bot, m store.Message) {
	t.Helper()
	m.GuildID = "g"
	_, err := b.store.UpsertMessage(context.Background(), m)
	require.NoError(t, err)
}

func TestDispatchSendsToTextChannels(t *testing.T) {
	b, api, timers := testBot(t)
	addMessage(t, b, store.Message{ChannelID: "c1", Event: store.EventWelcome, Template: "{content: hi {user.mention} in {guild.name}}"})
	addMessage(t, b, store.Message{ChannelID: "c2", Event: store.EventWelcome, Template: "{title: Welcome {user.name}}"})
	addMessage(t, b, store.Message{ChannelID: "voice", Event: store.EventWelcome, Template: "never"})
	addMessage(t, b, store.Message{ChannelID: "gone", Event: store.EventWelcome, Template: "never"})

	assert.True(t, b.dispatch(store.EventWelcome, "g", newcomer()))

	c1 := api.sentTo("c1")
	require.Len(t, c1, 1)
	assert.Equal(t, "hi <@u1> in Test Guild", c1[0].Content)
	assert.Equal(t, systemMentions, c1[0].AllowedMentions)
	assert.NotContains(t, c1[0].AllowedMentions.Parse, discordgo.AllowedMentionTypeEveryone)

	c2 := api.sentTo("c2")
	require.Len(t, c2, 1)
	require.Len(t, c2[0].Embeds, 1)
	assert.Equal(t, "Welcome newcomer", c2[0].Embeds[0].Title)

	assert.Empty(t, api.sentTo("voice"))
	assert.Empty(t, *timers)
	assert.Len(t, b.welcomes.take("g", "u1"), 2, "welcomes without delete_after are remembered")
}

func TestDispatchWithoutTemplates(t *testing.T) {
	b, api, _ := testBot(t)

	assert.False(t, b.dispatch(store.EventGoodbye, "g", newcomer()))
	assert.Empty(t, api.sent)
}

func TestDispatchSchedulesDeletion(t *testing.T) {
	b, api, timers := testBot(t)
	addMessage(t, b, store.Message{ChannelID: "c1", Event: store.EventWelcome, Template: "short lived", DeleteAfter: 10})

	b.dispatch(store.EventWelcome, "g", newcomer())

	require.Len(t, *timers, 1)
	assert.Equal(t, 10*time.Second, (*timers)[0].after)
	assert.Empty(t, api.deleted)
	(*timers)[0].run()
	assert.Equal(t, []string{"c1/m1"}, api.deleted)

	assert.Nil(t, b.welcomes.take("g", "u1"), "self-deleting welcomes are not remembered")
}

func TestDispatchOnlyRemembersWelcomes(t *testing.T) {
	b, _, _ := testBot(t)
	addMessage(t, b, store.Message{ChannelID: "c1", Event: store.EventGoodbye, Template: "bye"})

	b.dispatch(store.EventGoodbye, "g", newcomer())
	assert.Nil(t, b.welcomes.take("g", "u1"))
}

func TestDispatchFailureNotifiesOwner(t *testing.T) {
	b, api, _ := testBot(t)
	api.sendErr["c1"] = &discordgo.RESTError{
		ResponseBody: []byte(`{"code": 50013}`),
		Message:      &discordgo.APIErrorMessage{Code: 50013, Message: "Missing Permissions"},
	}
	addMessage(t, b, store.Message{ChannelID: "c1", Event: store.EventWelcome, Template: "{title: broken}"})
	addMessage(t, b, store.Message{ChannelID: "c2", Event: store.EventWelcome, Template: "still sent"})

	b.dispatch(store.EventWelcome, "g", newcomer())

	assert.Equal(t, []string{"owner"}, api.dms)
	dm := api.sentTo("dm-owner")
	require.Len(t, dm, 1)
	require.Len(t, dm[0].Embeds, 1)
	embed := dm[0].Embeds[0]
	assert.Equal(t, "Welcome Failure", embed.Title)
	assert.Contains(t, embed.Description, "50013: Missing Permissions")
	assert.Contains(t, embed.Description, "`newcomer` in <#c1>")
	require.Len(t, embed.Fields, 1)
	assert.Contains(t, embed.Fields[0].Value, "{title: broken}")

	gone, err := b.store.Message(context.Background(), "g", "c1", store.EventWelcome)
	require.NoError(t, err)
	assert.Nil(t, gone, "a rejected template is removed")
	assert.Len(t, api.sentTo("c2"), 1)
}

func TestDispatchFailureAttachesLongScript(t *testing.T) {
	b, api, _ := testBot(t)
	api.sendErr["c1"] = &discordgo.RESTError{ResponseBody: []byte("bad request")}
	long := "{description: "
	for len(long) < 1200 {
		long += "lorem ipsum "
	}
	addMessage(t, b, store.Message{ChannelID: "c1", Event: store.EventBoost, Template: long + "}"})

	b.dispatch(store.EventBoost, "g", newcomer())

	dm := api.sentTo("dm-owner")
	require.Len(t, dm, 1)
	assert.Empty(t, dm[0].Embeds[0].Fields)
	require.Len(t, dm[0].Files, 1)
	assert.Equal(t, "script.txt", dm[0].Files[0].Name)
	assert.Contains(t, dm[0].Embeds[0].Description, "bad request")
}

func TestDispatchKeepsTemplateOnTransportError(t *testing.T) {
	b, api, _ := testBot(t)
	api.sendErr["c1"] = errors.New("connection reset")
	addMessage(t, b, store.Message{ChannelID: "c1", Event: store.EventWelcome, Template: "hi"})

	b.dispatch(store.EventWelcome, "g", newcomer())

	assert.Empty(t, api.dms)
	kept, err := b.store.Message(context.Background(), "g", "c1", store.EventWelcome)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestRemoveWelcomes(t *testing.T) {
	b, api, _ := testBot(t)
	b.welcomes.add("g", "u1", sentMessage{"c1", "m1"}, sentMessage{"c2", "m2"}, sentMessage{"c2", "m3"})

	b.removeWelcomes("g", "u1")
	assert.Empty(t, api.deleted, "removal is off by default")
	assert.Empty(t, api.bulk)

	require.NoError(t, b.store.SetWelcomeRemoval(context.Background(), "g", true))
	b.welcomes.add("g", "u1", sentMessage{"c1", "m1"}, sentMessage{"c2", "m2"}, sentMessage{"c2", "m3"})
	b.removeWelcomes("g", "u1")

	assert.Equal(t, []string{"c1/m1"}, api.deleted)
	assert.Equal(t, map[string][]string{"c2": {"m2", "m3"}}, api.bulk)
}

func TestMemberLeaveRemovesWelcome(t *testing.T) {
	b, api, _ := testBot(t)
	require.NoError(t, b.store.SetWelcomeRemoval(context.Background(), "g", true))
	addMessage(t, b, store.Message{ChannelID: "c1", Event: store.EventWelcome, Template: "hi"})
	addMessage(t, b, store.Message{ChannelID: "c2", Event: store.EventGoodbye, Template: "bye {user.name}"})

	b.onGuildMemberAdd(nil, &discordgo.GuildMemberAdd{Member: newcomer()})
	b.onGuildMemberRemove(nil, &discordgo.GuildMemberRemove{Member: newcomer()})

	assert.Equal(t, []string{"c1/m1"}, api.deleted)
	goodbye := api.sentTo("c2")
	require.Len(t, goodbye, 1)
	assert.Equal(t, "bye newcomer", goodbye[0].Content)
}

func TestRejoinReplacesWelcome(t *testing.T) {
	b, api, _ := testBot(t)
	addMessage(t, b, store.Message{ChannelID: "c1", Event: store.EventWelcome, Template: "welcome"})
	addMessage(t, b, store.Message{ChannelID: "c2", Event: store.EventRejoin, Template: "welcome back"})

	b.onGuildMemberAdd(nil, &discordgo.GuildMemberAdd{Member: newcomer()})
	require.Len(t, api.sentTo("c1"), 1)
	assert.Empty(t, api.sentTo("c2"))

	b.onGuildMemberRemove(nil, &discordgo.GuildMemberRemove{Member: newcomer()})
	b.onGuildMemberAdd(nil, &discordgo.GuildMemberAdd{Member: newcomer()})

	assert.Len(t, api.sentTo("c1"), 1, "no second welcome")
	rejoin := api.sentTo("c2")
	require.Len(t, rejoin, 1)
	assert.Equal(t, "welcome back", rejoin[0].Content)
	assert.Len(t, b.welcomes.take("g", "u1"), 1, "rejoin messages are removable like welcomes")
}

func TestRejoinFallsBackToWelcome(t *testing.T) {
	b, api, _ := testBot(t)
	addMessage(t, b, store.Message{ChannelID: "c1", Event: store.EventWelcome, Template: "welcome"})

	b.onGuildMemberRemove(nil, &discordgo.GuildMemberRemove{Member: newcomer()})
	b.onGuildMemberAdd(nil, &discordgo.GuildMemberAdd{Member: newcomer()})

	assert.Len(t, api.sentTo("c1"), 1)
}

func TestDepartures(t *testing.T) {
	clock := time.Unix(0, 0)
	d := newDepartures(time.Minute)
	d.now = func() time.Time { return clock }

	d.add("g", "u")
	assert.True(t, d.take("g", "u"))
	assert.False(t, d.take("g", "u"), "take forgets the member")

	d.add("g", "u")
	clock = clock.Add(2 * time.Minute)
	assert.False(t, d.take("g", "u"))

	d.add("g", "a")
	clock = clock.Add(2 * time.Minute)
	d.add("g", "b")
	assert.Len(t, d.left, 1, "stale departures are swept on add")
}

func TestIsNewBoost(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	at := func(d time.Duration) *discordgo.Member {
		since := now.Add(d)
		return &discordgo.Member{PremiumSince: &since}
	}
	notBoosting := &discordgo.Member{}

	tests := []struct {
		name   string
		before *discordgo.Member
		after  *discordgo.Member
		want   bool
	}{
		{"cached member starts boosting", notBoosting, at(-time.Hour), true},
		{"cached member already boosting", at(-time.Hour), at(-time.Hour), false},
		{"not boosting", nil, notBoosting, false},
		{"uncached member just boosted", nil, at(-5 * time.Second), true},
		{"uncached member boosting for a while", nil, at(-time.Hour), false},
		{"clock skew", nil, at(2 * time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNewBoost(tt.before, tt.after, now))
		})
	}
}

func TestBoostFromUncachedMember(t *testing.T) {
	b, api, _ := testBot(t)
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }
	addMessage(t, b, store.Message{ChannelID: "c1", Event: store.EventBoost, Template: "thanks {user.name}"})

	booster := newcomer()
	since := now.Add(-3 * time.Second)
	booster.PremiumSince = &since

	b.onGuildMemberUpdate(nil, &discordgo.GuildMemberUpdate{Member: booster})

	sent := api.sentTo("c1")
	require.Len(t, sent, 1)
	assert.Equal(t, "thanks newcomer", sent[0].Content)
}
