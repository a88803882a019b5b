package script

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessenger struct {
	sent       *discordgo.MessageSend
	sentTo     string
	edited     *discordgo.MessageEdit
	webhook    *discordgo.WebhookParams
	webhookID  string
	webhookMsg string
	hookEdit   *discordgo.WebhookEdit
	err        error
}

func (f *fakeMessenger) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sentTo, f.sent = channelID, data
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, f.err
}

func (f *fakeMessenger) ChannelMessageEditComplex(m *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.edited = m
	return &discordgo.Message{ID: m.ID, ChannelID: m.Channel}, f.err
}

func (f *fakeMessenger) WebhookExecute(webhookID, _ string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.webhookID, f.webhook = webhookID, data
	return &discordgo.Message{ID: "w1"}, f.err
}

func (f *fakeMessenger) WebhookMessageEdit(webhookID, _, messageID string, data *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.webhookID, f.webhookMsg, f.hookEdit = webhookID, messageID, data
	return &discordgo.Message{ID: messageID}, f.err
}

func richScript() *Script {
	return New(
		"{content: hi}{title: T}{button: Go && https://example.com}{sticker: wave}",
		[]Block{NewGuild(testGuild())},
	)
}

func TestSendToChannelCarriesStickers(t *testing.T) {
	fake := &fakeMessenger{}
	ref := &discordgo.MessageReference{MessageID: "9"}

	msg, err := richScript().Send(context.Background(), ChannelDestination{Session: fake, ChannelID: "c1"}, WithReply(ref))
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)

	assert.Equal(t, "c1", fake.sentTo)
	assert.Equal(t, "hi", fake.sent.Content)
	assert.Len(t, fake.sent.Embeds, 1)
	assert.Len(t, fake.sent.Components, 1)
	assert.Equal(t, []string{"31"}, fake.sent.StickerIDs)
	assert.Same(t, ref, fake.sent.Reference)
}

func TestSendToWebhookDropsStickers(t *testing.T) {
	fake := &fakeMessenger{}
	dest := WebhookDestination{Session: fake, ID: "h1", Token: "tok", Username: "Notifier"}

	_, err := richScript().Send(context.Background(), dest)
	require.NoError(t, err)

	assert.Equal(t, "h1", fake.webhookID)
	assert.Equal(t, "hi", fake.webhook.Content)
	assert.Equal(t, "Notifier", fake.webhook.Username)
	assert.Len(t, fake.webhook.Embeds, 1)
	assert.Nil(t, fake.sent)
}

func TestSendReturnsTransportErrors(t *testing.T) {
	boom := errors.New("missing permissions")
	fake := &fakeMessenger{err: boom}

	_, err := New("hello", nil).Send(context.Background(), ChannelDestination{Session: fake, ChannelID: "c1"})
	assert.ErrorIs(t, err, boom)
}

func TestEditChannelMessage(t *testing.T) {
	fake := &fakeMessenger{}

	_, err := New("plain", nil).Edit(context.Background(), ChannelDestination{Session: fake, ChannelID: "c1"}, "m9")
	require.NoError(t, err)

	require.NotNil(t, fake.edited)
	assert.Equal(t, "m9", fake.edited.ID)
	assert.Equal(t, "c1", fake.edited.Channel)
	assert.Equal(t, "plain", *fake.edited.Content)
	require.NotNil(t, fake.edited.Embeds)
	assert.Empty(t, *fake.edited.Embeds, "old embeds are cleared")
}

func TestEditWebhookMessage(t *testing.T) {
	fake := &fakeMessenger{}

	_, err := richScript().Edit(context.Background(), WebhookDestination{Session: fake, ID: "h1", Token: "tok"}, "m9")
	require.NoError(t, err)

	assert.Equal(t, "m9", fake.webhookMsg)
	assert.Equal(t, "hi", *fake.hookEdit.Content)
	assert.Len(t, *fake.hookEdit.Embeds, 1)
	assert.Nil(t, fake.edited)
}
