package main

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"scriptbot/internal/store"
)

func addSchedule(t *testing.T, b *Bot, sch store.Schedule) {
	t.Helper()
	if sch.GuildID == "" {
		sch.GuildID = "g"
	}
	if sch.Interval == 0 {
		sch.Interval = time.Hour
	}
	_, err := b.store.UpsertSchedule(context.Background(), sch)
	require.NoError(t, err)
}

func TestRunSchedulesSendsDueMessages(t *testing.T) {
	b, api, _ := testBot(t)
	now := time.Unix(1_700_000_000, 0)
	addSchedule(t, b, store.Schedule{ChannelID: "c1", Template: "{content: hourly in {channel.name}}", NextRun: now.Add(-time.Second)})
	addSchedule(t, b, store.Schedule{ChannelID: "c2", Template: "not yet", NextRun: now.Add(time.Minute)})

	b.runSchedules(now)

	sent := api.sentTo("c1")
	require.Len(t, sent, 1)
	assert.Equal(t, "hourly in welcome", sent[0].Content)
	assert.Equal(t, systemMentions, sent[0].AllowedMentions)
	assert.Empty(t, api.sentTo("c2"))

	sch, err := b.store.Schedule(context.Background(), "g", "c1")
	require.NoError(t, err)
	assert.True(t, now.Add(time.Hour).Equal(sch.NextRun))

	b.runSchedules(now.Add(time.Minute))
	assert.Len(t, api.sentTo("c1"), 1, "not due again until the interval passes")
	assert.Len(t, api.sentTo("c2"), 1)
}

func TestRunSchedulesDropsMissingChannel(t *testing.T) {
	b, api, _ := testBot(t)
	now := time.Unix(1_700_000_000, 0)
	addSchedule(t, b, store.Schedule{ChannelID: "deleted", Template: "x", NextRun: now})
	addSchedule(t, b, store.Schedule{GuildID: "uncached", ChannelID: "c9", Template: "x", NextRun: now})

	b.runSchedules(now)

	assert.Empty(t, api.sent)
	gone, err := b.store.Schedule(context.Background(), "g", "deleted")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := b.store.Schedule(context.Background(), "uncached", "c9")
	require.NoError(t, err)
	assert.NotNil(t, kept, "a guild that is not cached yet keeps its schedule")
}

func TestRunSchedulesFailureNotifiesOwner(t *testing.T) {
	b, api, _ := testBot(t)
	now := time.Unix(1_700_000_000, 0)
	api.sendErr["c1"] = &discordgo.RESTError{
		Message: &discordgo.APIErrorMessage{Code: 50001, Message: "Missing Access"},
	}
	addSchedule(t, b, store.Schedule{ChannelID: "c1", Template: "tick", NextRun: now})

	b.runSchedules(now)

	dm := api.sentTo("dm-owner")
	require.Len(t, dm, 1)
	assert.Equal(t, "Schedule Failure", dm[0].Embeds[0].Title)
	assert.Contains(t, dm[0].Embeds[0].Description, "Could not send a schedule message in <#c1>")
	assert.Contains(t, dm[0].Embeds[0].Description, "50001: Missing Access")

	gone, err := b.store.Schedule(context.Background(), "g", "c1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSchedulerStops(t *testing.T) {
	b, api, _ := testBot(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addSchedule(t, b, store.Schedule{ChannelID: "c1", Template: "tick", NextRun: time.Unix(0, 0)})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		b.startScheduler(stop, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(api.sentTo("c1")) == 1 }, time.Second, 5*time.Millisecond)
	close(stop)
	<-done
}
