package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scriptbot/internal/script"
)

var renderFile string

var renderCmd = &cobra.Command{
	Use:   "render [template]",
	Short: "Render a script against sample objects and print the message JSON",
	Long: `Renders a script offline against a sample guild, channel and member and
prints the message that would be sent.

Example:
  scriptbot render "{title: Welcome {user.name}}{description: member #{guild.member_count}}"
  scriptbot render --file welcome.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		template, err := readTemplate(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		sc := renderSample(template)
		if logger != nil {
			logger.Debug("rendered script", zap.String("format", string(sc.Format())), zap.Bool("empty", sc.IsEmpty()))
		}
		return writeRendered(cmd.OutOrStdout(), sc)
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderFile, "file", "f", "", "read the template from a file (- for stdin)")
}

func readTemplate(args []string, stdin io.Reader) (string, error) {
	switch {
	case renderFile == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	case renderFile != "":
		b, err := os.ReadFile(renderFile)
		if err != nil {
			return "", fmt.Errorf("read template: %w", err)
		}
		return string(b), nil
	case len(args) == 1:
		return args[0], nil
	}
	return "", errors.New("provide a template argument or --file")
}

// renderedMessage is the JSON shape printed by the render command.
type renderedMessage struct {
	Format     string                       `json:"format"`
	Content    string                       `json:"content,omitempty"`
	Embeds     []*discordgo.MessageEmbed    `json:"embeds,omitempty"`
	Components []discordgo.MessageComponent `json:"components,omitempty"`
	StickerIDs []string                     `json:"sticker_ids,omitempty"`
}

func writeRendered(w io.Writer, sc *script.Script) error {
	if sc.IsEmpty() {
		return errors.New("template renders an empty message")
	}
	msg := renderedMessage{
		Format:     string(sc.Format()),
		Content:    sc.Content(),
		Embeds:     sc.Embeds(),
		Components: sc.Components(),
	}
	for _, st := range sc.Stickers() {
		msg.StickerIDs = append(msg.StickerIDs, st.ID)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(msg)
}

// renderSample renders template with a fixed guild, channel and member.
func renderSample(template string) *script.Script {
	guild, channel, member := sampleObjects()
	return script.New(strings.TrimSpace(template), []script.Block{
		script.NewGuild(guild), script.NewChannel(channel), script.NewMember(guild, member),
	})
}

func sampleObjects() (*discordgo.Guild, *discordgo.Channel, *discordgo.Member) {
	joined := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	user := &discordgo.User{
		ID:         "1083485743284568064",
		Username:   "newcomer",
		GlobalName: "New Comer",
	}
	member := &discordgo.Member{
		GuildID:  "1076946522416349204",
		User:     user,
		JoinedAt: joined,
		Roles:    []string{"1076946522416349205"},
	}
	channel := &discordgo.Channel{
		ID:      "1076946522416349206",
		GuildID: member.GuildID,
		Name:    "welcome",
		Type:    discordgo.ChannelTypeGuildText,
		Topic:   "Say hi!",
	}
	guild := &discordgo.Guild{
		ID:          member.GuildID,
		Name:        "Sample Server",
		OwnerID:     user.ID,
		MemberCount: 1234,
		Roles: []*discordgo.Role{
			{ID: member.GuildID, Name: "@everyone"},
			{ID: "1076946522416349205", Name: "Member", Color: 0x5865F2, Position: 1},
		},
		Channels: []*discordgo.Channel{channel},
		Members:  []*discordgo.Member{member},
		Stickers: []*discordgo.Sticker{{ID: "1076946522416349207", Name: "wave"}},
	}
	return guild, channel, member
}
