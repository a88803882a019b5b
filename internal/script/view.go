package script

import (
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	buttonsPerRow = 5
	maxButtons    = 25
)

var customEmoji = regexp.MustCompile(`^<(a?):([A-Za-z0-9_~]+):(\d+)>$`)

// View is the set of link buttons attached to a message.
type View []*discordgo.Button

// Components lays the buttons out in action rows of five.
func (v View) Components() []discordgo.MessageComponent {
	if len(v) == 0 {
		return nil
	}
	var rows []discordgo.MessageComponent
	for start := 0; start < len(v); start += buttonsPerRow {
		end := min(start+buttonsPerRow, len(v))
		row := &discordgo.ActionsRow{}
		for _, b := range v[start:end] {
			row.Components = append(row.Components, b)
		}
		rows = append(rows, row)
	}
	return rows
}

func (v View) add(b *discordgo.Button) View {
	if b == nil || len(v) >= maxButtons {
		return v
	}
	return append(v, b)
}

// parseButton reads "label && url [&& emoji]". A label starting with '<' is
// a custom emoji and the button gets no text.
func parseButton(value string) (*discordgo.Button, bool) {
	parts := splitArgs(value, 3)
	if len(parts) < 2 {
		return nil, false
	}
	label, link := parts[0], parts[1]
	var emoji string
	if len(parts) == 3 {
		emoji = parts[2]
	}
	if strings.HasPrefix(label, "<") {
		label, emoji = "", label
	}
	if !validButtonURL(link) || (label == "" && emoji == "") {
		return nil, false
	}
	return &discordgo.Button{
		Label: label,
		Style: discordgo.LinkButton,
		URL:   link,
		Emoji: parseEmoji(emoji),
	}, true
}

func validButtonURL(raw string) bool {
	if validURL(raw) {
		return true
	}
	return strings.HasPrefix(raw, "discord://") && len(raw) > len("discord://")
}

func parseEmoji(s string) *discordgo.ComponentEmoji {
	if s == "" {
		return nil
	}
	if m := customEmoji.FindStringSubmatch(s); m != nil {
		return &discordgo.ComponentEmoji{Name: m[2], ID: m[3], Animated: m[1] == "a"}
	}
	return &discordgo.ComponentEmoji{Name: s}
}

func formatEmoji(e *discordgo.ComponentEmoji) string {
	if e == nil {
		return ""
	}
	if e.ID == "" {
		return e.Name
	}
	prefix := ""
	if e.Animated {
		prefix = "a"
	}
	return "<" + prefix + ":" + e.Name + ":" + e.ID + ">"
}

// linkButtons collects link buttons from message components, skipping
// anything interactive.
func linkButtons(components []discordgo.MessageComponent) View {
	var view View
	for _, c := range components {
		var children []discordgo.MessageComponent
		switch row := c.(type) {
		case *discordgo.ActionsRow:
			children = row.Components
		case discordgo.ActionsRow:
			children = row.Components
		default:
			continue
		}
		for _, child := range children {
			var b *discordgo.Button
			switch btn := child.(type) {
			case *discordgo.Button:
				b = btn
			case discordgo.Button:
				b = &btn
			}
			if b != nil && b.Style == discordgo.LinkButton && b.URL != "" {
				view = view.add(b)
			}
		}
	}
	return view
}
