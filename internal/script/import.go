package script

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

var braces = strings.NewReplacer(`\`, `\\`, "{", `\{`, "}", `\}`)

// FromMessage rebuilds a directive template from a sent message so it can be
// edited and reused. Only link buttons survive; other components are
// interactive and cannot be expressed in a template.
func FromMessage(m *discordgo.Message) *Script {
	var lines []string
	directive := func(name string, parts ...string) {
		for i, p := range parts {
			parts[i] = braces.Replace(p)
		}
		lines = append(lines, fmt.Sprintf("{%s: %s}", name, strings.Join(parts, " && ")))
	}

	if m.Content != "" {
		directive("content", m.Content)
	}

	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		lines = append(lines, "{embed}")
		if e.Color != 0 {
			directive("color", Color(e.Color).String())
		}
		if e.URL != "" {
			directive("url", e.URL)
		}
		if e.Title != "" {
			directive("title", e.Title)
		}
		if e.Description != "" {
			directive("description", e.Description)
		}
		if e.Thumbnail != nil && e.Thumbnail.URL != "" {
			directive("thumbnail", e.Thumbnail.URL)
		}
		if e.Image != nil && e.Image.URL != "" {
			directive("image", e.Image.URL)
		}
		for _, f := range e.Fields {
			parts := []string{f.Name, f.Value}
			if f.Inline {
				parts = append(parts, "inline")
			}
			directive("field", parts...)
		}
		if e.Footer != nil && e.Footer.Text != "" {
			parts := []string{e.Footer.Text}
			if e.Footer.IconURL != "" {
				parts = append(parts, e.Footer.IconURL)
			}
			directive("footer", parts...)
		}
		if e.Author != nil && e.Author.Name != "" {
			parts := []string{e.Author.Name, "null"}
			if e.Author.URL != "" {
				parts[1] = e.Author.URL
			}
			if e.Author.IconURL != "" {
				parts = append(parts, e.Author.IconURL)
			}
			directive("author", parts...)
		}
		if e.Timestamp != "" {
			directive("timestamp", e.Timestamp)
		}
	}

	for _, b := range linkButtons(m.Components) {
		label := b.Label
		emoji := formatEmoji(b.Emoji)
		switch {
		case label == "":
			directive("button", "", b.URL, emoji)
		case emoji == "":
			directive("button", label, b.URL)
		default:
			directive("button", label, b.URL, emoji)
		}
	}

	return New(strings.Join(lines, "\n"), nil)
}
