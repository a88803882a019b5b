package script

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	// DefaultColor is the color of embeds that do not set one.
	DefaultColor = 0x2B2D31

	maxEmbeds = 10
	maxFields = 25
)

func newEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Color: DefaultColor}
}

type embedDirective func(e *discordgo.MessageEmbed, value string)

// embedDirectives mutate the embed under the cursor. Invalid values leave the
// embed unchanged.
var embedDirectives = map[string]embedDirective{
	"title": func(e *discordgo.MessageEmbed, v string) {
		e.Title = v
	},
	"description": func(e *discordgo.MessageEmbed, v string) {
		e.Description = v
	},
	"color":     setColor,
	"colour":    setColor,
	"url":       setURL,
	"thumbnail": setThumbnail,
	"image":     setImage,
	"field":     addField,
	"footer":    setFooter,
	"author":    setAuthor,
	"timestamp": setTimestamp,
}

func setColor(e *discordgo.MessageEmbed, v string) {
	if c, ok := ParseColor(v); ok {
		e.Color = c
	}
}

func setURL(e *discordgo.MessageEmbed, v string) {
	if validURL(v) {
		e.URL = v
	}
}

func setThumbnail(e *discordgo.MessageEmbed, v string) {
	if validURL(v) {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: v}
	}
}

func setImage(e *discordgo.MessageEmbed, v string) {
	if validURL(v) {
		e.Image = &discordgo.MessageEmbedImage{URL: v}
	}
}

// addField reads "name && value [&& inline]".
func addField(e *discordgo.MessageEmbed, v string) {
	parts := splitArgs(v, 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" || len(e.Fields) >= maxFields {
		return
	}
	e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
		Name:   parts[0],
		Value:  parts[1],
		Inline: len(parts) == 3 && strings.EqualFold(parts[2], "inline"),
	})
}

// setFooter reads "text [&& icon]".
func setFooter(e *discordgo.MessageEmbed, v string) {
	parts := splitArgs(v, 2)
	if parts[0] == "" {
		return
	}
	footer := &discordgo.MessageEmbedFooter{Text: parts[0]}
	if len(parts) == 2 && validURL(parts[1]) {
		footer.IconURL = parts[1]
	}
	e.Footer = footer
}

// setAuthor reads "name [&& url|null [&& icon]]".
func setAuthor(e *discordgo.MessageEmbed, v string) {
	parts := splitArgs(v, 3)
	if parts[0] == "" {
		return
	}
	author := &discordgo.MessageEmbedAuthor{Name: parts[0]}
	if len(parts) >= 2 && parts[1] != "null" && validURL(parts[1]) {
		author.URL = parts[1]
	}
	if len(parts) == 3 && validURL(parts[2]) {
		author.IconURL = parts[2]
	}
	e.Author = author
}

// setTimestamp accepts "now", unix seconds or RFC 3339.
func setTimestamp(e *discordgo.MessageEmbed, v string) {
	var t time.Time
	switch {
	case strings.EqualFold(v, "now"):
		t = time.Now()
	default:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t = time.Unix(n, 0)
		} else if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			t = parsed
		} else {
			return
		}
	}
	e.Timestamp = t.UTC().Format(time.RFC3339)
}

// ParseColor reads #rrggbb, rrggbb, 0xrrggbb or a decimal integer.
func ParseColor(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	var (
		n   int64
		err error
	)
	switch {
	case strings.HasPrefix(s, "#"):
		n, err = strconv.ParseInt(s[1:], 16, 32)
	case strings.HasPrefix(s, "0x"):
		n, err = strconv.ParseInt(s[2:], 16, 32)
	case len(s) == 6 && strings.Trim(s, "0123456789abcdef") == "" && strings.ContainsAny(s, "abcdef"):
		n, err = strconv.ParseInt(s, 16, 32)
	default:
		n, err = strconv.ParseInt(s, 10, 32)
	}
	if err != nil || n < 0 || n > 0xffffff {
		return 0, false
	}
	return int(n), true
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// embedEmpty reports whether e would render as nothing. Color alone does not
// count as content.
func embedEmpty(e *discordgo.MessageEmbed) bool {
	return e.Title == "" &&
		e.Description == "" &&
		e.URL == "" &&
		e.Timestamp == "" &&
		len(e.Fields) == 0 &&
		e.Image == nil &&
		e.Thumbnail == nil &&
		e.Footer == nil &&
		e.Author == nil &&
		e.Video == nil &&
		e.Provider == nil
}

func pruneEmbeds(embeds []*discordgo.MessageEmbed) []*discordgo.MessageEmbed {
	kept := embeds[:0]
	for _, e := range embeds {
		if e != nil && !embedEmpty(e) {
			kept = append(kept, e)
		}
	}
	if len(kept) > maxEmbeds {
		kept = kept[:maxEmbeds]
	}
	return kept
}
