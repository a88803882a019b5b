// Package script renders operator-authored message templates.
//
// A template mixes two brace syntaxes. Variables such as {user.name} are
// substituted first from the context blocks; directives such as
// {title: Hello} are then parsed out of the result and build the message:
//
//	{embed}{title: Welcome {user.name}}{field: Members && {guild.member_count}}
//	{button: Rules && https://example.com/rules}
//
// A template that is a JSON message object, or a discohook share link, is
// read as such instead. Rendering never fails; anything it cannot use is
// dropped, and a template with no usable directives is sent as plain text.
package script

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Format classifies a rendered script.
type Format string

const (
	FormatText    Format = "text"
	FormatEmbed   Format = "embed"
	FormatSticker Format = "sticker"
)

// Data is the rendered message.
type Data struct {
	Content  string
	Embeds   []*discordgo.MessageEmbed
	View     View
	Stickers []*discordgo.Sticker
}

func (d *Data) empty() bool {
	return d.Content == "" && len(d.Embeds) == 0 && len(d.View) == 0 && len(d.Stickers) == 0
}

// Script pairs a template with the blocks it is rendered against. It is
// rendered once, on first access, and is not safe for concurrent use.
type Script struct {
	template string
	blocks   []Block
	stickers []*discordgo.Sticker
	data     *Data
}

// Option configures a Script.
type Option func(*Script)

// WithStickers adds stickers that {sticker: name} may pick besides the
// guild's own.
func WithStickers(stickers []*discordgo.Sticker) Option {
	return func(s *Script) {
		s.stickers = stickers
	}
}

// New returns a Script for template. Nil blocks are ignored.
func New(template string, blocks []Block, opts ...Option) *Script {
	s := &Script{template: template}
	for _, b := range blocks {
		if !isNil(b) {
			s.blocks = append(s.blocks, b)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Template returns the template as written.
func (s *Script) Template() string { return s.template }

func (s *Script) String() string { return s.template }

// Data renders the script, caching the result.
func (s *Script) Data() *Data {
	if s.data == nil {
		s.data = s.render()
	}
	return s.data
}

func (s *Script) Content() string { return s.Data().Content }

func (s *Script) Embeds() []*discordgo.MessageEmbed { return s.Data().Embeds }

func (s *Script) View() View { return s.Data().View }

func (s *Script) Components() []discordgo.MessageComponent { return s.Data().View.Components() }

func (s *Script) Stickers() []*discordgo.Sticker { return s.Data().Stickers }

// Format reports whether the script sends text, embeds or only stickers.
func (s *Script) Format() Format {
	d := s.Data()
	switch {
	case len(d.Stickers) > 0 && d.Content == "" && len(d.Embeds) == 0:
		return FormatSticker
	case len(d.Embeds) > 0:
		return FormatEmbed
	}
	return FormatText
}

// IsEmpty reports whether rendering produced nothing to send.
func (s *Script) IsEmpty() bool { return s.Data().empty() }

func (s *Script) render() *Data {
	if d, ok := s.structured(); ok {
		return d
	}

	text := Parse(s.template, s.blocks...)
	d := &Data{}
	var embeds []*discordgo.MessageEmbed
	for _, node := range FindNodes(text) {
		switch node.Name {
		case "content", "message", "msg":
			d.Content = node.Value
		case "button":
			if b, ok := parseButton(node.Value); ok {
				d.View = d.View.add(b)
			}
		case "sticker":
			if st := s.sticker(node.Value); st != nil {
				d.Stickers = append(d.Stickers, st)
			}
		case "embed":
			embeds = append(embeds, newEmbed())
		default:
			apply, ok := embedDirectives[node.Name]
			if !ok {
				continue
			}
			if len(embeds) == 0 {
				embeds = append(embeds, newEmbed())
			}
			apply(embeds[len(embeds)-1], node.Value)
		}
	}
	d.Embeds = pruneEmbeds(embeds)

	if d.empty() {
		d.Content = unescapeDirective(text)
	}
	return d
}

// sticker finds a sticker by name among the guild's stickers and the
// fallback set. Without a guild block no sticker is available.
func (s *Script) sticker(name string) *discordgo.Sticker {
	var guild *guildBlock
	for _, b := range s.blocks {
		if g, ok := unwrap(b).(*guildBlock); ok {
			guild = g
			break
		}
	}
	if guild == nil {
		return nil
	}
	for _, set := range [][]*discordgo.Sticker{guild.Stickers(), s.stickers} {
		for _, st := range set {
			if st != nil && strings.EqualFold(st.Name, name) {
				return st
			}
		}
	}
	return nil
}
