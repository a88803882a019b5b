package script

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
)

var discohookData = regexp.MustCompile(`[?&]data=([A-Za-z0-9_-]+)`)

type discohookShare struct {
	Messages []struct {
		Data json.RawMessage `json:"data"`
	} `json:"messages"`
}

// structured reads the template as a JSON message, then as a discohook share
// link. It reports false when neither applies.
func (s *Script) structured() (*Data, bool) {
	text := ParseJSON(s.template, s.blocks...)
	if d, ok := decodeMessage([]byte(text), false); ok {
		return d, true
	}

	payload, ok := discohookPayload(text)
	if !ok {
		return nil, false
	}
	var share discohookShare
	if err := json.Unmarshal([]byte(ParseJSON(payload, s.blocks...)), &share); err != nil {
		return nil, false
	}
	if len(share.Messages) == 0 {
		return nil, false
	}
	return decodeMessage(share.Messages[0].Data, true)
}

// discohookPayload extracts and decodes the data parameter of a share link.
func discohookPayload(text string) (string, bool) {
	m := discohookData.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(m[1], "="))
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

// decodeMessage converts a JSON message object into Data. The object must
// carry content or embeds; discohook messages may carry only components.
func decodeMessage(raw []byte, discohook bool) (*Data, bool) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, false
	}
	_, hasContent := keys["content"]
	_, hasEmbeds := keys["embeds"]
	_, hasComponents := keys["components"]
	if !hasContent && !hasEmbeds && !(discohook && hasComponents) {
		return nil, false
	}

	var msg struct {
		Content *string                   `json:"content"`
		Embeds  []*discordgo.MessageEmbed `json:"embeds"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, false
	}

	d := &Data{}
	if msg.Content != nil {
		d.Content = *msg.Content
	}
	for _, e := range msg.Embeds {
		if e != nil && len(d.Embeds) < maxEmbeds {
			d.Embeds = append(d.Embeds, e)
		}
	}
	if hasComponents {
		var carrier discordgo.Message
		if err := json.Unmarshal([]byte(`{"components":`+string(keys["components"])+`}`), &carrier); err == nil {
			d.View = linkButtons(carrier.Components)
		}
	}
	return d, true
}
