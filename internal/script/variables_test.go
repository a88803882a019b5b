package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ethan() *Record {
	return &Record{
		Type:    KindUser,
		Display: "Ethan",
		Values: []Field{
			F("name", "ethan"),
			F("mention", "<@1>"),
		},
	}
}

func TestParseUnknownVariablePassesThrough(t *testing.T) {
	assert.Equal(t, "{nonexistent_xyz}", Parse("{nonexistent_xyz}"))
	assert.Equal(t, "hi {user.nope}", Parse("hi {user.nope}", ethan()))
}

func TestParseSubstitutes(t *testing.T) {
	got := Parse("hello {user} ({user.name}) {user.mention}", ethan())
	assert.Equal(t, "hello Ethan (ethan) <@1>", got)

	assert.Equal(t, "Ethan ethan", Parse("{author} {member.name}", ethan()))
}

func TestParseLeavesEscapedPlaceholders(t *testing.T) {
	assert.Equal(t, `\{user} Ethan`, Parse(`\{user} {user}`, ethan()))
}

func TestParseNormalizesBareEmbed(t *testing.T) {
	assert.Equal(t, "{embed:0}{title: x}", Parse("{embed}{title: x}"))
}

func TestParseEscapesMetaCharacters(t *testing.T) {
	artist := &Record{Type: KindTrack, Display: "AC/DC: {Live} (1991) | b"}
	assert.Equal(t, `AC/DC\: \{Live\} \(1991\) \| b`, Parse("{track}", artist))

	slashes := &Record{Type: KindTrack, Display: `a\:b \`}
	assert.Equal(t, `a\\\:b \\`, Parse("{track}", slashes))
}

func TestParseJSONEscapesForStrings(t *testing.T) {
	quoted := &Record{Type: KindUser, Display: `say "hi"`}
	assert.Equal(t, `{"content": "say \"hi\""}`, ParseJSON(`{"content": "{user}"}`, quoted))
}

func TestAliasOnlyRewritesRoot(t *testing.T) {
	assert.Equal(t, "user", alias("author"))
	assert.Equal(t, "user.name", alias("member.name"))
	assert.Equal(t, "guild.member_count", alias("guild.member_count"))
	assert.Equal(t, "guild.member.name", alias("guild.member.name"))
}

func TestUnescapeDirective(t *testing.T) {
	assert.Equal(t, "a: {b} (c) | d", unescapeDirective(escapeDirective("a: {b} (c) | d")))
	assert.Equal(t, `C:\path`, unescapeDirective(`C:\path`))
	for _, v := range []string{`a\:b`, `dj\`, `\\`, `x\{y\}`} {
		assert.Equal(t, v, unescapeDirective(escapeDirective(v)), v)
	}
}
