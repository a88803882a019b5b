package script

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// maxDepth bounds nested Block flattening so self-referencing records
// cannot recurse forever.
const maxDepth = 6

// Environment maps dotted variable names (user.name, track.plays) to their
// display strings for a single render.
type Environment map[string]string

// Lookup returns the value for name, or "" when it is unknown.
func (e Environment) Lookup(name string) string {
	return e[name]
}

// NewEnvironment flattens every block into one Environment. Later blocks
// overwrite earlier ones only where they produce the same key.
func NewEnvironment(blocks ...Block) Environment {
	env := Environment{}
	for _, b := range blocks {
		if isNil(b) {
			continue
		}
		for k, v := range Flatten(b, "") {
			env[k] = v
		}
	}
	return env
}

// Flatten converts b into variables prefixed by key. An empty key is derived
// from the block: a Tagged key or Variable() first, then its Kind.
func Flatten(b Block, key string) Environment {
	env := Environment{}
	if isNil(b) {
		return env
	}
	flattenInto(env, b, blockKey(b, key), 0)
	if v, ok := env["user.display_avatar"]; ok {
		env["user.avatar"] = v
	}
	return env
}

func blockKey(b Block, explicit string) string {
	key := explicit
	if key == "" {
		if v, ok := b.(Variabler); ok {
			key = v.Variable()
		}
	}
	if key == "" {
		key = b.Kind().Key()
	}
	return normalizeKey(key)
}

// isNil reports whether b is nil or wraps a nil pointer such as
// (*Record)(nil).
func isNil(b Block) bool {
	b = unwrap(b)
	if b == nil {
		return true
	}
	v := reflect.ValueOf(b)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func normalizeKey(key string) string {
	switch {
	case key == "member":
		return "user"
	case strings.Contains(key, "channel"):
		return "channel"
	}
	return key
}

func flattenInto(env Environment, b Block, key string, depth int) {
	env[key] = b.String()
	if depth >= maxDepth {
		return
	}
	for _, f := range b.Fields() {
		if f.Name == "" || strings.HasPrefix(f.Name, "_") {
			continue
		}
		name := key + "." + f.Name
		if nested, ok := f.Value.(Block); ok {
			if isNil(nested) {
				env[name] = ""
			} else {
				flattenInto(env, nested, name, depth+1)
			}
			continue
		}
		if s, ok := stringify(f.Name, f.Value); ok {
			env[name] = s
		}
	}
}

// stringify renders a field value the way templates display it. Values of
// unsupported types are skipped.
func stringify(name string, value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", true
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case Color:
		return v.String(), true
	case Asset:
		return v.String(), true
	case time.Time:
		if v.IsZero() {
			return "", true
		}
		return strconv.FormatInt(v.Unix(), 10), true
	case *time.Time:
		if v == nil || v.IsZero() {
			return "", true
		}
		return strconv.FormatInt(v.Unix(), 10), true
	case time.Duration:
		return timespan(v), true
	case int:
		return integer(name, int64(v)), true
	case int8:
		return integer(name, int64(v)), true
	case int16:
		return integer(name, int64(v)), true
	case int32:
		return integer(name, int64(v)), true
	case int64:
		return integer(name, v), true
	case uint:
		return unsigned(name, uint64(v)), true
	case uint8:
		return unsigned(name, uint64(v)), true
	case uint16:
		return unsigned(name, uint64(v)), true
	case uint32:
		return unsigned(name, uint64(v)), true
	case uint64:
		return unsigned(name, v), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case fmt.Stringer:
		return v.String(), true
	}
	return "", false
}

// Identifiers and durations are never digit-grouped.
func bareDigits(name string) bool {
	return strings.HasSuffix(name, "id") || strings.HasSuffix(name, "duration")
}

func integer(name string, n int64) string {
	if bareDigits(name) {
		return strconv.FormatInt(n, 10)
	}
	return humanize.Comma(n)
}

func unsigned(name string, n uint64) string {
	if n > math.MaxInt64 || bareDigits(name) {
		return strconv.FormatUint(n, 10)
	}
	return humanize.Comma(int64(n))
}

// timespan renders d as a short human span such as "3 minutes".
func timespan(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Second {
		return "0 seconds"
	}
	var epoch time.Time
	return strings.TrimSpace(humanize.RelTime(epoch, epoch.Add(d), "", ""))
}
