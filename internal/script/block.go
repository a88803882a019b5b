package script

import "fmt"

// Kind identifies the domain type behind a Block and carries its default
// flattening key.
type Kind int

const (
	KindObject Kind = iota
	KindUser
	KindGuild
	KindChannel
	KindRole
	KindTrack
	KindPost
)

var kindKeys = map[Kind]string{
	KindObject:  "object",
	KindUser:    "user",
	KindGuild:   "guild",
	KindChannel: "channel",
	KindRole:    "role",
	KindTrack:   "track",
	KindPost:    "post",
}

// Key returns the prefix used for variables of this kind.
func (k Kind) Key() string {
	if key, ok := kindKeys[k]; ok {
		return key
	}
	return kindKeys[KindObject]
}

func (k Kind) String() string { return k.Key() }

// Block is a context object that can be exposed to templates.
//
// String is the value of the bare variable ({user}); Fields lists the
// attributes reachable as {user.name}, in display order. Fields is called on
// every render, so derived values are always current.
type Block interface {
	Kind() Kind
	String() string
	Fields() []Field
}

// Variabler lets a Block pick its own flattening key instead of its Kind's.
type Variabler interface {
	Variable() string
}

// Field is one named attribute of a Block.
type Field struct {
	Name  string
	Value any
}

// F is shorthand for building a Field.
func F(name string, value any) Field {
	return Field{Name: name, Value: value}
}

// Color renders as #rrggbb.
type Color int

func (c Color) String() string {
	return fmt.Sprintf("#%06x", int(c)&0xffffff)
}

// Asset is a URL to an image or other CDN resource.
type Asset string

func (a Asset) String() string { return string(a) }

type tagged struct {
	Block
	key string
}

func (t tagged) Variable() string { return t.key }

// Tagged returns block flattened under key regardless of its own key.
func Tagged(key string, block Block) Block {
	if block == nil {
		return nil
	}
	return tagged{Block: block, key: key}
}

// Record is a Block for ad-hoc objects such as tracks or social posts that
// feature code assembles on the fly. A nil *Record behaves as an empty
// object.
type Record struct {
	Type    Kind
	Name    string
	Display string
	Values  []Field
}

func (r *Record) Kind() Kind {
	if r == nil {
		return KindObject
	}
	return r.Type
}

func (r *Record) String() string {
	if r == nil {
		return ""
	}
	return r.Display
}

func (r *Record) Fields() []Field {
	if r == nil {
		return nil
	}
	return r.Values
}

// Variable returns Name when set so two records of the same kind can coexist.
func (r *Record) Variable() string {
	if r == nil {
		return KindObject.Key()
	}
	if r.Name != "" {
		return r.Name
	}
	return r.Type.Key()
}

func unwrap(b Block) Block {
	if t, ok := b.(tagged); ok {
		return unwrap(t.Block)
	}
	return b
}
