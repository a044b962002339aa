// Package public implements the stateless public-channel command parser
// and per-node cooldown dispatcher.
package public

import (
	"strings"

	"github.com/smartyhall/meshbbs/internal/textnorm"
)

// Kind identifies a recognized public command verb.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalid
	KindHelp
	KindLogin
	KindWeather
	KindEightBall
	KindFortune
	KindSlot
)

// Command is the parsed result of one public-channel line.
type Command struct {
	Kind Kind
	Arg string // Login's username, or Weather's free-form location args
}

// defaultPrefixes is bbs.public_command_prefix's default: "^".
const defaultPrefixes = "^"

// Parser recognizes lines beginning with any configured prefix character.
type Parser struct {
	prefixes string
}

// NewParser constructs a Parser accepting the default prefix "^".
func NewParser() *Parser { return &Parser{prefixes: defaultPrefixes} }

// NewParserWithPrefixes constructs a Parser accepting each character in
// prefixes (e.g. "!/^"). An empty string falls back to the default.
func NewParserWithPrefixes(prefixes string) *Parser {
	if prefixes == "" {
		prefixes = defaultPrefixes
	}
	return &Parser{prefixes: prefixes}
}

// Parse interprets line. Verb matching is exact and case-insensitive;
// single-letter forms are never accepted publicly.
func (p *Parser) Parse(line string) Command {
	line = textnorm.Normalize(line)
	if line == "" {
		return Command{Kind: KindUnknown}
	}
	if !strings.ContainsRune(p.prefixes, rune(line[0])) {
		return Command{Kind: KindUnknown}
	}
	rest := line[1:]
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return Command{Kind: KindUnknown}
	}
	verb := strings.ToUpper(fields[0])
	args := strings.TrimSpace(strings.TrimPrefix(rest, fields[0]))

	switch verb {
	case "HELP":
		return Command{Kind: KindHelp}
	case "LOGIN":
		if args == "" {
			return Command{Kind: KindInvalid, Arg: "LOGIN requires a username"}
		}
		name := strings.Fields(args)[0]
		return Command{Kind: KindLogin, Arg: name}
	case "WEATHER":
		return Command{Kind: KindWeather, Arg: args}
	case "8BALL":
		return Command{Kind: KindEightBall}
	case "FORTUNE":
		return Command{Kind: KindFortune}
	case "SLOT":
		return Command{Kind: KindSlot}
	default:
		return Command{Kind: KindUnknown}
	}
}
