package catalog

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/participle/v2"
)

// Parser reads catalog files.
type Parser struct {
	parser *participle.Parser[File]
}

// NewParser builds the catalog grammar.
func NewParser() (*Parser, error) {
	parser, err := participle.Build[File](
		participle.Lexer(Lexer),
		participle.Elide("Comment", "Whitespace"),
		participle.Unquote("String"),
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to build parser: %w", err)
	}
	return &Parser{parser: parser}, nil
}

// Parse parses a catalog from r. name is used in error positions.
func (p *Parser) Parse(name string, r io.Reader) (*File, error) {
	f, err := p.parser.Parse(name, r)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse error: %w", err)
	}
	return f, nil
}

// ParseString parses a catalog held in a string.
func (p *Parser) ParseString(name, input string) (*File, error) {
	f, err := p.parser.ParseString(name, input)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse error: %w", err)
	}
	return f, nil
}

// ParseFile parses the catalog at path.
func (p *Parser) ParseFile(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open file: %w", err)
	}
	defer file.Close()

	return p.Parse(path, file)
}
