package catalog

import "github.com/alecthomas/participle/v2/lexer"

// Lexer tokenizes catalog files. Quantities are numbers with an optional
// unit or suffix glued on: 32K, 0x8000, 12.5V, 100us, 27c16.
var Lexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s]+`},
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Quantity", Pattern: `(0[xX][0-9a-fA-F]+|[0-9]+(\.[0-9]+)?)[a-zA-Z0-9]*`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_-]*`},
	{Name: "Punct", Pattern: `[{}=]`},
})
