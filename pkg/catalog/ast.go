package catalog

import "github.com/alecthomas/participle/v2/lexer"

// File is a parsed catalog file.
//
//	# comment
//	chip "W27E257" family 27e size 32K {
//	    vee = 14V
//	    twp = 100us
//	}
type File struct {
	Entries []*Entry `@@*`
}

// Entry declares one named chip.
type Entry struct {
	Pos lexer.Position

	Name     string     `"chip" @String`
	Family   string     `"family" @(Ident | Quantity)`
	Size     string     `"size" @Quantity`
	Settings []*Setting `( "{" @@* "}" )?`
}

// Setting overrides one family default.
type Setting struct {
	Pos lexer.Position

	Key   string `@Ident "="`
	Value string `@(Quantity | Ident | String)`
}
