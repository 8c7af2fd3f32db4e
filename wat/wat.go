package wat

import (
	"github.com/wippyai/wasm-async/wat/internal/encoder"
	"github.com/wippyai/wasm-async/wat/internal/parser"
	"github.com/wippyai/wasm-async/wat/internal/token"
)

// Compile translates WAT source into a binary module.
func Compile(source string) ([]byte, error) {
	mod, err := parser.New(token.Tokenize(source)).Parse()
	if err != nil {
		return nil, err
	}
	return encoder.Encode(mod), nil
}

// MustCompile is like Compile but panics on error. It is meant for fixed
// sources in tests and examples.
func MustCompile(source string) []byte {
	wasm, err := Compile(source)
	if err != nil {
		panic("wat: " + err.Error())
	}
	return wasm
}
