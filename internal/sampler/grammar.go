package sampler

import (
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"
)

// Grammar constrains sampling to candidates whose appended surface text
// keeps the accumulated output valid. No GBNF engine exists anywhere in the
// example pack's dependency surface, so custom grammars compile down to a
// plain regular expression matched against the candidate's piece text — a
// deliberately narrower subset of GBNF (literal/character-class rules only,
// no recursive rule references) rather than a hand-rolled BNF interpreter.
type Grammar interface {
	// Filter narrows cands to those whose piece text is grammar-valid.
	// pieceOf resolves a token id to its detokenized surface text.
	Filter(cands []Candidate, pieceOf func(int32) (string, error)) ([]Candidate, error)
}

// regexGrammar matches each candidate's piece text against a compiled
// pattern derived from a GBNF-lite rule.
type regexGrammar struct {
	re *regexp.Regexp
}

// CompileGBNFLite compiles a restricted grammar source into a Grammar. The
// supported subset is a single root rule of the form:
//
//	root ::= "pattern"
//
// where pattern is a Go regexp (RE2 syntax) body. Anything else
// fails to compile, surfaced by the caller as INVALID_GRAMMAR (§4.7).
func CompileGBNFLite(source string) (Grammar, error) {
	matches := gbnfRootPattern.FindStringSubmatch(source)
	if matches == nil {
		return nil, fmt.Errorf("grammar: expected a single %q rule, got: %q", "root ::= \"...\"", source)
	}
	re, err := regexp.Compile(matches[1])
	if err != nil {
		return nil, fmt.Errorf("grammar: invalid pattern: %w", err)
	}
	return &regexGrammar{re: re}, nil
}

var gbnfRootPattern = regexp.MustCompile(`(?s)^\s*root\s*::=\s*"(.*)"\s*$`)

func (g *regexGrammar) Filter(cands []Candidate, pieceOf func(int32) (string, error)) ([]Candidate, error) {
	var out []Candidate
	for _, c := range cands {
		piece, err := pieceOf(c.TokenID)
		if err != nil {
			return nil, err
		}
		if g.re.MatchString(piece) {
			out = append(out, c)
		}
	}
	return out, nil
}

// jsonSchemaGrammar enforces json_mode / json_schema (§4.7: "JSON mode is
// sugar for a built-in JSON GBNF when no user grammar is supplied") by
// validating the FULL accumulated output against a JSON Schema once
// generation completes, rather than per-token — gojsonschema validates
// documents, not partial token streams, so per-token character-class
// filtering (braces, quotes, digits, punctuation) keeps the output
// syntactically plausible JSON while ValidateDocument does the real check
// at finalize time.
type jsonSchemaGrammar struct {
	charClass *regexp.Regexp
}

// NewJSONGrammar returns the built-in JSON-mode grammar: a conservative
// per-token character class covering valid JSON surface syntax.
func NewJSONGrammar() Grammar {
	return &jsonSchemaGrammar{charClass: regexp.MustCompile(`^[\s\d\w{}\[\]":,.\-+eE_]*$`)}
}

func (g *jsonSchemaGrammar) Filter(cands []Candidate, pieceOf func(int32) (string, error)) ([]Candidate, error) {
	var out []Candidate
	for _, c := range cands {
		piece, err := pieceOf(c.TokenID)
		if err != nil {
			return nil, err
		}
		if g.charClass.MatchString(piece) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ValidateDocument checks a completed JSON document against schemaJSON,
// called by the generation loop's finalize phase when json_schema is set.
func ValidateDocument(document, schemaJSON string) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	docLoader := gojsonschema.NewStringLoader(document)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("grammar: schema validation error: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("grammar: document does not satisfy schema: %v", result.Errors())
	}
	return nil
}
