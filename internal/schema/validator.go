// Package schema validates inbound client messages against the embedded
// command schema before they are decoded.
package schema

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed commands.schema.json
var commandsSchemaJSON []byte

const schemaName = "commands.schema.json"

// Kinds lists every command type the schema knows about.
var Kinds = []string{
	"initialize",
	"audio_chunk",
	"text_message",
	"update_languages",
	"update_voice",
	"restart",
	"stop",
}

var (
	// ErrMalformed means the payload is not a JSON document.
	ErrMalformed = errors.New("malformed JSON")
	// ErrUnknownType means the envelope names a command the relay does not handle.
	ErrUnknownType = errors.New("unknown message type")
)

var printer = message.NewPrinter(language.English)

// ValidationError carries every schema violation found in one message.
type ValidationError struct {
	Kind     string
	Problems []string
}

func (e *ValidationError) Error() string {
	if e.Kind == "" {
		return "invalid message: " + strings.Join(e.Problems, "; ")
	}
	return fmt.Sprintf("invalid %s message: %s", e.Kind, strings.Join(e.Problems, "; "))
}

type Validator struct {
	envelope *jsonschema.Schema
	commands map[string]*jsonschema.Schema
}

// New compiles the embedded schema. It fails only if the embedded document is broken.
func New() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(commandsSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", schemaName, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaName, doc); err != nil {
		return nil, fmt.Errorf("add %s resource: %w", schemaName, err)
	}

	envelope, err := compiler.Compile(schemaName)
	if err != nil {
		return nil, fmt.Errorf("compile envelope: %w", err)
	}
	v := &Validator{envelope: envelope, commands: make(map[string]*jsonschema.Schema, len(Kinds))}
	for _, kind := range Kinds {
		sch, err := compiler.Compile(schemaName + "#/$defs/" + kind)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", kind, err)
		}
		v.commands[kind] = sch
	}
	return v, nil
}

// MustNew is New for callers that treat a broken embedded schema as fatal.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks data against the envelope and the schema of the command it
// names. It returns the command type on success.
func (v *Validator) Validate(data []byte) (string, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if problems := validateAgainst(v.envelope, doc); len(problems) > 0 {
		return "", &ValidationError{Problems: problems}
	}

	kind, _ := doc.(map[string]any)["type"].(string)
	sch, ok := v.commands[kind]
	if !ok {
		return kind, fmt.Errorf("%w %q", ErrUnknownType, kind)
	}
	if problems := validateAgainst(sch, doc); len(problems) > 0 {
		return kind, &ValidationError{Kind: kind, Problems: problems}
	}
	return kind, nil
}

func validateAgainst(sch *jsonschema.Schema, doc any) []string {
	err := sch.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var problems []string
	collectSchemaErrors(ve, &problems)
	return problems
}

func collectSchemaErrors(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		*out = append(*out, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(printer)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, out)
	}
}
