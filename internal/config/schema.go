package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tally/internal/errs"
)

//go:embed schema.cue
var schemaSource string

// checkSchema validates a raw YAML document against #Config. Unknown keys
// and wrongly typed values are rejected before the document is decoded.
func checkSchema(filename string, data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errs.Validation(errs.CodeConfig, "%s: parse yaml: %v", filename, err)
	}
	if doc == nil {
		return nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := def.Unify(ctx.Encode(doc))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return errs.Validation(errs.CodeConfig, "%s: %v", filename, err)
	}
	return nil
}
