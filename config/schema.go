package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// configSchema is the CUE definition every configuration document must
// satisfy. Definitions are closed, so unknown keys are rejected.
const configSchema = `
#Config: {
	name?: string
	instrument: #Instrument
	logging?: #Logging
	telemetry?: #Telemetry
}

#Instrument: {
	address: string & != ""
	per_command?: bool
	strict_release?: bool
	timeout?: string
}

#Logging: {
	level?: string
	format?: "json" | "text"
	loki?: #Loki
}

#Loki: {
	enabled?: bool
	url?: string
	labels?: [string]: string
}

#Telemetry: {
	enabled?: bool
	listen?: string
}
`

func validateSchema(raw []byte) error {
	var document map[string]interface{}
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(configSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	definition := schema.LookupPath(cue.ParsePath("#Config"))
	if err := definition.Err(); err != nil {
		return fmt.Errorf("resolve schema definition: %w", err)
	}
	value := definition.Unify(ctx.Encode(document))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema violation: %w", err)
	}
	return nil
}
