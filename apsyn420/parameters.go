package apsyn420

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/timzifer/apsynctl/scpi"
)

// Parameter declares one configuration register of the instrument: the
// command templates used to set and read it, a validator for outgoing
// values and a parser for incoming replies. Aliases translate user-facing
// labels into the tokens the instrument expects.
type Parameter struct {
	Name     string
	Set      string // format template with a single %s verb
	Get      string
	Validate func(token string) error
	Parse    func(reply string) string
	Aliases  map[string]string
}

var (
	frequencyMin = decimal.NewFromInt(2490236)
	frequencyMax = decimal.NewFromInt(20_000_000_000)
)

func validateFrequency(token string) error {
	value, err := decimal.NewFromString(token)
	if err != nil {
		return fmt.Errorf("frequency %q is not numeric: %w", token, err)
	}
	if value.LessThan(frequencyMin) || value.GreaterThan(frequencyMax) {
		return fmt.Errorf("frequency %s Hz outside [%s, %s]", value, frequencyMin, frequencyMax)
	}
	return nil
}

func validateOnOff(token string) error {
	switch token {
	case "0", "1":
		return nil
	default:
		return fmt.Errorf("value %q is not an on/off token", token)
	}
}

func validateAlias(aliases map[string]string) func(string) error {
	return func(token string) error {
		for _, accepted := range aliases {
			if token == accepted {
				return nil
			}
		}
		return fmt.Errorf("value %q is not one of the accepted tokens", token)
	}
}

var onOffAliases = map[string]string{"on": "1", "off": "0"}

var polarityAliases = map[string]string{"Normal": "NORM", "Inverted": "INV"}

var sourceAliases = map[string]string{"Internal": "INT", "External": "EXT"}

func defaultParameters() map[string]Parameter {
	params := []Parameter{
		{
			Name:     "frequency",
			Set:      "FREQ %s",
			Get:      "FREQ?",
			Validate: validateFrequency,
			Parse:    strings.TrimSpace,
		},
		{
			Name:     "output",
			Set:      "OUTP %s",
			Get:      "OUTP?",
			Validate: validateOnOff,
			Parse:    scpi.ParseOnOff,
			Aliases:  onOffAliases,
		},
		{
			Name:     "blanking",
			Set:      "OUTP:BLAN %s",
			Get:      "OUTP:BLAN?",
			Validate: validateOnOff,
			Parse:    scpi.ParseOnOff,
			Aliases:  onOffAliases,
		},
		{
			Name:     "pulm_state",
			Set:      "PULM:STAT %s",
			Get:      "PULM:STAT?",
			Validate: validateOnOff,
			Parse:    scpi.ParseOnOff,
			Aliases:  onOffAliases,
		},
		{
			Name:     "pulm_polarity",
			Set:      "PULM:POL %s",
			Get:      "PULM:POL?",
			Validate: validateAlias(polarityAliases),
			Parse:    scpi.NormalizeToken,
			Aliases:  polarityAliases,
		},
		{
			Name:     "pulm_source",
			Set:      "PULM:SOUR %s",
			Get:      "PULM:SOUR?",
			Validate: validateAlias(sourceAliases),
			Parse:    scpi.NormalizeToken,
			Aliases:  sourceAliases,
		},
		{
			Name:  "pulm_internal_period",
			Set:   "PULM:INT:PER %s",
			Get:   "PULM:INT:PER?",
			Parse: strings.TrimSpace,
		},
		{
			Name:  "pulm_internal_width",
			Set:   "PULM:INT:PWID %s",
			Get:   "PULM:INT:PWID?",
			Parse: strings.TrimSpace,
		},
	}
	registry := make(map[string]Parameter, len(params))
	for _, p := range params {
		registry[p.Name] = p
	}
	return registry
}

// Parameters lists the registered parameter names in stable order.
func (i *Instrument) Parameters() []string {
	names := make([]string, 0, len(i.params))
	for name := range i.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get reads a parameter by name and returns its parsed, alias-resolved value.
func (i *Instrument) Get(name string) (string, error) {
	param, ok := i.params[name]
	if !ok {
		return "", fmt.Errorf("unknown parameter %q", name)
	}
	raw, err := i.session.Query(param.Get)
	if err != nil {
		return "", err
	}
	value := raw
	if param.Parse != nil {
		value = param.Parse(raw)
	}
	if param.Aliases != nil {
		for label, token := range param.Aliases {
			if value == token {
				return label, nil
			}
		}
	}
	return value, nil
}

// Set validates a value for the named parameter and writes it. Values may be
// given as alias labels (e.g. "Normal") or as raw instrument tokens.
func (i *Instrument) Set(name, value string) error {
	param, ok := i.params[name]
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	token, err := resolveToken(param, value)
	if err != nil {
		return err
	}
	if param.Validate != nil {
		if err := param.Validate(token); err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
	}
	return i.session.Send(fmt.Sprintf(param.Set, token))
}

func resolveToken(param Parameter, value string) (string, error) {
	if param.Aliases == nil {
		return value, nil
	}
	if token, ok := param.Aliases[value]; ok {
		return token, nil
	}
	for _, token := range param.Aliases {
		if value == token {
			return value, nil
		}
	}
	return "", fmt.Errorf("parameter %s: unsupported value %q", param.Name, value)
}
