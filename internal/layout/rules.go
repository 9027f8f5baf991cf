package layout

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/tinytelemetry/doctarget/internal/document"
)

// RuleSpec is the configuration form of a document rule.
type RuleSpec struct {
	Name   string `mapstructure:"name" yaml:"name" json:"name"`
	Layout string `mapstructure:"layout" yaml:"layout" json:"layout"`
}

// CompileRules compiles every spec and reports all invalid ones at once.
// kind names the rule list in error messages ("fields", "properties").
func CompileRules(kind string, specs []RuleSpec) ([]document.Rule, error) {
	var (
		result error
		rules  = make([]document.Rule, 0, len(specs))
	)
	for i, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			result = multierror.Append(result, fmt.Errorf("%s[%d]: name is required", kind, i))
			continue
		}
		if strings.TrimSpace(spec.Layout) == "" {
			result = multierror.Append(result, fmt.Errorf("%s[%d] %q: layout is required", kind, i, name))
			continue
		}
		tmpl, err := Compile(spec.Layout)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s[%d] %q: %w", kind, i, name, err))
			continue
		}
		rules = append(rules, document.Rule{Name: name, Layout: tmpl})
	}
	if result != nil {
		return nil, result
	}
	return rules, nil
}
