package document

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/doctarget/internal/model"
)

// Default document keys.
const (
	KeyDate       = "Date"
	KeyLevel      = "Level"
	KeyLogger     = "Logger"
	KeyMessage    = "Message"
	KeyException  = "Exception"
	KeyProperties = "Properties"
)

// Renderer evaluates a value-producing expression against an event.
type Renderer interface {
	Render(ev *model.LogEvent) (string, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ev *model.LogEvent) (string, error)

// Render calls f(ev).
func (f RendererFunc) Render(ev *model.LogEvent) (string, error) { return f(ev) }

// Rule names a document key and the expression that produces its value.
type Rule struct {
	Name   string
	Layout Renderer
}

// Options selects which parts of an event end up in a document.
type Options struct {
	// IncludeDefaults adds Date/Level/Logger/Message/Exception even when
	// field rules are configured. Defaults are always added without rules.
	IncludeDefaults bool
	Fields          []Rule
	Properties      []Rule
	// IncludeEventProperties copies every event property into Properties.
	IncludeEventProperties bool
}

// Builder maps log events into documents. It holds no mutable state and is
// safe for concurrent use.
type Builder struct {
	opts Options
}

// NewBuilder returns a Builder for opts.
func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts}
}

// Options returns the builder configuration.
func (b *Builder) Options() Options { return b.opts }

// Build produces one document for ev.
func (b *Builder) Build(ev *model.LogEvent) (*Document, error) {
	return BuildDocument(ev, b.opts.IncludeDefaults, b.opts.Fields, b.opts.Properties, b.opts.IncludeEventProperties)
}

// BuildDocument produces one document for ev. A failing rule expression
// aborts the build and is returned to the caller.
func BuildDocument(ev *model.LogEvent, defaultFieldsEnabled bool, fieldRules, propertyRules []Rule, includeAllEventProperties bool) (*Document, error) {
	if ev == nil {
		return nil, fmt.Errorf("document: nil event")
	}
	doc := New()

	if defaultFieldsEnabled || len(fieldRules) == 0 {
		addDefaults(doc, ev)
	}

	if err := applyRules(doc, ev, fieldRules); err != nil {
		return nil, fmt.Errorf("field %w", err)
	}

	if ev.HasProperties() || len(propertyRules) > 0 {
		props := New()
		if err := applyRules(props, ev, propertyRules); err != nil {
			return nil, fmt.Errorf("property %w", err)
		}
		if includeAllEventProperties {
			addEventProperties(props, ev.Properties)
		}
		doc.Set(KeyProperties, Nested(props))
	}

	return doc, nil
}

func addDefaults(doc *Document, ev *model.LogEvent) {
	doc.Set(KeyDate, Timestamp(ev.Timestamp))
	if ev.Level != "" {
		doc.SetString(KeyLevel, ev.Level)
	}
	if ev.Logger != "" {
		doc.SetString(KeyLogger, ev.Logger)
	}
	if ev.Message != "" {
		doc.SetString(KeyMessage, ev.Message)
	}
	if ev.Error != nil {
		doc.Set(KeyException, Nested(ErrorDocument(ev.Error)))
	}
}

func applyRules(doc *Document, ev *model.LogEvent, rules []Rule) error {
	for _, rule := range rules {
		if rule.Layout == nil {
			continue
		}
		value, err := rule.Layout.Render(ev)
		if err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		if strings.TrimSpace(value) == "" {
			continue
		}
		doc.SetString(rule.Name, value)
	}
	return nil
}

func addEventProperties(props *Document, properties []model.Property) {
	for _, p := range properties {
		if p.Key == "" || model.IsNil(p.Value) {
			continue
		}
		value := Stringify(p.Value)
		if value == "" {
			continue
		}
		props.SetString(NormalizePropertyKey(p.Key), value)
	}
}

// NormalizePropertyKey replaces path separators, which document stores
// reject inside keys. It is idempotent.
func NormalizePropertyKey(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}
