// Package layout compiles and renders text templates such as
// "${date:format=2006-01-02} ${level:uppercase=true} ${message}".
package layout

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tinytelemetry/doctarget/internal/model"
)

type renderFunc func(ev *model.LogEvent) (string, error)

type part struct {
	literal string
	name    string
	fn      renderFunc
	upper   bool
	lower   bool
}

// Template is a compiled layout. It is immutable and safe for concurrent use.
type Template struct {
	text  string
	parts []part
}

// Compile parses text and binds every renderer. Unknown renderers, unknown
// options, and malformed syntax are reported here rather than at render time.
func Compile(text string) (*Template, error) {
	segments, err := parse(text)
	if err != nil {
		return nil, err
	}

	t := &Template{text: text, parts: make([]part, 0, len(segments))}
	for _, seg := range segments {
		if seg.renderer == nil {
			t.parts = append(t.parts, part{literal: seg.literal})
			continue
		}
		p, err := bind(seg.renderer)
		if err != nil {
			return nil, err
		}
		t.parts = append(t.parts, p)
	}
	return t, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(text string) *Template {
	t, err := Compile(text)
	if err != nil {
		panic(err)
	}
	return t
}

// Render evaluates the template against ev.
func (t *Template) Render(ev *model.LogEvent) (string, error) {
	if ev == nil {
		ev = &model.LogEvent{}
	}
	if len(t.parts) == 1 && t.parts[0].fn == nil {
		return t.parts[0].literal, nil
	}

	var b strings.Builder
	for _, p := range t.parts {
		if p.fn == nil {
			b.WriteString(p.literal)
			continue
		}
		out, err := p.fn(ev)
		if err != nil {
			return "", fmt.Errorf("layout: render ${%s}: %w", p.name, err)
		}
		switch {
		case p.upper:
			out = strings.ToUpper(out)
		case p.lower:
			out = strings.ToLower(out)
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

// String returns the source text.
func (t *Template) String() string { return t.text }

// options tracks which renderer options a factory consumed.
type options struct {
	renderer string
	values   map[string]string
	used     map[string]bool
}

func newOptions(r *rawRenderer, defaultKey string) (*options, error) {
	o := &options{renderer: r.name, values: map[string]string{}, used: map[string]bool{}}
	for _, opt := range r.options {
		key := opt.key
		if key == "" {
			if defaultKey == "" {
				return nil, fmt.Errorf("%w: renderer %q takes no positional option", ErrSyntax, r.name)
			}
			key = defaultKey
		}
		o.values[key] = opt.value
	}
	return o, nil
}

func (o *options) str(key string) (string, bool) {
	o.used[key] = true
	v, ok := o.values[key]
	return v, ok
}

func (o *options) boolean(key string) (bool, error) {
	v, ok := o.str(key)
	if !ok {
		return false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("layout: renderer %q option %q: %w", o.renderer, key, err)
	}
	return b, nil
}

func (o *options) unused() []string {
	var keys []string
	for k := range o.values {
		if !o.used[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func bind(r *rawRenderer) (part, error) {
	def, ok := registry[r.name]
	if !ok {
		return part{}, fmt.Errorf("layout: unknown renderer %q", r.name)
	}
	opts, err := newOptions(r, def.defaultOption)
	if err != nil {
		return part{}, err
	}

	p := part{name: r.name}
	if p.upper, err = opts.boolean("uppercase"); err != nil {
		return part{}, err
	}
	if p.lower, err = opts.boolean("lowercase"); err != nil {
		return part{}, err
	}
	if p.fn, err = def.build(opts); err != nil {
		return part{}, err
	}
	if extra := opts.unused(); len(extra) > 0 {
		return part{}, fmt.Errorf("layout: renderer %q does not support option(s) %s", r.name, strings.Join(extra, ", "))
	}
	return p, nil
}
