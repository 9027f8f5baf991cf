package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tinytelemetry/doctarget/internal/document"
	"github.com/tinytelemetry/doctarget/internal/model"
)

const (
	defaultDateFormat = "2006/01/02 15:04:05.000"
	longDateFormat    = "2006-01-02 15:04:05.0000"
	shortDateFormat   = "2006-01-02"
	timeFormat        = "15:04:05.0000"
)

type definition struct {
	defaultOption string
	build         func(o *options) (renderFunc, error)
}

var registry map[string]definition

func init() {
	registry = map[string]definition{
		"level":            {build: buildLevel},
		"logger":           {build: buildLogger},
		"message":          {build: buildMessage},
		"date":             {defaultOption: "format", build: buildDate},
		"longdate":         {build: fixedDate(longDateFormat)},
		"shortdate":        {build: fixedDate(shortDateFormat)},
		"time":             {build: fixedDate(timeFormat)},
		"exception":        {defaultOption: "format", build: buildException},
		"event-properties": {defaultOption: "item", build: buildEventProperty},
		"event-property":   {defaultOption: "item", build: buildEventProperty},
		"machinename":      {build: buildMachineName},
		"processid":        {build: constant(strconv.Itoa(os.Getpid()))},
		"processname":      {build: constant(filepath.Base(os.Args[0]))},
		"environment":      {defaultOption: "variable", build: buildEnvironment},
		"guid":             {defaultOption: "format", build: buildGUID},
		"newline":          {build: constant("\n")},
		"literal":          {defaultOption: "text", build: buildLiteral},
	}
}

// Renderers lists the supported renderer names.
func Renderers() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func constant(s string) func(*options) (renderFunc, error) {
	return func(*options) (renderFunc, error) {
		return func(*model.LogEvent) (string, error) { return s, nil }, nil
	}
}

func buildLevel(*options) (renderFunc, error) {
	return func(ev *model.LogEvent) (string, error) { return ev.Level, nil }, nil
}

func buildMessage(*options) (renderFunc, error) {
	return func(ev *model.LogEvent) (string, error) { return ev.Message, nil }, nil
}

func buildLogger(o *options) (renderFunc, error) {
	short, err := o.boolean("shortname")
	if err != nil {
		return nil, err
	}
	return func(ev *model.LogEvent) (string, error) {
		if !short {
			return ev.Logger, nil
		}
		name := ev.Logger
		if i := strings.LastIndexAny(name, "./"); i >= 0 {
			name = name[i+1:]
		}
		return name, nil
	}, nil
}

func buildDate(o *options) (renderFunc, error) {
	format, ok := o.str("format")
	if !ok || format == "" {
		format = defaultDateFormat
	}
	utc, err := o.boolean("universaltime")
	if err != nil {
		return nil, err
	}
	return dateRenderer(format, utc), nil
}

func fixedDate(format string) func(*options) (renderFunc, error) {
	return func(o *options) (renderFunc, error) {
		utc, err := o.boolean("universaltime")
		if err != nil {
			return nil, err
		}
		return dateRenderer(format, utc), nil
	}
}

func dateRenderer(format string, utc bool) renderFunc {
	return func(ev *model.LogEvent) (string, error) {
		ts := ev.Timestamp
		if ts.IsZero() {
			return "", nil
		}
		if utc {
			ts = ts.UTC()
		}
		switch strings.ToLower(format) {
		case "o", "iso8601", "rfc3339":
			return ts.Format(time.RFC3339Nano), nil
		case "unix":
			return strconv.FormatInt(ts.Unix(), 10), nil
		case "unixms":
			return strconv.FormatInt(ts.UnixMilli(), 10), nil
		}
		return ts.Format(format), nil
	}
}

func buildException(o *options) (renderFunc, error) {
	format, _ := o.str("format")
	format = strings.ToLower(strings.TrimSpace(format))

	var pick func(e *model.ErrorInfo) string
	switch format {
	case "", "message":
		pick = func(e *model.ErrorInfo) string { return e.Message }
	case "type", "shorttype":
		pick = func(e *model.ErrorInfo) string { return e.Type }
	case "tostring", "text":
		pick = func(e *model.ErrorInfo) string { return e.Text }
	case "basemessage":
		pick = func(e *model.ErrorInfo) string { return e.BaseMessage }
	case "method":
		pick = func(e *model.ErrorInfo) string { return e.MethodName }
	case "module":
		pick = func(e *model.ErrorInfo) string { return e.ModuleName }
	case "source":
		pick = func(e *model.ErrorInfo) string { return e.Source }
	case "code":
		pick = func(e *model.ErrorInfo) string { return strconv.Itoa(e.Code) }
	default:
		return nil, fmt.Errorf("layout: exception format %q is not supported", format)
	}
	return func(ev *model.LogEvent) (string, error) {
		if ev.Error == nil {
			return "", nil
		}
		return pick(ev.Error), nil
	}, nil
}

func buildEventProperty(o *options) (renderFunc, error) {
	item, ok := o.str("item")
	if !ok || item == "" {
		return nil, fmt.Errorf("%w: event-properties requires an item", ErrSyntax)
	}
	return func(ev *model.LogEvent) (string, error) {
		v, ok := ev.Property(item)
		if !ok {
			return "", nil
		}
		return document.Stringify(v), nil
	}, nil
}

func buildMachineName(*options) (renderFunc, error) {
	host, err := os.Hostname()
	if err != nil {
		host = ""
	}
	return func(*model.LogEvent) (string, error) { return host, nil }, nil
}

func buildEnvironment(o *options) (renderFunc, error) {
	name, ok := o.str("variable")
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: environment requires a variable", ErrSyntax)
	}
	return func(*model.LogEvent) (string, error) { return os.Getenv(name), nil }, nil
}

func buildGUID(o *options) (renderFunc, error) {
	format, _ := o.str("format")
	switch strings.ToUpper(format) {
	case "", "D":
		return func(*model.LogEvent) (string, error) { return uuid.NewString(), nil }, nil
	case "N":
		return func(*model.LogEvent) (string, error) {
			return strings.ReplaceAll(uuid.NewString(), "-", ""), nil
		}, nil
	default:
		return nil, fmt.Errorf("layout: guid format %q is not supported", format)
	}
}

func buildLiteral(o *options) (renderFunc, error) {
	text, _ := o.str("text")
	return func(*model.LogEvent) (string, error) { return text, nil }, nil
}
