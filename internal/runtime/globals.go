package runtime

import (
	"context"
	"log/slog"
	"strings"

	"github.com/risor-io/risor/object"
)

// makePatternFn creates the "pattern" host function, which builds one query
// pattern per node type:
//
//	pattern("(%s) @usage", ["identifier", "type_identifier"])
//	→ "(identifier) @usage\n(type_identifier) @usage"
func makePatternFn() *object.Builtin {
	return object.NewBuiltin("pattern", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("pattern", 2, len(args))
		}

		tmpl, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("pattern: template must be a string, got %s", args[0].Type())
		}
		if !strings.Contains(tmpl.Value(), "%s") {
			return object.Errorf("pattern: template %q has no %%s placeholder", tmpl.Value())
		}

		list, ok := args[1].(*object.List)
		if !ok {
			return object.Errorf("pattern: node types must be a list, got %s", args[1].Type())
		}

		lines := make([]string, 0, len(list.Value()))
		for _, item := range list.Value() {
			s, ok := item.(*object.String)
			if !ok {
				return object.Errorf("pattern: node type must be a string, got %s", item.Type())
			}
			lines = append(lines, strings.ReplaceAll(tmpl.Value(), "%s", s.Value()))
		}
		return object.NewString(strings.Join(lines, "\n"))
	})
}

// logObject provides log.info/warn/error methods for query module scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info("query.module", "msg", msg)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn("query.module", "msg", msg)
}

func (l *logObject) Error(msg string) {
	l.logger.Error("query.module", "msg", msg)
}
