package sendable

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/craiglabenz/grapevine/internal/model"
)

var leftoverToken = regexp.MustCompile(`{{[^\s]*}}`)

// SimpleRender substitutes {{key}} placeholders from ctx and errors if
// any token survives, so an operator typo never reaches a recipient.
func SimpleRender(s string, ctx map[string]string) (string, error) {
	if len(ctx) > 0 {
		pairs := make([]string, 0, len(ctx)*2)
		for k, v := range ctx {
			pairs = append(pairs, "{{"+k+"}}", v)
		}
		s = strings.NewReplacer(pairs...).Replace(s)
	}
	if m := leftoverToken.FindString(s); m != "" {
		return "", fmt.Errorf("unpopulated placeholder %s in %q", m, s)
	}
	return s, nil
}

// Result is the tagged outcome of a send attempt. Sent=false with
// Skipped=true is the idempotent double-send guard, not a failure.
type Result struct {
	Sent    bool
	Skipped bool
	Status  model.Status
	Err     error
}
