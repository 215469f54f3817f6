package playbook

import (
	"regexp"

	"github.com/secops-platform/secops-core/internal/model"
)

// tokenPattern matches {{path.to.field}} substitution tokens in step
// parameters.
var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// substituteParams resolves template tokens in step parameters against the
// event. Tokens whose path does not resolve are left verbatim so a
// misconfigured playbook is visible in the action output rather than
// silently emptied.
func substituteParams(params map[string]string, event *model.SecurityEvent) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for key, value := range params {
		out[key] = substitute(value, event)
	}
	return out
}

func substitute(value string, event *model.SecurityEvent) string {
	return tokenPattern.ReplaceAllStringFunc(value, func(token string) string {
		path := tokenPattern.FindStringSubmatch(token)[1]
		resolved, err := model.GetFieldAsString(event, path)
		if err != nil {
			return token
		}
		return resolved
	})
}
