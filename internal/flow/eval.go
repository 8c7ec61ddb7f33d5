package flow

import (
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

// Trigger is the inbound message that drives an advance.
type Trigger struct {
	ConnectionID      string
	PhoneNumber       string
	ContactName       string
	Type              string
	Body              string
	MediaURL          string
	ProviderMessageID string
}

// env is what expressions and templates can see.
type env struct {
	trigger *Trigger
	chat    *domain.Chat
	vars    map[string]string
}

// Built-in template names.
const (
	varPhone       = "phone"
	varContactName = "contact_name"
	varLastReply   = "last_reply"
)

func (e env) operand(left string) (string, bool) {
	switch left {
	case "body":
		if e.trigger == nil {
			return "", false
		}
		return e.trigger.Body, true
	case "type":
		if e.trigger == nil {
			return "", false
		}
		return e.trigger.Type, true
	case varPhone:
		if e.chat != nil {
			return e.chat.PhoneNumber, true
		}
		if e.trigger != nil {
			return e.trigger.PhoneNumber, true
		}
		return "", false
	case varContactName:
		if e.chat != nil && e.chat.ContactName != "" {
			return e.chat.ContactName, true
		}
		if e.trigger != nil && e.trigger.ContactName != "" {
			return e.trigger.ContactName, true
		}
		return "", false
	}
	if name, ok := strings.CutPrefix(left, "var."); ok {
		v, ok := e.vars[name]
		return v, ok
	}
	return "", false
}

// fold normalizes text for comparison: trimmed and Unicode case-folded.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

var regexCache sync.Map // pattern -> *regexp.Regexp

func compiled(pattern string) (*regexp.Regexp, error) {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// evaluate reports whether x holds in e. Malformed expressions are false.
func evaluate(x domain.Expr, e env) bool {
	switch {
	case len(x.All) > 0:
		for _, sub := range x.All {
			if !evaluate(sub, e) {
				return false
			}
		}
		return true
	case len(x.Any) > 0:
		for _, sub := range x.Any {
			if evaluate(sub, e) {
				return true
			}
		}
		return false
	case x.Not != nil:
		return !evaluate(*x.Not, e)
	}

	raw, present := e.operand(x.Left)
	if x.Op == domain.OpExists {
		return present && strings.TrimSpace(raw) != ""
	}
	if !present {
		return x.Op == domain.OpNotEquals
	}
	got, want := fold(raw), fold(x.Value)
	switch x.Op {
	case domain.OpEquals:
		return got == want
	case domain.OpNotEquals:
		return got != want
	case domain.OpContains:
		return strings.Contains(got, want)
	case domain.OpStartsWith:
		return strings.HasPrefix(got, want)
	case domain.OpEndsWith:
		return strings.HasSuffix(got, want)
	case domain.OpIn:
		for _, v := range x.Values {
			if got == fold(v) {
				return true
			}
		}
		return false
	case domain.OpRegex:
		re, err := compiled(x.Value)
		if err != nil {
			return false
		}
		return re.MatchString(strings.TrimSpace(raw))
	}
	return false
}

// matchesAny reports whether any trigger condition holds. A flow without
// conditions never matches and can only be started explicitly.
func matchesAny(conds []domain.Expr, e env) bool {
	for _, c := range conds {
		if evaluate(c, e) {
			return true
		}
	}
	return false
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// render substitutes {{name}} placeholders. Unknown names render empty.
func render(tmpl string, e env) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		switch name {
		case varPhone, varContactName:
			v, _ := e.operand(name)
			return v
		}
		name = strings.TrimPrefix(name, "var.")
		return e.vars[name]
	})
}
