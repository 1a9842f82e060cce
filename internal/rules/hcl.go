// SPDX-License-Identifier: MPL-2.0

package rules

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"

	"launchkit-cli/pkg/bundlelist"
	"launchkit-cli/pkg/coordinate"
)

// maxPasses caps fixed-point evaluation. A well-formed rule set settles in
// one or two passes; hitting the cap means rules keep undoing each other.
const maxPasses = 8

// HCLEngine is the HCL implementation of Engine.
type HCLEngine struct {
	log *slog.Logger
}

var _ Engine = (*HCLEngine)(nil)

// NewHCLEngine creates an engine. A nil logger discards logs.
func NewHCLEngine(log *slog.Logger) *HCLEngine {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &HCLEngine{log: log}
}

// wire structs for gohcl decoding
type (
	ruleFileDocument struct {
		Rules []*ruleDocument `hcl:"rule,block"`
	}

	ruleDocument struct {
		Name     string         `hcl:"name,label"`
		Priority int            `hcl:"priority,optional"`
		When     hcl.Expression `hcl:"when,optional"`
		Remove   bool           `hcl:"remove,optional"`
		Set      *actionBody    `hcl:"set,block"`
		Add      *actionBody    `hcl:"add,block"`
	}

	// actionBody defers attribute decoding so presence and absence can be
	// told apart.
	actionBody struct {
		Body hcl.Body `hcl:",remain"`
	}
)

var (
	setSchema = &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "version"},
			{Name: "start_priority"},
			{Name: "run_modes"},
		},
	}

	addSchema = &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "namespace", Required: true},
			{Name: "name", Required: true},
			{Name: "classifier"},
			{Name: "version", Required: true},
			{Name: "start_priority"},
			{Name: "run_modes"},
		},
	}

	// factAttrs maps expression roots to the attributes they expose.
	factAttrs = map[string][]string{
		"entry":   {"namespace", "name", "classifier", "version", "start_priority", "run_modes"},
		"project": {"namespace", "name", "version"},
		"session": {"tool", "version", "started_at"},
	}
)

type (
	// rule is a validated rule ready to fire.
	rule struct {
		name     string
		file     string
		priority int
		when     hcl.Expression // nil only for add rules
		remove   bool
		set      *setAction
		add      *bundlelist.Entry
	}

	// setAction rewrites entry attributes; nil fields are left untouched.
	setAction struct {
		version       *string
		startPriority *int
		runModes      []string
		hasRunModes   bool
	}
)

// Load parses and validates the given rule files in order.
func (e *HCLEngine) Load(paths []string) (*RuleSet, error) {
	set := &RuleSet{files: slices.Clone(paths)}
	parser := hclparse.NewParser()
	seen := make(map[string]string)

	for _, path := range paths {
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%w: %s", ErrRuleInvalid, diags.Error())
		}

		var doc ruleFileDocument
		if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
			return nil, fmt.Errorf("%w: %s: %s", ErrRuleInvalid, path, diags.Error())
		}

		for _, rd := range doc.Rules {
			if prev, dup := seen[rd.Name]; dup {
				return nil, fmt.Errorf("%w: rule %q in %s already defined in %s",
					ErrRuleInvalid, rd.Name, path, prev)
			}
			seen[rd.Name] = path

			r, err := buildRule(rd, path)
			if err != nil {
				return nil, fmt.Errorf("%w: rule %q in %s: %s", ErrRuleInvalid, rd.Name, path, err)
			}
			set.rules = append(set.rules, r)
		}
	}

	// Higher priority fires earlier; declaration order breaks ties.
	sort.SliceStable(set.rules, func(i, j int) bool {
		return set.rules[i].priority > set.rules[j].priority
	})

	e.log.Debug("loaded rule set", "files", len(paths), "rules", len(set.rules))
	return set, nil
}

// buildRule validates a decoded rule block.
func buildRule(rd *ruleDocument, file string) (*rule, error) {
	actions := 0
	if rd.Set != nil {
		actions++
	}
	if rd.Remove {
		actions++
	}
	if rd.Add != nil {
		actions++
	}
	if actions == 0 {
		return nil, fmt.Errorf("no action; want one of set, remove, add")
	}
	if actions > 1 {
		return nil, fmt.Errorf("multiple actions; want exactly one of set, remove, add")
	}

	hasWhen := rd.When != nil
	if rd.Add != nil && hasWhen {
		return nil, fmt.Errorf("add rules fire when the entry is absent and cannot carry a when expression")
	}
	if rd.Add == nil && !hasWhen {
		return nil, fmt.Errorf("set and remove rules require a when expression")
	}

	if hasWhen {
		if err := validateWhen(rd.When); err != nil {
			return nil, err
		}
	}

	r := &rule{
		name:     rd.Name,
		file:     file,
		priority: rd.Priority,
		when:     rd.When,
		remove:   rd.Remove,
	}

	if rd.Set != nil {
		set, err := decodeSet(rd.Set.Body)
		if err != nil {
			return nil, err
		}
		r.set = set
	}

	if rd.Add != nil {
		entry, err := decodeAdd(rd.Add.Body)
		if err != nil {
			return nil, err
		}
		r.add = entry
	}

	return r, nil
}

// validateWhen rejects references and function calls that the evaluation
// scope will not provide, so bad rules fail at load rather than mid-run.
func validateWhen(expr hcl.Expression) error {
	for _, traversal := range expr.Variables() {
		root := traversal.RootName()
		attrs, ok := factAttrs[root]
		if !ok {
			return fmt.Errorf("unknown reference %q in when expression (want entry, project, or session)", root)
		}
		if len(traversal) > 1 {
			if attr, ok := traversal[1].(hcl.TraverseAttr); ok && !slices.Contains(attrs, attr.Name) {
				return fmt.Errorf("unknown attribute %s.%s in when expression", root, attr.Name)
			}
		}
	}

	syntaxExpr, ok := expr.(hclsyntax.Expression)
	if !ok {
		return nil
	}
	var unknown []string
	hclsyntax.VisitAll(syntaxExpr, func(node hclsyntax.Node) hcl.Diagnostics {
		if call, ok := node.(*hclsyntax.FunctionCallExpr); ok {
			if _, known := ruleFunctions[call.Name]; !known {
				unknown = append(unknown, call.Name)
			}
		}
		return nil
	})
	if len(unknown) > 0 {
		return fmt.Errorf("unknown function %q in when expression", unknown[0])
	}
	return nil
}

// decodeSet decodes a set block. Values must be literals.
func decodeSet(body hcl.Body) (*setAction, error) {
	content, diags := body.Content(setSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("set block: %s", diags.Error())
	}
	if len(content.Attributes) == 0 {
		return nil, fmt.Errorf("set block rewrites nothing; want at least one of version, start_priority, run_modes")
	}

	action := &setAction{}

	if attr, ok := content.Attributes["version"]; ok {
		v, err := literalString(attr)
		if err != nil {
			return nil, err
		}
		if _, err := coordinate.ParseSpec(v); err != nil {
			return nil, fmt.Errorf("set block: version: %s", err)
		}
		action.version = &v
	}
	if attr, ok := content.Attributes["start_priority"]; ok {
		p, err := literalInt(attr)
		if err != nil {
			return nil, err
		}
		if p < bundlelist.DefaultStartPriority {
			return nil, fmt.Errorf("set block: start_priority %d below %d", p, bundlelist.DefaultStartPriority)
		}
		action.startPriority = &p
	}
	if attr, ok := content.Attributes["run_modes"]; ok {
		modes, err := literalStringList(attr)
		if err != nil {
			return nil, err
		}
		action.runModes = modes
		action.hasRunModes = true
	}

	return action, nil
}

// decodeAdd decodes an add block into a complete, validated entry.
func decodeAdd(body hcl.Body) (*bundlelist.Entry, error) {
	content, diags := body.Content(addSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("add block: %s", diags.Error())
	}

	entry := bundlelist.Entry{StartPriority: bundlelist.DefaultStartPriority}

	var err error
	if entry.Namespace, err = literalString(content.Attributes["namespace"]); err != nil {
		return nil, err
	}
	if entry.Name, err = literalString(content.Attributes["name"]); err != nil {
		return nil, err
	}
	if attr, ok := content.Attributes["classifier"]; ok {
		if entry.Classifier, err = literalString(attr); err != nil {
			return nil, err
		}
	}
	if entry.Version, err = literalString(content.Attributes["version"]); err != nil {
		return nil, err
	}
	if attr, ok := content.Attributes["start_priority"]; ok {
		if entry.StartPriority, err = literalInt(attr); err != nil {
			return nil, err
		}
	}
	if attr, ok := content.Attributes["run_modes"]; ok {
		if entry.RunModes, err = literalStringList(attr); err != nil {
			return nil, err
		}
	}

	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("add block: %s", err)
	}
	return &entry, nil
}

func literalString(attr *hcl.Attribute) (string, error) {
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return "", fmt.Errorf("%s must be a literal string: %s", attr.Name, diags.Error())
	}
	converted, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("%s must be a string: %s", attr.Name, err)
	}
	return converted.AsString(), nil
}

func literalInt(attr *hcl.Attribute) (int, error) {
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return 0, fmt.Errorf("%s must be a literal number: %s", attr.Name, diags.Error())
	}
	converted, err := convert.Convert(val, cty.Number)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %s", attr.Name, err)
	}
	i, _ := converted.AsBigFloat().Int64()
	return int(i), nil
}

func literalStringList(attr *hcl.Attribute) ([]string, error) {
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s must be a literal list of strings: %s", attr.Name, diags.Error())
	}
	converted, err := convert.Convert(val, cty.List(cty.String))
	if err != nil {
		return nil, fmt.Errorf("%s must be a list of strings: %s", attr.Name, err)
	}
	var out []string
	for it := converted.ElementIterator(); it.Next(); {
		_, v := it.Element()
		out = append(out, v.AsString())
	}
	return out, nil
}

// Run applies the rule set to the list until no rule changes it. Panics
// from expression evaluation are converted to errors; the session is
// disposed on every exit path.
func (e *HCLEngine) Run(ctx context.Context, set *RuleSet, list *bundlelist.List, facts Facts) (err error) {
	if set.Len() == 0 {
		return nil
	}

	sess := newSession(facts, e.log)
	defer sess.dispose()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule evaluation panicked: %v", r)
		}
	}()

	for pass := 1; pass <= maxPasses; pass++ {
		changed := false
		for _, r := range set.rules {
			if err := ctx.Err(); err != nil {
				return err
			}
			fired, err := sess.apply(r, list)
			if err != nil {
				return err
			}
			changed = changed || fired
		}
		if !changed {
			e.log.Debug("rules converged", "passes", pass, "fired", sess.fired)
			return nil
		}
	}

	return fmt.Errorf("%w after %d passes (rules keep rewriting each other's changes)", ErrNotConverged, maxPasses)
}

// session holds the evaluation state for a single Run call.
type session struct {
	base  *hcl.EvalContext
	log   *slog.Logger
	fired int
}

func newSession(facts Facts, log *slog.Logger) *session {
	vars := map[string]cty.Value{
		"project": cty.ObjectVal(map[string]cty.Value{
			"namespace": cty.StringVal(facts.Project.Namespace),
			"name":      cty.StringVal(facts.Project.Name),
			"version":   cty.StringVal(facts.Project.Version),
		}),
		"session": cty.ObjectVal(map[string]cty.Value{
			"tool":       cty.StringVal(facts.Session.Tool),
			"version":    cty.StringVal(facts.Session.Version),
			"started_at": cty.StringVal(facts.Session.StartedAt.UTC().Format(time.RFC3339)),
		}),
	}
	return &session{
		base: &hcl.EvalContext{Variables: vars, Functions: ruleFunctions},
		log:  log,
	}
}

// dispose tears down the session state. After dispose the session must not
// be used.
func (s *session) dispose() {
	if s.log != nil {
		s.log.Debug("rule session disposed", "fired", s.fired)
	}
	s.base = nil
	s.log = nil
}

// apply fires one rule against the list, reporting whether it changed
// anything.
func (s *session) apply(r *rule, list *bundlelist.List) (bool, error) {
	switch {
	case r.set != nil:
		return s.applySet(r, list)
	case r.remove:
		return s.applyRemove(r, list)
	default:
		return s.applyAdd(r, list), nil
	}
}

func (s *session) applySet(r *rule, list *bundlelist.List) (bool, error) {
	changed := false
	for _, entry := range list.Entries() {
		match, err := s.matches(r, entry)
		if err != nil {
			return changed, err
		}
		if !match {
			continue
		}

		updated := r.set.rewrite(entry)
		if updated.Equal(entry) {
			continue
		}
		list.Add(updated)
		changed = true
		s.fired++
		s.log.Debug("rule rewrote entry", "rule", r.name, "entry", entry.ID().String())
	}
	return changed, nil
}

func (s *session) applyRemove(r *rule, list *bundlelist.List) (bool, error) {
	changed := false
	for _, entry := range list.Entries() {
		match, err := s.matches(r, entry)
		if err != nil {
			return changed, err
		}
		if !match {
			continue
		}

		if err := list.Remove(entry.ID(), false); err != nil {
			return changed, err
		}
		changed = true
		s.fired++
		s.log.Debug("rule removed entry", "rule", r.name, "entry", entry.ID().String())
	}
	return changed, nil
}

func (s *session) applyAdd(r *rule, list *bundlelist.List) bool {
	if existing, ok := list.Get(r.add.ID()); ok && existing.Equal(*r.add) {
		return false
	}
	list.Add(*r.add)
	s.fired++
	s.log.Debug("rule added entry", "rule", r.name, "entry", r.add.ID().String())
	return true
}

// matches evaluates the rule's when expression against one entry.
func (s *session) matches(r *rule, entry bundlelist.Entry) (bool, error) {
	child := s.base.NewChild()
	child.Variables = map[string]cty.Value{"entry": entryValue(entry)}

	val, diags := r.when.Value(child)
	if diags.HasErrors() {
		return false, fmt.Errorf("rule %q: evaluating when: %s", r.name, diags.Error())
	}
	if val.IsNull() || !val.IsKnown() {
		return false, fmt.Errorf("rule %q: when expression produced no value", r.name)
	}
	boolVal, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("rule %q: when expression must produce a bool: %s", r.name, err)
	}
	return boolVal.True(), nil
}

// rewrite applies the set action to a copy of the entry.
func (a *setAction) rewrite(entry bundlelist.Entry) bundlelist.Entry {
	if a.version != nil {
		entry.Version = *a.version
	}
	if a.startPriority != nil {
		entry.StartPriority = *a.startPriority
	}
	if a.hasRunModes {
		entry.RunModes = slices.Clone(a.runModes)
	}
	return entry
}

// entryValue converts an entry to its expression-scope representation.
func entryValue(entry bundlelist.Entry) cty.Value {
	modes := cty.ListValEmpty(cty.String)
	if len(entry.RunModes) > 0 {
		vals := make([]cty.Value, len(entry.RunModes))
		for i, mode := range entry.RunModes {
			vals[i] = cty.StringVal(mode)
		}
		modes = cty.ListVal(vals)
	}

	return cty.ObjectVal(map[string]cty.Value{
		"namespace":      cty.StringVal(entry.Namespace),
		"name":           cty.StringVal(entry.Name),
		"classifier":     cty.StringVal(entry.Classifier),
		"version":        cty.StringVal(entry.Version),
		"start_priority": cty.NumberIntVal(int64(entry.StartPriority)),
		"run_modes":      modes,
	})
}

// ruleFunctions is the function table available to when expressions.
var ruleFunctions = map[string]function.Function{
	"contains": function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "list", Type: cty.List(cty.String)},
			{Name: "value", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			want := args[1].AsString()
			for it := args[0].ElementIterator(); it.Next(); {
				_, v := it.Element()
				if v.AsString() == want {
					return cty.True, nil
				}
			}
			return cty.False, nil
		},
	}),
	"hasprefix": function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "s", Type: cty.String},
			{Name: "prefix", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.BoolVal(strings.HasPrefix(args[0].AsString(), args[1].AsString())), nil
		},
	}),
	"hassuffix": function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "s", Type: cty.String},
			{Name: "suffix", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.BoolVal(strings.HasSuffix(args[0].AsString(), args[1].AsString())), nil
		},
	}),
}
