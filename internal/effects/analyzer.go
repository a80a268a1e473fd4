package effects

import (
	"context"
	"runtime"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"
	"golang.org/x/sync/errgroup"

	"codegraph/internal/logging"
)

// unknownDecay attenuates confidence for each unresolved call.
const (
	unknownDecay    = 0.9
	confidenceFloor = 0.1
)

// Known call classifications. The allowlists come from observed defaults; an
// unresolved name degrades to UNKNOWN rather than guessing.
var (
	pureBuiltins = map[string]bool{
		"abs": true, "len": true, "max": true, "min": true, "sum": true,
		"sorted": true, "reversed": true, "map": true, "filter": true,
		"zip": true, "enumerate": true, "str": true, "int": true,
		"float": true, "bool": true, "list": true, "dict": true,
		"set": true, "tuple": true,
	}
	ioFunctions  = map[string]bool{"print": true, "open": true, "input": true}
	logMarkers   = []string{"log", "logger", "logging"}
	dbMarkers    = []string{"db", "query", "execute", "session", "cursor"}
	dbWriteVerbs = []string{"insert", "update", "delete", "execute", "commit"}
	netMarkers   = []string{"request", "http", "fetch", "post", "get"}
)

// Analyzer infers an EffectSet from the body of a single function. One
// Analyzer owns one tree-sitter parser and its mutex serializes concurrent
// calls; BatchAnalyze shards work across per-goroutine analyzers.
type Analyzer struct {
	parser *sitter.Parser
	mu     sync.Mutex
}

// NewAnalyzer builds an analyzer with an unconfigured parser; the language
// is selected per call.
func NewAnalyzer() *Analyzer {
	return &Analyzer{parser: sitter.NewParser()}
}

// AnalyzeSource parses source in the given language ("python" or "go") and
// infers the effect set of the code. Unsupported languages yield an UNKNOWN
// set with provenance "unknown".
func (a *Analyzer) AnalyzeSource(ctx context.Context, source, language, symbolID string) *EffectSet {
	timer := logging.StartTimer(logging.CategoryEffects, "AnalyzeSource")
	defer timer.Stop()

	var lang *sitter.Language
	switch strings.ToLower(language) {
	case "python", "py":
		lang = python.GetLanguage()
	case "go", "golang":
		lang = golang.GetLanguage()
	default:
		es := NewEffectSet(symbolID)
		es.Add(EffectUnknown)
		es.Idempotent = false
		es.Confidence = confidenceFloor
		es.Provenance = ProvenanceUnknown
		return es
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.parser.SetLanguage(lang)

	tree, err := a.parser.ParseCtx(ctx, nil, []byte(source))
	if err != nil {
		logging.Get(logging.CategoryEffects).Error("AnalyzeSource: parse failed for %s: %v", symbolID, err)
		es := NewEffectSet(symbolID)
		es.Add(EffectUnknown)
		es.Confidence = confidenceFloor
		es.Provenance = ProvenanceUnknown
		return es
	}
	defer tree.Close()

	es := NewEffectSet(symbolID)
	w := &walker{source: []byte(source), set: es}
	w.walk(tree.RootNode())

	if len(es.Effects) == 0 {
		es.Add(EffectPure)
		es.Idempotent = true
	}
	logging.EffectsDebug("Analyzed %s: %s (confidence %.2f)", symbolID, es, es.Confidence)
	return es
}

// walker accumulates effects over one syntax tree.
type walker struct {
	source []byte
	set    *EffectSet
}

func (w *walker) text(n *sitter.Node) string {
	return string(w.source[n.StartByte():n.EndByte()])
}

func (w *walker) walk(node *sitter.Node) {
	if node == nil {
		return
	}
	switch node.Type() {
	// Python.
	case "global_statement":
		w.set.Add(EffectGlobalMutation)
		w.set.Idempotent = false
	case "assignment", "augmented_assignment":
		w.assignment(node.ChildByFieldName("left"))
	case "attribute":
		w.attributeRead(node)
	case "call":
		w.call(node.ChildByFieldName("function"))

	// Go.
	case "assignment_statement":
		w.assignment(node.ChildByFieldName("left"))
	case "selector_expression":
		w.attributeRead(node)
	case "call_expression":
		w.call(node.ChildByFieldName("function"))
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.walk(node.NamedChild(i))
	}
}

// assignment classifies the write target: an all-uppercase identifier is
// treated as a conventionally-global name, an attribute of a non-self
// receiver as external state.
func (w *walker) assignment(target *sitter.Node) {
	if target == nil {
		return
	}
	switch target.Type() {
	case "identifier":
		name := w.text(target)
		if name != "" && name == strings.ToUpper(name) && name != strings.ToLower(name) {
			w.set.Add(EffectGlobalMutation)
			w.set.Idempotent = false
		}
	case "attribute", "selector_expression":
		if recv := receiverName(target, w.source); recv != "" && recv != "self" {
			w.set.Add(EffectWriteState)
			w.set.Idempotent = false
		}
	case "expression_list":
		for i := 0; i < int(target.NamedChildCount()); i++ {
			w.assignment(target.NamedChild(i))
		}
	}
}

// attributeRead records reads through a non-self receiver.
func (w *walker) attributeRead(node *sitter.Node) {
	if recv := receiverName(node, w.source); recv != "" && recv != "self" {
		w.set.Add(EffectReadState)
	}
}

// receiverName returns the base identifier of obj.attr, or "".
func receiverName(node *sitter.Node, source []byte) string {
	var obj *sitter.Node
	switch node.Type() {
	case "attribute":
		obj = node.ChildByFieldName("object")
	case "selector_expression":
		obj = node.ChildByFieldName("operand")
	}
	if obj == nil || obj.Type() != "identifier" {
		return ""
	}
	return string(source[obj.StartByte():obj.EndByte()])
}

// call resolves the callee name and classifies its effect.
func (w *walker) call(fn *sitter.Node) {
	if fn == nil {
		return
	}
	name := w.text(fn)
	if name == "" {
		return
	}
	lower := strings.ToLower(name)

	switch {
	case pureBuiltins[name]:
		// No effect.
	case ioFunctions[name] || strings.Contains(lower, "print"):
		w.set.Add(EffectIO)
		w.set.Idempotent = false
	case containsAny(lower, logMarkers):
		w.set.Add(EffectLog)
	case containsAny(lower, dbMarkers):
		if containsAny(lower, dbWriteVerbs) {
			w.set.Add(EffectDBWrite)
			w.set.Idempotent = false
		} else {
			w.set.Add(EffectDBRead)
		}
	case containsAny(lower, netMarkers):
		w.set.Add(EffectNetwork)
		w.set.Idempotent = false
	default:
		w.set.Add(EffectUnknown)
		w.set.Confidence *= unknownDecay
		if w.set.Confidence < confidenceFloor {
			w.set.Confidence = confidenceFloor
		}
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// CodePair is one before/after change body.
type CodePair struct {
	Before   string
	After    string
	Language string
}

// BatchAnalyze infers before/after effect sets for every change in parallel.
// Each goroutine owns its own Analyzer since tree-sitter parsers are not
// thread-safe.
func BatchAnalyze(ctx context.Context, changes map[string]CodePair) (map[string]*EffectSet, map[string]*EffectSet, error) {
	before := make(map[string]*EffectSet, len(changes))
	after := make(map[string]*EffectSet, len(changes))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for id, pair := range changes {
		g.Go(func() error {
			a := NewAnalyzer()
			b := a.AnalyzeSource(ctx, pair.Before, pair.Language, id)
			af := a.AnalyzeSource(ctx, pair.After, pair.Language, id)
			mu.Lock()
			before[id] = b
			after[id] = af
			mu.Unlock()
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return before, after, nil
}
