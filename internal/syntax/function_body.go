package syntax

import (
	"strconv"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/raiseattention/raiseattention/internal/model"
)

// functionVisitor walks one function body and collects direct raises, call
// sites, and try scopes. It tracks the stack of enclosing try scopes (by id,
// innermost last) and the stack of names currently bound by an `except ...
// as name:` clause, so that `raise name` inside a handler is recognised as a
// re-raise rather than a new exception.
type functionVisitor struct {
	content []byte

	directRaises []model.DirectRaise
	calls        []model.CallInfo
	tryScopes    []model.TryScope
	hasBareRaise bool

	tryStack     []int // TryScope ids, innermost last
	handlerNames map[string][]string // as-name -> caught classes, scoped by current handler stack
	handlerStack []handlerFrame
	nextScopeID  int
}

type handlerFrame struct {
	asName string
	caught []string
}

func (fv *functionVisitor) walk(node *sitter.Node) {
	fv.walkStmt(node)
}

func (fv *functionVisitor) walkStmt(node *sitter.Node) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "try_statement":
		fv.visitTry(node)
		return
	case "function_definition", "lambda":
		// Nested functions are separate FunctionInfo records handled by
		// the enclosing visitor; do not descend into their bodies here
		// to avoid double-counting calls/raises.
		return
	case "raise_statement":
		fv.visitRaise(node)
		return
	case "call":
		fv.visitCall(node)
		// fall through to also visit children (arguments may contain
		// further calls)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		fv.walkStmt(node.Child(i))
	}
}

func (fv *functionVisitor) visitTry(node *sitter.Node) {
	id := fv.nextScopeID
	fv.nextScopeID++
	scope := model.TryScope{
		ID:        id,
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}

	fv.tryStack = append(fv.tryStack, id)

	var bodyBlock *sitter.Node
	var handlerNodes []*sitter.Node
	var elseBlock, finallyBlock *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "block":
			if bodyBlock == nil {
				bodyBlock = child
			}
		case "except_clause", "except_group_clause":
			handlerNodes = append(handlerNodes, child)
		case "else_clause":
			elseBlock = child
		case "finally_clause":
			finallyBlock = child
		}
	}

	// walk the guarded body with this scope active
	if bodyBlock != nil {
		fv.walkStmt(bodyBlock)
	}

	// the guarded region ends once handlers start; pop before visiting
	// handler bodies, since a call inside a handler is not covered by
	// its own try.
	fv.tryStack = fv.tryStack[:len(fv.tryStack)-1]

	for _, h := range handlerNodes {
		handler := fv.visitExceptClause(h, &scope)
		scope.Handlers = append(scope.Handlers, handler)
	}

	fv.tryScopes = append(fv.tryScopes, scope)

	if elseBlock != nil {
		fv.walkStmt(elseBlock)
	}
	if finallyBlock != nil {
		fv.walkStmt(finallyBlock)
	}
}

// visitExceptClause extracts the handler's caught-class set and as-name,
// then walks its body with that binding active on the handler stack so
// `raise e` inside resolves to a re-raise.
func (fv *functionVisitor) visitExceptClause(node *sitter.Node, scope *model.TryScope) model.Handler {
	handler := model.Handler{
		Location: model.Location{Line: int(node.StartPoint().Row) + 1},
	}

	var exprNode, asNode, bodyNode *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "block":
			bodyNode = child
		case "as_pattern":
			// `except X as e:` grammar wraps the whole thing in
			// as_pattern in some tree-sitter-python versions.
			exprNode = child.ChildByFieldName("value")
			target := child.ChildByFieldName("alias")
			if target == nil && int(child.ChildCount()) > 1 {
				target = child.Child(int(child.ChildCount()) - 1)
			}
			asNode = target
		case "identifier", "attribute", "tuple":
			if exprNode == nil {
				exprNode = child
			}
		}
	}

	if exprNode == nil {
		handler.Universal = true
	} else if exprNode.Type() == "tuple" {
		for i := 0; i < int(exprNode.ChildCount()); i++ {
			c := exprNode.Child(i)
			if isDottedExpression(c) {
				handler.CaughtClasses = append(handler.CaughtClasses, dottedAttributeName(c, fv.content))
			}
		}
	} else if isDottedExpression(exprNode) {
		handler.CaughtClasses = []string{dottedAttributeName(exprNode, fv.content)}
	}

	if asNode != nil {
		handler.AsName = asNode.Content(fv.content)
	}

	if handler.AsName != "" {
		fv.handlerStack = append(fv.handlerStack, handlerFrame{
			asName: handler.AsName,
			caught: handler.CaughtClasses,
		})
		defer func() { fv.handlerStack = fv.handlerStack[:len(fv.handlerStack)-1] }()
	}

	if bodyNode != nil {
		fv.walkStmt(bodyNode)
		handler.BodyTrivial = handlerBodyIsTrivial(bodyNode, fv.content)
		handler.HasLoggingCall = handlerBodyHasLoggingCall(bodyNode, fv.content)
		handler.HasReraise = handlerBodyHasRaise(bodyNode)
	}

	return handler
}

// handlerBodyIsTrivial reports whether every direct statement of a handler
// body is `pass`, `...`, or a bare string expression (a docstring-shaped
// no-op) — the shape the optional bare-except lint flags.
func handlerBodyIsTrivial(body *sitter.Node, content []byte) bool {
	for i := 0; i < int(body.ChildCount()); i++ {
		stmt := body.Child(i)
		switch stmt.Type() {
		case "pass_statement":
			continue
		case "expression_statement":
			if int(stmt.ChildCount()) != 1 {
				return false
			}
			child := stmt.Child(0)
			switch child.Type() {
			case "ellipsis", "string":
				continue
			}
			return false
		case "comment":
			continue
		default:
			return false
		}
	}
	return true
}

// handlerBodyHasLoggingCall reports whether the handler body calls anything
// whose dotted callee ends in .exception, .error, .warning, or .critical —
// the shape require_reraise_after_log looks for before flagging a swallowed
// exception.
func handlerBodyHasLoggingCall(body *sitter.Node, content []byte) bool {
	found := false
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if found || n == nil {
			return
		}
		switch n.Type() {
		case "function_definition", "lambda":
			return
		case "call":
			if fn := n.ChildByFieldName("function"); fn != nil && isDottedExpression(fn) {
				name := dottedAttributeName(fn, content)
				switch lastDottedSegment(name) {
				case "exception", "error", "warning", "critical":
					found = true
					return
				}
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(body)
	return found
}

// handlerBodyHasRaise reports whether the handler body contains any raise
// statement, bare or otherwise, at any depth (excluding nested function
// bodies, which raise on their own account).
func handlerBodyHasRaise(body *sitter.Node) bool {
	found := false
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if found || n == nil {
			return
		}
		switch n.Type() {
		case "function_definition", "lambda":
			return
		case "raise_statement":
			found = true
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(body)
	return found
}

func lastDottedSegment(dotted string) string {
	for i := len(dotted) - 1; i >= 0; i-- {
		if dotted[i] == '.' {
			return dotted[i+1:]
		}
	}
	return dotted
}

// visitRaise classifies a raise_statement per spec.md §4.1:
//   - `raise X(...)` / `raise X` where X is a dotted name -> direct raise,
//     confidence exact.
//   - bare `raise` inside a handler -> re-raise, contributes nothing new.
//   - `raise v` where v is bound by the innermost enclosing `except ... as
//     v:` -> re-raise of the caught set, not a new exception.
func (fv *functionVisitor) visitRaise(node *sitter.Node) {
	loc := model.Location{Line: int(node.StartPoint().Row) + 1, Column: int(node.StartPoint().Column) + 1}

	var expr *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "raise" || child.Type() == "from" {
			continue
		}
		expr = child
		break
	}

	if expr == nil {
		fv.hasBareRaise = true
		fv.directRaises = append(fv.directRaises, model.DirectRaise{Reraise: true, Location: loc})
		return
	}

	callee := expr
	if expr.Type() == "call" {
		if fn := expr.ChildByFieldName("function"); fn != nil {
			callee = fn
		}
	}

	if callee.Type() == "identifier" {
		if frame := fv.lookupHandlerBinding(callee.Content(fv.content)); frame != nil {
			fv.directRaises = append(fv.directRaises, model.DirectRaise{
				Reraise:   true,
				ReraiseOf: callee.Content(fv.content),
				Location:  loc,
			})
			return
		}
	}

	if isDottedExpression(callee) {
		fv.directRaises = append(fv.directRaises, model.DirectRaise{
			ClassName: dottedAttributeName(callee, fv.content),
			Location:  loc,
		})
		return
	}

	// Not a syntactically resolvable raise target (e.g. `raise exc_var()`
	// where exc_var is some other expression) — record nothing new; the
	// engine already degrades unresolved callees to conservative.
}

func (fv *functionVisitor) lookupHandlerBinding(name string) *handlerFrame {
	for i := len(fv.handlerStack) - 1; i >= 0; i-- {
		if fv.handlerStack[i].asName == name {
			return &fv.handlerStack[i]
		}
	}
	return nil
}

// visitCall records one CallInfo: the dotted callee when resolvable, the
// enclosing try-scope stack, and callable-argument hints for every
// positional/keyword argument that is itself a name, dotted attribute, or
// lambda. Which of those hints actually matter is decided later by the
// Signature Engine's higher-order-function registry — the visitor's job is
// only to make them visible.
func (fv *functionVisitor) visitCall(node *sitter.Node) {
	fnNode := node.ChildByFieldName("function")
	if fnNode == nil {
		return
	}

	// `await expr` wraps the call one level up; transparent to us since
	// we are invoked on the call node directly regardless of await.
	callee := ""
	if isDottedExpression(fnNode) {
		callee = dottedAttributeName(fnNode, fv.content)
	}

	ci := model.CallInfo{
		Callee:             callee,
		Location:           model.Location{Line: int(node.StartPoint().Row) + 1, Column: int(node.StartPoint().Column) + 1},
		EndLine:            int(node.EndPoint().Row) + 1,
		EnclosingTryScopes: append([]int(nil), fv.tryStack...),
	}

	args := node.ChildByFieldName("arguments")
	if args != nil {
		ci.CallableHints = extractCallableHints(args, fv.content)
	}

	fv.calls = append(fv.calls, ci)
}

func extractCallableHints(argList *sitter.Node, content []byte) []model.CallableHint {
	var hints []model.CallableHint
	posIndex := 0
	for i := 0; i < int(argList.ChildCount()); i++ {
		arg := argList.Child(i)
		switch arg.Type() {
		case "(", ")", ",":
			continue
		case "keyword_argument":
			name := arg.ChildByFieldName("name")
			value := arg.ChildByFieldName("value")
			if name == nil || value == nil {
				continue
			}
			if h, ok := hintFromExpr(value, content, name.Content(content)); ok {
				hints = append(hints, h)
			}
		default:
			if h, ok := hintFromExpr(arg, content, strconv.Itoa(posIndex)); ok {
				hints = append(hints, h)
			}
			posIndex++
		}
	}
	return hints
}

func hintFromExpr(node *sitter.Node, content []byte, position string) (model.CallableHint, bool) {
	switch {
	case node.Type() == "lambda":
		return model.CallableHint{Lambda: true, Position: position}, true
	case isDottedExpression(node):
		return model.CallableHint{DottedName: dottedAttributeName(node, content), Position: position}, true
	default:
		return model.CallableHint{}, false
	}
}
