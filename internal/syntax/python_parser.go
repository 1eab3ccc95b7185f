// Package syntax walks a parsed Python syntax tree and emits the per-function
// records the rest of the analysis pipeline consumes: direct raises, calls
// (with callable-argument hints), try/except scopes, decorators, and
// docstrings.
package syntax

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/raiseattention/raiseattention/internal/model"
)

// Parser limits. Parse enforces the maximum file size (defaultMaxFileSize
// unless WithMaxFileSize overrides it); MaxCallExpressionDepth and
// MaxCallSitesPerFunction are declared here but the visitor does not
// enforce them.
const (
	MaxCallExpressionDepth  = 64
	MaxCallSitesPerFunction = 4096
	defaultMaxFileSize      = 8 << 20 // 8 MiB
)

var (
	// ErrFileTooLarge is returned when content exceeds the parser's
	// configured maximum file size.
	ErrFileTooLarge = fmt.Errorf("syntax: file exceeds maximum size")
	// ErrInvalidContent is returned when content is not valid UTF-8.
	ErrInvalidContent = fmt.Errorf("syntax: content is not valid utf-8")
)

// PythonParserOption configures a PythonParser instance.
type PythonParserOption func(*PythonParser)

// WithMaxFileSize overrides the default maximum parseable file size.
func WithMaxFileSize(n int) PythonParserOption {
	return func(p *PythonParser) { p.maxFileSize = n }
}

// WithTracer overrides the no-op tracer, e.g. to wire in the session's real
// tracer provider.
func WithTracer(t trace.Tracer) PythonParserOption {
	return func(p *PythonParser) { p.tracer = t }
}

// WithLogger overrides the default logger, e.g. to wire in the session's
// shared *slog.Logger.
func WithLogger(logger *slog.Logger) PythonParserOption {
	return func(p *PythonParser) { p.logger = logger }
}

// PythonParser parses Python source into FunctionInfo/ImportRecord records.
// A PythonParser holds no per-file state; each call to Parse creates its own
// tree-sitter parser, so a PythonParser is safe for concurrent use by
// multiple goroutines.
type PythonParser struct {
	maxFileSize int
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewPythonParser constructs a parser with the given options applied over
// sensible defaults.
func NewPythonParser(opts ...PythonParserOption) *PythonParser {
	p := &PythonParser{
		maxFileSize: defaultMaxFileSize,
		logger:      slog.Default(),
		tracer:      trace.NewNoopTracerProvider().Tracer("raiseattention/syntax"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseResult is the Syntax Visitor's output for one module.
type ParseResult struct {
	FilePath    string
	ContentHash string
	Functions   []*model.FunctionInfo
	Imports     []model.ImportRecord
	Docstring   string
}

// Parse walks content (the source of filePath) and extracts every top-level
// and nested function/method, its raises, calls, and try scopes, plus the
// module's import table.
func (p *PythonParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	ctx, span := p.tracer.Start(ctx, "syntax.Parse")
	defer span.End()
	span.SetAttributes(attribute.String("file_path", filePath))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(content) > p.maxFileSize {
		return nil, fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, filePath, len(content))
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContent, filePath)
	}

	hash := sha256.Sum256(content)

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("syntax: parse %s: %w", filePath, err)
	}
	root := tree.RootNode()

	result := &ParseResult{
		FilePath:    filePath,
		ContentHash: hex.EncodeToString(hash[:]),
	}
	result.Docstring = moduleDocstring(root, content)
	result.Imports = p.extractImportsRecursive(root, content)

	v := &visitor{content: content, filePath: filePath, logger: p.logger}
	v.extractTopLevel(ctx, root, "", false)
	result.Functions = v.functions

	return result, nil
}

func moduleDocstring(root *sitter.Node, content []byte) string {
	if root.ChildCount() == 0 {
		return ""
	}
	first := root.Child(0)
	if first.Type() == "expression_statement" && first.ChildCount() > 0 {
		if s := stringLiteralValue(first.Child(0), content); s != "" {
			return s
		}
	}
	return ""
}

// stringLiteralValue returns the decoded text of a `string` node, or "" if
// node is not a string literal.
func stringLiteralValue(node *sitter.Node, content []byte) string {
	if node == nil || node.Type() != "string" {
		return ""
	}
	raw := node.Content(content)
	raw = strings.TrimPrefix(raw, "r")
	raw = strings.TrimPrefix(raw, "u")
	raw = strings.TrimPrefix(raw, "f")
	for _, q := range []string{`"""`, "'''", `"`, "'"} {
		if strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) && len(raw) >= 2*len(q) {
			return raw[len(q) : len(raw)-len(q)]
		}
	}
	return raw
}

// extractImportsRecursive walks the entire tree, not just the module's
// top-level statements, because inline imports inside function bodies (used
// to avoid import cycles) must be visible to the name resolver too.
func (p *PythonParser) extractImportsRecursive(root *sitter.Node, content []byte) []model.ImportRecord {
	var imports []model.ImportRecord
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "import_statement":
			imports = append(imports, processImportStatement(n, content)...)
			return
		case "import_from_statement":
			imports = append(imports, processImportFromStatement(n, content)...)
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return imports
}

func processImportStatement(node *sitter.Node, content []byte) []model.ImportRecord {
	var out []model.ImportRecord
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			path := child.Content(content)
			out = append(out, model.ImportRecord{Path: path, Alias: leadingSegment(path)})
		case "aliased_import":
			name := child.ChildByFieldName("name")
			alias := child.ChildByFieldName("alias")
			if name == nil || alias == nil {
				continue
			}
			out = append(out, model.ImportRecord{Path: name.Content(content), Alias: alias.Content(content)})
		}
	}
	return out
}

func processImportFromStatement(node *sitter.Node, content []byte) []model.ImportRecord {
	var basePath string
	relPrefix := ""
	names := map[string]string{}
	isWildcard := false
	moduleNode := node.ChildByFieldName("module_name")

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			if moduleNode != nil && child.StartByte() == moduleNode.StartByte() {
				basePath = child.Content(content)
			} else {
				// an imported name in `from x import y, z`
				names[child.Content(content)] = child.Content(content)
			}
		case "relative_import":
			relPrefix = child.Content(content)
		case "wildcard_import":
			isWildcard = true
		case "import_prefix":
			relPrefix += child.Content(content)
		case "aliased_import":
			name := child.ChildByFieldName("name")
			alias := child.ChildByFieldName("alias")
			if name != nil {
				local := name.Content(content)
				if alias != nil {
					local = alias.Content(content)
				}
				names[local] = name.Content(content)
			}
		case "identifier":
			// bare `from x import y`
			names[child.Content(content)] = child.Content(content)
		}
	}

	path := relPrefix + basePath
	if isWildcard {
		return []model.ImportRecord{{Path: path, IsWildcard: true}}
	}
	if len(names) == 0 {
		return nil
	}
	return []model.ImportRecord{{Path: path, Names: names}}
}

func leadingSegment(dotted string) string {
	if idx := strings.IndexByte(dotted, '.'); idx >= 0 {
		return dotted[:idx]
	}
	return dotted
}

// visitor accumulates FunctionInfo records during a single-pass traversal of
// one module's tree.
type visitor struct {
	content   []byte
	filePath  string
	logger    *slog.Logger
	functions []*model.FunctionInfo
}

// extractTopLevel walks root-level statements of a module or class body,
// recursing into decorated_definition wrappers and nested classes.
func (v *visitor) extractTopLevel(ctx context.Context, node *sitter.Node, classPrefix string, inClass bool) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "function_definition":
			v.processFunction(ctx, child, nil, classPrefix, inClass)
		case "class_definition":
			v.processClass(ctx, child)
		case "decorated_definition":
			decorators := extractDecorators(child, v.content)
			for j := 0; j < int(child.ChildCount()); j++ {
				grand := child.Child(j)
				switch grand.Type() {
				case "function_definition":
					v.processFunction(ctx, grand, decorators, classPrefix, inClass)
				case "class_definition":
					v.processClass(ctx, grand)
				}
			}
		}
	}
}

func (v *visitor) processClass(ctx context.Context, node *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	className := nameNode.Content(v.content)
	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	v.extractTopLevel(ctx, body, className, true)
}

// processFunction extracts one FunctionInfo, recursing into the body for
// direct raises, calls, try scopes, and nested function definitions. Nested
// defs become their own FunctionInfo entries qualified by the enclosing
// function's name, since a closure is still an independently callable
// signature-engine target.
func (v *visitor) processFunction(ctx context.Context, node *sitter.Node, decorators []string, classPrefix string, inClass bool) {
	if err := ctx.Err(); err != nil {
		return
	}
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nameNode.Content(v.content)
	qualName := name
	if classPrefix != "" {
		qualName = classPrefix + "." + name
	}

	isAsync := false
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == "async" {
			isAsync = true
			break
		}
	}

	fn := &model.FunctionInfo{
		QualifiedName: qualName,
		FilePath:      v.filePath,
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		Decorators:    decorators,
		IsAsync:       isAsync,
		IsMethod:      inClass,
	}

	body := node.ChildByFieldName("body")
	if body != nil {
		fn.Docstring = blockDocstring(body, v.content)

		fv := &functionVisitor{content: v.content}
		fv.walk(body)
		fn.DirectRaises = fv.directRaises
		fn.Calls = fv.calls
		fn.TryScopes = fv.tryScopes
		fn.HasBareRaise = fv.hasBareRaise

		nv := &visitor{content: v.content, filePath: v.filePath, logger: v.logger}
		nv.extractNestedFunctions(ctx, body, qualName)
		v.functions = append(v.functions, nv.functions...)
	}

	v.functions = append(v.functions, fn)
}

func (v *visitor) extractNestedFunctions(ctx context.Context, block *sitter.Node, parentQualName string) {
	for i := 0; i < int(block.ChildCount()); i++ {
		stmt := block.Child(i)
		switch stmt.Type() {
		case "function_definition":
			v.processFunction(ctx, stmt, nil, parentQualName, false)
		case "decorated_definition":
			decorators := extractDecorators(stmt, v.content)
			for j := 0; j < int(stmt.ChildCount()); j++ {
				grand := stmt.Child(j)
				if grand.Type() == "function_definition" {
					v.processFunction(ctx, grand, decorators, parentQualName, false)
					break
				}
			}
		}
	}
}

func blockDocstring(block *sitter.Node, content []byte) string {
	if block.ChildCount() == 0 {
		return ""
	}
	first := block.Child(0)
	if first.Type() == "expression_statement" && first.ChildCount() > 0 {
		return stringLiteralValue(first.Child(0), content)
	}
	return ""
}

// extractDecorators returns the dotted-string form of every decorator on a
// decorated_definition node; lambda decorators and call expressions are kept
// verbatim via decoratorText.
func extractDecorators(node *sitter.Node, content []byte) []string {
	var out []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "decorator" {
			continue
		}
		var expr *sitter.Node
		for j := 0; j < int(child.ChildCount()); j++ {
			if child.Child(j).Type() != "@" {
				expr = child.Child(j)
			}
		}
		if expr == nil {
			continue
		}
		out = append(out, decoratorText(expr, content))
	}
	return out
}

func decoratorText(node *sitter.Node, content []byte) string {
	switch node.Type() {
	case "identifier":
		return node.Content(content)
	case "attribute":
		return dottedAttributeName(node, content)
	case "call":
		if fn := node.ChildByFieldName("function"); fn != nil {
			return decoratorText(fn, content)
		}
		return node.Content(content)
	default:
		return node.Content(content)
	}
}

// dottedAttributeName flattens an `attribute` node (a.b.c) back into its
// dotted string form.
func dottedAttributeName(node *sitter.Node, content []byte) string {
	if node.Type() == "identifier" {
		return node.Content(content)
	}
	if node.Type() != "attribute" {
		return node.Content(content)
	}
	obj := node.ChildByFieldName("object")
	attr := node.ChildByFieldName("attribute")
	if obj == nil || attr == nil {
		return node.Content(content)
	}
	return dottedAttributeName(obj, content) + "." + attr.Content(content)
}

// isDottedExpression reports whether node is an identifier or a chain of
// attribute accesses rooted in one, i.e. syntactically resolvable by name as
// opposed to a call result, subscript, or literal.
func isDottedExpression(node *sitter.Node) bool {
	switch node.Type() {
	case "identifier":
		return true
	case "attribute":
		obj := node.ChildByFieldName("object")
		return obj != nil && isDottedExpression(obj)
	default:
		return false
	}
}
