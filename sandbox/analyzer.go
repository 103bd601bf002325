package sandbox

import (
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// snippetFilename is the virtual filename snippets are parsed and compiled
// under; it shows up in script stack traces.
const snippetFilename = "snippet.js"

// Analyze parses source and returns every violation the static pass can
// prove. A parse failure yields a single parse-error violation and skips the
// walk, since there is no tree to inspect.
//
// An empty result is not a proof of safety: module names computed at runtime
// and capability access patterns outside the deny tables are invisible here
// and are caught by the restricted environment instead. Analyze never
// executes the candidate source and has no side effects.
func Analyze(source string, policy Policy) []Violation {
	program, err := parser.ParseFile(nil, snippetFilename, source, 0)
	if err != nil {
		return []Violation{{Kind: ViolationParseError, Subject: err.Error()}}
	}

	c := &collector{policy: policy}
	for _, stmt := range program.Body {
		c.walk(stmt)
	}
	return c.violations
}

// collector accumulates violations during a single tree walk.
type collector struct {
	policy     Policy
	violations []Violation
}

func (c *collector) add(v Violation) {
	c.violations = append(c.violations, v)
}

// walk dispatches on the concrete node kind and recurses into children.
// Node kinds with nothing executable inside (identifiers, literals, branch
// and empty statements) fall through to the default case.
func (c *collector) walk(node ast.Node) {
	if node == nil {
		return
	}

	switch n := node.(type) {

	// Statements.

	case *ast.BlockStatement:
		for _, stmt := range n.List {
			c.walk(stmt)
		}
	case *ast.ExpressionStatement:
		c.walk(n.Expression)
	case *ast.VariableStatement:
		for _, binding := range n.List {
			c.walk(binding)
		}
	case *ast.LexicalDeclaration:
		for _, binding := range n.List {
			c.walk(binding)
		}
	case *ast.IfStatement:
		c.walk(n.Test)
		c.walk(n.Consequent)
		if n.Alternate != nil {
			c.walk(n.Alternate)
		}
	case *ast.ForStatement:
		c.walkForInitializer(n.Initializer)
		if n.Test != nil {
			c.walk(n.Test)
		}
		if n.Update != nil {
			c.walk(n.Update)
		}
		c.walk(n.Body)
	case *ast.ForInStatement:
		c.walkForInto(n.Into)
		c.walk(n.Source)
		c.walk(n.Body)
	case *ast.ForOfStatement:
		c.walkForInto(n.Into)
		c.walk(n.Source)
		c.walk(n.Body)
	case *ast.WhileStatement:
		c.walk(n.Test)
		c.walk(n.Body)
	case *ast.DoWhileStatement:
		c.walk(n.Body)
		c.walk(n.Test)
	case *ast.ReturnStatement:
		if n.Argument != nil {
			c.walk(n.Argument)
		}
	case *ast.ThrowStatement:
		c.walk(n.Argument)
	case *ast.TryStatement:
		c.walk(n.Body)
		if n.Catch != nil {
			if n.Catch.Parameter != nil {
				c.walk(n.Catch.Parameter)
			}
			c.walk(n.Catch.Body)
		}
		if n.Finally != nil {
			c.walk(n.Finally)
		}
	case *ast.SwitchStatement:
		c.walk(n.Discriminant)
		for _, clause := range n.Body {
			if clause.Test != nil {
				c.walk(clause.Test)
			}
			for _, stmt := range clause.Consequent {
				c.walk(stmt)
			}
		}
	case *ast.LabelledStatement:
		c.walk(n.Statement)
	case *ast.WithStatement:
		c.walk(n.Object)
		c.walk(n.Body)
	case *ast.FunctionDeclaration:
		c.walk(n.Function)
	case *ast.ClassDeclaration:
		c.walk(n.Class)

	// Expressions.

	case *ast.CallExpression:
		c.checkCall(n.Callee, n.ArgumentList)
		c.walk(n.Callee)
		for _, arg := range n.ArgumentList {
			c.walk(arg)
		}
	case *ast.NewExpression:
		c.checkCall(n.Callee, n.ArgumentList)
		c.walk(n.Callee)
		for _, arg := range n.ArgumentList {
			c.walk(arg)
		}
	case *ast.DotExpression:
		c.checkAttribute(string(n.Identifier.Name))
		c.walk(n.Left)
	case *ast.BracketExpression:
		if key, ok := n.Member.(*ast.StringLiteral); ok {
			c.checkAttribute(string(key.Value))
		}
		c.walk(n.Left)
		c.walk(n.Member)
	case *ast.AssignExpression:
		c.walk(n.Left)
		c.walk(n.Right)
	case *ast.BinaryExpression:
		c.walk(n.Left)
		c.walk(n.Right)
	case *ast.UnaryExpression:
		c.walk(n.Operand)
	case *ast.ConditionalExpression:
		c.walk(n.Test)
		c.walk(n.Consequent)
		c.walk(n.Alternate)
	case *ast.SequenceExpression:
		for _, expr := range n.Sequence {
			c.walk(expr)
		}
	case *ast.ArrayLiteral:
		for _, value := range n.Value {
			if value != nil {
				c.walk(value)
			}
		}
	case *ast.ObjectLiteral:
		for _, property := range n.Value {
			c.walkProperty(property)
		}
	case *ast.SpreadElement:
		c.walk(n.Expression)
	case *ast.TemplateLiteral:
		if n.Tag != nil {
			c.walk(n.Tag)
		}
		for _, expr := range n.Expressions {
			c.walk(expr)
		}
	case *ast.FunctionLiteral:
		c.walkParameterList(n.ParameterList)
		c.walk(n.Body)
	case *ast.ArrowFunctionLiteral:
		c.walkParameterList(n.ParameterList)
		c.walkConciseBody(n.Body)
	case *ast.ClassLiteral:
		if n.SuperClass != nil {
			c.walk(n.SuperClass)
		}
		for _, element := range n.Body {
			c.walkClassElement(element)
		}
	case *ast.Binding:
		c.walk(n.Target)
		if n.Initializer != nil {
			c.walk(n.Initializer)
		}
	case *ast.ArrayPattern:
		for _, value := range n.Elements {
			if value != nil {
				c.walk(value)
			}
		}
		if n.Rest != nil {
			c.walk(n.Rest)
		}
	case *ast.ObjectPattern:
		for _, property := range n.Properties {
			c.walkProperty(property)
		}
		if n.Rest != nil {
			c.walk(n.Rest)
		}
	case *ast.OptionalChain:
		c.walk(n.Expression)
	case *ast.Optional:
		c.walk(n.Expression)
	}
}

func (c *collector) walkForInitializer(init ast.ForLoopInitializer) {
	switch i := init.(type) {
	case nil:
	case *ast.ForLoopInitializerExpression:
		c.walk(i.Expression)
	case *ast.ForLoopInitializerVarDeclList:
		for _, binding := range i.List {
			c.walk(binding)
		}
	case *ast.ForLoopInitializerLexicalDecl:
		for _, binding := range i.LexicalDeclaration.List {
			c.walk(binding)
		}
	}
}

func (c *collector) walkForInto(into ast.ForInto) {
	switch i := into.(type) {
	case nil:
	case *ast.ForIntoVar:
		c.walk(i.Binding)
	case *ast.ForDeclaration:
		c.walk(i.Target)
	case *ast.ForIntoExpression:
		c.walk(i.Expression)
	}
}

func (c *collector) walkProperty(property ast.Property) {
	switch p := property.(type) {
	case *ast.PropertyKeyed:
		if p.Computed {
			c.walk(p.Key)
		}
		c.walk(p.Value)
	case *ast.PropertyShort:
		if p.Initializer != nil {
			c.walk(p.Initializer)
		}
	case *ast.SpreadElement:
		c.walk(p.Expression)
	}
}

func (c *collector) walkParameterList(params *ast.ParameterList) {
	if params == nil {
		return
	}
	for _, binding := range params.List {
		c.walk(binding)
	}
	if params.Rest != nil {
		c.walk(params.Rest)
	}
}

func (c *collector) walkConciseBody(body ast.ConciseBody) {
	switch b := body.(type) {
	case nil:
	case *ast.BlockStatement:
		c.walk(b)
	case *ast.ExpressionBody:
		c.walk(b.Expression)
	}
}

func (c *collector) walkClassElement(element ast.ClassElement) {
	switch e := element.(type) {
	case *ast.MethodDefinition:
		if e.Computed {
			c.walk(e.Key)
		}
		c.walk(e.Body)
	case *ast.FieldDefinition:
		if e.Computed {
			c.walk(e.Key)
		}
		if e.Initializer != nil {
			c.walk(e.Initializer)
		}
	case *ast.ClassStaticBlock:
		c.walk(e.Block)
	}
}

// checkCall inspects calls whose callee is a bare name: module loads with a
// literal module name are validated against the policy, and names from the
// restricted-builtins table are flagged outright. `new` counts as a call.
func (c *collector) checkCall(callee ast.Expression, args []ast.Expression) {
	ident, ok := callee.(*ast.Identifier)
	if !ok {
		return
	}
	name := string(ident.Name)

	if name == moduleLoaderName {
		c.checkModuleLoad(args)
		return
	}
	if _, restricted := restrictedBuiltins[name]; restricted {
		c.add(Violation{Kind: ViolationCall, Subject: name})
	}
}

// checkModuleLoad validates require calls with a string-literal argument. A
// computed argument is left to the runtime loader, which re-validates every
// load regardless of what this pass saw.
func (c *collector) checkModuleLoad(args []ast.Expression) {
	if len(args) == 0 {
		return
	}
	literal, ok := args[0].(*ast.StringLiteral)
	if !ok {
		return
	}
	name := string(literal.Value)
	if !c.policy.AllowsImport(name) {
		c.add(Violation{Kind: ViolationImport, Subject: topLevelModule(name)})
	}
}

func (c *collector) checkAttribute(name string) {
	if category, ok := restrictedAttributes[name]; ok {
		c.add(Violation{Kind: ViolationAttribute, Subject: name, Category: category})
	}
}
