package lang

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/polygraph/engine/internal/model"
)

// walkTypeScript handles both .ts and .tsx source (one Language tag covers
// both). Grounded on the same exactly-once descent as walkGo/walkPython;
// classes and interfaces push a scope, functions/methods push a scope,
// everything else falls through to the generic child loop.
func walkTypeScript(b *builder, node *tree_sitter.Node) {
	if node == nil {
		return
	}

	switch node.Kind() {
	case "function_declaration", "generator_function_declaration":
		tsExtractFunc(b, node, model.NodeKindFunction)
		return
	case "method_definition":
		tsExtractFunc(b, node, model.NodeKindMethod)
		return
	case "class_declaration":
		tsExtractClass(b, node)
		return
	case "interface_declaration":
		tsExtractInterface(b, node)
		return
	case "import_statement":
		tsExtractImport(b, node)
	case "call_expression":
		tsExtractCall(b, node)
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		walkTypeScript(b, node.Child(i))
	}
}

func tsExtractFunc(b *builder, node *tree_sitter.Node, kind model.NodeKind) {
	nameNode := node.ChildByFieldName("name")
	name := "<anonymous>"
	if nameNode != nil {
		name = text(nameNode, b.source)
	}
	attrs := map[string]string{"ts:exported": boolStr(tsIsExported(node))}
	id := b.push(kind, name, span(node), attrs)
	b.enter(id)
	for i := uint(0); i < node.ChildCount(); i++ {
		walkTypeScript(b, node.Child(i))
	}
	b.leave()
}

func tsExtractClass(b *builder, node *tree_sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := text(nameNode, b.source)
	attrs := map[string]string{"ts:exported": boolStr(tsIsExported(node))}
	id := b.push(model.NodeKindClass, name, span(node), attrs)

	if heritage := node.ChildByFieldName("heritage"); heritage != nil {
		tsEmitHeritage(b, heritage, id)
	} else {
		for i := uint(0); i < node.ChildCount(); i++ {
			if c := node.Child(i); c != nil && c.Kind() == "class_heritage" {
				tsEmitHeritage(b, c, id)
			}
		}
	}

	b.enter(id)
	for i := uint(0); i < node.ChildCount(); i++ {
		walkTypeScript(b, node.Child(i))
	}
	b.leave()
}

func tsEmitHeritage(b *builder, heritage *tree_sitter.Node, classID model.NodeID) {
	for i := uint(0); i < heritage.ChildCount(); i++ {
		clause := heritage.Child(i)
		if clause == nil {
			continue
		}
		kind := model.EdgeKindInherits
		if clause.Kind() == "implements_clause" {
			kind = model.EdgeKindImplements
		} else if clause.Kind() != "extends_clause" {
			continue
		}
		for j := uint(0); j < clause.ChildCount(); j++ {
			t := clause.Child(j)
			if t == nil || t.Kind() != "type_identifier" && t.Kind() != "identifier" {
				continue
			}
			b.edge(classID, text(t, b.source), kind, nil)
		}
	}
}

func tsExtractInterface(b *builder, node *tree_sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := text(nameNode, b.source)
	attrs := map[string]string{"ts:exported": boolStr(tsIsExported(node))}
	id := b.push(model.NodeKindClass, name, span(node), attrs)

	for i := uint(0); i < node.ChildCount(); i++ {
		if c := node.Child(i); c != nil && c.Kind() == "extends_type_clause" {
			for j := uint(0); j < c.ChildCount(); j++ {
				t := c.Child(j)
				if t != nil && t.Kind() == "type_identifier" {
					b.edge(id, text(t, b.source), model.EdgeKindInherits, nil)
				}
			}
		}
	}
	b.enter(id)
	for i := uint(0); i < node.ChildCount(); i++ {
		walkTypeScript(b, node.Child(i))
	}
	b.leave()
}

func tsExtractImport(b *builder, node *tree_sitter.Node) {
	sourceNode := node.ChildByFieldName("source")
	if sourceNode == nil {
		return
	}
	modulePath := trimQuotes(text(sourceNode, b.source))
	if modulePath == "" {
		return
	}
	id := b.push(model.NodeKindImport, modulePath, span(node), nil)
	b.edge(id, modulePath, model.EdgeKindImports, nil)
}

func tsExtractCall(b *builder, node *tree_sitter.Node) {
	fnNode := node.ChildByFieldName("function")
	if fnNode == nil {
		return
	}
	var callee string
	switch fnNode.Kind() {
	case "identifier", "member_expression":
		callee = text(fnNode, b.source)
	default:
		return
	}
	if callee == "" {
		return
	}
	id := b.push(model.NodeKindCall, callee, span(node), nil)
	b.edge(id, callee, model.EdgeKindCalls, map[string]string{"callSite": spanMeta(node)})
}

// tsIsExported walks up to the declaration's immediate parent looking for an
// export_statement wrapper, since tree-sitter-typescript models `export`
// as a sibling wrapper node rather than a modifier on the declaration.
func tsIsExported(node *tree_sitter.Node) bool {
	parent := node.Parent()
	if parent == nil {
		return false
	}
	return parent.Kind() == "export_statement"
}
