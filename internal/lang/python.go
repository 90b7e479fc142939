package lang

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/polygraph/engine/internal/model"
)

// walkPython mirrors walkGo's exactly-once descent. Classes push a Contains
// scope so methods nest under their class instead of floating at module
// scope.
func walkPython(b *builder, node *tree_sitter.Node) {
	if node == nil {
		return
	}

	switch node.Kind() {
	case "function_definition":
		kind := model.NodeKindFunction
		if pyInClassBody(node) {
			kind = model.NodeKindMethod
		}
		pyExtractDef(b, node, kind)
		return
	case "class_definition":
		pyExtractClass(b, node)
		return
	case "import_statement":
		pyExtractImport(b, node)
	case "import_from_statement":
		pyExtractFromImport(b, node)
	case "call":
		pyExtractCall(b, node)
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		walkPython(b, node.Child(i))
	}
}

func pyInClassBody(node *tree_sitter.Node) bool {
	parent := node.Parent()
	if parent == nil {
		return false
	}
	if parent.Kind() == "block" {
		grandparent := parent.Parent()
		return grandparent != nil && grandparent.Kind() == "class_definition"
	}
	return false
}

func pyExtractDef(b *builder, node *tree_sitter.Node, kind model.NodeKind) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := text(nameNode, b.source)
	attrs := map[string]string{"python:exported": boolStr(isPyExported(name))}
	if isAsync(node) {
		attrs["python:async"] = "true"
	}
	id := b.push(kind, name, span(node), attrs)
	b.enter(id)
	for i := uint(0); i < node.ChildCount(); i++ {
		walkPython(b, node.Child(i))
	}
	b.leave()
}

func isAsync(node *tree_sitter.Node) bool {
	for i := uint(0); i < node.ChildCount(); i++ {
		if c := node.Child(i); c != nil && c.Kind() == "async" {
			return true
		}
	}
	return false
}

func pyExtractClass(b *builder, node *tree_sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := text(nameNode, b.source)
	attrs := map[string]string{"python:exported": boolStr(isPyExported(name))}
	id := b.push(model.NodeKindClass, name, span(node), attrs)

	if argList := node.ChildByFieldName("superclasses"); argList != nil {
		for i := uint(0); i < argList.ChildCount(); i++ {
			base := argList.Child(i)
			if base == nil || base.Kind() != "identifier" {
				continue
			}
			baseName := text(base, b.source)
			if baseName == "" || baseName == "object" {
				continue
			}
			b.edge(id, baseName, model.EdgeKindInherits, nil)
		}
	}

	b.enter(id)
	for i := uint(0); i < node.ChildCount(); i++ {
		walkPython(b, node.Child(i))
	}
	b.leave()
}

func pyExtractImport(b *builder, node *tree_sitter.Node) {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil || child.Kind() != "dotted_name" {
			continue
		}
		moduleName := text(child, b.source)
		if moduleName == "" {
			continue
		}
		id := b.push(model.NodeKindImport, moduleName, span(node), nil)
		b.edge(id, moduleName, model.EdgeKindImports, nil)
	}
}

func pyExtractFromImport(b *builder, node *tree_sitter.Node) {
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		for i := uint(0); i < node.ChildCount(); i++ {
			if c := node.Child(i); c != nil && (c.Kind() == "dotted_name" || c.Kind() == "relative_import") {
				moduleNode = c
				break
			}
		}
	}
	if moduleNode == nil {
		return
	}
	moduleName := text(moduleNode, b.source)
	if moduleName == "" {
		return
	}
	id := b.push(model.NodeKindImport, moduleName, span(node), nil)
	b.edge(id, moduleName, model.EdgeKindImports, nil)
}

func pyExtractCall(b *builder, node *tree_sitter.Node) {
	fnNode := node.ChildByFieldName("function")
	if fnNode == nil {
		return
	}
	var callee string
	switch fnNode.Kind() {
	case "identifier", "attribute":
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

func isPyExported(name string) bool {
	return !strings.HasPrefix(name, "_")
}
