package lang

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/polygraph/engine/internal/model"
)

// walkRust follows the same exactly-once descent pattern. impl_item blocks
// are not pushed as nodes themselves (Rust has no single "impl" symbol) but
// their trait target becomes an Implements edge on the enclosing type, and
// their functions are pushed as methods under the scope that encloses the
// impl block; they are not nested under the implementing type.
func walkRust(b *builder, node *tree_sitter.Node) {
	if node == nil {
		return
	}

	switch node.Kind() {
	case "function_item":
		kind := model.NodeKindFunction
		if rustInImpl(node) {
			kind = model.NodeKindMethod
		}
		rustExtractFunc(b, node, kind)
		return
	case "struct_item":
		rustExtractStruct(b, node)
		return
	case "trait_item":
		rustExtractTrait(b, node)
		return
	case "impl_item":
		rustExtractImpl(b, node)
		return
	case "use_declaration":
		rustExtractUse(b, node)
	case "call_expression":
		rustExtractCall(b, node)
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		walkRust(b, node.Child(i))
	}
}

func rustInImpl(node *tree_sitter.Node) bool {
	parent := node.Parent()
	if parent == nil {
		return false
	}
	if parent.Kind() == "declaration_list" {
		grandparent := parent.Parent()
		return grandparent != nil && grandparent.Kind() == "impl_item"
	}
	return false
}

func rustExtractFunc(b *builder, node *tree_sitter.Node, kind model.NodeKind) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := text(nameNode, b.source)
	attrs := map[string]string{"rust:pub": boolStr(rustIsPub(node))}
	id := b.push(kind, name, span(node), attrs)
	b.enter(id)
	for i := uint(0); i < node.ChildCount(); i++ {
		walkRust(b, node.Child(i))
	}
	b.leave()
}

func rustExtractStruct(b *builder, node *tree_sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := text(nameNode, b.source)
	attrs := map[string]string{"rust:pub": boolStr(rustIsPub(node))}
	b.push(model.NodeKindClass, name, span(node), attrs)
}

func rustExtractTrait(b *builder, node *tree_sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := text(nameNode, b.source)
	attrs := map[string]string{"rust:pub": boolStr(rustIsPub(node))}
	id := b.push(model.NodeKindClass, name, span(node), attrs)
	b.enter(id)
	for i := uint(0); i < node.ChildCount(); i++ {
		walkRust(b, node.Child(i))
	}
	b.leave()
}

// rustExtractImpl resolves `impl Trait for Type` into an Implements edge
// addressed by the type's raw name (resolved against by_symbol later); the
// impl's own functions are walked as methods but not pushed as a scope of
// their own, matching rustInImpl's parent-shape check.
func rustExtractImpl(b *builder, node *tree_sitter.Node) {
	typeNode := node.ChildByFieldName("type")
	traitNode := node.ChildByFieldName("trait")

	if typeNode != nil && traitNode != nil {
		typeName := text(typeNode, b.source)
		traitName := text(traitNode, b.source)
		if typeName != "" && traitName != "" {
			placeholderID := model.NodeID("impl:" + typeName)
			b.edge(placeholderID, traitName, model.EdgeKindImplements, map[string]string{"rust:implType": typeName})
		}
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		walkRust(b, node.Child(i))
	}
}

func rustExtractUse(b *builder, node *tree_sitter.Node) {
	argNode := node.ChildByFieldName("argument")
	if argNode == nil {
		return
	}
	path := text(argNode, b.source)
	if path == "" {
		return
	}
	id := b.push(model.NodeKindImport, path, span(node), nil)
	b.edge(id, path, model.EdgeKindImports, nil)
}

func rustExtractCall(b *builder, node *tree_sitter.Node) {
	fnNode := node.ChildByFieldName("function")
	if fnNode == nil {
		return
	}
	var callee string
	switch fnNode.Kind() {
	case "identifier", "field_expression", "scoped_identifier":
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

func rustIsPub(node *tree_sitter.Node) bool {
	for i := uint(0); i < node.ChildCount(); i++ {
		if c := node.Child(i); c != nil && c.Kind() == "visibility_modifier" {
			return true
		}
	}
	return false
}
