package lang

import (
	"unicode"
	"unicode/utf8"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/polygraph/engine/internal/model"
)

// walkGo recursively descends a Go AST exactly once per node, emitting a
// Contains-forest rooted at the Module node plus Import/Call/Inherits
// (embedding) edges. Function and method bodies push a scope and recurse
// into their own children so nested calls and closures still get a Contains
// parent, instead of being walked twice.
func walkGo(b *builder, node *tree_sitter.Node) {
	if node == nil {
		return
	}

	switch node.Kind() {
	case "function_declaration":
		goExtractFunc(b, node, model.NodeKindFunction)
		return
	case "method_declaration":
		goExtractFunc(b, node, model.NodeKindMethod)
		return
	case "type_declaration":
		goExtractTypeDecl(b, node)
	case "import_spec":
		goExtractImport(b, node)
	case "call_expression":
		goExtractCall(b, node)
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		walkGo(b, node.Child(i))
	}
}

func goExtractFunc(b *builder, node *tree_sitter.Node, kind model.NodeKind) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := text(nameNode, b.source)
	attrs := map[string]string{"go:exported": boolStr(isGoExported(name))}
	if kind == model.NodeKindMethod {
		if recv := node.ChildByFieldName("receiver"); recv != nil {
			attrs["go:receiver"] = text(recv, b.source)
		}
	}
	id := b.push(kind, name, span(node), attrs)
	b.enter(id)
	for i := uint(0); i < node.ChildCount(); i++ {
		walkGo(b, node.Child(i))
	}
	b.leave()
}

func goExtractTypeDecl(b *builder, node *tree_sitter.Node) {
	for i := uint(0); i < node.ChildCount(); i++ {
		spec := node.Child(i)
		if spec == nil || spec.Kind() != "type_spec" {
			continue
		}
		nameNode := spec.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := text(nameNode, b.source)
		kind := model.NodeKindOther
		var embeds []string
		if typeNode := spec.ChildByFieldName("type"); typeNode != nil {
			switch typeNode.Kind() {
			case "interface_type":
				kind = model.NodeKindClass
				embeds = goInterfaceEmbeds(typeNode, b.source)
			case "struct_type":
				kind = model.NodeKindClass
				embeds = goStructEmbeds(typeNode, b.source)
			default:
				kind = model.NodeKindTypeRef
			}
		}
		attrs := map[string]string{"go:exported": boolStr(isGoExported(name))}
		id := b.push(kind, name, span(spec), attrs)
		for _, embed := range embeds {
			b.edge(id, embed, model.EdgeKindInherits, map[string]string{"go:mode": "embedding"})
		}
	}
}

func goInterfaceEmbeds(typeNode *tree_sitter.Node, source []byte) []string {
	var out []string
	for i := uint(0); i < typeNode.ChildCount(); i++ {
		child := typeNode.Child(i)
		if child != nil && child.Kind() == "type_identifier" {
			out = append(out, text(child, source))
		}
	}
	return out
}

func goStructEmbeds(typeNode *tree_sitter.Node, source []byte) []string {
	var out []string
	for i := uint(0); i < typeNode.ChildCount(); i++ {
		fieldList := typeNode.Child(i)
		if fieldList == nil || fieldList.Kind() != "field_declaration_list" {
			continue
		}
		for j := uint(0); j < fieldList.ChildCount(); j++ {
			field := fieldList.Child(j)
			if field == nil || field.Kind() != "field_declaration" {
				continue
			}
			if field.ChildByFieldName("name") == nil {
				if t := field.ChildByFieldName("type"); t != nil && t.Kind() == "type_identifier" {
					out = append(out, text(t, source))
				}
			}
		}
	}
	return out
}

func goExtractImport(b *builder, node *tree_sitter.Node) {
	pathNode := node.ChildByFieldName("path")
	if pathNode == nil {
		for i := uint(0); i < node.ChildCount(); i++ {
			if c := node.Child(i); c != nil && c.Kind() == "interpreted_string_literal" {
				pathNode = c
				break
			}
		}
	}
	if pathNode == nil {
		return
	}
	importPath := trimQuotes(text(pathNode, b.source))
	if importPath == "" {
		return
	}
	id := b.push(model.NodeKindImport, importPath, span(node), nil)
	b.edge(id, importPath, model.EdgeKindImports, nil)
}

func goExtractCall(b *builder, node *tree_sitter.Node) {
	fnNode := node.ChildByFieldName("function")
	if fnNode == nil {
		return
	}
	var callee string
	switch fnNode.Kind() {
	case "identifier", "selector_expression":
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

func isGoExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
