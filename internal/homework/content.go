package homework

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Placeholder is the hint text shown by an empty editor.
const Placeholder = "Введите домашние задания здесь..."

// VisibleText returns the text a reader would see in the rich content, tags removed.
func VisibleText(content string) string {
	nodes, err := html.ParseFragment(strings.NewReader(content), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return content
	}
	var builder strings.Builder
	for _, node := range nodes {
		collectText(node, &builder)
	}
	return builder.String()
}

func collectText(node *html.Node, builder *strings.Builder) {
	switch node.Type {
	case html.TextNode:
		builder.WriteString(node.Data)
	case html.ElementNode:
		if node.Data == "script" || node.Data == "style" {
			return
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, builder)
	}
}

// IsBlank reports whether the content has nothing worth saving.
func IsBlank(content string) bool {
	text := strings.TrimSpace(VisibleText(content))
	return text == "" || text == Placeholder
}
