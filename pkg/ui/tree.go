package ui

import (
	"sort"
	"strings"

	"github.com/pterm/pterm"
)

// RenderFileTree renders a set of relative paths as a directory tree
// under the given root label.
func RenderFileTree(root string, files []string) (string, error) {
	node := buildTree(root, files)
	return pterm.DefaultTree.WithRoot(node).Srender()
}

type treeDir struct {
	children map[string]*treeDir
	leaves   []string
}

func newTreeDir() *treeDir {
	return &treeDir{children: make(map[string]*treeDir)}
}

func (d *treeDir) insert(parts []string) {
	if len(parts) == 1 {
		d.leaves = append(d.leaves, parts[0])
		return
	}
	child, ok := d.children[parts[0]]
	if !ok {
		child = newTreeDir()
		d.children[parts[0]] = child
	}
	child.insert(parts[1:])
}

func (d *treeDir) toNodes() []pterm.TreeNode {
	names := make([]string, 0, len(d.children))
	for name := range d.children {
		names = append(names, name)
	}
	sort.Strings(names)

	var nodes []pterm.TreeNode
	for _, name := range names {
		nodes = append(nodes, pterm.TreeNode{
			Text:     name,
			Children: d.children[name].toNodes(),
		})
	}

	leaves := append([]string(nil), d.leaves...)
	sort.Strings(leaves)
	for _, leaf := range leaves {
		nodes = append(nodes, pterm.TreeNode{Text: leaf})
	}
	return nodes
}

func buildTree(root string, files []string) pterm.TreeNode {
	dir := newTreeDir()
	for _, file := range files {
		parts := strings.Split(file, "/")
		dir.insert(parts)
	}
	return pterm.TreeNode{Text: root, Children: dir.toNodes()}
}
