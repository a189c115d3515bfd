package catalog

import "strings"

// FlatCategory is a category tree node with its depth, in display order.
type FlatCategory struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parentId,omitempty"`
	Level    int    `json:"level"`
}

// Label indents the name two spaces per level.
func (c FlatCategory) Label() string {
	return strings.Repeat("  ", c.Level) + c.Name
}

// Flatten walks the tree pre-order: parents first, children in their original order.
func Flatten(tree []Category) []FlatCategory {
	out := make([]FlatCategory, 0, len(tree))
	var walk func(nodes []Category, level int)
	walk = func(nodes []Category, level int) {
		for _, node := range nodes {
			out = append(out, FlatCategory{ID: node.ID, Name: node.Name, ParentID: node.ParentID, Level: level})
			walk(node.Children, level+1)
		}
	}
	walk(tree, 0)
	return out
}

// FindCategory returns the flattened node with the given id.
func FindCategory(flat []FlatCategory, id int64) (FlatCategory, bool) {
	for _, c := range flat {
		if c.ID == id {
			return c, true
		}
	}
	return FlatCategory{}, false
}

// FindCategoryByName matches names case-insensitively after trimming.
func FindCategoryByName(flat []FlatCategory, name string) (FlatCategory, bool) {
	name = strings.TrimSpace(name)
	for _, c := range flat {
		if strings.EqualFold(strings.TrimSpace(c.Name), name) {
			return c, true
		}
	}
	return FlatCategory{}, false
}
