package files

import "sort"

// buildTree nests a flat node listing into parent/child form. Nodes whose
// parent is absent from the listing (filtered out, or soft-deleted when the
// listing excludes deleted nodes) surface at the root rather than vanish.
func buildTree(nodes []FileNode) []*TreeNode {
	byID := make(map[string]*TreeNode, len(nodes))
	for i := range nodes {
		byID[nodes[i].NodeID] = &TreeNode{FileNode: nodes[i]}
	}

	roots := make([]*TreeNode, 0)
	for i := range nodes {
		entry := byID[nodes[i].NodeID]
		if nodes[i].ParentID != nil {
			if parent, ok := byID[*nodes[i].ParentID]; ok {
				parent.Children = append(parent.Children, entry)
				continue
			}
		}
		roots = append(roots, entry)
	}

	sortLevel(roots)
	for _, entry := range byID {
		sortLevel(entry.Children)
	}
	return roots
}

// sortLevel orders one tree level: folders before files, then by name.
func sortLevel(level []*TreeNode) {
	sort.SliceStable(level, func(i, j int) bool {
		if level[i].NodeType != level[j].NodeType {
			return level[i].NodeType == NodeTypeFolder
		}
		return level[i].Name < level[j].Name
	})
}
