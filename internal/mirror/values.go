package mirror

// SetValue stores node-local data. It is never propagated.
func (n *Node) SetValue(key string, value any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.values[key] = value
}

func (n *Node) Value(key string) (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	value, ok := n.values[key]
	return value, ok
}

func (n *Node) RemoveValue(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.values, key)
}

// SetInheritedValue stores value on n and every current descendant. Nodes
// created later copy it from their parent.
func (n *Node) SetInheritedValue(key string, value any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cascadeLocked(func(node *Node) {
		node.inherited[key] = value
	})
}

func (n *Node) RemoveInheritedValue(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cascadeLocked(func(node *Node) {
		delete(node.inherited, key)
	})
}

func (n *Node) InheritedValue(key string) (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	value, ok := n.inherited[key]
	return value, ok
}

// InheritedValues returns a copy of the inherited map.
func (n *Node) InheritedValues() map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	values := make(map[string]any, len(n.inherited))
	for key, value := range n.inherited {
		values[key] = value
	}
	return values
}

// cascadeLocked applies fn to n and its subtree, locking top-down. The caller
// holds n.mu.
func (n *Node) cascadeLocked(fn func(*Node)) {
	fn(n)
	for _, child := range n.children {
		child.mu.Lock()
		child.cascadeLocked(fn)
		child.mu.Unlock()
	}
}
