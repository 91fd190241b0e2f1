package tool

// Registry is an ordered, name-deduplicated set of actions. Adding an action
// whose name is already present replaces the earlier entry in place, so the
// last write wins while the original position is kept stable.
//
// A Registry is not safe for concurrent mutation; the loader builds one per
// document and hands out copies via List.
type Registry struct {
	order   []string
	actions map[string]Action
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Add validates a and inserts it, overwriting any action with the same name.
func (r *Registry) Add(a Action, source string) error {
	if err := a.Validate(source); err != nil {
		return err
	}
	r.put(a)
	return nil
}

func (r *Registry) put(a Action) {
	if _, exists := r.actions[a.Name]; !exists {
		r.order = append(r.order, a.Name)
	}
	r.actions[a.Name] = a
}

// Merge overlays every action of other onto r in other's order.
// Actions in other win on name collision.
func (r *Registry) Merge(other *Registry) {
	if other == nil {
		return
	}
	for _, name := range other.order {
		r.put(other.actions[name])
	}
}

// MergeActions overlays already validated actions onto r.
func (r *Registry) MergeActions(actions []Action) {
	for _, a := range actions {
		r.put(a)
	}
}

// Get resolves an action by name.
func (r *Registry) Get(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Len returns the number of distinct actions.
func (r *Registry) Len() int { return len(r.order) }

// List returns a copy of the actions in insertion order.
func (r *Registry) List() []Action {
	out := make([]Action, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.actions[name])
	}
	return out
}
