package commands

// Source yields the handlers a registry is built from, in registration order.
type Source interface {
	Handlers() ([]Handler, error)
}

// Factory constructs one handler.
type Factory func() Handler

// Manifest is an ordered list of handler constructors.
type Manifest []Factory

// Handlers calls every factory in order.
func (m Manifest) Handlers() ([]Handler, error) {
	out := make([]Handler, 0, len(m))
	for _, f := range m {
		if f == nil {
			return nil, ErrNilHandler
		}
		out = append(out, f())
	}
	return out, nil
}

// Static is a fixed list of already constructed handlers.
type Static []Handler

// Handlers returns a copy of the list.
func (s Static) Handlers() ([]Handler, error) {
	return append([]Handler(nil), s...), nil
}
