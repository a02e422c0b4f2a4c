package models

// Fields is the payload of an entity record: the business attributes of a
// transaction, goal, budget or any other registered table. The sync core
// treats it as opaque apart from the watched-field comparison done during
// conflict detection.
type Fields map[string]interface{}

// Clone returns a shallow copy of the fields map.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge overlays the non-nil entries of partial onto a copy of f and
// returns the result. Neither input is modified.
func (f Fields) Merge(partial Fields) Fields {
	out := f.Clone()
	if out == nil {
		out = make(Fields, len(partial))
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// GetString returns the string value for key, if present.
func (f Fields) GetString(key string) (string, bool) {
	v, ok := f[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
