package serialize

// Callback serializes target on behalf of an Adapter. ref is the opaque value
// given to ForTarget.
type Callback func(s *Serializer, target, ref any) error

// Adapter lets code that cannot implement Serializable on target supply the
// serialization as a callback.
type Adapter struct {
	target   any
	ref      any
	callback Callback
}

// ForTarget wraps target and callback into a Serializable.
func ForTarget(target any, callback Callback, ref any) *Adapter {
	return &Adapter{target: target, ref: ref, callback: callback}
}

// Target returns the wrapped object.
func (a *Adapter) Target() any {
	return a.target
}

// Serialize invokes the callback.
func (a *Adapter) Serialize(s *Serializer) error {
	return a.callback(s, a.target, a.ref)
}
