// Package typeid provides opaque type-identity tokens used to label runtime
// objects and to attribute retains to collection membership.
//
// Tokens are compared by pointer. Two tokens created with the same name are
// distinct kinds.
package typeid

// unknownName is reported for objects that were never given a kind.
const unknownName = "unknown class?"

// ID is an opaque, comparable token naming one object kind.
type ID struct {
	name string
}

// Collection is the reserved token for retains held by collection-like owners.
// Retain and release calls tagged with it are accounted separately so that
// owners releasing more than they retained can be detected.
var Collection = New("collection")

// New creates a new kind token. The name is used for diagnostics only.
func New(name string) *ID {
	return &ID{name: name}
}

// Name returns the diagnostic name of the kind. A nil ID reports a placeholder.
func (id *ID) Name() string {
	if id == nil {
		return unknownName
	}

	return id.name
}

// String implements fmt.Stringer.
func (id *ID) String() string {
	return id.Name()
}

// IsCollection reports whether id is the reserved collection token.
func (id *ID) IsCollection() bool {
	return id == Collection
}
