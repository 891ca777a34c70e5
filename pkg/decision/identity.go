package decision

// identityTag distinguishes the Identity variants. The zero tag is the
// zero Identity, which matches nothing a decision can resolve to.
type identityTag uint8

const (
	tagNone identityTag = iota
	tagAbsent
	tagUnknown
	tagKnown
)

// Identity is the resolved identity of a decision: Known(name), Unknown for
// a face no registered identity matched, or Absent when no face was seen.
// Identities compare with ==.
type Identity struct {
	tag  identityTag
	name string
}

// Known returns the identity of a registered person.
func Known(name string) Identity {
	return Identity{tag: tagKnown, name: name}
}

// Unknown returns the identity of an unrecognised face.
func Unknown() Identity {
	return Identity{tag: tagUnknown}
}

// Absent returns the identity used when no face is in frame.
func Absent() Identity {
	return Identity{tag: tagAbsent}
}

// IsZero reports whether i is the zero Identity.
func (i Identity) IsZero() bool {
	return i.tag == tagNone
}

// Name returns the person's name for Known identities.
func (i Identity) Name() (string, bool) {
	return i.name, i.tag == tagKnown
}

func (i Identity) String() string {
	switch i.tag {
	case tagKnown:
		return i.name
	case tagUnknown:
		return "<unknown>"
	case tagAbsent:
		return "<absent>"
	}
	return "<none>"
}
