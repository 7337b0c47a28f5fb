package testutil

// DefaultSource is the source id FixedSource uses when none is given.
const DefaultSource = "test-source"

// FixedSource returns the same op source id every time, so scenario traces
// can be compared against golden files.
//
// Thread-safety: FixedSource is immutable and safe for concurrent use.
type FixedSource string

// NewFixedSource returns src, or DefaultSource when src is empty.
func NewFixedSource(src string) FixedSource {
	if src == "" {
		return DefaultSource
	}
	return FixedSource(src)
}

// Generate implements opgen.SourceGenerator.
func (s FixedSource) Generate() string {
	return string(s)
}
