package docstore

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPath = errors.New("invalid document path")

// Path addresses a collection (odd number of segments) or a document
// (even number of segments), e.g. users/u1/chatHistory/c1.
type Path string

// NewPath joins and validates the given segments.
func NewPath(segments ...string) (Path, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: no segments", ErrInvalidPath)
	}
	for _, s := range segments {
		if err := ValidateSegment(s); err != nil {
			return "", err
		}
	}
	return Path(strings.Join(segments, "/")), nil
}

// ValidateSegment rejects empty segments and segments containing a slash.
func ValidateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty segment", ErrInvalidPath)
	}
	if strings.Contains(s, "/") {
		return fmt.Errorf("%w: segment %q contains '/'", ErrInvalidPath, s)
	}
	return nil
}

func (p Path) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), "/")
}

func (p Path) IsCollection() bool {
	return len(p.Segments())%2 == 1
}

func (p Path) IsDocument() bool {
	n := len(p.Segments())
	return n > 0 && n%2 == 0
}

// Child appends one segment. The segment must already be valid.
func (p Path) Child(segment string) Path {
	return Path(string(p) + "/" + segment)
}

// Parent returns the enclosing collection of a document, or the enclosing
// document of a collection. The root has no parent.
func (p Path) Parent() Path {
	i := strings.LastIndex(string(p), "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// ID returns the last segment.
func (p Path) ID() string {
	i := strings.LastIndex(string(p), "/")
	return string(p[i+1:])
}

func (p Path) String() string {
	return string(p)
}

// RequireCollection fails unless p addresses a collection.
func RequireCollection(p Path) error {
	if !p.IsCollection() {
		return fmt.Errorf("%w: %q is not a collection", ErrInvalidPath, p)
	}
	return nil
}

// RequireDocument fails unless p addresses a document.
func RequireDocument(p Path) error {
	if !p.IsDocument() {
		return fmt.Errorf("%w: %q is not a document", ErrInvalidPath, p)
	}
	return nil
}
