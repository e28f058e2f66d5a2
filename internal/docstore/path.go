package docstore

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	rootSegment  = "users"
	mainSegment  = "main"
	itemsSegment = "items"
)

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Path addresses a document or a collection in a user's namespace:
//
//	users/{uid}/{module}/main
//	users/{uid}/{module}/{collection}/items/{itemID}
//	users/{uid}/{module}/{collection}/items          (collection)
type Path struct {
	UID        string
	Module     string
	Collection string
	ItemID     string
}

// Main returns the path of a module's single main document.
func Main(uid, module string) Path {
	return Path{UID: uid, Module: module}
}

// Item returns the path of one item document in a module sub-collection.
func Item(uid, module, collection, itemID string) Path {
	return Path{UID: uid, Module: module, Collection: collection, ItemID: itemID}
}

// Collection returns the path of a module sub-collection.
func Collection(uid, module, collection string) Path {
	return Path{UID: uid, Module: module, Collection: collection}
}

// IsCollection reports whether p names a collection rather than a document.
func (p Path) IsCollection() bool {
	return p.Collection != "" && p.ItemID == ""
}

// IsMain reports whether p names a module's main document.
func (p Path) IsMain() bool {
	return p.Collection == "" && p.ItemID == ""
}

// Parent returns the collection containing an item document.
func (p Path) Parent() Path {
	return Path{UID: p.UID, Module: p.Module, Collection: p.Collection}
}

// UserPrefix is the prefix shared by every path owned by uid.
func UserPrefix(uid string) string {
	return rootSegment + "/" + uid + "/"
}

// String renders the canonical slash-separated form.
func (p Path) String() string {
	base := rootSegment + "/" + p.UID + "/" + p.Module
	switch {
	case p.IsMain():
		return base + "/" + mainSegment
	case p.IsCollection():
		return base + "/" + p.Collection + "/" + itemsSegment
	default:
		return base + "/" + p.Collection + "/" + itemsSegment + "/" + p.ItemID
	}
}

// Validate checks every segment.
func (p Path) Validate() error {
	segments := []string{p.UID, p.Module}
	if p.Collection != "" {
		segments = append(segments, p.Collection)
	}
	if p.ItemID != "" {
		if p.Collection == "" {
			return fmt.Errorf("%w: item without collection", ErrInvalidPath)
		}
		segments = append(segments, p.ItemID)
	}
	for _, s := range segments {
		if !segmentPattern.MatchString(s) {
			return fmt.Errorf("%w: bad segment %q", ErrInvalidPath, s)
		}
	}
	if p.Module == rootSegment || p.Collection == mainSegment {
		return fmt.Errorf("%w: reserved segment", ErrInvalidPath)
	}
	return nil
}

// Parse converts the canonical string form back into a Path.
func Parse(raw string) (Path, error) {
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 4 || parts[0] != rootSegment {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}

	var p Path
	switch {
	case len(parts) == 4 && parts[3] == mainSegment:
		p = Main(parts[1], parts[2])
	case len(parts) == 5 && parts[4] == itemsSegment:
		p = Collection(parts[1], parts[2], parts[3])
	case len(parts) == 6 && parts[4] == itemsSegment:
		p = Item(parts[1], parts[2], parts[3], parts[5])
	default:
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}

	if err := p.Validate(); err != nil {
		return Path{}, err
	}
	return p, nil
}
