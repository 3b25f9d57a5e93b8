package enums

import "strings"

type ContentType string

const (
	ContentTypeMythology ContentType = "mythology"
	ContentTypeCharacter ContentType = "character"
	ContentTypeCreature  ContentType = "creature"
	ContentTypeStory     ContentType = "story"
)

var contentTypes = []ContentType{
	ContentTypeMythology,
	ContentTypeCharacter,
	ContentTypeCreature,
	ContentTypeStory,
}

func ContentTypes() []ContentType {
	return append([]ContentType(nil), contentTypes...)
}

func ParseContentType(raw string) (ContentType, bool) {
	normalized := ContentType(strings.ToLower(strings.TrimSpace(raw)))
	for _, ct := range contentTypes {
		if ct == normalized {
			return ct, true
		}
	}
	return "", false
}

func (c ContentType) Valid() bool {
	_, ok := ParseContentType(string(c))
	return ok
}
