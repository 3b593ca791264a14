package nostr

type Tag []string

type Tags []Tag

// Find returns the first tag with the given key/tagName that also has one
// value (i.e. at least 2 items).
func (tags Tags) Find(key string) Tag {
	for _, v := range tags {
		if len(v) >= 2 && v[0] == key {
			return v
		}
	}
	return nil
}

// FindWithValue is like Find, but also checks if the value (the second item)
// matches.
func (tags Tags) FindWithValue(key, value string) Tag {
	for _, v := range tags {
		if len(v) >= 2 && v[0] == key && v[1] == value {
			return v
		}
	}
	return nil
}

// ContainsAny returns true if any of the tags with the given key have one of
// the given values.
func (tags Tags) ContainsAny(key string, values []string) bool {
	for _, tag := range tags {
		if len(tag) < 2 {
			continue
		}
		if tag[0] != key {
			continue
		}
		for _, value := range values {
			if tag[1] == value {
				return true
			}
		}
	}
	return false
}

func (tags Tags) marshalTo(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tag := range tags {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '[')
		for j, s := range tag {
			if j > 0 {
				dst = append(dst, ',')
			}
			dst = escapeString(dst, s)
		}
		dst = append(dst, ']')
	}
	dst = append(dst, ']')
	return dst
}
