package nostr

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

type Filters []Filter

type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	Tags    TagMap
	Since   *Timestamp
	Until   *Timestamp
	Limit   int
	Search  string
}

type TagMap map[string][]string

func (eff Filters) String() string {
	j, _ := json.Marshal(eff)
	return string(j)
}

func (eff Filters) Match(event *Event) bool {
	for _, filter := range eff {
		if filter.Matches(event) {
			return true
		}
	}
	return false
}

func (ef Filter) String() string {
	j, _ := ef.MarshalJSON()
	return string(j)
}

func (ef Filter) Matches(event *Event) bool {
	if event == nil {
		return false
	}

	if ef.IDs != nil && !slices.Contains(ef.IDs, event.ID) {
		return false
	}

	if ef.Kinds != nil && !slices.Contains(ef.Kinds, event.Kind) {
		return false
	}

	if ef.Authors != nil && !slices.Contains(ef.Authors, event.PubKey) {
		return false
	}

	for f, v := range ef.Tags {
		if v != nil && !event.Tags.ContainsAny(f, v) {
			return false
		}
	}

	if ef.Since != nil && event.CreatedAt < *ef.Since {
		return false
	}

	if ef.Until != nil && event.CreatedAt > *ef.Until {
		return false
	}

	return true
}

func (ef Filter) MarshalJSON() ([]byte, error) {
	b := &bytes.Buffer{}
	b.WriteByte('{')
	first := true

	writeKey := func(key string) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteByte('"')
		b.WriteString(key)
		b.WriteString(`":`)
	}
	writeRaw := func(key string, v any) error {
		j, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeKey(key)
		b.Write(j)
		return nil
	}

	if ef.IDs != nil {
		if err := writeRaw("ids", ef.IDs); err != nil {
			return nil, err
		}
	}
	if ef.Kinds != nil {
		if err := writeRaw("kinds", ef.Kinds); err != nil {
			return nil, err
		}
	}
	if ef.Authors != nil {
		if err := writeRaw("authors", ef.Authors); err != nil {
			return nil, err
		}
	}
	for key, values := range ef.Tags {
		if err := writeRaw("#"+key, values); err != nil {
			return nil, err
		}
	}
	if ef.Since != nil {
		if err := writeRaw("since", *ef.Since); err != nil {
			return nil, err
		}
	}
	if ef.Until != nil {
		if err := writeRaw("until", *ef.Until); err != nil {
			return nil, err
		}
	}
	if ef.Limit != 0 {
		if err := writeRaw("limit", ef.Limit); err != nil {
			return nil, err
		}
	}
	if ef.Search != "" {
		if err := writeRaw("search", ef.Search); err != nil {
			return nil, err
		}
	}

	b.WriteByte('}')
	return b.Bytes(), nil
}

func (ef *Filter) UnmarshalJSON(payload []byte) error {
	parsed := gjson.ParseBytes(payload)
	parsed.ForEach(func(key, value gjson.Result) bool {
		switch key.Str {
		case "ids":
			ef.IDs = gjsonToStringSlice(value)
		case "kinds":
			for _, item := range value.Array() {
				ef.Kinds = append(ef.Kinds, int(item.Int()))
			}
		case "authors":
			ef.Authors = gjsonToStringSlice(value)
		case "since":
			since := Timestamp(value.Int())
			ef.Since = &since
		case "until":
			until := Timestamp(value.Int())
			ef.Until = &until
		case "limit":
			ef.Limit = int(value.Int())
		case "search":
			ef.Search = value.Str
		default:
			if strings.HasPrefix(key.Str, "#") {
				if ef.Tags == nil {
					ef.Tags = make(TagMap, 1)
				}
				ef.Tags[key.Str[1:]] = gjsonToStringSlice(value)
			}
		}
		return true
	})
	return nil
}

func gjsonToStringSlice(value gjson.Result) []string {
	items := value.Array()
	res := make([]string, len(items))
	for i, item := range items {
		res[i] = item.Str
	}
	return res
}
