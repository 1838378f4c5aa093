package querycache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies a cached query: the query name followed by its parameters,
// e.g. Key{"useMarket", "0xabc", 100}. Two keys with the same elements hash
// identically, so identical parameters always land on the same entry.
type Key []any

// Name returns the first element of the key when it is a string.
func (k Key) Name() string {
	if len(k) == 0 {
		return ""
	}
	s, _ := k[0].(string)
	return s
}

// Hash returns the deterministic string form of the key. Object parameters
// are re-encoded with sorted field names, so a filter struct and the map it
// decodes into after a JSON round trip hash the same.
func (k Key) Hash() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = hashPart(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// HasPrefix reports whether the leading elements of k equal prefix. An empty
// prefix matches every key.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if hashPart(k[i]) != hashPart(prefix[i]) {
			return false
		}
	}
	return true
}

func (k Key) String() string { return k.Hash() }

func hashPart(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprintf("%#v", v))
	}
	if len(b) == 0 || (b[0] != '{' && b[0] != '[') {
		return string(b)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return string(b)
	}
	canon, err := json.Marshal(generic)
	if err != nil {
		return string(b)
	}
	return string(canon)
}
