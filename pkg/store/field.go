package store

import (
	"bytes"
)

// StringField returns the raw value of the first top-level-looking JSON string
// member named field in line, without decoding the whole object.
func StringField(line []byte, field string) (string, bool) {
	needle := []byte(`"` + field + `"`)
	for from := 0; ; {
		i := bytes.Index(line[from:], needle)
		if i < 0 {
			return "", false
		}
		pos := skipSpace(line, from+i+len(needle))
		if pos < len(line) && line[pos] == ':' {
			pos = skipSpace(line, pos+1)
			if pos < len(line) && line[pos] == '"' {
				if v, ok := readString(line, pos+1); ok {
					return v, true
				}
			}
			return "", false
		}
		from += i + len(needle)
	}
}

// FieldKey builds a KeyFunc that indexes lines by a string field.
func FieldKey(field string) KeyFunc[string] {
	return func(line []byte) (string, bool, error) {
		v, ok := StringField(line, field)
		return v, ok, nil
	}
}

// ExactFieldMatch matches a line only when field equals key exactly. The
// substring test is a cheap pre-filter.
func ExactFieldMatch(field string) MatchFunc[string] {
	return func(line []byte, key string) bool {
		if !bytes.Contains(line, []byte(key)) {
			return false
		}
		v, ok := StringField(line, field)
		return ok && v == key
	}
}

// SubstringMatch matches any line containing key. A key that is a substring of
// another record's text can match the wrong record.
func SubstringMatch(line []byte, key string) bool {
	return bytes.Contains(line, []byte(key))
}

func skipSpace(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\r' || b[i] == '\n') {
		i++
	}
	return i
}

// readString reads up to the closing quote, honouring backslash escapes. The
// value is returned as written, escapes included.
func readString(b []byte, i int) (string, bool) {
	start := i
	for i < len(b) {
		switch b[i] {
		case '\\':
			i += 2
		case '"':
			return string(b[start:i]), true
		default:
			i++
		}
	}
	return "", false
}
