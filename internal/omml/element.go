package omml

import (
	"regexp"
	"strings"
)

// span locates one element inside a markup string. Offsets are byte offsets;
// inner is empty for self-closing elements.
type span struct {
	start, end           int
	innerStart, innerEnd int
	name, attrs          string
}

// element is a top-level child returned by topLevel.
type element struct {
	name  string // lower-cased qualified name, e.g. "m:e"
	attrs string
	inner string
}

var valAttr = regexp.MustCompile(`(?i)(?:\w+:)?val\s*=\s*["']([^"']*)["']`)

// lowerASCII lower-cases ASCII letters only, so byte offsets stay valid.
func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func isNameEnd(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '/' || c == '>'
}

// indexOpen finds the next "<qname" start tag at or after from whose name is
// exactly qname. lower must be lowerASCII of the searched string.
func indexOpen(lower, qname string, from int) int {
	open := "<" + qname
	for from <= len(lower) {
		i := strings.Index(lower[from:], open)
		if i < 0 {
			return -1
		}
		i += from
		after := i + len(open)
		if after < len(lower) && isNameEnd(lower[after]) {
			return i
		}
		from = after
	}
	return -1
}

// findElement returns the first qname element at or after from, matching
// names case-insensitively and skipping nested elements of the same name.
// ok is false when no complete element exists.
func findElement(s, qname string, from int) (span, bool) {
	lower := lowerASCII(s)
	qname = lowerASCII(qname)
	closeTag := "</" + qname

	start := indexOpen(lower, qname, from)
	if start < 0 {
		return span{}, false
	}
	tagEnd := strings.IndexByte(s[start:], '>')
	if tagEnd < 0 {
		return span{}, false
	}
	tagEnd += start
	sp := span{start: start, name: qname, attrs: s[start+1+len(qname) : tagEnd]}
	if s[tagEnd-1] == '/' {
		sp.attrs = strings.TrimSuffix(sp.attrs, "/")
		sp.end = tagEnd + 1
		sp.innerStart, sp.innerEnd = sp.end, sp.end
		return sp, true
	}
	sp.innerStart = tagEnd + 1

	depth := 1
	pos := sp.innerStart
	for {
		nextClose := indexClose(lower, closeTag, pos)
		if nextClose < 0 {
			return span{}, false
		}
		nextOpen := indexOpen(lower, qname, pos)
		if nextOpen >= 0 && nextOpen < nextClose {
			end := strings.IndexByte(s[nextOpen:], '>')
			if end < 0 {
				return span{}, false
			}
			if s[nextOpen+end-1] != '/' {
				depth++
			}
			pos = nextOpen + end + 1
			continue
		}
		depth--
		closeEnd := strings.IndexByte(s[nextClose:], '>') + nextClose
		if depth == 0 {
			sp.innerEnd = nextClose
			sp.end = closeEnd + 1
			return sp, true
		}
		pos = closeEnd + 1
	}
}

// indexClose finds "</qname" followed by optional spaces and '>'.
func indexClose(lower, closeTag string, from int) int {
	for from <= len(lower) {
		i := strings.Index(lower[from:], closeTag)
		if i < 0 {
			return -1
		}
		i += from
		j := i + len(closeTag)
		for j < len(lower) && (lower[j] == ' ' || lower[j] == '\t' || lower[j] == '\n' || lower[j] == '\r') {
			j++
		}
		if j < len(lower) && lower[j] == '>' {
			return i
		}
		from = i + len(closeTag)
	}
	return -1
}

// rewrite replaces every outermost m:name element with fn(attrs, inner).
// An unterminated element and everything after it are left unchanged.
func rewrite(s, name string, fn func(attrs, inner string) string) string {
	qname := "m:" + name
	if !strings.Contains(lowerASCII(s), "<"+lowerASCII(qname)) {
		return s
	}
	var sb strings.Builder
	pos := 0
	for {
		sp, ok := findElement(s, qname, pos)
		if !ok {
			sb.WriteString(s[pos:])
			return sb.String()
		}
		sb.WriteString(s[pos:sp.start])
		sb.WriteString(fn(sp.attrs, s[sp.innerStart:sp.innerEnd]))
		pos = sp.end
	}
}

// topLevel lists the elements directly inside s, in order. Text between
// elements is skipped.
func topLevel(s string) []element {
	var out []element
	pos := 0
	for pos < len(s) {
		i := strings.IndexByte(s[pos:], '<')
		if i < 0 {
			break
		}
		i += pos
		j := i + 1
		for j < len(s) && !isNameEnd(s[j]) {
			j++
		}
		name := s[i+1 : j]
		if name == "" || strings.ContainsAny(name[:1], "/!?") {
			pos = i + 1
			continue
		}
		sp, ok := findElement(s, name, i)
		if !ok || sp.start != i {
			pos = i + 1
			continue
		}
		out = append(out, element{
			name:  sp.name,
			attrs: sp.attrs,
			inner: s[sp.innerStart:sp.innerEnd],
		})
		pos = sp.end
	}
	return out
}

// localName strips the namespace prefix.
func localName(qname string) string {
	if i := strings.IndexByte(qname, ':'); i >= 0 {
		return qname[i+1:]
	}
	return qname
}

// child returns the inner markup of the first top-level child named name.
func child(s, name string) (string, bool) {
	for _, el := range topLevel(s) {
		if strings.EqualFold(localName(el.name), name) {
			return el.inner, true
		}
	}
	return "", false
}

// children returns the inner markup of every top-level child named name.
func children(s, name string) []string {
	var out []string
	for _, el := range topLevel(s) {
		if strings.EqualFold(localName(el.name), name) {
			out = append(out, el.inner)
		}
	}
	return out
}

// val reads the val attribute of the first top-level child named name,
// e.g. <m:begChr m:val="["/>.
func val(s, name string) (string, bool) {
	for _, el := range topLevel(s) {
		if strings.EqualFold(localName(el.name), name) {
			if m := valAttr.FindStringSubmatch(el.attrs); m != nil {
				return m[1], true
			}
			return "", false
		}
	}
	return "", false
}
