package httpmsg

import (
	"bytes"
	"strings"
)

// BuildRequestTarget reconstructs the origin-form target path[?query][#fragment],
// defaulting path to "/". Returns the literal "/None" when no URL was parsed, a
// wire quirk existing clients depend on, preserved rather than treated as a
// build failure.
func (m *Message) BuildRequestTarget() string {
	if m.URL == nil {
		return "/None"
	}
	path := m.URL.Path
	if path == "" {
		path = "/"
	}
	if m.URL.Query != "" {
		path += "?" + m.URL.Query
	}
	if m.URL.Fragment != "" {
		path += "#" + m.URL.Fragment
	}
	return path
}

// Build emits request-line + surviving headers (case preserved, insertion order
// preserved) + extra headers + blank line + body. delHeaders and addHeaders names
// are matched/emitted case-insensitively on the delete side and verbatim on the
// add side.
func (m *Message) Build(delHeaders []string, addHeaders [][2]string) []byte {
	del := make(map[string]bool, len(delHeaders))
	for _, d := range delHeaders {
		del[strings.ToLower(d)] = true
	}

	var buf bytes.Buffer
	buf.WriteString(m.Method)
	buf.WriteByte(' ')
	buf.WriteString(m.BuildRequestTarget())
	buf.WriteByte(' ')
	buf.WriteString(m.Version)
	buf.Write(crlf)

	m.Headers.Each(func(name, value string) {
		if del[strings.ToLower(name)] {
			return
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.Write(crlf)
	})

	for _, kv := range addHeaders {
		buf.WriteString(kv[0])
		buf.WriteString(": ")
		buf.WriteString(kv[1])
		buf.Write(crlf)
	}

	buf.Write(crlf)
	buf.Write(m.Body)
	return buf.Bytes()
}
