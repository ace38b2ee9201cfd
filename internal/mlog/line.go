package mlog

import (
	"io"
	"strings"

	"github.com/dogmatiq/iago/must"
)

var (
	space1 = []byte{' '}
	space2 = []byte{' ', ' '}
)

// String returns a log line as a string.
//
// The labelled identifiers come first, followed by the status icons and then
// each non-empty piece of text, separated by SeparatorIcon.
func String(
	ids []IconWithLabel,
	icons []Icon,
	text ...string,
) string {
	w := &strings.Builder{}

	writeIDs(w, ids)
	writeIcons(w, icons)
	writeText(w, text)

	return w.String()
}

func writeIDs(w io.Writer, ids []IconWithLabel) {
	for _, id := range ids {
		must.WriteTo(w, id)
		must.Write(w, space2)
	}
}

func writeIcons(w io.Writer, icons []Icon) {
	for _, i := range icons {
		must.WriteTo(w, i)
		must.Write(w, space1)
	}
}

func writeText(w io.Writer, text []string) {
	first := true

	for _, t := range text {
		if t == "" {
			continue
		}

		must.Write(w, space1)

		if !first {
			must.WriteTo(w, SeparatorIcon)
			must.Write(w, space1)
		}

		must.WriteString(w, t)
		first = false
	}
}
