package merge

import (
	"fmt"
	"strings"
)

// Mode selects how translations are written back.
type Mode int

const (
	// Append writes each original line followed by its translation.
	Append Mode = iota
	// Overwrite writes translations only.
	Overwrite
)

func (m Mode) String() string {
	switch m {
	case Append:
		return "append"
	case Overwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

// ParseMode accepts "append" and "overwrite", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "append":
		return Append, nil
	case "overwrite", "replace":
		return Overwrite, nil
	default:
		return Append, fmt.Errorf("unknown merge mode %q", s)
	}
}

func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Merge produces the output lines for one batch. originals and translations
// are stripped text; every emitted line ends in "\n".
//
// Append pairs position i of both slices, then writes leftover originals and
// finally any surplus translations. Overwrite writes translations as given,
// so a failed batch contributes nothing.
func (m Mode) Merge(originals, translations []string) []string {
	if m == Overwrite {
		out := make([]string, 0, len(translations))
		for _, t := range translations {
			out = append(out, t+"\n")
		}
		return out
	}

	out := make([]string, 0, len(originals)+len(translations))
	paired := min(len(originals), len(translations))
	for i := 0; i < paired; i++ {
		out = append(out, originals[i]+"\n", translations[i]+"\n")
	}
	for _, o := range originals[paired:] {
		out = append(out, o+"\n")
	}
	for _, t := range translations[paired:] {
		out = append(out, t+"\n")
	}
	return out
}
