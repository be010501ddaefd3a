package repl

import (
	"strings"
)

// completer offers command names and, after "report", recent session ids.
type completer struct {
	r *REPL
}

func newCompleter(r *REPL) *completer {
	return &completer{r: r}
}

// Do implements readline.AutoCompleter.
func (c *completer) Do(line []rune, pos int) ([][]rune, int) {
	input := string(line[:pos])
	fields := strings.Fields(input)
	trailingSpace := strings.HasSuffix(input, " ")

	var prefix string
	var candidates []string
	switch {
	case len(fields) == 0 || (len(fields) == 1 && !trailingSpace):
		if len(fields) == 1 {
			prefix = fields[0]
		}
		candidates = c.r.commandNames()
	case fields[0] == "report" && (len(fields) == 1 || (len(fields) == 2 && !trailingSpace)):
		if len(fields) == 2 {
			prefix = fields[1]
		}
		candidates = c.sessionIDs()
	default:
		return nil, 0
	}

	var out [][]rune
	for _, cand := range candidates {
		if strings.HasPrefix(cand, prefix) && cand != prefix {
			out = append(out, []rune(cand[len(prefix):]+" "))
		}
	}
	return out, len([]rune(prefix))
}

func (c *completer) sessionIDs() []string {
	records, err := c.r.runner.History(c.r.ctx, defaultHistoryLimit)
	if err != nil {
		return nil
	}
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.SessionID
	}
	return ids
}
