package vars

// Substitute performs the single forward-pass, multi-pattern
// substitution described in §4.2/§8. pairs should already be the
// resolved, sorted (name, value) list from Evaluate. The first candidate
// to complete its match, scanning left to right, wins (§8 property 3):
// when one name is a prefix of another the shorter one completes first
// whatever the pairs order. Order only affects the result when two
// candidates complete on the same rune (one name ends with the other);
// then the earlier one in pairs wins. Empty names are skipped. Values are inserted
// verbatim and are never themselves re-scanned for further matches
// (§8 property 4).
func Substitute(input string, pairs []Pair) string {
	type candidate struct {
		name     []rune
		value    string
		progress int
	}

	candidates := make([]*candidate, 0, len(pairs))
	for _, p := range pairs {
		if p.Name == "" {
			continue
		}
		candidates = append(candidates, &candidate{name: []rune(p.Name), value: p.Value})
	}
	if len(candidates) == 0 {
		return input
	}

	out := make([]rune, 0, len(input))
	for _, r := range input {
		out = append(out, r)

		for _, c := range candidates {
			if c.progress < len(c.name) && c.name[c.progress] == r {
				c.progress++
			} else if len(c.name) > 0 && c.name[0] == r {
				c.progress = 1
			} else {
				c.progress = 0
			}

			if c.progress == len(c.name) {
				out = out[:len(out)-len(c.name)]
				out = append(out, []rune(c.value)...)
				for _, reset := range candidates {
					reset.progress = 0
				}
				break
			}
		}
	}
	return string(out)
}
