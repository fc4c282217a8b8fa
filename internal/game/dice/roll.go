package dice

import (
	"fmt"
	"strconv"
	"strings"
)

// Roll evaluates a simple dice expression of the form "NdS", "NdS+M", or
// "NdS-M" using src and returns the total. Exposed to effect scripts via
// the engine.roll Lua binding.
//
// Precondition: src must be non-nil.
// Postcondition: Returns total >= count*1 + modifier on success.
func Roll(expr string, src Source) (int, error) {
	count, sides, modifier, err := parse(expr)
	if err != nil {
		return 0, err
	}
	total := modifier
	for i := 0; i < count; i++ {
		total += src.Intn(sides) + 1
	}
	return total, nil
}

// parse splits "NdS(+|-)M" into its parts. The count defaults to 1 when
// omitted ("d6" == "1d6").
func parse(expr string) (count, sides, modifier int, err error) {
	s := strings.ToLower(strings.TrimSpace(expr))
	if s == "" {
		return 0, 0, 0, fmt.Errorf("dice: empty expression")
	}
	dIdx := strings.Index(s, "d")
	if dIdx < 0 {
		return 0, 0, 0, fmt.Errorf("dice: missing 'd' in expression %q", expr)
	}

	count = 1
	if dIdx > 0 {
		count, err = strconv.Atoi(s[:dIdx])
		if err != nil || count < 1 {
			return 0, 0, 0, fmt.Errorf("dice: invalid die count in %q", expr)
		}
	}

	rest := s[dIdx+1:]
	modIdx := -1
	for i := 1; i < len(rest); i++ {
		if rest[i] == '+' || rest[i] == '-' {
			modIdx = i
			break
		}
	}
	sidesStr := rest
	if modIdx >= 0 {
		sidesStr = rest[:modIdx]
		modifier, err = strconv.Atoi(rest[modIdx:])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("dice: invalid modifier in %q", expr)
		}
	}

	sides, err = strconv.Atoi(sidesStr)
	if err != nil || sides < 2 {
		return 0, 0, 0, fmt.Errorf("dice: invalid die sides in %q", expr)
	}
	return count, sides, modifier, nil
}
