package agent

// Ladder is an ordered set of behavior stages. Ordinal 0 is the initial
// adverse stage and the last ordinal is the most-improved stage. Edge i is
// the forward transition i -> i+1.
type Ladder []string

// Len returns the number of stages.
func (l Ladder) Len() int { return len(l) }

// Last returns the ordinal of the most-improved stage.
func (l Ladder) Last() int { return len(l) - 1 }

// Edges returns the number of adjacent transitions.
func (l Ladder) Edges() int {
	if len(l) == 0 {
		return 0
	}
	return len(l) - 1
}

// Name returns the stage name for an ordinal, or "" if out of range.
func (l Ladder) Name(ordinal int) string {
	if ordinal < 0 || ordinal >= len(l) {
		return ""
	}
	return l[ordinal]
}

// Ordinal returns the position of a named stage.
func (l Ladder) Ordinal(name string) (int, bool) {
	for i, s := range l {
		if s == name {
			return i, true
		}
	}
	return 0, false
}
