package bingo

import "sort"

type Pattern string

const (
	Horizontal Pattern = "horizontal"
	Vertical   Pattern = "vertical"
	Diagonal   Pattern = "diagonal"
	Corners    Pattern = "corners"
	Cross      Pattern = "cross"
	FullHouse  Pattern = "full_house"
)

var AllPatterns = []Pattern{Horizontal, Vertical, Diagonal, Corners, Cross, FullHouse}

func (p Pattern) Valid() bool {
	for _, v := range AllPatterns {
		if v == p {
			return true
		}
	}
	return false
}

// candidates lists the cell sets that complete a pattern.
func candidates(p Pattern) [][]int {
	var out [][]int
	switch p {
	case Horizontal:
		for r := 0; r < Size; r++ {
			line := make([]int, 0, Size)
			for c := 0; c < Size; c++ {
				line = append(line, r*Size+c)
			}
			out = append(out, line)
		}
	case Vertical:
		for c := 0; c < Size; c++ {
			line := make([]int, 0, Size)
			for r := 0; r < Size; r++ {
				line = append(line, r*Size+c)
			}
			out = append(out, line)
		}
	case Diagonal:
		down := make([]int, 0, Size)
		up := make([]int, 0, Size)
		for i := 0; i < Size; i++ {
			down = append(down, i*Size+i)
			up = append(up, i*Size+(Size-1-i))
		}
		out = append(out, down, up)
	case Corners:
		out = append(out, []int{0, Size - 1, Cells - Size, Cells - 1})
	case Cross:
		mid := Size / 2
		seen := map[int]bool{}
		cells := []int{}
		for i := 0; i < Size; i++ {
			for _, idx := range []int{mid*Size + i, i*Size + mid} {
				if !seen[idx] {
					seen[idx] = true
					cells = append(cells, idx)
				}
			}
		}
		sort.Ints(cells)
		out = append(out, cells)
	case FullHouse:
		all := make([]int, Cells)
		for i := range all {
			all[i] = i
		}
		out = append(out, all)
	}
	return out
}

// Match reports whether the layout completes pattern p with the called
// numbers and returns the winning cell indexes.
func Match(l Layout, p Pattern, called []int) ([]int, bool) {
	marked := make(map[int]bool, len(called))
	for _, n := range called {
		marked[n] = true
	}
	for _, cells := range candidates(p) {
		ok := true
		for _, idx := range cells {
			if idx == FreeCell {
				continue
			}
			if !marked[l[idx]] {
				ok = false
				break
			}
		}
		if ok {
			return append([]int(nil), cells...), true
		}
	}
	return nil, false
}

// Detect returns the first allowed pattern the layout completes.
func Detect(l Layout, called []int, allowed []Pattern) (Pattern, []int, bool) {
	if len(allowed) == 0 {
		allowed = AllPatterns
	}
	for _, p := range allowed {
		if cells, ok := Match(l, p, called); ok {
			return p, cells, true
		}
	}
	return "", nil, false
}
