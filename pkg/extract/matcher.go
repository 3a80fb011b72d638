package extract

// Ratio returns the Ratcliff/Obershelp similarity of a and b: 2*M / (len(a)+len(b)),
// where M is the number of code points in the matching blocks found by repeatedly
// taking the longest common contiguous run and recursing on both sides of it.
// Two empty strings have ratio 1.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matchingCharacters(ra, rb)) / float64(total)
}

// matcher holds the index of b and the scratch rows used by longestMatch.
type matcher struct {
	a, b      []rune
	b2j       map[rune][]int // positions of each rune in b, ascending
	prev, cur []int          // run lengths indexed by j+1
}

func newMatcher(a, b []rune) *matcher {
	b2j := make(map[rune][]int)
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}
	return &matcher{
		a:    a,
		b:    b,
		b2j:  b2j,
		prev: make([]int, len(b)+1),
		cur:  make([]int, len(b)+1),
	}
}

// longestMatch finds the longest block a[i:i+k] == b[j:j+k] with alo <= i, i+k <= ahi
// and blo <= j, j+k <= bhi. Among equally long blocks the one starting earliest in a
// wins, then the one starting earliest in b.
func (m *matcher) longestMatch(alo, ahi, blo, bhi int) (besti, bestj, bestk int) {
	besti, bestj = alo, blo
	prev, cur := m.prev, m.cur
	var prevSet, curSet []int
	for i := alo; i < ahi; i++ {
		for _, j := range m.b2j[m.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			// prev[j] is the run ending at a[i-1], b[j-1]
			k := prev[j] + 1
			cur[j+1] = k
			curSet = append(curSet, j+1)
			if k > bestk {
				besti, bestj, bestk = i-k+1, j-k+1, k
			}
		}
		for _, idx := range prevSet {
			prev[idx] = 0
		}
		prev, cur = cur, prev
		prevSet, curSet = curSet, prevSet[:0]
	}
	for _, idx := range prevSet {
		prev[idx] = 0
	}
	return besti, bestj, bestk
}

type span struct{ alo, ahi, blo, bhi int }

func matchingCharacters(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	m := newMatcher(a, b)
	matched := 0
	stack := []span{{0, len(a), 0, len(b)}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		i, j, k := m.longestMatch(s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			stack = append(stack, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			stack = append(stack, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return matched
}
