package repository

import (
	"hash/maphash"
	"strconv"
	"strings"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
)

// Providers are ranked by a treap ordered by reputation DESC, then key ASC.
// "less" means ranks earlier, so in-order traversal yields the ranking.

// repScale is the number of fractional digits kept from a reputation.
const repScale = 4

// fixedRep is a reputation in units of 10^-repScale.
type fixedRep int64

// toFixed parses a decimal string. Digits past repScale are truncated and
// unparsable values rank last.
func toFixed(d model.Decimal) fixedRep {
	s := string(d)
	if s == "" {
		return 0
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > repScale {
		frac = frac[:repScale]
	}
	frac += strings.Repeat("0", repScale-len(frac))
	v, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0
	}
	if neg {
		v = -v
	}
	return fixedRep(v)
}

var prioSeed = maphash.MakeSeed()

type node struct {
	key   string
	rep   fixedRep
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aRep, aKey) ranks before (bRep, bKey).
func less(aRep fixedRep, aKey string, bRep fixedRep, bKey string) bool {
	if aRep != bRep {
		return aRep > bRep
	}
	return aKey < bKey
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, key string, rep fixedRep) *node {
	if n == nil {
		return &node{key: key, rep: rep, prio: maphash.String(prioSeed, key), size: 1}
	}
	if less(rep, key, n.rep, n.key) {
		n.left = insert(n.left, key, rep)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, key, rep)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func remove(n *node, key string, rep fixedRep) *node {
	if n == nil {
		return nil
	}
	switch {
	case rep == n.rep && key == n.key:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, key, rep)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, key, rep)
		}
	case less(rep, key, n.rep, n.key):
		n.left = remove(n.left, key, rep)
	default:
		n.right = remove(n.right, key, rep)
	}
	fix(n)
	return n
}

// collectTop appends up to limit keys in rank order.
func collectTop(n *node, limit int, out *[]*node) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTop(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n)
	}
	if len(*out) < limit {
		collectTop(n.right, limit, out)
	}
}

// ranking tracks providers that carry a reputation.
type ranking struct {
	root *node
	reps map[string]fixedRep
}

func newRanking() *ranking {
	return &ranking{reps: make(map[string]fixedRep)}
}

// set places key at rep, moving it if it was ranked before.
func (r *ranking) set(key string, rep fixedRep) {
	if old, ok := r.reps[key]; ok {
		if old == rep {
			return
		}
		r.root = remove(r.root, key, old)
	}
	r.reps[key] = rep
	r.root = insert(r.root, key, rep)
}

func (r *ranking) drop(key string) {
	if old, ok := r.reps[key]; ok {
		r.root = remove(r.root, key, old)
		delete(r.reps, key)
	}
}

func (r *ranking) top(n int) []*node {
	out := make([]*node, 0, min(n, nsize(r.root)))
	collectTop(r.root, n, &out)
	return out
}

func (r *ranking) len() int { return nsize(r.root) }
