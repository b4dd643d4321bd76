package treediff

import (
	"sort"
	"strings"

	"sod/internal/objstore"
)

// Pair is a matched rename or copy: From is the old path, To the new.
type Pair struct {
	From string
	To   string
}

// pairByDigest greedily pairs deletions with additions that share
// digest and mode, per spec.md §4.G: "each deletion may consume at
// most one addition; remaining unmatched rename candidates stay A/D".
// Pairs are grouped by (digest, mode) so only content-identical
// candidates are ever compared. Within a group, candidates are
// ordered by tie-break (longest shared directory-prefix length first,
// then byte order of the new path) and consumed greedily. limit
// bounds the total number of pairings made; remaining candidates are
// returned unpaired rather than erroring, matching spec.md's
// "on exceedance the remainder are reported as plain A/D".
func pairByDigest(dels, adds []string, oldTree, newTree map[string]objstore.FlatEntry, limit int) (pairs []Pair, remAdds, remDels []string) {
	type key struct {
		digest string
		mode   uint32
	}
	delsByKey := make(map[key][]string)
	for _, d := range dels {
		e := oldTree[d]
		k := key{e.Digest.String(), e.Mode}
		delsByKey[k] = append(delsByKey[k], d)
	}
	addsByKey := make(map[key][]string)
	for _, a := range adds {
		e := newTree[a]
		k := key{e.Digest.String(), e.Mode}
		addsByKey[k] = append(addsByKey[k], a)
	}

	pairedAdds := make(map[string]bool)
	pairedDels := make(map[string]bool)
	count := 0

	keys := make([]key, 0, len(delsByKey))
	for k := range delsByKey {
		if _, ok := addsByKey[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].digest < keys[j].digest })

	for _, k := range keys {
		groupDels := append([]string(nil), delsByKey[k]...)
		groupAdds := append([]string(nil), addsByKey[k]...)

		for len(groupDels) > 0 && len(groupAdds) > 0 {
			if count >= limit {
				break
			}
			bestDelIdx, bestAddIdx, bestScore := -1, -1, -1
			for di, d := range groupDels {
				for ai, a := range groupAdds {
					score := sharedPrefixLen(d, a)
					if score > bestScore ||
						(score == bestScore && bestAddIdx >= 0 && a < groupAdds[bestAddIdx]) {
						bestScore, bestDelIdx, bestAddIdx = score, di, ai
					}
				}
			}
			from, to := groupDels[bestDelIdx], groupAdds[bestAddIdx]
			pairs = append(pairs, Pair{From: from, To: to})
			pairedDels[from] = true
			pairedAdds[to] = true
			count++
			groupDels = append(groupDels[:bestDelIdx], groupDels[bestDelIdx+1:]...)
			groupAdds = append(groupAdds[:bestAddIdx], groupAdds[bestAddIdx+1:]...)
		}
	}

	for _, a := range adds {
		if !pairedAdds[a] {
			remAdds = append(remAdds, a)
		}
	}
	for _, d := range dels {
		if !pairedDels[d] {
			remDels = append(remDels, d)
		}
	}
	return pairs, remAdds, remDels
}

// pairCopies matches each remaining addition against any path present
// unchanged in both trees with the same digest, per spec.md §4.G: "an
// A whose digest matches a path present in both A and B". Unlike
// renames, a copy source is never consumed — the same source may back
// multiple copies.
func pairCopies(adds []string, oldTree, newTree map[string]objstore.FlatEntry) (pairs []Pair, remAdds []string) {
	bySource := make(map[string][]string) // digest hex -> unchanged paths
	for p, o := range oldTree {
		if n, ok := newTree[p]; ok && n.Digest == o.Digest && n.Mode == o.Mode {
			bySource[o.Digest.String()] = append(bySource[o.Digest.String()], p)
		}
	}
	for k := range bySource {
		sort.Strings(bySource[k])
	}

	for _, a := range adds {
		e := newTree[a]
		candidates := bySource[e.Digest.String()]
		if len(candidates) == 0 {
			remAdds = append(remAdds, a)
			continue
		}
		best := candidates[0]
		bestScore := sharedPrefixLen(best, a)
		for _, c := range candidates[1:] {
			if score := sharedPrefixLen(c, a); score > bestScore {
				best, bestScore = c, score
			}
		}
		pairs = append(pairs, Pair{From: best, To: a})
	}
	return pairs, remAdds
}

func sharedPrefixLen(a, b string) int {
	aParts := strings.Split(a, "/")
	bParts := strings.Split(b, "/")
	n := 0
	for n < len(aParts)-1 && n < len(bParts)-1 && aParts[n] == bParts[n] {
		n++
	}
	return n
}
