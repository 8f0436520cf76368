package store

import (
	"sort"
	"strings"
)

// matchesRange reports whether key qualifies for a count/list/scan
// bounded by (start, end): key must be at least as long as start and
// end combined (so the prefix and suffix windows cannot overlap), and
// must start with start and end with end. A (start, end) pair whose
// combined length overflows a u32 matches nothing, per §4.2.
func matchesRange(key string, start, end []byte) bool {
	total := uint64(len(start)) + uint64(len(end))
	if total > maxLen {
		return false
	}
	if uint64(len(key)) < total {
		return false
	}
	return strings.HasPrefix(key, string(start)) && strings.HasSuffix(key, string(end))
}

// collectRange implements the shared traversal behind Count/List/Scan
// and their Tx equivalents (§4.2's algorithm): walk overlay (if any,
// representing a transaction's staged writes layered as the newest
// node) then the chain from n toward the origin, recording the first
// observation of each matching key — newest wins because later
// observations of an already-seen key are ignored. Deleted keys (empty
// value) are recorded during the walk like any other entry and
// filtered out only at the end, so a delete in a newer node correctly
// shadows a live value in an older one.
func collectRange(n *Node, overlay ChangeSet, start, end []byte) map[string][]byte {
	seen := make(map[string]struct{})
	results := make(map[string][]byte)
	record := func(k string, v []byte) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		if !matchesRange(k, start, end) {
			return
		}
		results[k] = v
	}
	for k, v := range overlay {
		record(k, v)
	}
	for cur := n; cur != nil; cur = cur.prev {
		for k, v := range cur.changes {
			record(k, v)
		}
	}
	for k, v := range results {
		if len(v) == 0 {
			delete(results, k)
		}
	}
	return results
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func countMatches(n *Node, overlay ChangeSet, start, end []byte) uint32 {
	if uint64(len(start))+uint64(len(end)) > maxLen {
		return 0
	}
	return uint32(len(collectRange(n, overlay, start, end)))
}

func listMatches(n *Node, overlay ChangeSet, start, end []byte) [][]byte {
	m := collectRange(n, overlay, start, end)
	keys := sortedKeys(m)
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = []byte(k)
	}
	return out
}

func scanMatches(n *Node, overlay ChangeSet, start, end []byte) ([][]byte, [][]byte) {
	m := collectRange(n, overlay, start, end)
	keys := sortedKeys(m)
	outKeys := make([][]byte, len(keys))
	outValues := make([][]byte, len(keys))
	for i, k := range keys {
		outKeys[i] = []byte(k)
		outValues[i] = m[k]
	}
	return outKeys, outValues
}
