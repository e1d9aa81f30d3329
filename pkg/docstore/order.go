package docstore

import (
	"sort"
	"strings"
	"time"
)

// SortSnapshots orders snaps by q.OrderBy and q.Direction, breaking ties by
// CreateSeq ascending, then applies q.Limit. The result is total and stable.
func SortSnapshots(snaps []Snapshot, q Query) []Snapshot {
	sort.SliceStable(snaps, func(i, j int) bool {
		if q.OrderBy != "" {
			c := CompareValues(snaps[i].Data[q.OrderBy], snaps[j].Data[q.OrderBy])
			if q.Direction == Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return snaps[i].CreateSeq < snaps[j].CreateSeq
	})
	if q.Limit > 0 && len(snaps) > q.Limit {
		snaps = snaps[:q.Limit]
	}
	return snaps
}

// type rank used when two values are not comparable
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int32, int64, uint64, float32, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// CompareValues returns -1, 0 or 1. Values of different kinds are ordered by
// kind: nil < bool < number < timestamp < string.
func CompareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case time.Time:
		y := b.(time.Time)
		switch {
		case x.Before(y):
			return -1
		case x.After(y):
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(x, b.(string))
	}
	if ra == 2 {
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	}
	return 0
}
