package models

// EqualStrings reports order-sensitive equality of two reference lists.
// nil and the empty list compare equal.
func EqualStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Contains reports whether s is present in list.
func Contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Subtract returns the elements of a not present in b, preserving order.
func Subtract(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, v := range a {
		if !Contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}

// Distinct removes duplicates, preserving first occurrence order.
func Distinct(a []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a))
	for _, v := range a {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// CommonTagIDs returns the tag ids shared by every clip, in the order
// they appear on the first one. An empty input has no common tags.
func CommonTagIDs(clips []*Clip) []string {
	if len(clips) == 0 {
		return nil
	}
	common := append([]string(nil), clips[0].TagIDs...)
	for _, c := range clips[1:] {
		kept := common[:0]
		for _, id := range common {
			if Contains(c.TagIDs, id) {
				kept = append(kept, id)
			}
		}
		common = kept
		if len(common) == 0 {
			break
		}
	}
	return common
}
