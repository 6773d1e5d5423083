package groupfill

// MappingValueFunc resolves the target group by looking up the record's
// creator user in a user-to-group mapping. Records whose creator is not
// in the mapping cannot be resolved and fail without a remote call.
func MappingValueFunc(userToGroup map[string]string) ValueFunc {
	return func(rec Record) (string, bool) {
		group, ok := userToGroup[rec.CreatorUserID]
		if !ok || group == "" {
			return "", false
		}
		return group, true
	}
}

// AssignedValueFunc resolves the target group from the record's own
// assigned group. This is the fallback when no user mapping is available:
// the creator is presumed to belong to the group the record is assigned
// to.
func AssignedValueFunc() ValueFunc {
	return func(rec Record) (string, bool) {
		if rec.AssignedGroup == "" {
			return "", false
		}
		return rec.AssignedGroup, true
	}
}
