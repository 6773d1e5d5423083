// Package integrity validates records before submission and verifies
// update results after submission.
//
// The pre-check keeps bad input local: a record that fails it is skipped,
// never sent to the remote API. The post-check protects against partial
// writes on the remote side: an update whose reported value does not match
// the intended target is a failure, not a silent success.
package integrity

import (
	gferrors "github.com/kfarrell/groupfill/pkg/groupfill/errors"
	"github.com/kfarrell/groupfill/pkg/groupfill/source"
)

// Skip reasons produced by the pre-check.
const (
	ReasonAlreadySet   = "already set"
	ReasonUnknownGroup = "unknown group"
	ReasonMissingField = "missing required field"
)

// Checker validates records and update results.
// The zero value checks required fields only.
type Checker struct {
	// KnownGroups, when non-nil, is the referential sanity set: records
	// whose assigned group is not in it are skipped.
	KnownGroups map[string]struct{}
}

// PreCheckResult reports whether a record may become a work item.
type PreCheckResult struct {
	// Eligible is true when the record passed every pre-check.
	Eligible bool

	// SkipReason names the failed check when Eligible is false.
	SkipReason string

	// Err carries field-level detail for logging.
	Err error
}

// PreCheck validates a record before it becomes a work item.
func (c *Checker) PreCheck(rec source.Record) PreCheckResult {
	if field := missingField(rec); field != "" {
		return PreCheckResult{
			SkipReason: ReasonMissingField,
			Err:        &gferrors.ValidationError{RecordID: rec.ID, Field: field, Message: "required"},
		}
	}

	if rec.CreatorGroup != "" {
		return PreCheckResult{SkipReason: ReasonAlreadySet}
	}

	if c.KnownGroups != nil {
		if _, ok := c.KnownGroups[rec.AssignedGroup]; !ok {
			return PreCheckResult{
				SkipReason: ReasonUnknownGroup,
				Err: &gferrors.ValidationError{
					RecordID: rec.ID,
					Field:    "assigned_group",
					Message:  "not in known group set",
				},
			}
		}
	}

	return PreCheckResult{Eligible: true}
}

// PostCheck compares the server's reported value against the intended
// target after a successful update. A mismatch downgrades the success.
func (c *Checker) PostCheck(recordID, intended, reported string) error {
	if intended != reported {
		return &gferrors.MismatchError{RecordID: recordID, Want: intended, Got: reported}
	}
	return nil
}

// missingField returns the name of the first empty required field.
func missingField(rec source.Record) string {
	switch {
	case rec.ID == "":
		return "id"
	case rec.CreatorUserID == "":
		return "creator_user_id"
	case rec.AssignedGroup == "":
		return "assigned_group"
	}
	return ""
}
