package wcs

import (
	"regexp"
	"sort"
	"strings"

	"github.com/small-bodies-node/sbnsis/pkg/fits"
)

// Distortion paper keywords: DPj and DQj hold record-valued strings
// such as 'AXIS.1: 1', and CPDISj/CQDISj name the distortion.
var distortionKey = regexp.MustCompile(`^D[PQ][0-9]+$`)

// KeywordConflictError is returned when a header uses distortion
// keyword names for something else. Some survey pipelines write the
// pixel size in microns as numeric DP1 and DP2, which collides with
// the distortion paper convention.
type KeywordConflictError struct {
	Keys []string
}

func (e *KeywordConflictError) Error() string {
	return "header keywords " + strings.Join(e.Keys, ", ") + " conflict with distortion keyword names"
}

func checkDistortion(h *fits.Header) error {
	var conflicts []string
	seen := map[string]bool{}
	for _, c := range h.Cards() {
		if !distortionKey.MatchString(c.Key) || seen[c.Key] {
			continue
		}
		seen[c.Key] = true
		if _, ok := c.Value.(string); !ok {
			conflicts = append(conflicts, c.Key)
		}
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return &KeywordConflictError{Keys: conflicts}
	}
	for _, k := range []string{"CPDIS1", "CPDIS2", "CQDIS1", "CQDIS2", "D2IMDIS1", "D2IMDIS2"} {
		if v, ok := h.String(k); ok && v != "" {
			return &UnsupportedError{What: k + " " + v + " distortion"}
		}
	}
	return nil
}

// Repair removes the keywords named by a KeywordConflictError from h.
// It returns false if err is not such an error.
func Repair(h *fits.Header, err error) bool {
	conflict, ok := err.(*KeywordConflictError)
	if !ok {
		return false
	}
	h.Delete(conflict.Keys...)
	return true
}

// FromHeaderRepaired is FromHeader with a single repair attempt. The
// header is not modified; the returned list names the keywords that
// had to be dropped.
func FromHeaderRepaired(h *fits.Header) (*WCS, []string, error) {
	w, err := FromHeader(h)
	if err == nil {
		return w, nil, nil
	}
	conflict, ok := err.(*KeywordConflictError)
	if !ok {
		return nil, nil, err
	}
	repaired := h.Clone()
	Repair(repaired, err)
	w, err = FromHeader(repaired)
	if err != nil {
		return nil, conflict.Keys, err
	}
	return w, conflict.Keys, nil
}
