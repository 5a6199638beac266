package http

import (
	"net/http"
	"sort"

	"github.com/golang/gddo/httputil/header"
)

// negotiateContentType picks a content type based on the Accept
// header from a request, and a supplied list of available content
// types in order of preference. The match with the highest quality
// (`q`) wins, ties going to the earlier preference. With no Accept
// header the first preference is returned; with no match, "".
func negotiateContentType(r *http.Request, orderedPref []string) string {
	specs := header.ParseAccept(r.Header, "Accept")
	if len(specs) == 0 {
		return orderedPref[0]
	}

	var preferred []header.AcceptSpec
	for _, spec := range specs {
		if indexOf(orderedPref, spec.Value) < len(orderedPref) {
			preferred = append(preferred, spec)
		}
	}
	if len(preferred) == 0 {
		return ""
	}
	sort.SliceStable(preferred, func(i, j int) bool {
		if preferred[i].Q != preferred[j].Q {
			return preferred[i].Q > preferred[j].Q
		}
		return indexOf(orderedPref, preferred[i].Value) < indexOf(orderedPref, preferred[j].Value)
	})
	return preferred[0].Value
}

// indexOf returns len(ss) when search is absent, so that it sorts
// after every present value.
func indexOf(ss []string, search string) int {
	for i, s := range ss {
		if s == search {
			return i
		}
	}
	return len(ss)
}
