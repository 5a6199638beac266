package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiateContentType(t *testing.T) {
	for _, tc := range []struct {
		name   string
		accept []string
		prefs  []string
		want   string
	}{
		{"no header gives first choice", nil, []string{"image/fits"}, "image/fits"},
		{"no match", []string{"application/json;q=1.0,text/html;q=0.9", "text/plain"}, []string{"image/fits"}, ""},
		{"equal quality goes to preference", []string{"application/json,image/fits,text/html"}, []string{"image/fits", "application/json"}, "image/fits"},
		{"quality beats preference", []string{"application/json;q=0.5,text/html;q=1.0"}, []string{"application/json", "text/html"}, "text/html"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			for _, a := range tc.accept {
				h.Add("Accept", a)
			}
			assert.Equal(t, tc.want, negotiateContentType(&http.Request{Header: h}, tc.prefs))
		})
	}
}
