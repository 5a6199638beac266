package http

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	siserr "github.com/small-bodies-node/sbnsis/pkg/errors"
)

func NewAPIRouter() *mux.Router {
	r := mux.NewRouter()

	r.NewRoute().Name(Ping).Methods("GET").Path("/ping")
	r.NewRoute().Name(Version).Methods("GET").Path("/version")

	r.NewRoute().Name(Images).Methods("HEAD", "GET").Path("/images/{id}")
	r.NewRoute().Name(Query).Methods("GET").Path("/query")
	r.NewRoute().Name(Summary).Methods("GET").Path("/summary")

	return r
}

func MakeURL(endpoint string, router *mux.Router, routeName string, routeVars []string, urlParams ...string) (*url.URL, error) {
	if len(urlParams)%2 != 0 {
		panic("urlParams must be even!")
	}

	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", endpoint)
	}
	route := router.Get(routeName)
	if route == nil {
		return nil, errors.New("no route with name " + routeName)
	}
	routeURL, err := route.URLPath(routeVars...)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route path %s", routeName)
	}

	v := url.Values{}
	for i := 0; i < len(urlParams); i += 2 {
		if urlParams[i+1] != "" {
			v.Add(urlParams[i], urlParams[i+1])
		}
	}

	endpointURL.Path = path.Join(endpointURL.Path, routeURL.Path)
	endpointURL.RawPath = ""
	endpointURL.RawQuery = v.Encode()
	return endpointURL, nil
}

func WriteError(w http.ResponseWriter, r *http.Request, code int, err error) {
	// Clients that can decode JSON errors say so in the Accept
	// header. Everyone else (browsers, curl) gets the help text.
	if len(r.Header.Get("Accept")) > 0 {
		switch negotiateContentType(r, []string{"application/json", "text/plain"}) {
		case "application/json":
			body, encodeErr := json.Marshal(err)
			if encodeErr != nil {
				w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, "Error encoding error response: %s\n\nOriginal error: %s", encodeErr.Error(), err.Error())
				return
			}
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "application/json; charset=utf-8")
			w.WriteHeader(code)
			w.Write(body)
			return
		}
	}
	w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
	w.WriteHeader(code)
	if apiErr, ok := err.(*siserr.Error); ok {
		fmt.Fprint(w, apiErr.Help)
		return
	}
	fmt.Fprint(w, err.Error())
}

func JSONResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	body, err := json.Marshal(result)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// FileResponse serves the file at path under the given name. With
// download set the client is asked to save it rather than show it.
func FileResponse(w http.ResponseWriter, r *http.Request, path, name, contentType string, download bool) {
	f, err := os.Open(path)
	if err != nil {
		ErrorResponse(w, r, siserr.Processing(errors.Wrap(err, "opening result"), ""))
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		ErrorResponse(w, r, siserr.Processing(errors.Wrap(err, "opening result"), ""))
		return
	}

	disposition := "inline"
	if download {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name}))
	http.ServeContent(w, r, name, fi.ModTime(), f)
}

func ErrorResponse(w http.ResponseWriter, r *http.Request, apiError error) {
	var code int

	outErr, ok := siserr.As(apiError)
	if !ok {
		outErr = siserr.CoverAllError(apiError)
	}
	switch outErr.Type {
	case siserr.Missing:
		code = http.StatusNotFound
	case siserr.User:
		code = http.StatusBadRequest
	case siserr.Server:
		code = http.StatusInternalServerError
	default:
		code = http.StatusInternalServerError
	}
	WriteError(w, r, code, outErr)
}
