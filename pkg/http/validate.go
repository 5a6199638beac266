package http

import (
	"fmt"

	"github.com/gorilla/mux"
)

// ImplementsServer verifies that a given router has a handler for
// every route of the API.
func ImplementsServer(router *mux.Router) error {
	return NewAPIRouter().Walk(func(r *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		route := router.Get(r.GetName())
		if route == nil {
			return fmt.Errorf("no route by name %q in router", r.GetName())
		}
		if route.GetHandler() == nil {
			return fmt.Errorf("no handler for route %q in router", r.GetName())
		}
		return nil
	})
}
