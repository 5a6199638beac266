package http

import (
	"errors"
	"strconv"

	siserr "github.com/small-bodies-node/sbnsis/pkg/errors"
)

func MakeAPINotFound(path string) *siserr.Error {
	return &siserr.Error{
		Type: siserr.Missing,
		Help: `The API endpoint requested is not provided by this server. The
endpoints are

    /images/{id}   an image, a cutout of it, or its label
    /query         search image metadata
    /summary       count images by collection, facility and instrument
    /version       the server version

The path requested was

    ` + path + `
`,
		Err: errors.New("API endpoint not found"),
	}
}

func MakeBadParameter(name, value string, err error) *siserr.Error {
	return &siserr.Error{
		Type: siserr.User,
		Help: "invalid value " + strconv.Quote(value) + " for parameter " + name + ": " + err.Error(),
		Err:  err,
	}
}
