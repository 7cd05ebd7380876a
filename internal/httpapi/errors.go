package httpapi

import "github.com/fedmesh/node/internal/apperrors"

func errorStatus(err error) int {
	return apperrors.HTTPStatus(err)
}
