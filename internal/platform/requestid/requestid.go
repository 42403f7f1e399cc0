// Package requestid generates correlation ids for requests that arrive
// without one.
package requestid

import "github.com/google/uuid"

func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
