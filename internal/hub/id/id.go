// Package id generates unique identifiers for hub entities.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a 21-character nanoid using an alphanumeric alphabet (A-Za-z0-9).
func Generate() string {
	id, err := gonanoid.Generate(alphabet, 21)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return id
}

// Short returns a prefixed 8-character nanoid for human-facing
// identifiers (task ids, vote ids) where collisions within a single
// project are the only concern.
func Short(prefix string) string {
	id, err := gonanoid.Generate(alphabet, 8)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return prefix + "-" + id
}
