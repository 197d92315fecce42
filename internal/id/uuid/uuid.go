// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// consumerSpace namespaces stable consumer ids.
var consumerSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/JakeFAU/snowball-crawler/consumer"))

// Generator creates UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Stable returns a name-based UUID for parts. The same parts always give the
// same id, so a restarted runner finds the leases it left in flight.
func Stable(parts ...string) string {
	return uuid.NewSHA1(consumerSpace, []byte(strings.Join(parts, "/"))).String()
}
