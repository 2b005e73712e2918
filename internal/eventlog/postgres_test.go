package eventlog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	uniq := &pq.Error{Code: "23505"}
	assert.True(t, isUniqueViolation(uniq))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", uniq)))

	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("connection reset")))
	assert.False(t, isUniqueViolation(nil))
}
