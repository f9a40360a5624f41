package services

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/schema"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestDbErrorMapsDuplicateKeyToConflict(t *testing.T) {
	err := dbError("sql error creating flow", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey))
	assert.True(t, apperr.Is(err, apperr.Conflict))
	assert.Equal(t, http.StatusConflict, GetResponseCode(err))

	err = dbError("sql error creating flow", errors.New("connection reset"))
	assert.True(t, errors.Is(err, schema.ErrDbAccessFailed))
	assert.Equal(t, http.StatusInternalServerError, GetResponseCode(err))
}
