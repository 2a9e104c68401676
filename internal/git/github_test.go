package git

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/josedab/docsynth-sub010/internal/models"
)

func TestMapFileStatus(t *testing.T) {
	assert.Equal(t, models.ChangeTypeAdded, mapFileStatus("added"))
	assert.Equal(t, models.ChangeTypeDeleted, mapFileStatus("removed"))
	assert.Equal(t, models.ChangeTypeModified, mapFileStatus("modified"))
	// Renames and copies collapse onto modification.
	assert.Equal(t, models.ChangeTypeModified, mapFileStatus("renamed"))
	assert.Equal(t, models.ChangeTypeModified, mapFileStatus("copied"))
}
