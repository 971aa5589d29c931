package leadsync

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLeadStatusUpdatesRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	leadID := uuid.New()
	mock.ExpectExec(`UPDATE leads`).
		WithArgs("in_treatment", leadID, "tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sync := NewPostgres(db, nil)
	err = sync.SetLeadStatus(context.Background(), "tenant-1", leadID, StatusInTreatment)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetLeadStatusMissingLeadIsNotAnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	leadID := uuid.New()
	mock.ExpectExec(`UPDATE leads`).
		WithArgs("scheduled", leadID, "tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	sync := NewPostgres(db, nil)
	err = sync.SetLeadStatus(context.Background(), "tenant-1", leadID, StatusScheduled)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoopSynchronizer(t *testing.T) {
	var s Synchronizer = Noop{}
	assert.NoError(t, s.SetLeadStatus(context.Background(), "t", uuid.New(), StatusCanceled))
}
