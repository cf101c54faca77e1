package main

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestAccessorsOfFiltersDirectAccessOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectQuery(`SELECT user_ref FROM document_access`).
		WithArgs("doc1").
		WillReturnRows(sqlmock.NewRows([]string{"user_ref"}).
			AddRow("userA").
			AddRow("userB"))

	a := newDocumentAccessor(db)
	refs, err := a.AccessorsOf(context.Background(), "doc1")
	require.NoError(t, err)
	require.Equal(t, []string{"userA", "userB"}, refs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccessorsOfDropsSyntheticRefs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectQuery(`SELECT user_ref FROM document_access`).
		WithArgs("doc1").
		WillReturnRows(sqlmock.NewRows([]string{"user_ref"}).
			AddRow("anon").
			AddRow("everyone").
			AddRow("userA"))

	a := newDocumentAccessor(db)
	refs, err := a.AccessorsOf(context.Background(), "doc1")
	require.NoError(t, err)
	require.Equal(t, []string{"userA"}, refs)
	require.NoError(t, mock.ExpectationsWereMet())
}
