package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/example/teetime-scheduler/internal/internaltypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	courses []Course
	lists   int
	gets    int
}

func (s *countingStore) ListCourses(context.Context) ([]Course, error) {
	s.lists++
	return append([]Course(nil), s.courses...), nil
}

func (s *countingStore) GetCourse(_ context.Context, id int64) (Course, error) {
	s.gets++
	for _, c := range s.courses {
		if c.ID == id {
			return c, nil
		}
	}
	return Course{}, internaltypes.ErrNotFound
}

func (s *countingStore) CreateCourse(_ context.Context, c Course) (Course, error) {
	c.ID = int64(len(s.courses) + 1)
	s.courses = append(s.courses, c)
	return c, nil
}

func TestCatalog_CachesReads(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{courses: []Course{{ID: 1, Name: "Cypress Point (Demo)", LogicType: LogicSimulate}}}
	cat := New(store, time.Minute)

	for range 3 {
		c, err := cat.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Cypress Point (Demo)", c.Name)
	}
	assert.Equal(t, 1, store.gets)

	_, err := cat.List(ctx)
	require.NoError(t, err)
	_, err = cat.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.lists)
}

func TestCatalog_UnknownCourse(t *testing.T) {
	cat := New(&countingStore{}, time.Minute)
	_, err := cat.Get(context.Background(), 42)
	assert.ErrorIs(t, err, internaltypes.ErrNotFound)
}

func TestCatalog_CreateInvalidatesList(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{}
	cat := New(store, time.Minute)

	cs, err := cat.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, cs)

	_, err = cat.Create(ctx, Course{Name: " Frear Park ", LogicType: "FREAR"})
	require.NoError(t, err)

	cs, err = cat.List(ctx)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, "Frear Park", cs[0].Name)
	assert.Equal(t, LogicFrear, cs[0].LogicType)
}

func TestCatalog_CreateValidation(t *testing.T) {
	cat := New(&countingStore{}, time.Minute)

	_, err := cat.Create(context.Background(), Course{Name: "", LogicType: LogicCPS})
	assert.True(t, internaltypes.IsValidation(err))

	_, err = cat.Create(context.Background(), Course{Name: "X", LogicType: "teetimes.io"})
	assert.True(t, internaltypes.IsValidation(err))
}
