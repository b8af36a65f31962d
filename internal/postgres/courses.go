package postgres

import (
	"context"

	"github.com/example/teetime-scheduler/internal/catalog"
	"github.com/example/teetime-scheduler/internal/db"
)

const courseColumns = `id, name, provider_url, logic_type, created_at`

func scanCourse(row db.Row) (catalog.Course, error) {
	var c catalog.Course
	if err := row.Scan(&c.ID, &c.Name, &c.ProviderURL, &c.LogicType, &c.CreatedAt); err != nil {
		return catalog.Course{}, db.WrapNotFound(err)
	}
	return c, nil
}

func (s *Store) ListCourses(ctx context.Context) ([]catalog.Course, error) {
	rows, err := s.db.Query(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCourse(ctx context.Context, id int64) (catalog.Course, error) {
	return scanCourse(s.db.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id=$1`, id))
}

func (s *Store) CreateCourse(ctx context.Context, c catalog.Course) (catalog.Course, error) {
	return scanCourse(s.db.QueryRow(ctx, `
INSERT INTO courses (name, provider_url, logic_type) VALUES ($1,$2,$3)
RETURNING `+courseColumns, c.Name, c.ProviderURL, c.LogicType))
}
