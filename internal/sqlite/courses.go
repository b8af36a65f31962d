package sqlite

import (
	"context"
	"time"

	"github.com/example/teetime-scheduler/internal/catalog"
)

type courseModel struct {
	ID          int64  `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	ProviderURL string `gorm:"not null"`
	LogicType   string `gorm:"not null"`
	CreatedAt   time.Time
}

func (courseModel) TableName() string { return "courses" }

func (m courseModel) course() catalog.Course {
	return catalog.Course{
		ID:          m.ID,
		Name:        m.Name,
		ProviderURL: m.ProviderURL,
		LogicType:   m.LogicType,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

func (s *Store) ListCourses(ctx context.Context) ([]catalog.Course, error) {
	var ms []courseModel
	if err := s.db.WithContext(ctx).Order("name ASC, id ASC").Find(&ms).Error; err != nil {
		return nil, wrap(err)
	}
	out := make([]catalog.Course, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.course())
	}
	return out, nil
}

func (s *Store) GetCourse(ctx context.Context, id int64) (catalog.Course, error) {
	var m courseModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return catalog.Course{}, wrap(err)
	}
	return m.course(), nil
}

func (s *Store) CreateCourse(ctx context.Context, c catalog.Course) (catalog.Course, error) {
	m := courseModel{Name: c.Name, ProviderURL: c.ProviderURL, LogicType: c.LogicType}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return catalog.Course{}, wrap(err)
	}
	return m.course(), nil
}
