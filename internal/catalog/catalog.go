// Package catalog holds the courses requests can target.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/example/teetime-scheduler/internal/internaltypes"
	"github.com/patrickmn/go-cache"
)

// Logic types name the automation routine the executor runs for a course.
const (
	LogicForeUp      = "foreup"
	LogicForeUpNew   = "foreup_new"
	LogicCPS         = "cps"
	LogicFrear       = "frear"
	LogicSchenectady = "schenectady"
	LogicSimulate    = "simulate"
)

var LogicTypes = []string{LogicForeUp, LogicForeUpNew, LogicCPS, LogicFrear, LogicSchenectady, LogicSimulate}

type Course struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	ProviderURL string    `json:"provider_url"`
	LogicType   string    `json:"logic_type"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store interface {
	ListCourses(ctx context.Context) ([]Course, error)
	GetCourse(ctx context.Context, id int64) (Course, error)
	CreateCourse(ctx context.Context, c Course) (Course, error)
}

const listKey = "all"

// Catalog is a read-through cache in front of the course table. Courses change
// only through admin tooling, so a short TTL is enough to pick up new rows.
type Catalog struct {
	store Store
	cache *cache.Cache
}

func New(store Store, ttl time.Duration) *Catalog {
	return &Catalog{store: store, cache: cache.New(ttl, 2*ttl)}
}

func (c *Catalog) List(ctx context.Context) ([]Course, error) {
	if v, ok := c.cache.Get(listKey); ok {
		return slices.Clone(v.([]Course)), nil
	}
	cs, err := c.store.ListCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	c.cache.Set(listKey, cs, cache.DefaultExpiration)
	return slices.Clone(cs), nil
}

// Get returns internaltypes.ErrNotFound for unknown ids.
func (c *Catalog) Get(ctx context.Context, id int64) (Course, error) {
	key := strconv.FormatInt(id, 10)
	if v, ok := c.cache.Get(key); ok {
		return v.(Course), nil
	}
	co, err := c.store.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	c.cache.Set(key, co, cache.DefaultExpiration)
	return co, nil
}

func (c *Catalog) Create(ctx context.Context, co Course) (Course, error) {
	co.Name = strings.TrimSpace(co.Name)
	co.LogicType = strings.ToLower(strings.TrimSpace(co.LogicType))
	if co.Name == "" {
		return Course{}, internaltypes.Invalid("name", "required")
	}
	if !slices.Contains(LogicTypes, co.LogicType) {
		return Course{}, internaltypes.Invalid("logic_type", "must be one of %s", strings.Join(LogicTypes, ", "))
	}
	created, err := c.store.CreateCourse(ctx, co)
	if err != nil {
		return Course{}, fmt.Errorf("create course: %w", err)
	}
	c.cache.Delete(listKey)
	slog.Info("course created", slog.Int64("course_id", created.ID), slog.String("logic_type", created.LogicType))
	return created, nil
}
