package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"

	"expertdraw/internal/config"
	"expertdraw/internal/domain"
	"expertdraw/internal/events"
	"expertdraw/internal/lock"
	"expertdraw/internal/logger"
	"expertdraw/internal/metrics"
	"expertdraw/internal/repo"
	"expertdraw/internal/resolver"
)

// Roster is the expert source consulted at execution time.
type Roster interface {
	ListExperts(ctx context.Context, f domain.RosterFilter) ([]domain.Expert, error)
}

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Roster  Roster
	Rules   resolver.RuleStore
	Locker  lock.Locker
	Log     *logger.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	// Seed supplies the random seed of an execution when the caller fixes none.
	Seed func() uint64
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{DB: db},
		Config: cfg,
		Roster: r,
		Rules:  r,
		Locker: lock.NewTable(cfg.LockWait()),
		Log:    logger.Nop(),
		Now:    time.Now,
		Seed:   cryptoSeed,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *logger.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logger.Nop()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) roster() Roster {
	if e.Roster != nil {
		return e.Roster
	}
	return e.Repo
}

func (e Engine) rules() resolver.RuleStore {
	if e.Rules != nil {
		return e.Rules
	}
	return e.Repo
}

func (e Engine) seed() uint64 {
	if e.Seed != nil {
		return e.Seed()
	}
	return cryptoSeed()
}

func cryptoSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

func newID() string {
	return uuid.NewString()
}

// mutate runs fn inside the draw's exclusive section. Optimistic version
// conflicts detected by fn are retried up to lock.retries times.
func (e Engine) mutate(ctx context.Context, drawID string, fn func() error) error {
	if e.Locker != nil {
		release, err := e.Locker.Acquire(ctx, drawID)
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				e.Metrics.LockConflict()
			}
			return err
		}
		defer release()
	}
	retries := 0
	if e.Config != nil {
		retries = e.Config.Lock.Retries
	}
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if attempt >= retries {
			e.Metrics.LockConflict()
			return err
		}
		e.log().Warn("draw changed concurrently, retrying", "draw_id", drawID, "attempt", attempt+1)
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
