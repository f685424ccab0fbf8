// Package engine applies fact changes (uploads, reviews, rest days) and
// rebuilds everything derived from them: ledger entries, the cached streak
// and weekly challenge rollups. Each public operation runs in one transaction.
package engine

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"gymble/internal/civil"
	"gymble/internal/db"
	"gymble/internal/ledger"
	"gymble/internal/metrics"
)

// Rules are the trophy amounts and allowances the engine applies.
type Rules struct {
	ApprovalTrophies    int64
	RejectionTrophies   int64
	WeeklyBonusTrophies int64
	RestDaysPerWeek     int
}

func DefaultRules() Rules {
	return Rules{
		ApprovalTrophies:    10,
		RejectionTrophies:   -5,
		WeeklyBonusTrophies: 25,
		RestDaysPerWeek:     1,
	}
}

type Options struct {
	Rules   Rules
	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type Engine struct {
	db      *sqlx.DB
	ledger  *ledger.Ledger
	rules   Rules
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(conn *sqlx.DB, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Rules == (Rules{}) {
		opts.Rules = DefaultRules()
	}
	return &Engine{
		db:      conn,
		ledger:  ledger.New(opts.Now, opts.Metrics),
		rules:   opts.Rules,
		now:     opts.Now,
		log:     opts.Logger.Named("engine"),
		metrics: opts.Metrics,
	}
}

// Rules returns the amounts in force.
func (e *Engine) Rules() Rules { return e.rules }

// Ledger exposes the underlying ledger for read paths.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Today is the current civil date.
func (e *Engine) Today() string { return civil.Today(e.now()) }

func (e *Engine) stamp() string { return civil.DateTime(e.now()) }

func (e *Engine) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return db.WithTx(ctx, e.db, fn)
}
