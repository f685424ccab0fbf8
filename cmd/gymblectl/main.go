// Command gymblectl runs maintenance jobs against the gymble database:
// rebuilding derived state, checking caches for drift and inspecting users.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"gymble/internal/config"
	"gymble/internal/db"
	"gymble/internal/engine"
	"gymble/internal/logging"
	"gymble/internal/services"
)

type env struct {
	conn     *sqlx.DB
	engine   *engine.Engine
	trophies *services.TrophyService
	log      *zap.Logger
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if c.Bool("verbose") {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{Level: level})
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(c.Context, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	eng := engine.New(conn, engine.Options{Rules: cfg.Rules, Logger: logger.Named("engine")})
	return &env{conn: conn, engine: eng, trophies: services.NewTrophyService(eng), log: logger}, nil
}

func (e *env) close() {
	e.conn.Close()
	_ = e.log.Sync()
}

// users resolves --user, or every user when it is empty.
func (e *env) users(c *cli.Context) ([]int64, error) {
	if name := c.String("user"); name != "" {
		id, err := e.engine.UserID(c.Context, name)
		if err != nil {
			return nil, fmt.Errorf("user %q: %w", name, err)
		}
		return []int64{id}, nil
	}
	return e.engine.UserIDs(c.Context)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func withEnv(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}
		defer e.close()
		return fn(c, e)
	}
}

var userFlag = &cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "limit to one username"}

func rebuild(c *cli.Context, e *env) error {
	ids, err := e.users(c)
	if err != nil {
		return err
	}
	writes := 0
	for _, id := range ids {
		rep, err := e.trophies.RebuildUser(c.Context, id)
		if err != nil {
			return fmt.Errorf("rebuild user %d: %w", id, err)
		}
		writes += len(rep.Effects)
		if c.Bool("json") {
			if err := printJSON(c, rep); err != nil {
				return err
			}
		}
	}
	fmt.Fprintf(c.App.ErrWriter, "rebuilt %d users, %d ledger writes\n", len(ids), writes)
	return nil
}

func checkDrift(c *cli.Context, e *env) error {
	ids, err := e.users(c)
	if err != nil {
		return err
	}
	drifted := 0
	for _, id := range ids {
		rep, err := e.trophies.CheckDrift(c.Context, id)
		if err != nil {
			return fmt.Errorf("check user %d: %w", id, err)
		}
		if rep.StreakDrifted || rep.BalanceDrifted {
			drifted++
			if err := printJSON(c, rep); err != nil {
				return err
			}
		}
	}
	fmt.Fprintf(c.App.ErrWriter, "checked %d users, %d healed\n", len(ids), drifted)
	return nil
}

func inspect(c *cli.Context, e *env) error {
	name := c.Args().First()
	if name == "" {
		return cli.Exit("usage: gymblectl inspect <username>", 2)
	}
	id, err := e.engine.UserID(c.Context, name)
	if err != nil {
		return fmt.Errorf("user %q: %w", name, err)
	}
	dash, err := e.engine.Dashboard(c.Context, id)
	if err != nil {
		return err
	}
	history, err := e.trophies.History(c.Context, id, c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(c, map[string]any{"dashboard": dash, "history": history})
}

func resetDebt(c *cli.Context, e *env) error {
	if name := c.String("user"); name != "" {
		id, err := e.engine.UserID(c.Context, name)
		if err != nil {
			return fmt.Errorf("user %q: %w", name, err)
		}
		return e.engine.ResetUserDebt(c.Context, id)
	}
	n, err := e.engine.ResetDebt(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "cleared debt for %d users\n", n)
	return nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "gymblectl",
		Usage: "maintenance jobs for the gymble database",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Commands: []*cli.Command{
			{
				Name:   "rebuild",
				Usage:  "replay uploads, windows and bonuses into the ledger",
				Flags:  []cli.Flag{userFlag, &cli.BoolFlag{Name: "json", Usage: "print every report"}},
				Action: withEnv(rebuild),
			},
			{
				Name:   "check-drift",
				Usage:  "compare cached streaks and balances with the facts and heal them",
				Flags:  []cli.Flag{userFlag},
				Action: withEnv(checkDrift),
			},
			{
				Name:      "inspect",
				Usage:     "print a user's dashboard and trophy history",
				ArgsUsage: "<username>",
				Flags:     []cli.Flag{&cli.IntFlag{Name: "limit", Value: 20, Usage: "history entries"}},
				Action:    withEnv(inspect),
			},
			{
				Name:   "reset-debt",
				Usage:  "clear credits for one user or everyone",
				Flags:  []cli.Flag{userFlag},
				Action: withEnv(resetDebt),
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
