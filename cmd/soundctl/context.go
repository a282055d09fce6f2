package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/onnwee/sound-tender/backup"
	"github.com/onnwee/sound-tender/commands"
	"github.com/onnwee/sound-tender/config"
	"github.com/onnwee/sound-tender/db"
	"github.com/onnwee/sound-tender/store"
)

type commandContext struct {
	dataDirFlag *string

	envOnce sync.Once
	env     *config.Env
	envErr  error
}

func newCommandContext(dataDirFlag *string) *commandContext {
	return &commandContext{dataDirFlag: dataDirFlag}
}

func (c *commandContext) ensureEnv() (*config.Env, error) {
	c.envOnce.Do(func() {
		e, err := config.LoadEnv()
		if err != nil {
			c.envErr = err
			return
		}
		if c.dataDirFlag != nil && strings.TrimSpace(*c.dataDirFlag) != "" {
			e.DataDir = strings.TrimSpace(*c.dataDirFlag)
		}
		c.env = e
	})
	return c.env, c.envErr
}

// dataset is an open, locked data directory.
type dataset struct {
	env     *config.Env
	files   *store.Files
	backend store.Backend
	sqlDB   *sql.DB
}

// withData locks the data directory for the duration of fn.
func (c *commandContext) withData(ctx context.Context, fn func(*dataset) error) (err error) {
	env, err := c.ensureEnv()
	if err != nil {
		return err
	}
	files, err := store.NewFiles(env.DataDir)
	if err != nil {
		return err
	}
	if err := files.Lock(); err != nil {
		return err
	}
	d := &dataset{env: env, files: files, backend: files}
	defer func() {
		if d.sqlDB != nil {
			err = errors.Join(err, d.sqlDB.Close())
		}
		err = errors.Join(err, files.Unlock())
	}()

	if env.StoreBackend == config.BackendPostgres {
		if d.sqlDB, err = db.Connect(ctx, env.DBDsn); err != nil {
			return err
		}
		if err := db.Migrate(ctx, d.sqlDB); err != nil {
			return err
		}
		d.backend = db.NewKVStore(d.sqlDB)
	}
	return fn(d)
}

func (d *dataset) registry(ctx context.Context) (*commands.Registry, error) {
	reg := commands.NewRegistry()
	if err := reg.Load(ctx, d.backend); err != nil {
		return nil, fmt.Errorf("load commands: %w", err)
	}
	return reg, nil
}

func (d *dataset) rotator() *backup.Rotator {
	return backup.NewRotator(d.env.DataDir, config.DefaultApp().Backup.MaxBackups, nil)
}

// saver persists commands and snapshots them; users are left untouched.
func (d *dataset) saver(reg *commands.Registry) *backup.Saver {
	return backup.NewSaver(reg, nil, d.backend, d.rotator())
}
