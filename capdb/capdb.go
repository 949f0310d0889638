// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package capdb logs logic analyzer captures into a MySQL database.
//
// The database holds a single table:
//
//	CREATE TABLE captures (
//		identifier BIGINT AUTO_INCREMENT PRIMARY KEY,
//		file       VARCHAR(255),
//		model      VARCHAR(32),
//		rate       DOUBLE,
//		samples    INT UNSIGNED,
//		pretrigger INT,
//		nrep       INT UNSIGNED,
//		nrep_trig  INT UNSIGNED,
//		wpos       INT UNSIGNED,
//		nbytes     BIGINT,
//		datetime   DATETIME
//	);
package capdb // import "github.com/go-lpc/lax/capdb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// ErrNoCapture is returned when the database holds no capture.
var ErrNoCapture = errors.New("capdb: no capture")

// Capture describes a stored capture.
type Capture struct {
	ID         int64
	File       string    // capture file name
	Model      string    // logic analyzer model
	Rate       float64   // sample rate (Hz)
	Samples    uint32    // requested number of samples
	PreTrigger int       // pre-trigger ratio (%)
	NumRep     uint32    // number of recorded samples
	NumRepTrig uint32    // number of samples recorded before the trigger
	WritePos   uint32    // capture memory write pointer
	Bytes      int64     // number of uploaded bytes
	Time       time.Time // capture time
}

// DB exposes convenience methods to log captures into the database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the capture database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("capdb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	cfg := mysql.NewConfig()
	cfg.User = usr
	cfg.Passwd = pwd
	cfg.Net = "tcp"
	cfg.Addr = host
	cfg.DBName = db
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("capdb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// InsertCapture logs a new capture and returns its identifier.
func (db *DB) InsertCapture(ctx context.Context, c Capture) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := db.db.ExecContext(
		ctx,
		`
INSERT INTO captures (
	file, model, rate, samples, pretrigger,
	nrep, nrep_trig, wpos, nbytes, datetime
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		c.File, c.Model, c.Rate, c.Samples, c.PreTrigger,
		c.NumRep, c.NumRepTrig, c.WritePos, c.Bytes, c.Time.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("capdb: could not insert capture %q: %w", c.File, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("capdb: could not retrieve capture identifier: %w", err)
	}

	return id, nil
}

// LastCapture returns the most recent capture.
func (db *DB) LastCapture(ctx context.Context) (Capture, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var c Capture
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT
	identifier, file, model, rate, samples, pretrigger,
	nrep, nrep_trig, wpos, nbytes, datetime
FROM captures ORDER BY datetime DESC LIMIT 1
`,
	)
	if err != nil {
		return c, fmt.Errorf("capdb: could not query last capture: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		err = rows.Scan(
			&c.ID, &c.File, &c.Model, &c.Rate, &c.Samples, &c.PreTrigger,
			&c.NumRep, &c.NumRepTrig, &c.WritePos, &c.Bytes, &c.Time,
		)
		if err != nil {
			return c, fmt.Errorf("capdb: could not scan last capture: %w", err)
		}
		n++
	}

	if err := rows.Err(); err != nil {
		return c, fmt.Errorf("capdb: could not scan db for last capture: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return c, fmt.Errorf("capdb: context error while retrieving last capture: %w", err)
	}

	if n == 0 {
		return c, ErrNoCapture
	}

	return c, nil
}
