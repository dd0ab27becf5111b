// Package migrations embeds SQL migration files for use at runtime.
// Migrations are embedded so they work regardless of working directory.
//
// Each dialect has its own directory; files are applied in lexical order.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sqlite/*.sql postgres/*.sql
var embedded embed.FS

// SQLite contains the migrations for the file-backed store.
var SQLite = mustSub("sqlite")

// Postgres contains the migrations for the relational store.
var Postgres = mustSub("postgres")

// For returns the migration set for a storage dialect ("sqlite" or "postgres").
func For(dialect string) (fs.FS, bool) {
	switch dialect {
	case "sqlite":
		return SQLite, true
	case "postgres":
		return Postgres, true
	default:
		return nil, false
	}
}

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(embedded, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
