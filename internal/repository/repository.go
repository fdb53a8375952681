package repository

import (
	"github.com/jmoiron/sqlx"
)

// Repository is the relational source of truth consumed by the gateway and
// the HTTP producer routes. The fan-out subsystem only accelerates live
// updates; anything missed on the bus is recoverable from here.
type Repository struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}
