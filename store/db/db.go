// Package db provides the store driver factory.
package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/conductor/internal/profile"
	"github.com/hrygo/conductor/store"
	"github.com/hrygo/conductor/store/db/postgres"
	"github.com/hrygo/conductor/store/db/sqlite"
)

// NewDBDriver creates a new DB driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
}
