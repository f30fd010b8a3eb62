package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateUsersTable, downCreateUsersTable)
}

func upCreateUsersTable(ctx context.Context, tx *sql.Tx) error {
	query := `
	CREATE TABLE users (
	  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	  email TEXT UNIQUE NOT NULL,
	  name TEXT NOT NULL,
	  password_hash TEXT,
	  google_id TEXT,
	  avatar_url TEXT,
	  provider TEXT NOT NULL DEFAULT 'local',
	  is_verified BOOLEAN NOT NULL DEFAULT FALSE,
	  role TEXT NOT NULL DEFAULT 'user',
	  created_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
	  updated_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
	  CONSTRAINT check_provider CHECK (provider IN ('local', 'google')),
	  CONSTRAINT check_role CHECK (role IN ('user', 'admin')),
	  CONSTRAINT check_local_has_password CHECK (provider <> 'local' OR password_hash IS NOT NULL)
	);

	-- sparse uniqueness: many rows may have no google identity
	CREATE UNIQUE INDEX users_google_id_key ON users (google_id) WHERE google_id IS NOT NULL;
	`

	_, err := tx.ExecContext(ctx, query)

	if err != nil {
		return err
	}

	return nil
}

func downCreateUsersTable(ctx context.Context, tx *sql.Tx) error {
	query := `DROP TABLE IF EXISTS users;`
	_, err := tx.ExecContext(ctx, query)
	if err != nil {
		return err
	}
	return nil
}
