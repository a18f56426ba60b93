package migrations

import (
	"context"
	"fmt"
	"regexp"

	"nft-market-etl/internal/storage/cassandra"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,47}$`)

// validateIdentifier guards names that DDL cannot bind as parameters.
func validateIdentifier(name string) error {
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// RunCassandraMigrations creates the keyspace if needed and applies every
// embedded CQL file to it. replication is the SimpleStrategy factor.
func RunCassandraMigrations(ctx context.Context, cfg cassandra.Config, replication int) error {
	if err := validateIdentifier(cfg.Keyspace); err != nil {
		return fmt.Errorf("keyspace: %w", err)
	}
	if replication < 1 {
		replication = 1
	}

	byFile, order, err := statements(CassandraFS, "cassandra", ".cql")
	if err != nil {
		return err
	}

	adminCfg := cfg
	adminCfg.Keyspace = ""
	admin, err := cassandra.NewSession(ctx, adminCfg)
	if err != nil {
		return fmt.Errorf("connect cassandra admin: %w", err)
	}
	ddl := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS "%s" WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		cfg.Keyspace, replication,
	)
	err = admin.Raw().Query(ddl).WithContext(ctx).Exec()
	admin.Close()
	if err != nil {
		return fmt.Errorf("create keyspace %s: %w", cfg.Keyspace, err)
	}

	sess, err := cassandra.NewSession(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect cassandra keyspace: %w", err)
	}
	defer sess.Close()

	for _, file := range order {
		for _, stmt := range byFile[file] {
			if err := sess.Raw().Query(stmt).WithContext(ctx).Exec(); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
	}
	return nil
}
