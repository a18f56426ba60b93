package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// PostgresFS embeds all PostgreSQL migration files.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds all ClickHouse migration files.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS

// CassandraFS embeds all CQL schema files.
//
//go:embed cassandra/*.cql
var CassandraFS embed.FS

// migrationFile is one embedded file in apply order.
type migrationFile struct {
	Name string
	Body string
}

// readMigrations returns every non-empty file in dir with the given
// extension, in lexical order.
func readMigrations(fsys fs.FS, dir, ext string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ext) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var files []migrationFile
	for _, name := range names {
		data, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		files = append(files, migrationFile{Name: name, Body: string(data)})
	}
	return files, nil
}

// splitStatements splits a migration into statements by semicolon.
//
// The splitter does not understand quoting. Migrations must therefore:
//  1. keep semicolons out of string literals
//  2. use -- comments only
//
// validateNoSemicolonInStrings enforces rule 1 at migration time.
func splitStatements(input string) []string {
	var filtered []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		filtered = append(filtered, line)
	}
	joined := strings.Join(filtered, "\n")

	var stmts []string
	for _, part := range strings.Split(joined, ";") {
		stmt := strings.TrimSpace(part)
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects SQL with a semicolon inside a
// single-quoted literal.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		} else if ch == ';' && inString {
			return fmt.Errorf("semicolon found inside string literal")
		}
	}
	return nil
}

// statements reads, validates and splits every file of a dialect.
func statements(fsys fs.FS, dir, ext string) (map[string][]string, []string, error) {
	files, err := readMigrations(fsys, dir, ext)
	if err != nil {
		return nil, nil, err
	}
	byFile := make(map[string][]string, len(files))
	order := make([]string, 0, len(files))
	for _, f := range files {
		if err := validateNoSemicolonInStrings(f.Body); err != nil {
			return nil, nil, fmt.Errorf("validate migration %s: %w", f.Name, err)
		}
		byFile[f.Name] = splitStatements(f.Body)
		order = append(order, f.Name)
	}
	return byFile, order, nil
}
