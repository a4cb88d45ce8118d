package database

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Neo4jDatabase struct {
	Driver neo4j.DriverWithContext
}

func NewNeo4jDatabase(ctx context.Context, uri, username, password string) (*Neo4jDatabase, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("could not create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connection: %w", err)
	}

	return &Neo4jDatabase{Driver: driver}, nil
}

func (db *Neo4jDatabase) Close(ctx context.Context) error {
	return db.Driver.Close(ctx)
}

// ExecuteCypherFile runs the statements of a .cypher file in order.
// Statements are separated by semicolons. Neo4j refuses data writes in a
// transaction that changed the schema, so each schema statement runs on its
// own in an auto-commit transaction and each run of data statements between
// them shares one write transaction.
func (db *Neo4jDatabase) ExecuteCypherFile(ctx context.Context, filePath string) error {
	cypher, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("error reading cypher file: %w", err)
	}

	session := db.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, batch := range PlanStatements(SplitStatements(string(cypher))) {
		if batch.Schema {
			result, err := session.Run(ctx, batch.Statements[0], nil)
			if err == nil {
				_, err = result.Consume(ctx)
			}
			if err != nil {
				return fmt.Errorf("statement %d: %w", batch.First, err)
			}
			continue
		}
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			for i, stmt := range batch.Statements {
				if _, err := tx.Run(ctx, stmt, nil); err != nil {
					return nil, fmt.Errorf("statement %d: %w", batch.First+i, err)
				}
			}
			return nil, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Batch is a group of statements executed in one transaction. A schema
// batch always holds exactly one statement. First is the 1-based position
// of its first statement in the script.
type Batch struct {
	Schema     bool
	First      int
	Statements []string
}

// PlanStatements groups statements into transactions: every schema
// statement alone, consecutive data statements together.
func PlanStatements(statements []string) []Batch {
	var batches []Batch
	for i, stmt := range statements {
		if IsSchemaStatement(stmt) {
			batches = append(batches, Batch{Schema: true, First: i + 1, Statements: []string{stmt}})
			continue
		}
		if n := len(batches); n > 0 && !batches[n-1].Schema {
			batches[n-1].Statements = append(batches[n-1].Statements, stmt)
			continue
		}
		batches = append(batches, Batch{First: i + 1, Statements: []string{stmt}})
	}
	return batches
}

var indexKinds = map[string]bool{
	"RANGE": true, "TEXT": true, "FULLTEXT": true, "POINT": true,
	"LOOKUP": true, "VECTOR": true, "BTREE": true,
}

// IsSchemaStatement reports whether stmt creates or drops a constraint or
// an index.
func IsSchemaStatement(stmt string) bool {
	fields := strings.Fields(strings.ToUpper(stmt))
	if len(fields) < 2 || (fields[0] != "CREATE" && fields[0] != "DROP") {
		return false
	}
	if fields[1] == "CONSTRAINT" || fields[1] == "INDEX" {
		return true
	}
	return len(fields) > 2 && indexKinds[fields[1]] && fields[2] == "INDEX"
}

// SplitStatements breaks a cypher script on semicolons, dropping blank
// statements and whole-line // comments.
func SplitStatements(script string) []string {
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			continue
		}
		lines = append(lines, line)
	}
	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
