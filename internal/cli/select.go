package cli

import (
	"fmt"

	"github.com/pingcap/tidb/pkg/parser"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// ValidateSelect parses query with the TiDB SQL parser, the same parser
// apply.Applier.splitStatementsUsingTiDBParser repurposes for statement
// splitting. Here it's used purely to reject a malformed --select query
// before handing it to the dumper, so a typo surfaces as a parse error
// instead of a driver round-trip failure.
func ValidateSelect(query string) error {
	p := parser.New()
	if _, _, err := p.Parse(query, "", ""); err != nil {
		return fmt.Errorf("cli: invalid --select query: %w", err)
	}
	return nil
}
