// cmd/txflow/print.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/altuslabsxyz/txflow/internal/output"
	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out.Writer())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printStatus(st gateway.TxStatus) {
	line := fmt.Sprintf("%s %s", output.StateBadge(string(st.State)), st.TxHash)
	if st.TxType != "" {
		line += "  " + st.TxType
	}
	if st.LastError != "" {
		line += "  " + st.LastError
	}
	a.out.Println("%s", line)
}

// readJSONArg decodes an inline JSON object, "@path" for a file, or "-" for
// stdin. An empty argument yields nil.
func readJSONArg(name, arg string) (map[string]any, error) {
	if arg == "" {
		return nil, nil
	}
	var data []byte
	switch {
	case arg == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
		data = b
	case strings.HasPrefix(arg, "@"):
		b, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
		data = b
	default:
		data = []byte(arg)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", name, err)
	}
	return out, nil
}

