// Entry point for the nlqueryctl CLI, a thin HTTP client for nlqueryd.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// parseConnSpec parses a "dialect:host:port:database" shorthand, or, for
// sqlite, "sqlite:path/to/file.db".
func parseConnSpec(spec string) (map[string]any, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 1 {
		return nil, fmt.Errorf("empty connection spec")
	}

	dialect := nlquery.Dialect(parts[0])
	if dialect == nlquery.DialectSQLite {
		if len(parts) < 2 {
			return nil, fmt.Errorf("sqlite connection spec requires a file path: sqlite:<path>")
		}
		return map[string]any{
			"dialect":   dialect,
			"file_path": strings.Join(parts[1:], ":"),
		}, nil
	}

	if len(parts) < 4 {
		return nil, fmt.Errorf("connection spec must be dialect:host:port:database")
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", parts[2], err)
	}
	return map[string]any{
		"dialect":  dialect,
		"host":     parts[1],
		"port":     port,
		"database": parts[3],
	}, nil
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		os.Exit(1)
	}

	server := getEnv("NLQUERYD_ADDR", "http://localhost:8080")

	switch args[0] {
	case "-h", "--help", "help":
		printHelp()
	case "query":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: nlqueryctl query <dialect:host:port:database> \"question\"")
			os.Exit(1)
		}
		runQuery(server, args[1], args[2])
	case "config":
		getConfig(server)
	case "reload":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: nlqueryctl reload <path-to-partial-config.json>")
			os.Exit(1)
		}
		reloadConfig(server, args[1])
	default:
		fmt.Fprintln(os.Stderr, "Unknown command. Use --help for usage.")
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("Usage:")
	fmt.Println("  query <connection> <question>   Ask a natural-language question against a connection")
	fmt.Println("  config                          Print the live configuration document")
	fmt.Println("  reload <file.json>              Apply a partial configuration document")
	fmt.Println("  -h, --help                      Show this help message")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func runQuery(server, connSpec, question string) {
	conn, err := parseConnSpec(connSpec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	body, _ := json.Marshal(map[string]any{
		"connection": conn,
		"question":   question,
	})

	resp, err := http.Post(server+"/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error contacting server: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, raw)
		os.Exit(1)
	}

	var result nlquery.RunResult
	if err := json.Unmarshal(raw, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding response: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("SQL:", result.SQL)
	fmt.Println("Explanation:", result.Explanation)
	if len(result.Trace) > 1 {
		fmt.Printf("Resolved after %d attempts\n", len(result.Trace))
	}
	printResultSet(result.Result)
}

func printResultSet(rs *nlquery.ResultSet) {
	if rs == nil || len(rs.Columns) == 0 {
		fmt.Println("(no rows)")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(rs.Columns)
	for _, row := range rs.Rows {
		record := make([]string, len(rs.Columns))
		for i, col := range rs.Columns {
			record[i] = fmt.Sprintf("%v", row[col])
		}
		table.Append(record)
	}
	table.Render()
	fmt.Printf("%d rows (%s)\n", len(rs.Rows), rs.Elapsed)
}

func getConfig(server string) {
	resp, err := http.Get(server + "/v1/config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error contacting server: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(pretty.String())
}

func reloadConfig(server, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(server+"/v1/config/reload", "application/json", bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error contacting server: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Println(string(body))
}
