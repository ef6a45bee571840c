// Command cdxutil is the operator CLI: a thin HTTP client dispatching to
// the routes a cdxserver daemon exposes (spec §6.1), in the hand-rolled
// flag/os.Args-dispatch style of the teacher's own cli/commands package
// rather than a third-party CLI framework (see DESIGN.md).
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

type command struct {
	usage string
	run   func(args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"ingest":  {usage: "ingest -server=<url> -collection=<name> [file ...]", run: runIngest},
		"query":   {usage: "query -server=<url> -collection=<name> [param=value ...]", run: runQuery},
		"rules":   {usage: "rules -server=<url> -collection=<name> [list|get <id>|put <json-file>|delete <id>]", run: runRules},
		"compact": {usage: "compact -server=<url> -collection=<name>", run: runCompact},
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		printUsage()
		return 1
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "cdxutil: unknown command %q\n", os.Args[1])
		printUsage()
		return 1
	}
	if err := cmd.run(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "cdxutil: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: cdxutil <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands:")
	for name, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", name, c.usage)
	}
}

func collectionFlags(name string) (fs *flag.FlagSet, server, collection *string) {
	fs = flag.NewFlagSet(name, flag.ExitOnError)
	server = fs.String("server", "http://localhost:8080", "base URL of a running cdxserver")
	collection = fs.String("collection", "", "collection name")
	return
}

func runIngest(args []string) error {
	fs, server, collection := collectionFlags("ingest")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *collection == "" {
		return fmt.Errorf("-collection is required")
	}

	var body io.Reader = os.Stdin
	files := fs.Args()
	if len(files) > 0 {
		var buf bytes.Buffer
		for _, path := range files {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			if _, err := io.Copy(&buf, f); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
		body = &buf
	}

	resp, err := http.Post(strings.TrimRight(*server, "/")+"/"+*collection, "text/plain", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s: %s", resp.Status, out)
	}
	fmt.Print(string(out))
	return nil
}

func runQuery(args []string) error {
	fs, server, collection := collectionFlags("query")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *collection == "" {
		return fmt.Errorf("-collection is required")
	}

	q := url.Values{}
	for _, kv := range fs.Args() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("malformed parameter %q, expected key=value", kv)
		}
		q.Add(parts[0], parts[1])
	}

	reqURL := strings.TrimRight(*server, "/") + "/" + *collection + "?" + q.Encode()
	resp, err := http.Get(reqURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s: %s", resp.Status, out)
	}
	fmt.Print(string(out))
	return nil
}

func runRules(args []string) error {
	fs, server, collection := collectionFlags("rules")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *collection == "" {
		return fmt.Errorf("-collection is required")
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("expected a subcommand: list|get <id>|put <json-file>|delete <id>")
	}

	base := fmt.Sprintf("%s/%s/access/rules", strings.TrimRight(*server, "/"), *collection)
	switch rest[0] {
	case "list":
		return httpPrint(http.Get(base))
	case "get":
		if len(rest) < 2 {
			return fmt.Errorf("rules get requires an id")
		}
		return httpPrint(http.Get(base + "/" + rest[1]))
	case "delete":
		if len(rest) < 2 {
			return fmt.Errorf("rules delete requires an id")
		}
		req, err := http.NewRequest(http.MethodDelete, base+"/"+rest[1], nil)
		if err != nil {
			return err
		}
		return httpPrint(http.DefaultClient.Do(req))
	case "put":
		if len(rest) < 2 {
			return fmt.Errorf("rules put requires a path to a JSON rule file")
		}
		body, err := os.ReadFile(rest[1])
		if err != nil {
			return err
		}
		return httpPrint(http.Post(base, "application/json", bytes.NewReader(body)))
	default:
		return fmt.Errorf("unknown rules subcommand %q", rest[0])
	}
}

func runCompact(args []string) error {
	fs, server, collection := collectionFlags("compact")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *collection == "" {
		return fmt.Errorf("-collection is required")
	}
	endpoint := fmt.Sprintf("%s/%s/compact", strings.TrimRight(*server, "/"), *collection)
	return httpPrint(http.Post(endpoint, "application/octet-stream", nil))
}

func httpPrint(resp *http.Response, err error) error {
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s: %s", resp.Status, out)
	}
	fmt.Print(string(out))
	return nil
}
