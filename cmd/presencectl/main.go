package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

func main() {
	addrFlag := flag.String("addr", "http://127.0.0.1:8400", "presenced admin API address")
	jsonFlag := flag.Bool("json", false, "output raw JSON")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{base: *addrFlag, http: &http.Client{Timeout: 10 * time.Second}}

	switch args[0] {
	case "users":
		cmdUsers(c, *jsonFlag)
	case "resync", "pause", "resume":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "usage: presencectl %s <calendar-id>\n", args[0])
			os.Exit(1)
		}
		cmdUserAction(c, args[0], args[1])
	case "deregister":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: presencectl deregister <calendar-id>")
			os.Exit(1)
		}
		cmdDeregister(c, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: presencectl [--addr <url>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  users                     List registered users")
	fmt.Fprintln(os.Stderr, "  resync <calendar-id>      Sync one user immediately")
	fmt.Fprintln(os.Stderr, "  pause <calendar-id>       Pause sync for a user")
	fmt.Fprintln(os.Stderr, "  resume <calendar-id>      Resume sync for a user")
	fmt.Fprintln(os.Stderr, "  deregister <calendar-id>  Remove a user")
}

type client struct {
	base string
	http *http.Client
}

func (c *client) call(method, path string) (map[string]any, error) {
	req, err := http.NewRequest(method, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("bad response (%d): %s", resp.StatusCode, body)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%v", out["error"])
	}
	return out, nil
}

func cmdUsers(c *client, jsonOut bool) {
	out, err := c.call(http.MethodGet, "/v1/users")
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	users, _ := out["users"].([]any)
	if len(users) == 0 {
		fmt.Println("no registered users")
		return
	}
	for _, raw := range users {
		u, _ := raw.(map[string]any)
		line := fmt.Sprintf("%v", u["calendar_id"])
		if id, ok := u["chat_user_id"].(string); ok && id != "" {
			line += fmt.Sprintf("  chat=%s", id)
		} else {
			line += "  chat=<unbound>"
		}
		if status, ok := u["current_status"].(string); ok && status != "" {
			line += fmt.Sprintf("  status=%q", status)
		}
		if paused, ok := u["paused"].(bool); ok && paused {
			line += "  [paused]"
		}
		if suspended, ok := u["suspended"].(bool); ok && suspended {
			line += "  [suspended]"
		}
		fmt.Println(line)
	}
}

func cmdUserAction(c *client, action, calendarID string) {
	out, err := c.call(http.MethodPost, "/v1/users/"+url.PathEscape(calendarID)+"/"+action)
	if err != nil {
		fail(err)
	}
	fmt.Printf("%v\n", out["message"])
}

func cmdDeregister(c *client, calendarID string) {
	out, err := c.call(http.MethodDelete, "/v1/users/"+url.PathEscape(calendarID))
	if err != nil {
		fail(err)
	}
	fmt.Printf("%v\n", out["message"])
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
