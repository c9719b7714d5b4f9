// Command ztctl is a cobra-based replacement for the teacher's
// flag-parsing yggdrasilctl: each subcommand sends one JSON-line request
// to the node core's admin socket (src/admin) and pretty-prints the
// response.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var endpoint string
var authTokenFile string

func main() {
	root := &cobra.Command{
		Use:   "ztctl",
		Short: "Control a running zerotier-node via its admin socket",
	}
	root.PersistentFlags().StringVar(&endpoint, "endpoint", "unix:///var/run/zerotier-node.sock", "admin socket endpoint")
	root.PersistentFlags().StringVar(&authTokenFile, "authtoken-file", "", "path to the admin socket's authtoken.secret (if empty, no token is sent)")

	root.AddCommand(
		simpleCommand("self", "getSelf", nil),
		peerCommand(),
		networkCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func peerCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "peer", Short: "Inspect known peers"}
	cmd.AddCommand(simpleCommand("list", "getPeers", nil))
	return cmd
}

func networkCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "network", Short: "Join, leave, and list virtual networks"}
	cmd.AddCommand(simpleCommand("list", "getNetworks", nil))

	var controller string
	join := &cobra.Command{
		Use:   "join <nwid>",
		Short: "Join a virtual network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]interface{}{"request": "joinNetwork", "nwid": args[0]}
			if controller != "" {
				req["controller"] = controller
			}
			return sendAndPrint(req)
		},
	}
	join.Flags().StringVar(&controller, "controller", "", "pin the controller's identity fingerprint")
	cmd.AddCommand(join)

	cmd.AddCommand(&cobra.Command{
		Use:   "leave <nwid>",
		Short: "Leave a virtual network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(map[string]interface{}{"request": "leaveNetwork", "nwid": args[0]})
		},
	})
	return cmd
}

// simpleCommand builds a leaf command that sends a fixed request name with
// no arguments beyond those already baked into extra.
func simpleCommand(use, request string, extra map[string]interface{}) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: "Send " + request + " to the admin socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]interface{}{"request": request}
			for k, v := range extra {
				req[k] = v
			}
			return sendAndPrint(req)
		},
	}
}

func sendAndPrint(req map[string]interface{}) error {
	conn, err := dial(endpoint)
	if err != nil {
		return fmt.Errorf("connecting to admin socket: %w", err)
	}
	defer conn.Close()

	if authTokenFile != "" {
		token, err := os.ReadFile(authTokenFile)
		if err != nil {
			return fmt.Errorf("reading auth token: %w", err)
		}
		req["authtoken"] = strings.TrimSpace(string(token))
	}

	encoder := json.NewEncoder(conn)
	decoder := json.NewDecoder(conn)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	var resp map[string]interface{}
	if err := decoder.Decode(&resp); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	out, err := json.MarshalIndent(resp["response"], "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if status, _ := resp["status"].(string); status == "error" {
		if msg, ok := resp["error"].(string); ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("request failed")
	}
	return nil
}

// dial parses the same unix:// / tcp:// scheme the admin socket itself
// listens on (src/admin/admin.go's listen()).
func dial(raw string) (net.Conn, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return net.Dial("tcp", raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "unix":
		return net.Dial("unix", raw[len("unix://"):])
	case "tcp":
		return net.Dial("tcp", u.Host)
	default:
		return net.Dial("tcp", raw)
	}
}
