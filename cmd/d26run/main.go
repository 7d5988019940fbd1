package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/dummi26/d26run/internal/client"
)

var (
	socketPath string
	mode       string
)

func main() {
	logger := log.New(&log.LoggerOptions{Name: "d26run", Level: log.Warn, Output: os.Stderr})

	root := &cobra.Command{
		Use:   "d26run",
		Short: "client for the d26run broker daemon",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/d26run-socket", "daemon socket path")
	root.PersistentFlags().StringVar(&mode, "mode", "wait", "run mode: wait|detach|output|interactive")

	root.AddCommand(runCmd(logger))
	root.AddCommand(listCmd(logger))
	root.AddCommand(reloadCmd(logger))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// wireMode maps the client's §6 CLI mode onto the wire protocol's
// run option (SPEC_FULL.md item 3: interactive is a client-only
// concept that rides forward-output-input on the wire).
func wireMode(m string) (string, error) {
	switch m {
	case "wait":
		return "wait", nil
	case "detach":
		return "detach", nil
	case "output":
		return "forward-output", nil
	case "interactive":
		return "forward-output-input", nil
	default:
		return "", fmt.Errorf("unknown --mode %q", m)
	}
}

func runCmd(logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run NAME [VAR=VALUE ...]",
		Short: "run a template by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wm, err := wireMode(mode)
			if err != nil {
				return err
			}
			c, err := client.Dial(socketPath)
			if err != nil {
				return err
			}
			defer c.Close()

			for _, kv := range args[1:] {
				name, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("malformed VAR=VALUE argument: %q", kv)
				}
				if err := c.SendLine(fmt.Sprintf("set-var %s %s", name, value)); err != nil {
					return err
				}
			}

			if err := c.SendLine(fmt.Sprintf("run mode=%s %s", wm, args[0])); err != nil {
				return err
			}

			return driveRun(c, mode == "interactive")
		},
	}
}

// driveRun consumes everything a `run` produces after the request line:
// the auth handshake (if any), run-error/start responses, and the
// output frame stream (§4.5-§4.7, §7 user-visible behavior).
func driveRun(c *client.Client, interactive bool) error {
	for {
		line, err := c.ReadLine()
		if err != nil {
			return err
		}
		switch {
		case strings.HasPrefix(line, "auth wait "):
			verdict, err := c.RunAuthWait(line)
			if err != nil {
				return err
			}
			if verdict != "auth accept" {
				fmt.Fprintln(os.Stderr, verdict)
				os.Exit(1)
			}
		case line == "run unknown":
			fmt.Fprintln(os.Stderr, "run unknown")
			os.Exit(1)
		case line == "run start":
			return streamOutput(c, interactive)
		case strings.HasPrefix(line, "run error_invalid_config: "):
			return printInvalidConfig(c, line)
		case strings.HasPrefix(line, "run error_"):
			fmt.Fprintln(os.Stderr, line)
			os.Exit(1)
		case line == "auth deny error_undefined_allow":
			fmt.Fprintln(os.Stderr, line)
			os.Exit(1)
		default:
			// Unrecognized intermediate line: print and keep reading,
			// matching the server's own "ignore unknowns" posture.
			fmt.Fprintln(os.Stderr, line)
		}
	}
}

func listCmd(logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list run templates known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Dial(socketPath)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.SendLine("list-configs"); err != nil {
				return err
			}
			header, err := c.ReadLine()
			if err != nil {
				return err
			}
			var count int
			fmt.Sscanf(strings.TrimPrefix(header, "listing configs; count: "), "%d", &count)
			for i := 0; i < count; i++ {
				name, err := c.ReadLine()
				if err != nil {
					return err
				}
				allow, err := c.ReadLine()
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s\n", name, allow)
			}
			return nil
		},
	}
}

func reloadCmd(logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "request a policy-directory reload",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Dial(socketPath)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.SendLine("reload-configs"); err != nil {
				return err
			}
			line, err := c.ReadLine()
			if err != nil {
				return err
			}
			fmt.Println(line)
			return nil
		},
	}
}

func printInvalidConfig(c *client.Client, header string) error {
	countStr := strings.TrimPrefix(header, "run error_invalid_config: ")
	var count int
	fmt.Sscanf(countStr, "%d", &count)
	for i := 0; i < count; i++ {
		nStr, err := c.ReadLine()
		if err != nil {
			return err
		}
		var n int
		fmt.Sscanf(nStr, "%d", &n)
		for j := 0; j < n; j++ {
			l, err := c.ReadLine()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%d: %s\n", i+1, l)
		}
	}
	os.Exit(1)
	return nil
}

func streamOutput(c *client.Client, interactive bool) error {
	raw := c.Raw()
	if interactive {
		go client.ForwardStdin(os.Stdin, raw)
	}
	return client.DemuxOutput(raw, os.Stdout, os.Stderr)
}
