package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func invokeCommand(args []string) (*Command, string, error) {
	c := NewCommand()

	c.SilenceUsage = true
	c.SilenceErrors = true

	buf := new(bytes.Buffer)
	c.SetOut(buf)
	c.SetErr(buf)
	c.SetArgs(args)

	// Disable the actual server run — these tests only exercise flag
	// parsing and validation, not a live listener.
	c.RunE = func(*cobra.Command, []string) error { return nil }

	err := c.Execute()
	return c, buf.String(), err
}

func TestVersion(t *testing.T) {
	data, err := os.ReadFile("version.txt")
	if err != nil {
		t.Fatalf("failed to read version.txt: %v", err)
	}
	want := strings.TrimSpace(string(data))

	_, got, err := invokeCommand([]string{"--version"})
	if err != nil {
		t.Fatalf("error invoking command: %s", err)
	}
	if !strings.Contains(got, want) {
		t.Errorf("cli did not return correct version: want %q, got %q", want, got)
	}
}

func TestServerConfigDefaults(t *testing.T) {
	c, _, err := invokeCommand(nil)
	if err != nil {
		t.Fatalf("unexpected error invoking command: %s", err)
	}
	want := ServerConfig{Address: "127.0.0.1", Port: 8080, LogLevel: "INFO", LogFormat: "standard"}
	if c.cfg != want {
		t.Fatalf("got %+v, want %+v", c.cfg, want)
	}
}

func TestServerConfigFlags(t *testing.T) {
	tcs := []struct {
		desc string
		args []string
		want ServerConfig
	}{
		{
			desc: "address short",
			args: []string{"-a", "0.0.0.0"},
			want: ServerConfig{Address: "0.0.0.0", Port: 8080, LogLevel: "INFO", LogFormat: "standard"},
		},
		{
			desc: "address long",
			args: []string{"--address", "10.0.0.1"},
			want: ServerConfig{Address: "10.0.0.1", Port: 8080, LogLevel: "INFO", LogFormat: "standard"},
		},
		{
			desc: "port short",
			args: []string{"-p", "5052"},
			want: ServerConfig{Address: "127.0.0.1", Port: 5052, LogLevel: "INFO", LogFormat: "standard"},
		},
		{
			desc: "port long",
			args: []string{"--port", "9090"},
			want: ServerConfig{Address: "127.0.0.1", Port: 9090, LogLevel: "INFO", LogFormat: "standard"},
		},
		{
			desc: "log level",
			args: []string{"--log-level", "WARN"},
			want: ServerConfig{Address: "127.0.0.1", Port: 8080, LogLevel: "WARN", LogFormat: "standard"},
		},
		{
			desc: "log format",
			args: []string{"--log-format", "json"},
			want: ServerConfig{Address: "127.0.0.1", Port: 8080, LogLevel: "INFO", LogFormat: "json"},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			c, _, err := invokeCommand(tc.args)
			if err != nil {
				t.Fatalf("unexpected error invoking command: %s", err)
			}
			if c.cfg != tc.want {
				t.Fatalf("got %+v, want %+v", c.cfg, tc.want)
			}
		})
	}
}

func TestFailServerConfigFlags(t *testing.T) {
	tcs := []struct {
		desc string
		args []string
	}{
		{desc: "invalid log level", args: []string{"--log-level", "fail"}},
		{desc: "invalid log format", args: []string{"--log-format", "fail"}},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			_, _, err := invokeCommand(tc.args)
			if err == nil {
				t.Fatalf("expected an error, but got nil")
			}
		})
	}
}
