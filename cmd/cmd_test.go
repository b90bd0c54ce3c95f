package cmd_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/credmux/credmux/cmd"
)

func Test_helpers_for_command(t *testing.T) {
	ttests := map[string]struct{}{
		"session":       {},
		"profile":       {},
		"integration":   {},
		"rotate-daemon": {},
		"clear-cache":   {},
		"defaults":      {},
		"version":       {},
	}
	for name := range ttests {
		t.Run(name, func(t *testing.T) {
			cmdArgs := []string{name, "--help"}
			b := new(bytes.Buffer)
			o := new(bytes.Buffer)
			cmd := cmd.RootCmd
			cmd.SetArgs(cmdArgs)
			cmd.SetErr(b)
			cmd.SetOut(o)
			cmd.Execute()
			err, _ := io.ReadAll(b)
			if len(err) > 0 {
				t.Fatal("got err, wanted nil")
			}
			out, _ := io.ReadAll(o)
			if len(out) <= 0 {
				t.Fatalf("got empty, wanted a help message")
			}
		})
	}
}

func Test_session_subcommand_help(t *testing.T) {
	ttests := map[string]struct{}{
		"add-iam-user":  {},
		"add-federated": {},
		"add-chained":   {},
		"add-sso-role":  {},
		"add-azure":     {},
		"list":          {},
		"start":         {},
		"stop":          {},
		"rotate":        {},
		"delete":        {},
	}
	for name := range ttests {
		t.Run(name, func(t *testing.T) {
			cmdArgs := []string{"session", name, "--help"}
			b := new(bytes.Buffer)
			o := new(bytes.Buffer)
			cmd := cmd.RootCmd
			cmd.SetArgs(cmdArgs)
			cmd.SetErr(b)
			cmd.SetOut(o)
			cmd.Execute()
			err, _ := io.ReadAll(b)
			if len(err) > 0 {
				t.Fatal("got err, wanted nil")
			}
			out, _ := io.ReadAll(o)
			if len(out) <= 0 {
				t.Fatalf("got empty, wanted a help message")
			}
		})
	}
}
