// Package azurecli shells out to the Azure CLI, which owns Azure's
// active-account state; there is no credential material to capture.
package azurecli

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/credmux/credmux/internal/session"
)

type Runner struct {
	// Cli is the executable to invoke, "az" unless overridden for tests.
	Cli string
}

func New() *Runner {
	return &Runner{Cli: "az"}
}

func (r *Runner) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, r.Cli, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %s: %s, %w", r.Cli, strings.Join(args, " "), err, strings.TrimSpace(string(out)), session.ErrExecuteFailure)
	}
	return nil
}

func (r *Runner) SetSubscription(ctx context.Context, subscriptionID string) error {
	return r.run(ctx, "account", "set", "--subscription", subscriptionID)
}

func (r *Runner) SetDefaultLocation(ctx context.Context, region string) error {
	return r.run(ctx, "configure", "--defaults", fmt.Sprintf("location=%s", region))
}

func (r *Runner) Logout(ctx context.Context) error {
	return r.run(ctx, "logout")
}
