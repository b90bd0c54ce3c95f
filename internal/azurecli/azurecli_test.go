package azurecli_test

import (
	"context"
	"errors"
	"testing"

	"github.com/credmux/credmux/internal/azurecli"
	"github.com/credmux/credmux/internal/session"
)

func Test_Runner_commands(t *testing.T) {
	ttests := map[string]struct {
		cli     string
		act     func(ctx context.Context, r *azurecli.Runner) error
		wantErr error
	}{
		"set subscription succeeds": {
			cli: "true",
			act: func(ctx context.Context, r *azurecli.Runner) error {
				return r.SetSubscription(ctx, "sub-1")
			},
		},
		"set default location succeeds": {
			cli: "true",
			act: func(ctx context.Context, r *azurecli.Runner) error {
				return r.SetDefaultLocation(ctx, "westeurope")
			},
		},
		"logout failure wraps execute failure": {
			cli: "false",
			act: func(ctx context.Context, r *azurecli.Runner) error {
				return r.Logout(ctx)
			},
			wantErr: session.ErrExecuteFailure,
		},
		"missing binary wraps execute failure": {
			cli: "definitely-not-on-path",
			act: func(ctx context.Context, r *azurecli.Runner) error {
				return r.SetSubscription(ctx, "sub-1")
			},
			wantErr: session.ErrExecuteFailure,
		},
	}
	for name, tt := range ttests {
		t.Run(name, func(t *testing.T) {
			r := azurecli.New()
			r.Cli = tt.cli
			err := tt.act(context.Background(), r)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, wanted %v", err, tt.wantErr)
			}
		})
	}
}

func Test_New_defaults_to_az(t *testing.T) {
	if got := azurecli.New().Cli; got != "az" {
		t.Errorf("got %s, wanted az", got)
	}
}
