package main

import (
	"context"
	"io"

	"github.com/loykin/browserun"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func mustBind(v *viper.Viper, key string, f *pflag.Flag) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}

// runTests assembles a run from fc and blocks until it ends.
func runTests(ctx context.Context, fc *browserun.Config, out io.Writer) (int, error) {
	r, err := browserun.NewRunner(fc, out)
	if err != nil {
		return 1, err
	}
	return r.Run(ctx)
}
