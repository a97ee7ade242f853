package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/netdivert/divert"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (a *app) compileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile [filter]",
		Short: "Compile a filter, print its object and normalized form",
		Args:  cobra.MaximumNArgs(1),
		RunE:  a.compile,
	}
	cmd.Flags().StringP("filter", "f", "true", "WinDivert filter")
	cmd.Flags().StringP("layer", "l", "network", "layer the filter is compiled for")
	return cmd
}

func (a *app) compile(cmd *cobra.Command, args []string) error {
	filter := a.cfg.Capture.Filter
	if len(args) > 0 {
		filter = args[0]
	}
	layer, err := parseLayer(a.cfg.Capture.Layer)
	if err != nil {
		return err
	}

	obj, err := divert.CompileFilter(filter, layer)
	if err != nil {
		var fe *divert.InvalidFilterError
		if errors.As(err, &fe) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s\n%s^ %s\n", fe.Filter, strings.Repeat(" ", int(fe.Pos)), fe.Msg)
		}
		return err
	}
	s, err := divert.FormatFilter(obj, layer)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "object: %s\n", bytes.TrimRight(obj, "\x00"))
	fmt.Fprintf(out, "filter: %s\n", s)
	return nil
}
