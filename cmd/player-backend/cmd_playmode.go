package main

import (
	"fmt"

	"player-backend/internal/player"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/spf13/cobra"
)

type PlayModeParams struct {
	Current string `pos:"true" required:"true" help:"Current mode: repeat, repeat-once or shuffle."`
	Button  string `pos:"true" required:"true" help:"Button pressed: shuffle or repeat."`
	Before  string `short:"b" optional:"true" help:"Mode saved when shuffle was switched on, as printed by the previous run."`
}

func PlayModeCmd() *cobra.Command {
	return boa.CmdT[PlayModeParams]{
		Use:   "playmode",
		Short: "Print the mode a shuffle or repeat press leads to",
		Long: "Print the mode a shuffle or repeat press leads to. Each run is stateless: " +
			"when shuffle is switched on the saved mode is printed after the new one, " +
			"and passing it back with --before restores it when shuffle is switched off.",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *PlayModeParams, cmd *cobra.Command, args []string) {
			next, before, err := nextPlayMode(params.Current, params.Button, params.Before)
			if err != nil {
				fail("playmode", err)
			}
			if before != "" {
				fmt.Println(next, before)
				return
			}
			fmt.Println(next)
		},
	}.ToCobra()
}

// nextPlayMode returns the next mode and the pre-shuffle mode to keep, if any.
func nextPlayMode(current, button, before string) (player.PlayMode, player.PlayMode, error) {
	mode, err := player.ParsePlayMode(current)
	if err != nil {
		return "", "", err
	}
	var c player.PlayModeController
	if before != "" {
		saved, err := player.ParsePlayMode(before)
		if err != nil {
			return "", "", fmt.Errorf("invalid --before: %w", err)
		}
		c.RestoreSnapshot(saved)
	}

	var next player.PlayMode
	switch button {
	case "shuffle":
		next = c.NextShuffleMode(mode)
	case "repeat":
		next = c.NextRepeatMode(mode)
	default:
		return "", "", fmt.Errorf("unknown button %q", button)
	}
	saved, _ := c.Snapshot()
	return next, saved, nil
}
