package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"player-backend/internal/app"
	"player-backend/internal/config"
	"player-backend/internal/lyrics"
	"player-backend/pkg/fileutil"
	"player-backend/pkg/music"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/spf13/cobra"
)

func LyricsCmd() *cobra.Command {
	return boa.CmdT[boa.NoParams]{
		Use:   "lyrics",
		Short: "Inspect, convert and fetch lyrics",
		SubCmds: []*cobra.Command{
			lyricsDetectCmd(),
			lyricsTTMLCmd(),
			lyricsFetchCmd(),
		},
	}.ToCobra()
}

type DetectParams struct {
	File string `pos:"true" required:"true" help:"LRC file to inspect."`
}

func lyricsDetectCmd() *cobra.Command {
	return boa.CmdT[DetectParams]{
		Use:         "detect",
		Short:       "Print the LRC dialect of a file",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *DetectParams, cmd *cobra.Command, args []string) {
			text, err := lyrics.ReadTextFile(params.File)
			if err != nil {
				fail("detect", err)
			}
			format := lyrics.DetectLrcFormat(text)
			fmt.Printf("%s (word level: %v)\n", format, lyrics.IsWordLevelFormat(format))
		},
	}.ToCobra()
}

type TTMLParams struct {
	File        string `pos:"true" required:"true" help:"LRC or QRC file to convert."`
	Translation string `short:"t" optional:"true" help:"LRC file with translations to align."`
	Roman       string `short:"r" optional:"true" help:"LRC file with romanization to align."`
	Output      string `short:"o" optional:"true" help:"Write to this file instead of stdout."`
}

func lyricsTTMLCmd() *cobra.Command {
	return boa.CmdT[TTMLParams]{
		Use:         "ttml",
		Short:       "Convert lyrics to TTML",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *TTMLParams, cmd *cobra.Command, args []string) {
			if err := runTTML(params); err != nil {
				fail("ttml", err)
			}
		},
	}.ToCobra()
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return lyrics.ReadTextFile(path)
}

func runTTML(params *TTMLParams) error {
	raw := music.Lyrics{Kind: music.KindLRC}
	if strings.EqualFold(filepath.Ext(params.File), ".qrc") {
		raw.Kind = music.KindQRC
	}

	var err error
	if raw.Main, err = lyrics.ReadTextFile(params.File); err != nil {
		return err
	}
	if raw.Translation, err = readOptional(params.Translation); err != nil {
		return err
	}
	if raw.Roman, err = readOptional(params.Roman); err != nil {
		return err
	}

	_, lines := lyrics.Parse(raw)
	if len(lines) == 0 {
		return fmt.Errorf("no timed lines in %s", params.File)
	}
	out := lyrics.ToTTML(lines)

	if params.Output == "" {
		_, err := os.Stdout.WriteString(out)
		return err
	}
	return fileutil.WriteFileOverwrite(params.Output, []byte(out), 0o644)
}

type FetchParams struct {
	Title    string  `short:"t" optional:"true" help:"Song title."`
	Artist   string  `short:"a" optional:"true" help:"Song artist."`
	Path     string  `short:"p" optional:"true" help:"Local track, for sidecar and embedded lyrics."`
	Media    string  `short:"m" optional:"true" help:"Free-form media title to identify."`
	Duration float64 `short:"d" optional:"true" help:"Track duration in seconds."`
	Config   string  `short:"c" optional:"true" help:"Config file."`
}

func lyricsFetchCmd() *cobra.Command {
	return boa.CmdT[FetchParams]{
		Use:         "fetch",
		Short:       "Resolve lyrics like the player would and print the timeline as JSON",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *FetchParams, cmd *cobra.Command, args []string) {
			cfg := config.Load(params.Config)
			app.SetupLogging(cfg.App.LogLevel)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Lyrics.Timeout+5*time.Second)
			defer cancel()

			res, err := app.LookupLyrics(ctx, cfg, lyrics.Track{
				Path:       params.Path,
				Title:      params.Title,
				Artist:     params.Artist,
				MediaTitle: params.Media,
				Duration:   params.Duration,
			})
			if err != nil {
				fail("fetch", err)
			}
			if res.Status != lyrics.StatusFound {
				if res.Err != nil {
					fail("fetch", res.Err)
				}
				fail("fetch", fmt.Errorf("lyrics %s", res.Status))
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(map[string]any{
				"source": res.Source,
				"format": res.Format,
				"lines":  res.Lines,
			})
		},
	}.ToCobra()
}

func fail(name string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
	os.Exit(1)
}
