package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"quiltmaker/internal/config"
	"quiltmaker/internal/pipeline"
	"quiltmaker/internal/sorter"
)

// folderList collects -folders a,b and repeated -folders flags.
type folderList struct{ dst *[]string }

func (f folderList) String() string {
	if f.dst == nil {
		return ""
	}
	return strings.Join(*f.dst, ",")
}

func (f folderList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*f.dst = append(*f.dst, part)
		}
	}
	return nil
}

type options struct {
	configPath string
	display    string
	framerate  int
	collision  string
	request    pipeline.Request
}

// parseArgs turns the command line into a pipeline request. Values not given
// on the command line come from cfg, which is loaded from -config first.
func parseArgs(args []string, stderr io.Writer) (pipeline.Request, config.Config, error) {
	fs := flag.NewFlagSet("quiltctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.Var(folderList{&opts.request.Folders}, "folders", "comma separated source folders, in view order (empty: compose -sorted as is)")
	fs.StringVar(&opts.request.SortedFolder, "sorted", "", "folder receiving the consolidated frames")
	fs.StringVar(&opts.request.OutputFolder, "out", "", "folder receiving the quilts")
	fs.IntVar(&opts.request.Views, "views", 0, "total number of views rendered")
	fs.IntVar(&opts.request.Columns, "columns", 0, "quilt columns")
	fs.IntVar(&opts.request.Rows, "rows", 0, "quilt rows")
	fs.StringVar(&opts.display, "display", "", "display preset name, overrides -columns and -rows")
	fs.IntVar(&opts.framerate, "framerate", -1, "animation framerate, 0 disables the animation (default from config)")
	fs.StringVar(&opts.collision, "collision", "", "overwrite | reject (default from config)")
	fs.BoolVar(&opts.request.Archive, "archive", false, "also write quilts.zip")
	fs.StringVar(&opts.configPath, "config", "config.yml", "path to the YAML config")

	if err := fs.Parse(args); err != nil {
		return pipeline.Request{}, config.Config{}, err
	}
	if fs.NArg() > 0 {
		return pipeline.Request{}, config.Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return pipeline.Request{}, cfg, err
	}

	req := opts.request
	req.Workers = cfg.TileWorkers
	req.Framerate = cfg.DefaultFramerate
	if opts.framerate >= 0 {
		req.Framerate = opts.framerate
	}
	req.Collision = sorter.Collision(cfg.Collision)
	if opts.collision != "" {
		req.Collision = sorter.Collision(opts.collision)
	}
	if opts.display != "" {
		display, err := cfg.Display(opts.display)
		if err != nil {
			return req, cfg, err
		}
		req.Columns, req.Rows = display.Columns, display.Rows
	}
	if req.SortedFolder == "" {
		return req, cfg, errors.New("-sorted is required")
	}
	return req, cfg, req.Validate()
}
