// Command cropd serves and manages content-aware crop decisions.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dlevesque1980/dailywallpaper-sub001/config"
	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/crop"
	"github.com/dlevesque1980/dailywallpaper-sub001/util/log"
)

const usage = `Usage: cropd <command> [flags]

Commands:
  serve      run the local crop API
  analyze    resolve the crop of one image and print it as JSON
  maintain   delete expired entries and evict down to the entry bound
  stats      print cache statistics
  clear      delete every cached crop
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = runServe(args)
	case "analyze":
		err = runAnalyze(args)
	case "maintain":
		err = runMaintain(args)
	case "stats":
		err = runStats(args)
	case "clear":
		err = runClear(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig parses the shared -config flag and the command's own flags.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	path := fs.String("config", config.GetFilename(), "path to the config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config.Load(*path)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "listen address (overrides config)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Listen = *addr
	}

	locked, err := acquireLock()
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("another instance of %s is already running", config.ServiceName)
	}
	defer releaseLock()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	a.service.StartMaintenance(cfg.Cache.MaintenanceInterval.Duration())
	srv := newServer(a)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Listen) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case s := <-sig:
		log.Printf("Received %v, shutting down.", s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	image := fs.String("image", "", "image path or URL")
	width := fs.Int("width", 1920, "target width")
	height := fs.Int("height", 1080, "target height")
	aggr := fs.Int("aggressiveness", int(crop.Balanced), "0 conservative, 1 balanced, 2 aggressive")
	edge := fs.Bool("edge", false, "enable edge detection")
	smart := fs.Bool("smartcrop", false, "enable the smartcrop analyzer")
	face := fs.Bool("face", false, "enable face detection (needs face_model_path)")
	preload := fs.Bool("preload", false, "also cache the common screen sizes")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *image == "" {
		return errors.New("-image is required")
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	settings := crop.DefaultSettings()
	settings.Aggressiveness = crop.Aggressiveness(*aggr)
	settings.EdgeDetection = *edge
	settings.Smartcrop = *smart
	settings.FaceDetection = *face

	res, err := a.analyze(context.Background(), *image, crop.Size{Width: *width, Height: *height}, settings, *preload)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runMaintain(args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("maintain", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.service.Maintain()
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Error)
	}
	return nil
}

func runStats(args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("stats", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.store.Stats()
	if err != nil {
		return err
	}
	return printJSON(st)
}

func runClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	image := fs.String("image", "", "only drop crops of this image")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var n int
	if *image != "" {
		n, err = a.service.Invalidate(*image)
	} else {
		n, err = a.service.Clear()
	}
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d cached crops\n", n)
	return nil
}
